package discovery

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajashekarcs2023/weather-marketplace/directory"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

type fakeDirectory struct {
	results []directory.SearchResult
	err     error
	got     directory.SearchQuery
}

func (f *fakeDirectory) Search(_ context.Context, q directory.SearchQuery) ([]directory.SearchResult, error) {
	f.got = q
	return f.results, f.err
}

func TestSearch_KeepsPricedEntriesInOrder(t *testing.T) {
	dir := &fakeDirectory{results: []directory.SearchResult{
		{Address: "agent1a", Name: "Budget Weather Assistant", Readme: "<price>0.99</price>"},
		{Address: "agent1b", Name: "Broken Weather", Readme: "<price>free</price>"},
		{Address: "agent1c", Name: "Luxury Weather Assistant", Readme: "<pricing><price> 2.99 </price></pricing>"},
		{Address: "agent1d", Name: "Weather Without Price", Readme: "<description>x</description>"},
	}}
	svc := NewService(dir, Config{Query: "weather forecast", NameFilter: "weather", Limit: 30}, nil)

	offers, err := svc.Search(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []Offer{
		{Name: "Budget Weather Assistant", Price: 0.99, Address: "agent1a"},
		{Name: "Luxury Weather Assistant", Price: 2.99, Address: "agent1c"},
	}, offers)
	assert.Equal(t, directory.SearchQuery{Text: "weather forecast", Limit: 30}, dir.got)
}

func TestSearch_ExplicitQuery(t *testing.T) {
	dir := &fakeDirectory{}
	svc := NewService(dir, Config{Query: "default"}, nil)
	_, err := svc.Search(context.Background(), "rain")
	require.NoError(t, err)
	assert.Equal(t, "rain", dir.got.Text)
}

func TestSearch_NameFilter(t *testing.T) {
	dir := &fakeDirectory{results: []directory.SearchResult{
		{Address: "agent1a", Name: "WEATHER pro", Readme: "<price>1</price>"},
		{Address: "agent1b", Name: "News", Readme: "<price>1</price>"},
	}}

	offers, err := NewService(dir, Config{NameFilter: "Weather"}, nil).Search(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "agent1a", offers[0].Address)

	offers, err = NewService(dir, Config{}, nil).Search(context.Background(), "x")
	require.NoError(t, err)
	assert.Len(t, offers, 2)
}

func TestSearch_StructuredPricingWins(t *testing.T) {
	dir := &fakeDirectory{results: []directory.SearchResult{
		{Address: "agent1a", Name: "weather", Readme: "<price>5</price>", Pricing: &directory.Pricing{Price: 0.5, Currency: "USD"}},
		{Address: "agent1b", Name: "weather", Readme: "<price>5</price>", Pricing: &directory.Pricing{Price: math.Inf(1)}},
	}}
	offers, err := NewService(dir, Config{}, nil).Search(context.Background(), "x")
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, 0.5, offers[0].Price)
	assert.Equal(t, 5.0, offers[1].Price)
}

func TestSearch_EmptyIsNotAnError(t *testing.T) {
	offers, err := NewService(&fakeDirectory{}, Config{}, nil).Search(context.Background(), "x")
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestSearch_DirectoryErrors(t *testing.T) {
	typed := types.NewError(types.ErrUpstreamTimeout, "slow")
	_, err := NewService(&fakeDirectory{err: typed}, Config{}, nil).Search(context.Background(), "x")
	assert.Same(t, typed, err)

	_, err = NewService(&fakeDirectory{err: errors.New("boom")}, Config{}, nil).Search(context.Background(), "x")
	assert.True(t, types.IsErrorCode(err, types.ErrUpstreamError))
}

// Feature: agent discovery keeps only priced entries, in directory order.
func TestProperty_SearchKeepsPricedEntriesInOrder(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	readmeGen := gen.OneGenOf(
		gen.Float64Range(0, 1000).Map(func(p float64) string {
			return "<price>" + directory.FormatPrice(p) + "</price>"
		}),
		gen.AlphaString(),
		gen.Const("<price>-3</price>"),
		gen.Const("</price>1<price>"),
	)

	properties.Property("offers are exactly the priced results in order", prop.ForAll(
		func(readmes []string) bool {
			results := make([]directory.SearchResult, len(readmes))
			var want []Offer
			for i, readme := range readmes {
				results[i] = directory.SearchResult{
					Address: fmt.Sprintf("agent1%d", i),
					Name:    fmt.Sprintf("weather %d", i),
					Readme:  readme,
				}
				if price, ok := directory.ParsePrice(readme); ok {
					want = append(want, Offer{Name: results[i].Name, Price: price, Address: results[i].Address})
				}
			}

			offers, err := NewService(&fakeDirectory{results: results}, Config{NameFilter: "weather"}, nil).
				Search(context.Background(), "weather")
			if err != nil || len(offers) != len(want) {
				return false
			}
			for i := range want {
				if offers[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.SliceOf(readmeGen),
	))

	properties.TestingRun(t)
}
