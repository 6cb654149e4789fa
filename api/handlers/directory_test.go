package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/directory"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

func newDirectoryServer(t *testing.T) *httptest.Server {
	t.Helper()
	registry := directory.NewRegistry(directory.NewMemoryStore(), directory.DefaultRegistryConfig(), zap.NewNop())
	h := NewDirectoryHandler(registry, nil, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/agents", h.HandleRegister)
	mux.HandleFunc("GET /v1/agents/{address}", h.HandleResolve)
	mux.HandleFunc("DELETE /v1/agents/{address}", h.HandleUnregister)
	mux.HandleFunc("POST /v1/search", h.HandleSearch)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func weatherCapability(price float64) *directory.Capability {
	return &directory.Capability{
		Description: "AI weather assistant providing detailed weather analysis and recommendations",
		UseCases:    []string{"Get current weather conditions and recommendations"},
		Parameters:  []directory.Parameter{{Name: "location", Description: "The city or location to get weather for"}},
		Pricing:     &directory.Pricing{Price: price, Currency: "USD", PerRequest: true},
	}
}

func TestDirectoryHandler_RoundTrip(t *testing.T) {
	ctx := context.Background()
	srv := newDirectoryServer(t)
	client := directory.NewClient(srv.URL, "", 5*time.Second)
	id := testIdentity(t, "luxury")
	url := "http://localhost:5006/webhook"

	rec, err := client.Register(ctx, directory.Registration{
		Address:    id.Address(),
		Name:       "Luxury Weather Assistant",
		URL:        url,
		Capability: weatherCapability(2.99),
		Proof:      directory.SignProof(id, url),
	})
	require.NoError(t, err)
	assert.Contains(t, rec.Readme, "<price>2.99</price>")

	got, err := client.Resolve(ctx, id.Address())
	require.NoError(t, err)
	assert.Equal(t, url, got.URL)

	results, err := client.Search(ctx, directory.SearchQuery{Text: "weather forecast analysis recommendations"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NotNil(t, results[0].Pricing)
	assert.Equal(t, 2.99, results[0].Pricing.Price)

	results, err = client.Search(ctx, directory.SearchQuery{Text: "stock prices"})
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, client.Unregister(ctx, id.Address()))
	_, err = client.Resolve(ctx, id.Address())
	assert.True(t, types.IsErrorCode(err, types.ErrNotFound))
}

func TestDirectoryHandler_Rejections(t *testing.T) {
	ctx := context.Background()
	srv := newDirectoryServer(t)
	client := directory.NewClient(srv.URL, "", 5*time.Second)
	id := testIdentity(t, "budget")

	_, err := client.Register(ctx, directory.Registration{
		Address: id.Address(),
		Name:    "Budget Weather Assistant",
		URL:     "http://localhost:5009/webhook",
		Proof:   directory.SignProof(id, "http://elsewhere:5009/webhook"),
	})
	assert.True(t, types.IsErrorCode(err, types.ErrUnauthorized))

	_, err = client.Register(ctx, directory.Registration{Address: id.Address(), Name: "", URL: "not a url"})
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))

	resp, err := http.Post(srv.URL+"/v1/search", "application/json", strings.NewReader(`{"text":"weather","limit":-1}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.True(t, types.IsErrorCode(client.Unregister(ctx, "agent1unknown"), types.ErrNotFound))
}
