// Package discovery finds priced weather agents through the directory.
package discovery

import (
	"context"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/directory"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// Offer is one agent that can be asked for weather, with its price.
type Offer struct {
	Name    string  `json:"name"`
	Price   float64 `json:"price"`
	Address string  `json:"address"`
}

// Searcher is the part of the directory client discovery needs.
type Searcher interface {
	Search(ctx context.Context, q directory.SearchQuery) ([]directory.SearchResult, error)
}

// Config controls which directory entries become offers.
type Config struct {
	// Query is used when Search is called with an empty query
	Query string
	// NameFilter keeps entries whose name contains it, case-insensitively; empty keeps all
	NameFilter string
	Limit      int
}

// Service turns directory search results into offers.
type Service struct {
	dir    Searcher
	config Config
	logger *zap.Logger
}

// NewService creates a Service.
func NewService(dir Searcher, config Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		dir:    dir,
		config: config,
		logger: logger.With(zap.String("component", "discovery")),
	}
}

// Search queries the directory and returns the priced entries in directory
// order. Entries with no usable price are dropped. An empty result is not
// an error.
func (s *Service) Search(ctx context.Context, query string) ([]Offer, error) {
	if strings.TrimSpace(query) == "" {
		query = s.config.Query
	}

	results, err := s.dir.Search(ctx, directory.SearchQuery{Text: query, Limit: s.config.Limit})
	if err != nil {
		if _, ok := types.AsError(err); ok {
			return nil, err
		}
		return nil, types.NewUpstreamError("directory", "agent search failed", err)
	}

	filter := strings.ToLower(s.config.NameFilter)
	offers := make([]Offer, 0, len(results))
	for _, r := range results {
		if filter != "" && !strings.Contains(strings.ToLower(r.Name), filter) {
			continue
		}
		price, ok := OfferPrice(r)
		if !ok {
			s.logger.Debug("skipping unpriced agent", zap.String("address", r.Address), zap.String("name", r.Name))
			continue
		}
		offers = append(offers, Offer{Name: r.Name, Price: price, Address: r.Address})
	}

	s.logger.Debug("agent search",
		zap.String("query", query),
		zap.Int("results", len(results)),
		zap.Int("offers", len(offers)),
	)
	return offers, nil
}

// OfferPrice prefers the structured pricing of a result and falls back to the
// <price> element of its readme.
func OfferPrice(r directory.SearchResult) (float64, bool) {
	if p := r.Pricing; p != nil && !math.IsNaN(p.Price) && !math.IsInf(p.Price, 0) && p.Price >= 0 {
		return p.Price, true
	}
	return directory.ParsePrice(r.Readme)
}
