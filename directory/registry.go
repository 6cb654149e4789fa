package directory

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/identity"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// maxURLLength matches the width of the SQL url column.
const maxURLLength = 512

// Registration is the body of a register call.
type Registration struct {
	Address    string      `json:"address"`
	Name       string      `json:"name"`
	URL        string      `json:"url"`
	Readme     string      `json:"readme,omitempty"`
	Capability *Capability `json:"capability,omitempty"`
	// Proof is the base64 signature of ProofMessage(Address, URL).
	Proof string `json:"proof"`
}

// SearchQuery is the body of a search call.
type SearchQuery struct {
	Text  string `json:"text"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResult is one entry of a search response.
type SearchResult struct {
	Address string   `json:"address"`
	Name    string   `json:"name"`
	Readme  string   `json:"readme"`
	Pricing *Pricing `json:"pricing,omitempty"`
}

// ProofMessage is what an agent signs to prove it owns address and serves url.
func ProofMessage(address, url string) []byte {
	return []byte(address + "|" + url)
}

// SignProof builds the registration proof for id serving url.
func SignProof(id *identity.Identity, url string) string {
	return base64.StdEncoding.EncodeToString(id.Sign(ProofMessage(id.Address(), url)))
}

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	// RequireProof rejects registrations without a valid ownership proof
	RequireProof bool
	DefaultLimit int
	MaxLimit     int
}

// DefaultRegistryConfig returns the registry defaults.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		RequireProof: true,
		DefaultLimit: 30,
		MaxLimit:     100,
	}
}

// Registry is the directory service logic on top of a Store.
type Registry struct {
	store  Store
	config RegistryConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry creates a Registry.
func NewRegistry(store Store, config RegistryConfig, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.DefaultLimit <= 0 {
		config.DefaultLimit = DefaultRegistryConfig().DefaultLimit
	}
	if config.MaxLimit < config.DefaultLimit {
		config.MaxLimit = config.DefaultLimit
	}
	return &Registry{
		store:  store,
		config: config,
		logger: logger.With(zap.String("component", "directory_registry")),
		now:    time.Now,
	}
}

// Register validates reg and stores it. Re-registering an address updates the
// record and keeps its original registration time.
func (r *Registry) Register(ctx context.Context, reg Registration) (*AgentRecord, error) {
	if err := r.validate(&reg); err != nil {
		return nil, err
	}

	now := r.now().UTC()
	rec := &AgentRecord{
		Address:      reg.Address,
		Name:         reg.Name,
		URL:          reg.URL,
		Readme:       reg.Readme,
		Capability:   reg.Capability,
		RegisteredAt: now,
		UpdatedAt:    now,
	}
	existing, err := r.store.Load(ctx, reg.Address)
	switch {
	case err == nil:
		rec.RegisteredAt = existing.RegisteredAt
	case !errors.Is(err, ErrAgentNotFound):
		return nil, types.NewError(types.ErrInternalError, "directory store unavailable").WithCause(err)
	}

	err = r.store.Save(ctx, rec)
	if errors.Is(err, ErrEndpointTaken) {
		return nil, types.NewError(types.ErrConflict, "endpoint already registered by another agent").WithCause(err)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "failed to save agent").WithCause(err)
	}

	r.logger.Info("agent registered",
		zap.String("address", rec.Address),
		zap.String("name", rec.Name),
		zap.String("url", rec.URL),
	)
	return rec, nil
}

func (r *Registry) validate(reg *Registration) error {
	reg.Name = strings.TrimSpace(reg.Name)
	if !identity.ValidAddress(reg.Address) {
		return types.NewInvalidRequestError("invalid agent address")
	}
	if reg.Name == "" {
		return types.NewInvalidRequestError("name is required")
	}
	if len(reg.URL) > maxURLLength {
		return types.NewInvalidRequestError("url is too long")
	}
	u, err := url.Parse(reg.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return types.NewInvalidRequestError("url must be an absolute http(s) URL")
	}
	if reg.Capability != nil {
		if err := reg.Capability.Validate(); err != nil {
			return types.NewInvalidRequestError("invalid capability: " + err.Error())
		}
		if reg.Readme == "" {
			readme, err := reg.Capability.Readme()
			if err != nil {
				return types.NewInvalidRequestError(err.Error())
			}
			reg.Readme = readme
		}
	}

	if !r.config.RequireProof {
		return nil
	}
	sig, err := base64.StdEncoding.DecodeString(reg.Proof)
	if err != nil || len(sig) == 0 {
		return types.NewError(types.ErrUnauthorized, "registration proof is missing or not base64")
	}
	if err := identity.Verify(reg.Address, ProofMessage(reg.Address, reg.URL), sig); err != nil {
		return types.NewError(types.ErrUnauthorized, "registration proof does not match address").WithCause(err)
	}
	return nil
}

// Resolve returns the record of address.
func (r *Registry) Resolve(ctx context.Context, address string) (*AgentRecord, error) {
	rec, err := r.store.Load(ctx, address)
	if errors.Is(err, ErrAgentNotFound) {
		return nil, types.NewNotFoundError("agent not found").WithCause(err)
	}
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "directory store unavailable").WithCause(err)
	}
	return rec, nil
}

// Unregister removes address.
func (r *Registry) Unregister(ctx context.Context, address string) error {
	err := r.store.Delete(ctx, address)
	if errors.Is(err, ErrAgentNotFound) {
		return types.NewNotFoundError("agent not found").WithCause(err)
	}
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to delete agent").WithCause(err)
	}
	r.logger.Info("agent unregistered", zap.String("address", address))
	return nil
}

// Search ranks records by how many distinct query terms occur in their name
// and readme, case-insensitively. Records matching no term are left out; an
// empty query returns every record. Ties keep registration order.
func (r *Registry) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	all, err := r.store.LoadAll(ctx)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "directory store unavailable").WithCause(err)
	}

	terms := queryTerms(q.Text)
	type scored struct {
		rec   *AgentRecord
		score int
	}
	matches := make([]scored, 0, len(all))
	for _, rec := range all {
		score := matchScore(rec, terms)
		if len(terms) > 0 && score == 0 {
			continue
		}
		matches = append(matches, scored{rec: rec, score: score})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].score > matches[j].score
	})

	limit := q.Limit
	if limit <= 0 {
		limit = r.config.DefaultLimit
	}
	if limit > r.config.MaxLimit {
		limit = r.config.MaxLimit
	}
	if len(matches) > limit {
		matches = matches[:limit]
	}

	results := make([]SearchResult, 0, len(matches))
	for _, m := range matches {
		results = append(results, SearchResult{
			Address: m.rec.Address,
			Name:    m.rec.Name,
			Readme:  m.rec.Readme,
			Pricing: m.rec.Pricing(),
		})
	}
	return results, nil
}

func queryTerms(text string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(text)) {
		if !seen[t] {
			seen[t] = true
			terms = append(terms, t)
		}
	}
	return terms
}

func matchScore(rec *AgentRecord, terms []string) int {
	haystack := strings.ToLower(rec.Name + " " + rec.Readme)
	score := 0
	for _, t := range terms {
		if strings.Contains(haystack, t) {
			score++
		}
	}
	return score
}
