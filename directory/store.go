package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	// ErrAgentNotFound is returned by stores when no record exists for an address.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrEndpointTaken is returned by Save when another address already
	// serves the record's URL.
	ErrEndpointTaken = errors.New("endpoint already registered by another agent")
)

// AgentRecord is one registered agent as the directory keeps it.
type AgentRecord struct {
	Address    string      `json:"address"`
	Name       string      `json:"name"`
	URL        string      `json:"url"`
	Readme     string      `json:"readme"`
	Capability *Capability `json:"capability,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Pricing returns the structured price of the record, if any.
func (r *AgentRecord) Pricing() *Pricing {
	if r == nil || r.Capability == nil {
		return nil
	}
	return r.Capability.Pricing
}

// Store persists directory records. Implementations back the registry with
// different storage backends (in-memory, Redis, SQL) and keep URLs unique
// across addresses, so directory replicas sharing a backend agree.
type Store interface {
	// Save inserts or replaces the record of rec.Address. ErrEndpointTaken
	// when another address holds rec.URL.
	Save(ctx context.Context, rec *AgentRecord) error
	Load(ctx context.Context, address string) (*AgentRecord, error)
	// LoadAll returns every record in registration order.
	LoadAll(ctx context.Context) ([]*AgentRecord, error)
	Delete(ctx context.Context, address string) error
}

// MemoryStore is a Store backed by a map.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]*AgentRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]*AgentRecord)}
}

func (s *MemoryStore) Save(_ context.Context, rec *AgentRecord) error {
	if rec == nil || rec.Address == "" {
		return fmt.Errorf("invalid agent record")
	}
	cp := *rec
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, existing := range s.agents {
		if addr != rec.Address && existing.URL == rec.URL {
			return ErrEndpointTaken
		}
	}
	s.agents[rec.Address] = &cp
	return nil
}

func (s *MemoryStore) Load(_ context.Context, address string) (*AgentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.agents[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, address)
	}
	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) LoadAll(_ context.Context) ([]*AgentRecord, error) {
	s.mu.RLock()
	result := make([]*AgentRecord, 0, len(s.agents))
	for _, rec := range s.agents {
		cp := *rec
		result = append(result, &cp)
	}
	s.mu.RUnlock()
	sortByRegistration(result)
	return result, nil
}

func (s *MemoryStore) Delete(_ context.Context, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[address]; !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, address)
	}
	delete(s.agents, address)
	return nil
}

// sortByRegistration orders records oldest first, address breaking ties.
func sortByRegistration(recs []*AgentRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if !recs[i].RegisteredAt.Equal(recs[j].RegisteredAt) {
			return recs[i].RegisteredAt.Before(recs[j].RegisteredAt)
		}
		return recs[i].Address < recs[j].Address
	})
}

var _ Store = (*MemoryStore)(nil)
