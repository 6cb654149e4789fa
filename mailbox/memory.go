package mailbox

import (
	"context"
	"sync"
	"time"

	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// MemoryMailbox keeps cells in process memory. Data is lost on restart.
type MemoryMailbox struct {
	config Config
	now    func() time.Time

	mu     sync.Mutex
	cells  map[string]*cell
	order  []string             // unread keys TakeNext may serve, oldest first
	gone   map[string]time.Time // consumed keys -> when they were consumed
	closed bool
}

// NewMemoryMailbox creates an empty mailbox.
func NewMemoryMailbox(config Config) *MemoryMailbox {
	return &MemoryMailbox{
		config: config,
		now:    time.Now,
		cells:  make(map[string]*cell),
		gone:   make(map[string]time.Time),
	}
}

func (m *MemoryMailbox) Reserve(_ context.Context, requestID string, ttl time.Duration) error {
	if requestID == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.cells[requestID]; ok {
		return ErrExists
	}
	delete(m.gone, requestID)
	m.cells[requestID] = &cell{Reserved: true, Deadline: m.now().Add(ttl)}
	return nil
}

func (m *MemoryMailbox) Release(_ context.Context, requestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	c, ok := m.cells[requestID]
	if !ok || !c.Reserved {
		return ErrNotFound
	}
	m.consume(requestID, m.now())
	return nil
}

func (m *MemoryMailbox) Deliver(_ context.Context, key string, payload types.Payload) (Outcome, error) {
	if key == "" {
		return "", ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", ErrClosed
	}

	now := m.now()
	if _, ok := m.gone[key]; ok {
		return OutcomeLate, nil
	}
	c, ok := m.cells[key]
	if !ok {
		m.cells[key] = &cell{Delivered: true, Payload: payload.Clone(), DeliveredAt: now}
		m.order = append(m.order, key)
		return OutcomeUnsolicited, nil
	}
	outcome := c.deliver(payload, now)
	if outcome == OutcomeClaimed && !c.Superseded {
		m.order = append(m.order, key)
	}
	return outcome, nil
}

func (m *MemoryMailbox) Take(_ context.Context, requestID string) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}

	c, ok := m.cells[requestID]
	if !ok {
		return nil, ErrNotFound
	}
	now := m.now()
	switch {
	case c.Delivered:
		m.consume(requestID, now)
		return &Result{RequestID: requestID, Status: StatusReady, Payload: c.Payload}, nil
	case c.expired(now):
		m.consume(requestID, now)
		return &Result{RequestID: requestID, Status: StatusExpired}, nil
	default:
		return &Result{RequestID: requestID, Status: StatusWaiting}, nil
	}
}

func (m *MemoryMailbox) TakeNext(_ context.Context) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	if len(m.order) == 0 {
		return &Result{Status: StatusWaiting}, nil
	}
	key := m.order[0]
	c := m.cells[key]
	m.consume(key, m.now())
	return &Result{RequestID: key, Status: StatusReady, Payload: c.Payload}, nil
}

func (m *MemoryMailbox) ClearUnread(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	n := len(m.order)
	for _, key := range m.order {
		if c := m.cells[key]; c != nil && !c.Reserved {
			delete(m.cells, key)
		}
	}
	m.order = nil
	for _, c := range m.cells {
		if c.Reserved {
			c.Superseded = true
		}
	}
	return n, nil
}

func (m *MemoryMailbox) Purge(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, ErrClosed
	}

	now := m.now()
	cutoff := now.Add(-m.config.Retention)
	n := 0
	for key, c := range m.cells {
		stale := false
		switch {
		case c.Delivered:
			stale = c.DeliveredAt.Before(cutoff)
		case c.Reserved:
			stale = c.Deadline.Before(cutoff)
		}
		if stale {
			m.consume(key, now)
			n++
		}
	}
	for key, at := range m.gone {
		if at.Before(cutoff) {
			delete(m.gone, key)
		}
	}
	return n, nil
}

func (m *MemoryMailbox) Stats(_ context.Context) (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Stats{}, ErrClosed
	}

	now := m.now()
	var s Stats
	for _, c := range m.cells {
		switch {
		case c.Delivered:
			s.Ready++
		case c.expired(now):
			s.Expired++
		default:
			s.Waiting++
		}
	}
	return s, nil
}

func (m *MemoryMailbox) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// consume removes key and remembers it so late replies are dropped.
func (m *MemoryMailbox) consume(key string, now time.Time) {
	c := m.cells[key]
	m.remove(key)
	if c != nil && c.Reserved {
		m.gone[key] = now
	}
}

func (m *MemoryMailbox) remove(key string) {
	delete(m.cells, key)
	for i, k := range m.order {
		if k == key {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

var _ Mailbox = (*MemoryMailbox)(nil)
