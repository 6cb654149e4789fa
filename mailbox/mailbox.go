// Package mailbox holds weather responses until the browser polls for them.
//
// Every outbound request reserves a cell keyed by its request ID. The webhook
// delivers the reply into that cell, and the first poll takes it out. Replies
// nobody reserved are kept too and served, oldest first, to polls that name
// no request ID. A new request clears that unkeyed view, so a poll without an
// ID only ever sees replies to the latest request.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rajashekarcs2023/weather-marketplace/config"
	"github.com/rajashekarcs2023/weather-marketplace/internal/cache"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

var (
	// ErrNotFound is returned by Take for an ID that was never reserved or
	// was already consumed.
	ErrNotFound = errors.New("mailbox: request not found")
	// ErrExists is returned by Reserve for an ID that is already in use.
	ErrExists = errors.New("mailbox: request already reserved")
	// ErrEmptyKey rejects operations without a request ID.
	ErrEmptyKey = errors.New("mailbox: empty request id")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("mailbox: closed")
)

// Status is what a poll observed.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusReady   Status = "ready"
	StatusExpired Status = "expired"
)

// Result is the outcome of a poll. Payload is set only when Status is ready.
type Result struct {
	RequestID string
	Status    Status
	Payload   types.Payload
}

// Outcome is what became of a delivered reply.
type Outcome string

const (
	// OutcomeClaimed filled a reserved cell.
	OutcomeClaimed Outcome = "claimed"
	// OutcomeUnsolicited arrived for a key nobody reserved and was queued for
	// unkeyed polls.
	OutcomeUnsolicited Outcome = "unsolicited"
	// OutcomeLate arrived after its request expired and was dropped.
	OutcomeLate Outcome = "late"
	// OutcomeDuplicate arrived for a cell that already had a reply and was
	// dropped.
	OutcomeDuplicate Outcome = "duplicate"
)

// Stats counts cells by state.
type Stats struct {
	Waiting int `json:"waiting"`
	Ready   int `json:"ready"`
	Expired int `json:"expired"`
}

// Mailbox is the response store shared by the client's webhook and poll
// handlers. Implementations are safe for concurrent use and never overwrite a
// delivered reply.
type Mailbox interface {
	// Reserve opens a cell for requestID that waits ttl for its reply.
	Reserve(ctx context.Context, requestID string, ttl time.Duration) error
	// Release drops a reserved cell whose request failed to send. Its ID is
	// remembered so a reply that arrives anyway is late.
	Release(ctx context.Context, requestID string) error
	// Deliver stores a reply under key.
	Deliver(ctx context.Context, key string, payload types.Payload) (Outcome, error)
	// Take polls one request. A ready or expired cell is removed.
	Take(ctx context.Context, requestID string) (*Result, error)
	// TakeNext removes and returns the oldest unread reply of any key.
	TakeNext(ctx context.Context) (*Result, error)
	// ClearUnread empties the view TakeNext reads from and returns how many
	// unread replies it dropped. Unsolicited replies are deleted; reserved
	// cells stay readable by Take but never reach TakeNext again, even when
	// their reply arrives later.
	ClearUnread(ctx context.Context) (int, error)
	// Purge drops cells and tombstones older than the retention period.
	// Purged reservations are remembered so their replies are late.
	Purge(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Config tunes a mailbox.
type Config struct {
	// Retention keeps unread replies and expired cells before Purge drops
	// them, and remembers consumed IDs so late replies are recognised
	Retention time.Duration
}

// DefaultConfig returns the default retention.
func DefaultConfig() Config {
	return Config{Retention: 5 * time.Minute}
}

// New builds the backend named by cfg.Backend. The redis backend needs cm.
func New(cfg config.MailboxConfig, cm *cache.Manager) (Mailbox, error) {
	c := Config{Retention: cfg.Retention}
	if c.Retention <= 0 {
		c.Retention = DefaultConfig().Retention
	}
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryMailbox(c), nil
	case "redis":
		if cm == nil {
			return nil, fmt.Errorf("mailbox: redis backend requires a redis connection")
		}
		return NewRedisMailbox(cm, cfg.KeyPrefix, c), nil
	default:
		return nil, fmt.Errorf("mailbox: unknown backend %q", cfg.Backend)
	}
}

// cell is the stored state of one key.
type cell struct {
	Reserved    bool          `json:"reserved"`
	Delivered   bool          `json:"delivered"`
	Superseded  bool          `json:"superseded,omitempty"` // hidden from TakeNext
	Payload     types.Payload `json:"payload,omitempty"`
	Deadline    time.Time     `json:"deadline"`
	DeliveredAt time.Time     `json:"delivered_at"`
}

func (c *cell) expired(now time.Time) bool {
	return c.Reserved && !c.Delivered && !now.Before(c.Deadline)
}

// deliver decides what a reply does to an existing cell.
func (c *cell) deliver(payload types.Payload, now time.Time) Outcome {
	switch {
	case c.Delivered:
		return OutcomeDuplicate
	case c.expired(now):
		return OutcomeLate
	}
	c.Delivered = true
	c.Payload = payload.Clone()
	c.DeliveredAt = now
	return OutcomeClaimed
}
