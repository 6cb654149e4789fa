package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rajashekarcs2023/weather-marketplace/envelope"
	"github.com/rajashekarcs2023/weather-marketplace/identity"
	"github.com/rajashekarcs2023/weather-marketplace/testutil"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

func mustIdentity(t *testing.T, seed string) *identity.Identity {
	return testutil.Identity(t, seed)
}

// seal builds the raw envelope from sends to target.
func seal(t *testing.T, from *identity.Identity, target, session string, payload types.Payload) []byte {
	t.Helper()
	return testutil.Seal(t, from, envelope.Message{
		Target:  target,
		Session: session,
		Payload: payload,
		TTL:     time.Minute,
	})
}

// recordingSender keeps every message and can hand the sealed envelope to a
// peer's webhook handler.
type recordingSender struct {
	id *identity.Identity

	mu      sync.Mutex
	msgs    []envelope.Message
	err     error
	deliver func(raw []byte) Ack
}

func (s *recordingSender) Address() string { return s.id.Address() }

func (s *recordingSender) Send(ctx context.Context, msg envelope.Message) error {
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	err, deliver := s.err, s.deliver
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if deliver == nil {
		return nil
	}

	env, err := envelope.Seal(s.id, msg, time.Now())
	if err != nil {
		return err
	}
	raw, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if ack := deliver(raw); !ack.OK() {
		return types.NewError(types.ErrUpstreamError, ack.Message)
	}
	return nil
}

func (s *recordingSender) messages() []envelope.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]envelope.Message(nil), s.msgs...)
}

type fakeAnalyzer struct {
	mu      sync.Mutex
	calls   []string
	err     error
	started chan struct{}
	block   chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, location string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, location)
	err := f.err
	f.mu.Unlock()

	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return "Sunny in " + location + ". Recommendation: sunscreen.", nil
}

func (f *fakeAnalyzer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}
