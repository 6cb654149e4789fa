// =============================================================================
// 🧪 Test helpers
// =============================================================================
// Shared fixtures for package tests: contexts, identities, sealed envelopes
// and a miniredis-backed cache manager.
//
// Usage:
//
//	id := testutil.Identity(t, "client")
//	raw := testutil.Seal(t, id, envelope.Message{Target: agent, Session: "s"})
//	cm := testutil.Redis(t)
// =============================================================================
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/envelope"
	"github.com/rajashekarcs2023/weather-marketplace/identity"
	"github.com/rajashekarcs2023/weather-marketplace/internal/cache"
)

// =============================================================================
// 🎯 Contexts
// =============================================================================

// TestContext returns a context cancelled when the test ends.
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout returns a context with timeout, cancelled when the
// test ends.
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// 🔑 Identities and envelopes
// =============================================================================

// Identity derives the identity at index 0 of seed.
func Identity(t testing.TB, seed string) *identity.Identity {
	t.Helper()
	id, err := identity.FromSeed(seed, 0)
	require.NoError(t, err)
	return id
}

// Seal signs msg as from and returns the encoded envelope. An empty schema
// defaults to a weather response.
func Seal(t testing.TB, from *identity.Identity, msg envelope.Message) []byte {
	t.Helper()
	if msg.Schema == "" {
		msg.Schema = envelope.SchemaWeatherResponse
	}
	env, err := envelope.Seal(from, msg, time.Now())
	require.NoError(t, err)
	raw, err := envelope.Encode(env)
	require.NoError(t, err)
	return raw
}

// =============================================================================
// 💾 Redis
// =============================================================================

// Redis starts a miniredis server and returns a cache manager connected to
// it. Both are closed when the test ends.
func Redis(t testing.TB) *cache.Manager {
	t.Helper()
	mr := miniredis.RunT(t)
	cm, err := cache.NewManager(cache.Config{Addr: mr.Addr()}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cm.Close() })
	return cm
}
