// Package cache owns the shared Redis connection of a marketplace process.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis connection manager
// =============================================================================

// Manager owns one Redis client shared by the mailbox and the directory store.
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// Config Redis connection settings
type Config struct {
	Addr         string
	Password     string
	DB           int
	MaxRetries   int
	PoolSize     int
	MinIdleConns int

	// DefaultTTL applies to SetJSON calls with ttl == 0
	DefaultTTL time.Duration

	// HealthCheckInterval of 0 disables the background ping
	HealthCheckInterval time.Duration
}

// DefaultConfig returns local Redis defaults.
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		DefaultTTL:          5 * time.Minute,
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// ErrClosed is returned after Close.
var ErrClosed = errors.New("cache manager is closed")

// ErrCacheMiss is returned by GetJSON when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// NewManager connects and pings Redis.
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		done:   make(chan struct{}),
	}

	if config.HealthCheckInterval > 0 {
		go m.healthCheckLoop()
	}

	m.logger.Info("redis connected",
		zap.String("addr", config.Addr),
		zap.Int("pool_size", config.PoolSize),
	)
	return m, nil
}

// =============================================================================
// 🎯 Core methods
// =============================================================================

// Client returns the underlying client for stores that need raw commands.
func (m *Manager) Client() *redis.Client {
	return m.redis
}

// GetJSON decodes the value stored at key into dest.
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	if err := m.check(); err != nil {
		return err
	}
	val, err := m.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("cache get failed: %w", err)
	}
	if err := json.Unmarshal(val, dest); err != nil {
		return fmt.Errorf("failed to unmarshal cache value: %w", err)
	}
	return nil
}

// SetJSON stores value as JSON. A ttl of 0 uses DefaultTTL, a negative ttl
// stores without expiry.
func (m *Manager) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := m.check(); err != nil {
		return err
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal cache value: %w", err)
	}
	switch {
	case ttl == 0:
		ttl = m.config.DefaultTTL
	case ttl < 0:
		ttl = 0
	}
	if err := m.redis.Set(ctx, key, data, ttl).Err(); err != nil {
		m.logger.Error("cache set failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("cache set failed: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (m *Manager) Ping(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	return m.redis.Ping(ctx).Err()
}

// Close stops the health check and closes the client. Safe to call twice.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	close(m.done)
	m.logger.Info("closing redis connection")
	return m.redis.Close()
}

func (m *Manager) check() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return nil
}

// =============================================================================
// 🏥 Health check
// =============================================================================

func (m *Manager) healthCheckLoop() {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.Ping(ctx); err != nil && !errors.Is(err, ErrClosed) {
			m.logger.Error("redis health check failed", zap.Error(err))
		}
		cancel()
	}
}
