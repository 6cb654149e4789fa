package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
)

// =============================================================================
// 🌐 HTTP listener lifecycle
// =============================================================================

// ErrClosed is returned when starting a manager that was shut down.
var ErrClosed = errors.New("server is closed")

// Manager owns one http.Server: listen, serve in the background, drain on shutdown.
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	config   Config
	logger   *zap.Logger
	mu       sync.RWMutex
	closed   bool
}

// Config listener settings
type Config struct {
	// Name labels log lines, e.g. "http" or "metrics"
	Name string `yaml:"name" json:"name"`

	Addr string `yaml:"addr" json:"addr"`

	ReadTimeout  time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	MaxHeaderBytes int `yaml:"max_header_bytes" json:"max_header_bytes"`

	// MaxConnections caps simultaneously accepted connections; 0 means unlimited
	MaxConnections int `yaml:"max_connections" json:"max_connections"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// DefaultConfig returns listener defaults.
func DefaultConfig() Config {
	return Config{
		Name:            "http",
		Addr:            ":8080",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20, // 1 MB
		ShutdownTimeout: 30 * time.Second,
	}
}

// NewManager creates a manager for handler. Nothing listens until Start.
func NewManager(handler http.Handler, config Config, logger *zap.Logger) *Manager {
	if config.Name == "" {
		config.Name = "http"
	}
	server := &http.Server{
		Addr:           config.Addr,
		Handler:        handler,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return &Manager{
		server: server,
		errCh:  make(chan error, 1),
		config: config,
		logger: logger.With(zap.String("component", "server"), zap.String("listener", config.Name)),
	}
}

// Start binds the address and serves in a goroutine.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}

	if m.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.config.Addr, err)
	}
	if m.config.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, m.config.MaxConnections)
	}

	m.listener = listener
	m.logger.Info("starting server",
		zap.String("addr", listener.Addr().String()),
		zap.Int("max_connections", m.config.MaxConnections),
	)

	go m.serve(listener)

	return nil
}

func (m *Manager) serve(listener net.Listener) {
	if err := m.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		m.logger.Error("server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown drains in-flight requests within ShutdownTimeout. Safe to call twice.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	m.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.config.ShutdownTimeout)
	defer cancel()

	if err := m.server.Shutdown(shutdownCtx); err != nil {
		m.logger.Error("server shutdown failed", zap.Error(err))
		return err
	}

	m.listener = nil

	m.logger.Info("server stopped")
	return nil
}

// Errors delivers the error that stopped the server, if Serve failed after
// Start returned.
func (m *Manager) Errors() <-chan error {
	return m.errCh
}

// Addr returns the configured address.
func (m *Manager) Addr() string {
	return m.config.Addr
}

// ListenAddr returns the bound address, which differs from Addr for ":0".
// Empty before Start and after Shutdown.
func (m *Manager) ListenAddr() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// IsRunning reports whether Shutdown has not been called yet.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return !m.closed
}
