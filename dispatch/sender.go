// Package dispatch delivers signed envelopes to other agents: it resolves the
// target's webhook URL through the directory and POSTs the envelope there.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/rajashekarcs2023/weather-marketplace/directory"
	"github.com/rajashekarcs2023/weather-marketplace/envelope"
	"github.com/rajashekarcs2023/weather-marketplace/identity"
	"github.com/rajashekarcs2023/weather-marketplace/internal/metrics"
	"github.com/rajashekarcs2023/weather-marketplace/internal/telemetry"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// Resolver looks up the record of an agent address.
type Resolver interface {
	Resolve(ctx context.Context, address string) (*directory.AgentRecord, error)
}

// Config configures a Sender.
type Config struct {
	// Timeout bounds one delivery, resolution included
	Timeout time.Duration
	// ResolveCacheTTL keeps resolved endpoints; 0 disables caching
	ResolveCacheTTL time.Duration
	// EnvelopeTTL is stamped on outgoing envelopes; 0 means no expiry
	EnvelopeTTL time.Duration
}

// DefaultConfig returns delivery defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:         10 * time.Second,
		ResolveCacheTTL: 5 * time.Minute,
		EnvelopeTTL:     5 * time.Minute,
	}
}

type cachedEndpoint struct {
	url     string
	expires time.Time
}

// Sender seals messages with its identity and delivers them.
type Sender struct {
	self     *identity.Identity
	resolver Resolver
	config   Config
	http     *http.Client
	metrics  *metrics.Collector
	logger   *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu        sync.RWMutex
	endpoints map[string]cachedEndpoint
	group     singleflight.Group
}

// Option customizes a Sender.
type Option func(*Sender)

// WithHTTPClient replaces the HTTP client used for delivery.
func WithHTTPClient(hc *http.Client) Option {
	return func(s *Sender) { s.http = hc }
}

// WithMetrics records deliveries and cache lookups on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(s *Sender) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// NewSender creates a Sender signing as self.
func NewSender(self *identity.Identity, resolver Resolver, config Config, opts ...Option) *Sender {
	s := &Sender{
		self:      self,
		resolver:  resolver,
		config:    config,
		http:      &http.Client{},
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(telemetry.InstrumentationName + "/dispatch"),
		now:       time.Now,
		endpoints: make(map[string]cachedEndpoint),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "dispatch"), zap.String("sender", self.Address()))
	return s
}

// Address is the sender's own address.
func (s *Sender) Address() string {
	return s.self.Address()
}

// Send seals msg and POSTs it to the webhook of msg.Target. Failures are
// returned as *types.Error; nothing is retried.
func (s *Sender) Send(ctx context.Context, msg envelope.Message) (err error) {
	start := s.now()
	if s.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	ctx, span := s.tracer.Start(ctx, "dispatch.send", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("envelope.schema", msg.Schema),
			attribute.String("envelope.target", msg.Target),
			attribute.String("envelope.session", msg.Session),
		))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		s.metrics.RecordDispatch(msg.Schema, outcome, s.now().Sub(start))
	}()

	if msg.TTL == 0 {
		msg.TTL = s.config.EnvelopeTTL
	}
	env, err := envelope.Seal(s.self, msg, s.now())
	if err != nil {
		return types.NewInvalidRequestError("invalid message").WithCause(err)
	}
	body, err := envelope.Encode(env)
	if err != nil {
		return types.NewError(types.ErrInternalError, "encode envelope").WithCause(err)
	}

	endpoint, err := s.endpoint(ctx, msg.Target)
	if err != nil {
		return err
	}

	if err := s.post(ctx, endpoint, body); err != nil {
		// The agent may have moved; resolve again next time.
		s.forget(msg.Target)
		s.logger.Warn("delivery failed",
			zap.String("target", msg.Target),
			zap.String("endpoint", endpoint),
			zap.String("session", env.Session),
			zap.Error(err),
		)
		return err
	}

	s.logger.Debug("envelope delivered",
		zap.String("target", msg.Target),
		zap.String("schema", msg.Schema),
		zap.String("session", env.Session),
	)
	return nil
}

func (s *Sender) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return types.NewError(types.ErrUpstreamError, "invalid agent endpoint").WithCause(err).WithUpstream("agent")
	}
	req.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := s.http.Do(req)
	if err != nil {
		return types.NewUpstreamError("agent", "agent unreachable", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return types.NewError(types.ErrUpstreamError, fmt.Sprintf("agent rejected envelope with status %d", resp.StatusCode)).
			WithUpstream("agent").
			WithRetryable(resp.StatusCode >= 500)
	}
	return nil
}

// endpoint returns the webhook URL of address, from the cache when fresh.
// Concurrent misses for one address share a single directory lookup.
func (s *Sender) endpoint(ctx context.Context, address string) (string, error) {
	if s.config.ResolveCacheTTL > 0 {
		s.mu.RLock()
		e, ok := s.endpoints[address]
		s.mu.RUnlock()
		if ok && s.now().Before(e.expires) {
			s.metrics.RecordCacheHit("endpoint")
			return e.url, nil
		}
		s.metrics.RecordCacheMiss("endpoint")
	}

	v, err, _ := s.group.Do(address, func() (any, error) {
		rec, err := s.resolver.Resolve(ctx, address)
		if err != nil {
			return "", err
		}
		if rec.URL == "" {
			return "", types.NewError(types.ErrUpstreamError, "agent has no endpoint").WithUpstream("directory")
		}
		if s.config.ResolveCacheTTL > 0 {
			s.mu.Lock()
			s.endpoints[address] = cachedEndpoint{url: rec.URL, expires: s.now().Add(s.config.ResolveCacheTTL)}
			s.mu.Unlock()
		}
		return rec.URL, nil
	})
	if err != nil {
		if _, ok := types.AsError(err); ok {
			return "", err
		}
		return "", types.NewUpstreamError("directory", "resolve agent endpoint", err)
	}
	return v.(string), nil
}

func (s *Sender) forget(address string) {
	s.mu.Lock()
	delete(s.endpoints, address)
	s.mu.Unlock()
}
