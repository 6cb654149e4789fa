package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/envelope"
	"github.com/rajashekarcs2023/weather-marketplace/internal/metrics"
	"github.com/rajashekarcs2023/weather-marketplace/internal/pool"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// Analyzer writes the analysis of a location.
type Analyzer interface {
	Analyze(ctx context.Context, location string) (string, error)
}

// AgentConfig configures an Agent.
type AgentConfig struct {
	// Variant labels logs and metrics, e.g. budget or luxury
	Variant string
	// Price is quoted in every response
	Price float64
}

// Agent is the relay of a weather agent service.
type Agent struct {
	analyzer Analyzer
	sender   Sender
	pool     *pool.GoroutinePool
	opener   envelope.Opener
	config   AgentConfig
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// AgentOption customizes an Agent.
type AgentOption func(*Agent)

// WithPool answers requests on p and acknowledges webhooks once queued.
// Without a pool requests are answered before the webhook returns.
func WithPool(p *pool.GoroutinePool) AgentOption {
	return func(a *Agent) { a.pool = p }
}

// WithAgentMetrics records analyses and webhooks on m.
func WithAgentMetrics(m *metrics.Collector) AgentOption {
	return func(a *Agent) { a.metrics = m }
}

// WithAgentLogger sets the logger.
func WithAgentLogger(l *zap.Logger) AgentOption {
	return func(a *Agent) { a.logger = l }
}

// NewAgent creates an agent relay.
func NewAgent(analyzer Analyzer, sender Sender, config AgentConfig, opts ...AgentOption) *Agent {
	a := &Agent{
		analyzer: analyzer,
		sender:   sender,
		opener:   envelope.Opener{Self: sender.Address()},
		config:   config,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "agent_relay"), zap.String("variant", config.Variant))
	return a
}

// Address is the agent's address.
func (a *Agent) Address() string {
	return a.sender.Address()
}

// HandleIncoming accepts a weather request envelope POSTed to the webhook.
func (a *Agent) HandleIncoming(ctx context.Context, raw []byte) Ack {
	env, payload, err := a.opener.Open(raw)
	if err != nil {
		a.metrics.RecordWebhook("rejected")
		a.logger.Warn("webhook rejected", zap.Error(err))
		return rejectEnvelope(err)
	}

	var req types.WeatherRequest
	if err := types.DecodePayload(payload, &req); err != nil {
		a.metrics.RecordWebhook("rejected")
		return ackFailure(err)
	}
	if err := req.Validate(); err != nil {
		a.metrics.RecordWebhook("rejected")
		a.logger.Warn("request without location", zap.String("sender", env.Sender))
		return ackFailure(err)
	}

	a.logger.Info("weather request received",
		zap.String("sender", env.Sender),
		zap.String("session", env.Session),
		zap.String("location", req.Location),
	)

	if a.pool == nil {
		if err := a.answer(ctx, env, req); err != nil {
			a.metrics.RecordWebhook("failed")
			return ackFailure(err)
		}
		a.metrics.RecordWebhook("answered")
		return ackSuccess(http.StatusOK, "")
	}

	// Work continues after the webhook returns; keep the trace but not the
	// request's cancellation.
	span := trace.SpanContextFromContext(ctx)
	err = a.pool.Submit(func(taskCtx context.Context) error {
		return a.answer(trace.ContextWithSpanContext(taskCtx, span), env, req)
	})
	if err != nil {
		a.metrics.RecordWebhook("overloaded")
		a.logger.Warn("request not queued", zap.String("session", env.Session), zap.Error(err))
		msg := "agent is busy"
		if errors.Is(err, pool.ErrPoolClosed) {
			msg = "agent is shutting down"
		}
		return ackFailure(types.NewError(types.ErrServiceUnavailable, msg).WithCause(err).WithRetryable(true))
	}
	a.metrics.RecordWebhook("queued")
	return ackSuccess(http.StatusAccepted, "queued")
}

// answer analyses req and sends the response to the requester under the
// request's session.
func (a *Agent) answer(ctx context.Context, env *envelope.Envelope, req types.WeatherRequest) error {
	start := time.Now()
	analysis, err := a.analyzer.Analyze(ctx, req.Location)
	if err != nil {
		a.metrics.RecordAnalysis(a.config.Variant, "llm_error", time.Since(start))
		a.logger.Error("analysis failed",
			zap.String("session", env.Session),
			zap.String("location", req.Location),
			zap.Error(err),
		)
		return err
	}

	resp := types.WeatherResponse{
		Location:  req.Location,
		Analysis:  analysis,
		Price:     a.config.Price,
		RequestID: req.RequestID,
	}
	err = a.sender.Send(ctx, envelope.Message{
		Target:  env.Sender,
		Session: env.Session,
		Schema:  envelope.SchemaWeatherResponse,
		Payload: resp.Payload(),
	})
	if err != nil {
		a.metrics.RecordAnalysis(a.config.Variant, "send_error", time.Since(start))
		a.logger.Error("response not sent",
			zap.String("session", env.Session),
			zap.String("target", env.Sender),
			zap.Error(err),
		)
		return err
	}

	a.metrics.RecordAnalysis(a.config.Variant, "success", time.Since(start))
	a.logger.Info("weather response sent",
		zap.String("session", env.Session),
		zap.String("target", env.Sender),
		zap.String("location", req.Location),
		zap.Float64("price", a.config.Price),
	)
	return nil
}
