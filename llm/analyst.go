package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/internal/metrics"
	"github.com/rajashekarcs2023/weather-marketplace/internal/telemetry"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// LocationPlaceholder is replaced by the location in a prompt template.
const LocationPlaceholder = "%s"

// AnalystConfig configures an Analyst.
type AnalystConfig struct {
	// PromptTemplate contains LocationPlaceholder exactly once
	PromptTemplate string
	// Timeout bounds one completion; 0 leaves only the caller's deadline
	Timeout time.Duration
}

// Validate checks the template.
func (c AnalystConfig) Validate() error {
	if n := strings.Count(c.PromptTemplate, LocationPlaceholder); n != 1 {
		return fmt.Errorf("prompt template must contain %s exactly once, found %d", LocationPlaceholder, n)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative")
	}
	return nil
}

// Analyst writes the weather analysis of a location.
type Analyst struct {
	provider    Provider
	config      AnalystConfig
	metrics     *metrics.Collector
	instruments *instruments
	tracer      trace.Tracer
	logger      *zap.Logger
}

// AnalystOption customizes an Analyst.
type AnalystOption func(*analystOptions)

type analystOptions struct {
	metrics       *metrics.Collector
	meterProvider metric.MeterProvider
	logger        *zap.Logger
}

// WithMetrics records calls on the Prometheus collector.
func WithMetrics(m *metrics.Collector) AnalystOption {
	return func(o *analystOptions) { o.metrics = m }
}

// WithMeterProvider replaces the global OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) AnalystOption {
	return func(o *analystOptions) { o.meterProvider = mp }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) AnalystOption {
	return func(o *analystOptions) { o.logger = l }
}

// NewAnalyst creates an Analyst over provider.
func NewAnalyst(provider Provider, config AnalystConfig, opts ...AnalystOption) (*Analyst, error) {
	if provider == nil {
		return nil, fmt.Errorf("llm: provider is required")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("llm: %w", err)
	}

	o := analystOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	in, err := newInstruments(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("llm: create instruments: %w", err)
	}

	return &Analyst{
		provider:    provider,
		config:      config,
		metrics:     o.metrics,
		instruments: in,
		tracer:      otel.Tracer(telemetry.InstrumentationName + "/llm"),
		logger:      o.logger.With(zap.String("component", "analyst"), zap.String("provider", provider.Name())),
	}, nil
}

// Prompt renders the template for location.
func (a *Analyst) Prompt(location string) string {
	return strings.Replace(a.config.PromptTemplate, LocationPlaceholder, location, 1)
}

// Analyze asks the provider about location and returns the analysis text.
func (a *Analyst) Analyze(ctx context.Context, location string) (string, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return "", types.NewInvalidRequestError("location is required")
	}

	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	ctx, span := a.tracer.Start(ctx, "llm.complete", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("llm.provider", a.provider.Name()),
			attribute.String("llm.model", a.provider.Model()),
			attribute.String("weather.location", location),
		))
	defer span.End()

	start := time.Now()
	completion, err := a.provider.Complete(ctx, a.Prompt(location))
	elapsed := time.Since(start)

	status := "success"
	if err != nil {
		status = "error"
		if types.IsErrorCode(err, types.ErrUpstreamTimeout) {
			status = "timeout"
		}
	}

	model := a.provider.Model()
	if completion != nil && completion.Model != "" {
		model = completion.Model
	}
	prompt, output := 0, 0
	if completion != nil {
		prompt, output = completion.PromptTokens, completion.CompletionTokens
	}
	a.metrics.RecordLLMRequest(a.provider.Name(), model, status, elapsed, prompt, output)
	a.instruments.record(ctx, a.provider.Name(), model, status, elapsed, completion)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.logger.Warn("analysis failed",
			zap.String("location", location),
			zap.Duration("duration", elapsed),
			zap.Error(err),
		)
		if _, ok := types.AsError(err); ok {
			return "", err
		}
		return "", types.NewUpstreamError(a.provider.Name(), "analysis failed", err)
	}

	span.SetAttributes(
		attribute.Int("llm.prompt_tokens", prompt),
		attribute.Int("llm.completion_tokens", output),
	)
	a.logger.Debug("analysis complete",
		zap.String("location", location),
		zap.String("model", model),
		zap.Duration("duration", elapsed),
		zap.Int("completion_tokens", output),
	)
	return completion.Text, nil
}
