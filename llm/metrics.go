package llm

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/rajashekarcs2023/weather-marketplace/internal/telemetry"
)

// instruments are the OpenTelemetry counterparts of the Prometheus LLM
// metrics, exported over OTLP when telemetry is enabled.
type instruments struct {
	requests metric.Int64Counter
	tokens   metric.Int64Counter
	duration metric.Float64Histogram
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(telemetry.InstrumentationName + "/llm")

	var (
		in  instruments
		err error
	)
	in.requests, err = meter.Int64Counter("llm.request.total",
		metric.WithDescription("Total number of LLM requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}

	in.tokens, err = meter.Int64Counter("llm.token.total",
		metric.WithDescription("Total tokens consumed"),
		metric.WithUnit("{token}"))
	if err != nil {
		return nil, err
	}

	in.duration, err = meter.Float64Histogram("llm.request.duration",
		metric.WithDescription("Request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	if err != nil {
		return nil, err
	}
	return &in, nil
}

func (in *instruments) record(ctx context.Context, provider, model, status string, d time.Duration, c *Completion) {
	attrs := metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.String("status", status),
	)
	in.requests.Add(ctx, 1, attrs)
	in.duration.Record(ctx, d.Seconds(), attrs)
	if c == nil {
		return
	}
	in.tokens.Add(ctx, int64(c.PromptTokens), metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.String("token.type", "prompt"),
	))
	in.tokens.Add(ctx, int64(c.CompletionTokens), metric.WithAttributes(
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.String("token.type", "completion"),
	))
}
