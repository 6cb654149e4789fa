// Package telemetry sets up the OpenTelemetry SDK: OTLP gRPC trace and metric
// exporters when enabled, and the W3C trace-context propagator always.
package telemetry
