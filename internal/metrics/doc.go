/*
Package metrics records Prometheus series for the marketplace services.

# Core types

  - Collector: holds the counters, histograms and gauges, grouped by concern.
    Registered on the default registry by NewCollector, or on any
    prometheus.Registerer by NewCollectorWithRegistry. A nil Collector is a no-op.

# Series

  - HTTP: request count, duration, request and response size by method/path/status class.
  - LLM: request count, duration, prompt and completion tokens by provider/model.
  - Envelopes: webhook deliveries by outcome, dispatches by schema/outcome.
  - Mailbox: pending requests gauge, polls by status.
  - Directory: operations by status, endpoint cache hits and misses.
  - Agent: analyses by variant/status, end-to-end duration, worker pool backlog.
*/
package metrics
