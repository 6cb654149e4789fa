// Copyright (c) Weather Marketplace Authors.
// Licensed under the MIT License.

/*
Package llm produces the weather analysis a weather agent sells.

A Provider turns one prompt into one Completion. Three providers exist:
AnthropicProvider over the Anthropic Messages API, OpenAIProvider over the
OpenAI Chat Completions API, and MockProvider for tests and offline runs.
NewProvider picks one from config.LLMConfig.

An Analyst wraps a Provider with the agent's prompt template and timeout, and
records every call on the Prometheus collector and on OpenTelemetry
instruments. Provider failures surface as *types.Error with code
UPSTREAM_ERROR or UPSTREAM_TIMEOUT; calls are never retried.
*/
package llm
