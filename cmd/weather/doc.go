// Copyright (c) Weather Marketplace Authors.
// Licensed under the MIT License.

/*
Command weather runs the processes of the weather agent marketplace.

# Overview

One binary serves every role: the frontend client service, the budget and
luxury weather agents, and the local agent directory. Each role loads its
preset, then the YAML file, then WEATHER_* environment overrides.

# Core types

  - Server      owns the HTTP and metrics listeners of one role and its stores
  - Middleware  func(http.Handler) http.Handler

# Capabilities

  - Subcommands: client, agent --variant, directory, token, health, version
  - Middleware chain: Recovery, RequestID, SecurityHeaders, RequestLogger,
    CORS, RateLimiter (per IP), Metrics, OTel tracing; JWT bearer auth on
    the directory's mutating routes
  - Startup registration with the directory for the client and agents
  - Graceful shutdown: signal, listeners, agent workers, mailbox, redis,
    database, telemetry
  - Version, BuildTime and GitCommit are set with -ldflags
*/
package main
