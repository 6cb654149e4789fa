// Copyright (c) Weather Marketplace Authors.
// Licensed under the MIT License.

/*
Package types holds the shared types of the weather marketplace.

# Overview

types is the lowest package in the module and imports no other internal
package. The client, agent and directory services all use it for the error
kinds they report and for the weather payloads they exchange.

# Core types

  - Error, ErrorCode: structured error kinds with a fixed HTTP status mapping
  - Payload: decoded envelope body (string keys to JSON values)
  - WeatherRequest: client to agent payload (location, request_id)
  - WeatherResponse: agent to client payload (location, analysis, price, request_id)

# Helpers

  - Error chain: AsError / FromError / IsErrorCode / IsRetryable
  - Outbound failures: NewUpstreamError maps deadlines to UPSTREAM_TIMEOUT
*/
package types
