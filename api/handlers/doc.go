// Copyright (c) Weather Marketplace Authors.
// Licensed under the MIT License.

/*
Package handlers implements the HTTP endpoints of the weather marketplace
services on plain net/http.

# Handlers

  - WeatherHandler   frontend client API: agent search, weather requests,
    response polling, the weather stream websocket and the reply webhook
  - AgentHandler     weather agent webhook and info
  - DirectoryHandler agent registration, resolution and capability search
  - HealthHandler    /health, /healthz, /ready and /version

Errors are written as {error, code} with the status implied by the
types.ErrorCode. Webhooks answer with the relay.Ack of the delivery.
*/
package handlers
