/*
Package server runs HTTP listeners with a non-blocking start and graceful shutdown.

# Core types

  - Manager: wraps net/http.Server with its listener and an async error channel;
    Start / Shutdown / Errors / ListenAddr.
  - Config: address, timeouts, header limit, connection cap, shutdown timeout.

Every marketplace process runs two managers: the service API and the
Prometheus metrics endpoint.
*/
package server
