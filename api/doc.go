// Package api holds the request and response bodies of the marketplace HTTP
// surfaces.
//
// # Client service
//
//	GET  /api/search-agents            priced weather agents
//	POST /api/get-weather              send a weather request
//	GET  /api/get-weather-response     poll for a reply, optionally by request_id
//	GET  /api/weather-stream           websocket push of one reply
//	POST /api/webhook                  signed envelopes from agents
//	GET  /api/stats                    counters
//
// # Weather agent service
//
//	POST /webhook, POST /api/webhook   signed weather requests
//
// # Directory service
//
//	POST   /v1/agents                  register (bearer token when configured)
//	GET    /v1/agents/{address}        resolve
//	DELETE /v1/agents/{address}        unregister (bearer token when configured)
//	POST   /v1/search                  ranked capability search
//
// Every service also serves /health, /healthz, /ready and /version.
package api
