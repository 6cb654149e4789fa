package api

import (
	"github.com/rajashekarcs2023/weather-marketplace/directory"
	"github.com/rajashekarcs2023/weather-marketplace/discovery"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// SearchAgentsResponse is the body of GET /api/search-agents.
type SearchAgentsResponse struct {
	Agents []discovery.Offer `json:"agents"`
}

// GetWeatherRequest is the body of POST /api/get-weather. The browser sends
// the agent address in camel case.
type GetWeatherRequest struct {
	Location     string `json:"location"`
	AgentAddress string `json:"agentAddress"`
}

// GetWeatherResponse acknowledges a sent weather request.
type GetWeatherResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// PollStatus is returned by the response poll while no reply is available,
// and once a request has expired.
type PollStatus struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// StreamMessage is the single frame pushed on /api/weather-stream.
type StreamMessage struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	Payload   types.Payload   `json:"payload,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      types.ErrorCode `json:"code,omitempty"`
}

// Poll and stream statuses.
const (
	StatusRequestSent = "request_sent"
	StatusWaiting     = "waiting"
	StatusReady       = "ready"
	StatusExpired     = "expired"
	StatusError       = "error"
)

// DirectorySearchResponse is the body of POST /v1/search.
type DirectorySearchResponse struct {
	Agents []directory.SearchResult `json:"agents"`
}

// TokenResponse is returned when a directory token is minted.
type TokenResponse struct {
	Token string `json:"token"`
}
