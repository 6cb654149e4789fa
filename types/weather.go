package types

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload is the decoded body of an envelope. Keys are kept as sent so that a
// relayed payload comes back to the browser unchanged.
type Payload map[string]any

// Well-known payload keys.
const (
	KeyLocation  = "location"
	KeyAnalysis  = "analysis"
	KeyPrice     = "price"
	KeyRequestID = "request_id"
)

// String returns the value under key if it is a string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}

// RequestID returns the correlation key carried by the payload, if any.
func (p Payload) RequestID() string {
	return p.String(KeyRequestID)
}

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// WeatherRequest is sent by the client to a weather agent.
type WeatherRequest struct {
	Location  string `json:"location"`
	RequestID string `json:"request_id,omitempty"`
}

// Validate checks that the request names a location.
func (r WeatherRequest) Validate() error {
	if strings.TrimSpace(r.Location) == "" {
		return NewInvalidRequestError("No location provided")
	}
	return nil
}

// Payload converts the request to its wire form.
func (r WeatherRequest) Payload() Payload {
	p := Payload{KeyLocation: r.Location}
	if r.RequestID != "" {
		p[KeyRequestID] = r.RequestID
	}
	return p
}

// WeatherResponse is the reply a weather agent sends back to the client.
type WeatherResponse struct {
	Location  string  `json:"location"`
	Analysis  string  `json:"analysis"`
	Price     float64 `json:"price"`
	RequestID string  `json:"request_id,omitempty"`
}

// Payload converts the response to its wire form.
func (r WeatherResponse) Payload() Payload {
	p := Payload{
		KeyLocation: r.Location,
		KeyAnalysis: r.Analysis,
		KeyPrice:    r.Price,
	}
	if r.RequestID != "" {
		p[KeyRequestID] = r.RequestID
	}
	return p
}

// DecodePayload maps a payload onto a typed struct through its JSON form.
func DecodePayload(p Payload, out any) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return NewError(ErrInvalidEnvelope, "payload does not match schema").WithCause(err)
	}
	return nil
}
