// Package relay connects the HTTP surface of the marketplace to its messaging:
// Client turns browser requests into signed envelopes and parks the replies in
// a mailbox, and Agent answers incoming weather requests with an analysis.
package relay

import (
	"context"

	"github.com/rajashekarcs2023/weather-marketplace/envelope"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// Ack statuses.
const (
	AckSuccess = "success"
	AckError   = "error"
)

// Ack is the answer to a webhook delivery.
type Ack struct {
	Status  string          `json:"status"`
	Message string          `json:"message,omitempty"`
	Code    types.ErrorCode `json:"code,omitempty"`

	// HTTPStatus is the status the ack is written with.
	HTTPStatus int `json:"-"`
}

// OK reports whether the delivery was accepted.
func (a Ack) OK() bool {
	return a.Status == AckSuccess
}

func ackSuccess(status int, message string) Ack {
	return Ack{Status: AckSuccess, Message: message, HTTPStatus: status}
}

func ackFailure(err error) Ack {
	e := types.FromError(err)
	return Ack{Status: AckError, Message: e.Message, Code: e.Code, HTTPStatus: e.Status()}
}

// Sender delivers messages signed with the relay's identity.
type Sender interface {
	Address() string
	Send(ctx context.Context, msg envelope.Message) error
}

func rejectEnvelope(err error) Ack {
	return ackFailure(envelope.AsError(err))
}
