package envelope

import (
	"errors"

	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// Envelope errors. Open wraps these so callers can use errors.Is.
var (
	ErrEmpty              = errors.New("envelope: empty body")
	ErrMalformed          = errors.New("envelope: malformed")
	ErrUnsupportedVersion = errors.New("envelope: unsupported version")
	ErrMissingField       = errors.New("envelope: missing field")
	ErrInvalidSignature   = errors.New("envelope: invalid signature")
	ErrExpired            = errors.New("envelope: expired")
	ErrTargetMismatch     = errors.New("envelope: not addressed to this agent")
)

// AsError converts a codec failure into an INVALID_ENVELOPE error.
func AsError(err error) *types.Error {
	if err == nil {
		return nil
	}
	msg := "invalid envelope"
	switch {
	case errors.Is(err, ErrEmpty):
		msg = "empty envelope"
	case errors.Is(err, ErrInvalidSignature):
		msg = "envelope signature does not match sender"
	case errors.Is(err, ErrExpired):
		msg = "envelope expired"
	case errors.Is(err, ErrTargetMismatch):
		msg = "envelope not addressed to this agent"
	case errors.Is(err, ErrMissingField):
		msg = "envelope is missing a required field"
	case errors.Is(err, ErrUnsupportedVersion):
		msg = "unsupported envelope version"
	}
	return types.NewError(types.ErrInvalidEnvelope, msg).WithCause(err)
}
