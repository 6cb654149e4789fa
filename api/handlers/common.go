package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// maxBodyBytes bounds JSON and envelope bodies.
const maxBodyBytes = 1 << 20

// ErrorResponse is the error body of every JSON endpoint.
type ErrorResponse struct {
	Error string          `json:"error"`
	Code  types.ErrorCode `json:"code"`
}

// WriteJSON writes data as JSON with status.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)

	// the header is already out, nothing left to report to
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes err as {error, code} with the status of its kind. Server
// side failures are logged at error level, caller mistakes at debug.
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	e := types.FromError(err)
	status := e.Status()

	if logger != nil {
		fields := []zap.Field{
			zap.String("code", string(e.Code)),
			zap.String("message", e.Message),
			zap.Int("status", status),
			zap.Bool("retryable", e.Retryable),
		}
		if e.Upstream != "" {
			fields = append(fields, zap.String("upstream", e.Upstream))
		}
		if e.Cause != nil {
			fields = append(fields, zap.Error(e.Cause))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("API error", fields...)
		} else {
			logger.Debug("API error", fields...)
		}
	}

	WriteJSON(w, status, ErrorResponse{Error: e.Message, Code: e.Code})
}

// DecodeJSONBody decodes a JSON request body into dst. Unknown fields are
// ignored since browsers send whatever the page built.
func DecodeJSONBody(r *http.Request, dst any) error {
	if r.Body == nil || r.Body == http.NoBody {
		return types.NewInvalidRequestError("request body is empty")
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return types.NewInvalidRequestError("request body is empty")
		}
		return types.NewInvalidRequestError("invalid JSON body").WithCause(err)
	}
	return nil
}

// ReadBody reads a raw body up to the size limit.
func ReadBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, types.NewInvalidRequestError("unreadable body").WithCause(err)
	}
	return raw, nil
}

// ValidateContentType rejects bodies that are not declared as JSON.
func ValidateContentType(r *http.Request) error {
	ct := strings.ToLower(strings.TrimSpace(r.Header.Get("Content-Type")))
	if ct == "" || ct == "application/json" || strings.HasPrefix(ct, "application/json;") {
		return nil
	}
	return types.NewInvalidRequestError("Content-Type must be application/json")
}

// ResponseWriter captures the status code written through it.
type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
	Written    bool
	Bytes      int64
}

// NewResponseWriter wraps w.
func NewResponseWriter(w http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		ResponseWriter: w,
		StatusCode:     http.StatusOK,
	}
}

// WriteHeader records the first status.
func (rw *ResponseWriter) WriteHeader(code int) {
	if !rw.Written {
		rw.StatusCode = code
		rw.Written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

// Write marks the header written and counts bytes.
func (rw *ResponseWriter) Write(b []byte) (int, error) {
	if !rw.Written {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.Bytes += int64(n)
	return n, err
}

// Unwrap exposes the wrapped writer to http.ResponseController, which the
// websocket upgrade needs for hijacking.
func (rw *ResponseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
