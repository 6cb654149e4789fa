// Package ctxkeys holds the request-scoped values the HTTP middleware puts in
// a context.
package ctxkeys

import "context"

type contextKey string

const (
	requestIDKey contextKey = "request_id"
	subjectKey   contextKey = "subject"
)

// WithRequestID stores the X-Request-ID of the HTTP request.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the HTTP request ID.
func RequestID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(requestIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithSubject stores the subject of a verified directory token.
func WithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// Subject returns the token subject.
func Subject(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(subjectKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
