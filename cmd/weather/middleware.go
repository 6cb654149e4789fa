package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rajashekarcs2023/weather-marketplace/api/handlers"
	"github.com/rajashekarcs2023/weather-marketplace/directory"
	"github.com/rajashekarcs2023/weather-marketplace/identity"
	"github.com/rajashekarcs2023/weather-marketplace/internal/ctxkeys"
	"github.com/rajashekarcs2023/weather-marketplace/internal/metrics"
	"github.com/rajashekarcs2023/weather-marketplace/internal/telemetry"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// Chain applies middlewares so that the first one is the outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Recovery turns a panic into a 500.
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					logger.Error("panic recovered",
						zap.Any("error", err),
						zap.String("path", r.URL.Path),
						zap.Stack("stack"),
					)
					handlers.WriteError(w, types.NewError(types.ErrInternalError, "internal server error"), nil)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID keeps the caller's X-Request-ID or assigns one, echoes it and
// puts it in the request context.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get("X-Request-ID")
			if id == "" || len(id) > 128 {
				id = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", id)
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithRequestID(r.Context(), id)))
		})
	}
}

// SecurityHeaders sets the usual hardening headers.
func SecurityHeaders() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			next.ServeHTTP(w, r)
		})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rw.StatusCode),
				zap.Duration("duration", time.Since(start)),
				zap.String("remote_addr", r.RemoteAddr),
			}
			if id, ok := ctxkeys.RequestID(r.Context()); ok {
				fields = append(fields, zap.String("request_id", id))
			}
			if isProbe(r.URL.Path) {
				logger.Debug("request", fields...)
				return
			}
			logger.Info("request", fields...)
		})
	}
}

func isProbe(path string) bool {
	switch path {
	case "/health", "/healthz", "/ready", "/version":
		return true
	}
	return false
}

// CORS answers preflights and sets CORS headers for allowed origins. Requests
// from other origins get no CORS headers, so browsers block them. A "*" entry
// allows every origin.
func CORS(allowedOrigins []string) Middleware {
	originSet := make(map[string]struct{}, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[strings.TrimRight(o, "/")] = struct{}{}
	}
	_, allowAll := originSet["*"]
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			_, ok := originSet[origin]
			if !ok && !allowAll {
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
				w.Header().Set("Access-Control-Max-Age", "86400")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimiter limits requests per client IP. rps <= 0 disables it. Idle
// visitors are forgotten until ctx ends.
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst <= 0 {
		burst = int(rps)
	}
	type visitor struct {
		limiter  *rate.Limiter
		lastSeen time.Time
	}
	var (
		mu       sync.Mutex
		visitors = make(map[string]*visitor)
	)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				mu.Lock()
				for ip, v := range visitors {
					if time.Since(v.lastSeen) > 3*time.Minute {
						delete(visitors, ip)
					}
				}
				mu.Unlock()
			}
		}
	}()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			mu.Lock()
			v, ok := visitors[ip]
			if !ok {
				v = &visitor{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
				visitors[ip] = v
			}
			v.lastSeen = time.Now()
			allowed := v.limiter.Allow()
			mu.Unlock()

			if !allowed {
				logger.Debug("rate limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
				handlers.WriteError(w, types.NewError(types.ErrRateLimited, "too many requests").WithRetryable(true), nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// MetricsMiddleware records request counts, durations and sizes.
func MetricsMiddleware(collector *metrics.Collector) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r)

			size := r.ContentLength
			if size < 0 {
				size = 0
			}
			collector.RecordHTTPRequest(r.Method, normalizePath(r.URL.Path), rw.StatusCode, time.Since(start), size, rw.Bytes)
		})
	}
}

// normalizePath replaces agent addresses in paths with ":address" to keep
// label cardinality bounded.
func normalizePath(path string) string {
	if !strings.Contains(path, identity.AddressPrefix) {
		return path
	}
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, identity.AddressPrefix) {
			segments[i] = ":address"
		}
	}
	return strings.Join(segments, "/")
}

// OTelTracing starts a server span per request, continuing the caller's
// trace when the W3C headers are present.
func OTelTracing() Middleware {
	tracer := otel.Tracer(telemetry.InstrumentationName + "/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+normalizePath(r.URL.Path),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			rw := handlers.NewResponseWriter(w)
			next.ServeHTTP(rw, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.response.status_code", rw.StatusCode))
			if rw.StatusCode >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rw.StatusCode))
			}
		})
	}
}

// JWTAuth requires a directory bearer token signed by issuer. A disabled
// issuer lets every request through.
func JWTAuth(issuer *directory.TokenIssuer, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		if !issuer.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				handlers.WriteError(w, types.NewError(types.ErrUnauthorized, "missing or malformed Authorization header"), nil)
				return
			}
			claims, err := issuer.Verify(strings.TrimSpace(raw))
			if err != nil {
				logger.Debug("token rejected", zap.Error(err))
				handlers.WriteError(w, types.NewError(types.ErrUnauthorized, "invalid or expired token"), nil)
				return
			}
			next.ServeHTTP(w, r.WithContext(ctxkeys.WithSubject(r.Context(), claims.Subject)))
		})
	}
}
