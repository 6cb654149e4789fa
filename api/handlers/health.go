package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// readyTimeout bounds one /ready evaluation.
const readyTimeout = 5 * time.Second

// HealthHandler serves the liveness, readiness and version endpoints.
type HealthHandler struct {
	logger *zap.Logger
	checks []HealthCheck
	mu     sync.RWMutex
}

// HealthCheck is one dependency probed by /ready.
type HealthCheck interface {
	Name() string
	Check(ctx context.Context) error
}

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Status    string                 `json:"status"` // healthy, unhealthy
	Timestamp time.Time              `json:"timestamp"`
	Service   string                 `json:"service,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Status  string `json:"status"` // pass, fail
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// VersionInfo is the body of /version.
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
}

// NewHealthHandler creates a handler with no checks.
func NewHealthHandler(logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{logger: logger.With(zap.String("component", "health"))}
}

// RegisterCheck adds a readiness check.
func (h *HealthHandler) RegisterCheck(check HealthCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// HandleHealth serves /health and /healthz. It only reports that the process
// is up.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, HealthStatus{Status: "healthy", Timestamp: time.Now()})
}

// HandleReady runs every registered check and answers 503 if any fails.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Checks:    make(map[string]CheckResult, len(checks)),
	}
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			status.Status = "unhealthy"
			h.logger.Warn("health check failed",
				zap.String("check", check.Name()),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		status.Checks[check.Name()] = result
	}

	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, status)
}

// HandleVersion serves /version.
func (h *HealthHandler) HandleVersion(version, buildTime, gitCommit string) http.HandlerFunc {
	info := VersionInfo{Version: version, BuildTime: buildTime, GitCommit: gitCommit}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}

// PingCheck adapts a ping function, such as a Redis or database ping, to a
// HealthCheck.
type PingCheck struct {
	name string
	ping func(ctx context.Context) error
}

// NewPingCheck creates a PingCheck.
func NewPingCheck(name string, ping func(ctx context.Context) error) *PingCheck {
	return &PingCheck{name: name, ping: ping}
}

func (c *PingCheck) Name() string { return c.name }

func (c *PingCheck) Check(ctx context.Context) error { return c.ping(ctx) }
