package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHealthHandler_HandleHealth(t *testing.T) {
	h := NewHealthHandler(zap.NewNop())
	w := httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	var status HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
	assert.Equal(t, "healthy", status.Status)
	assert.False(t, status.Timestamp.IsZero())
}

func TestHealthHandler_HandleReady(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantStatus int
		wantState  string
	}{
		{"no checks", nil, http.StatusOK, "healthy"},
		{
			"all pass",
			[]HealthCheck{
				NewPingCheck("redis", func(context.Context) error { return nil }),
				NewPingCheck("database", func(context.Context) error { return nil }),
			},
			http.StatusOK, "healthy",
		},
		{
			"one fails",
			[]HealthCheck{
				NewPingCheck("redis", func(context.Context) error { return nil }),
				NewPingCheck("directory", func(context.Context) error { return errors.New("connection refused") }),
			},
			http.StatusServiceUnavailable, "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(zap.NewNop())
			for _, c := range tt.checks {
				h.RegisterCheck(c)
			}
			w := httptest.NewRecorder()
			h.HandleReady(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			var status HealthStatus
			require.NoError(t, json.NewDecoder(w.Body).Decode(&status))
			assert.Equal(t, tt.wantState, status.Status)
			assert.Len(t, status.Checks, len(tt.checks))
			if tt.wantState == "unhealthy" {
				assert.Equal(t, "fail", status.Checks["directory"].Status)
				assert.Equal(t, "connection refused", status.Checks["directory"].Message)
			}
		})
	}
}

func TestHealthHandler_HandleVersion(t *testing.T) {
	h := NewHealthHandler(nil)
	w := httptest.NewRecorder()
	h.HandleVersion("1.2.3", "2026-01-01", "abc123")(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	var info VersionInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, VersionInfo{Version: "1.2.3", BuildTime: "2026-01-01", GitCommit: "abc123"}, info)
}
