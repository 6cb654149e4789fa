package handlers

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/api"
	"github.com/rajashekarcs2023/weather-marketplace/directory"
	"github.com/rajashekarcs2023/weather-marketplace/internal/ctxkeys"
	"github.com/rajashekarcs2023/weather-marketplace/internal/metrics"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// AgentDirectory is the registry behind the directory endpoints.
type AgentDirectory interface {
	Register(ctx context.Context, reg directory.Registration) (*directory.AgentRecord, error)
	Resolve(ctx context.Context, address string) (*directory.AgentRecord, error)
	Unregister(ctx context.Context, address string) error
	Search(ctx context.Context, q directory.SearchQuery) ([]directory.SearchResult, error)
}

// DirectoryHandler serves the directory API. Token checks are left to the
// auth middleware wrapping the mutating routes.
type DirectoryHandler struct {
	dir     AgentDirectory
	metrics *metrics.Collector
	logger  *zap.Logger
}

// NewDirectoryHandler creates the directory handler.
func NewDirectoryHandler(dir AgentDirectory, m *metrics.Collector, logger *zap.Logger) *DirectoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DirectoryHandler{dir: dir, metrics: m, logger: logger.With(zap.String("component", "directory_api"))}
}

// HandleRegister serves POST /v1/agents.
func (h *DirectoryHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var reg directory.Registration
	if err := DecodeJSONBody(r, &reg); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	rec, err := h.dir.Register(r.Context(), reg)
	h.metrics.RecordDirectoryOp("serve_register", err)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if sub, ok := ctxkeys.Subject(r.Context()); ok {
		h.logger.Debug("registration authorized", zap.String("subject", sub), zap.String("address", rec.Address))
	}
	WriteJSON(w, http.StatusOK, rec)
}

// HandleResolve serves GET /v1/agents/{address}.
func (h *DirectoryHandler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	address, ok := h.address(w, r)
	if !ok {
		return
	}
	rec, err := h.dir.Resolve(r.Context(), address)
	h.metrics.RecordDirectoryOp("serve_resolve", err)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, rec)
}

// HandleUnregister serves DELETE /v1/agents/{address}.
func (h *DirectoryHandler) HandleUnregister(w http.ResponseWriter, r *http.Request) {
	address, ok := h.address(w, r)
	if !ok {
		return
	}
	err := h.dir.Unregister(r.Context(), address)
	h.metrics.RecordDirectoryOp("serve_unregister", err)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleSearch serves POST /v1/search.
func (h *DirectoryHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	var q directory.SearchQuery
	if err := DecodeJSONBody(r, &q); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if q.Limit < 0 {
		WriteError(w, types.NewInvalidRequestError("limit must not be negative"), h.logger)
		return
	}
	results, err := h.dir.Search(r.Context(), q)
	h.metrics.RecordDirectoryOp("serve_search", err)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if results == nil {
		results = []directory.SearchResult{}
	}
	WriteJSON(w, http.StatusOK, api.DirectorySearchResponse{Agents: results})
}

func (h *DirectoryHandler) address(w http.ResponseWriter, r *http.Request) (string, bool) {
	address := strings.TrimSpace(r.PathValue("address"))
	if address == "" {
		WriteError(w, types.NewInvalidRequestError("agent address is required"), h.logger)
		return "", false
	}
	return address, true
}
