package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/relay"
)

// AgentInfo describes a running weather agent on its info endpoint.
type AgentInfo struct {
	Address  string  `json:"address"`
	Name     string  `json:"name"`
	Variant  string  `json:"variant"`
	Price    float64 `json:"price"`
	Currency string  `json:"currency"`
	Async    bool    `json:"async"`
}

// WebhookReceiver accepts signed envelopes.
type WebhookReceiver interface {
	HandleIncoming(ctx context.Context, raw []byte) relay.Ack
}

// AgentHandler serves a weather agent's webhook.
type AgentHandler struct {
	receiver WebhookReceiver
	info     AgentInfo
	logger   *zap.Logger
}

// NewAgentHandler creates the agent handler.
func NewAgentHandler(receiver WebhookReceiver, info AgentInfo, logger *zap.Logger) *AgentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AgentHandler{
		receiver: receiver,
		info:     info,
		logger:   logger.With(zap.String("component", "agent_api"), zap.String("variant", info.Variant)),
	}
}

// HandleWebhook serves POST /webhook and its /api/webhook alias.
func (h *AgentHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	writeAck(w, r, h.receiver.HandleIncoming, h.logger)
}

// HandleInfo serves GET /api/info.
func (h *AgentHandler) HandleInfo(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, h.info)
}
