package handlers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/api"
	"github.com/rajashekarcs2023/weather-marketplace/discovery"
	"github.com/rajashekarcs2023/weather-marketplace/mailbox"
	"github.com/rajashekarcs2023/weather-marketplace/relay"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// OfferFinder finds priced weather agents.
type OfferFinder interface {
	Search(ctx context.Context, query string) ([]discovery.Offer, error)
}

// WeatherRelay is the client relay the weather endpoints drive.
type WeatherRelay interface {
	RequestWeather(ctx context.Context, location, agentAddress string) (string, error)
	Poll(ctx context.Context, requestID string) (*mailbox.Result, error)
	Wait(ctx context.Context, requestID string, interval time.Duration) (*mailbox.Result, error)
	HandleIncoming(ctx context.Context, raw []byte) relay.Ack
	Stats(ctx context.Context) (relay.ClientStats, error)
}

// WeatherHandlerConfig configures the client endpoints.
type WeatherHandlerConfig struct {
	// OriginPatterns are the hosts allowed to open the weather stream
	OriginPatterns []string
	// StreamInterval is how often the stream checks the mailbox
	StreamInterval time.Duration
	// StreamTimeout caps how long a stream stays open
	StreamTimeout time.Duration
}

// DefaultWeatherHandlerConfig returns the stream defaults.
func DefaultWeatherHandlerConfig() WeatherHandlerConfig {
	return WeatherHandlerConfig{
		OriginPatterns: []string{"localhost:3000"},
		StreamInterval: 250 * time.Millisecond,
		StreamTimeout:  2 * time.Minute,
	}
}

// WeatherHandler serves the frontend client API.
type WeatherHandler struct {
	offers OfferFinder
	relay  WeatherRelay
	config WeatherHandlerConfig
	logger *zap.Logger
}

// NewWeatherHandler creates the client API handler.
func NewWeatherHandler(offers OfferFinder, relay WeatherRelay, config WeatherHandlerConfig, logger *zap.Logger) *WeatherHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherHandler{
		offers: offers,
		relay:  relay,
		config: config,
		logger: logger.With(zap.String("component", "weather_api")),
	}
}

// HandleSearchAgents serves GET /api/search-agents. An empty search is a 404.
func (h *WeatherHandler) HandleSearchAgents(w http.ResponseWriter, r *http.Request) {
	offers, err := h.offers.Search(r.Context(), r.URL.Query().Get("query"))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	if len(offers) == 0 {
		WriteError(w, types.NewNotFoundError("No weather agents available"), h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.SearchAgentsResponse{Agents: offers})
}

// HandleGetWeather serves POST /api/get-weather.
func (h *WeatherHandler) HandleGetWeather(w http.ResponseWriter, r *http.Request) {
	var req api.GetWeatherRequest
	if err := DecodeJSONBody(r, &req); err != nil {
		WriteError(w, err, h.logger)
		return
	}
	id, err := h.relay.RequestWeather(r.Context(), req.Location, req.AgentAddress)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, api.GetWeatherResponse{Status: api.StatusRequestSent, RequestID: id})
}

// HandleGetWeatherResponse serves GET /api/get-weather-response. A ready
// reply is returned as the agent sent it.
func (h *WeatherHandler) HandleGetWeatherResponse(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("request_id"))
	res, err := h.relay.Poll(r.Context(), id)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	switch res.Status {
	case mailbox.StatusReady:
		WriteJSON(w, http.StatusOK, res.Payload)
	case mailbox.StatusExpired:
		WriteJSON(w, http.StatusGatewayTimeout, api.PollStatus{
			Status:    api.StatusExpired,
			RequestID: res.RequestID,
			Error:     "The weather agent did not respond in time",
		})
	default:
		WriteJSON(w, http.StatusOK, api.PollStatus{Status: api.StatusWaiting, RequestID: id})
	}
}

// HandleWebhook serves POST /api/webhook on the client.
func (h *WeatherHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	writeAck(w, r, h.relay.HandleIncoming, h.logger)
}

// HandleStats serves GET /api/stats.
func (h *WeatherHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.relay.Stats(r.Context())
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}
	WriteJSON(w, http.StatusOK, stats)
}

// HandleWeatherStream serves GET /api/weather-stream. It upgrades to a
// websocket, pushes one frame when the reply is ready or the request expires,
// and closes.
func (h *WeatherHandler) HandleWeatherStream(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.URL.Query().Get("request_id"))
	if id == "" {
		WriteError(w, types.NewInvalidRequestError("request_id is required"), h.logger)
		return
	}

	// the server's write timeout would cut long waits short
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.config.OriginPatterns})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("request_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// CloseRead ends ctx when the browser goes away.
	ctx := conn.CloseRead(r.Context())
	if h.config.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.config.StreamTimeout)
		defer cancel()
	}

	msg := api.StreamMessage{RequestID: id}
	res, err := h.relay.Wait(ctx, id, h.config.StreamInterval)
	switch {
	case err != nil:
		e := types.FromError(err)
		msg.Status, msg.Error, msg.Code = api.StatusError, e.Message, e.Code
	case res.Status == mailbox.StatusReady:
		msg.Status, msg.Payload = api.StatusReady, res.Payload
	default:
		msg.Status, msg.Error = api.StatusExpired, "The weather agent did not respond in time"
	}

	if ctx.Err() != nil && err != nil {
		h.logger.Debug("weather stream ended", zap.String("request_id", id), zap.Error(err))
		conn.Close(websocket.StatusGoingAway, "stream ended")
		return
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		h.logger.Warn("weather stream write failed", zap.String("request_id", id), zap.Error(err))
		return
	}
	conn.Close(websocket.StatusNormalClosure, msg.Status)
}

// writeAck reads an envelope body, hands it to handle and writes the ack.
func writeAck(w http.ResponseWriter, r *http.Request, handle func(context.Context, []byte) relay.Ack, logger *zap.Logger) {
	raw, err := ReadBody(r)
	if err != nil {
		e := types.FromError(err)
		WriteJSON(w, e.Status(), relay.Ack{Status: relay.AckError, Message: e.Message, Code: e.Code})
		return
	}
	ack := handle(r.Context(), raw)
	status := ack.HTTPStatus
	if status == 0 {
		status = http.StatusOK
	}
	if !ack.OK() {
		logger.Debug("webhook not accepted", zap.Int("status", status), zap.String("message", ack.Message))
	}
	WriteJSON(w, status, ack)
}
