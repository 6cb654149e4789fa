package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/envelope"
	"github.com/rajashekarcs2023/weather-marketplace/relay"
	"github.com/rajashekarcs2023/weather-marketplace/testutil"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

type staticAnalyzer string

func (s staticAnalyzer) Analyze(_ context.Context, location string) (string, error) {
	return string(s) + " " + location, nil
}

func newAgentMux(t *testing.T) (*http.ServeMux, *relay.Agent, *stubSender) {
	t.Helper()
	sender := &stubSender{id: testIdentity(t, "budget")}
	agent := relay.NewAgent(staticAnalyzer("Mild in"), sender, relay.AgentConfig{Variant: "budget", Price: 0.99})
	h := NewAgentHandler(agent, AgentInfo{Address: agent.Address(), Name: "Budget Weather Assistant", Variant: "budget", Price: 0.99, Currency: "USD"}, zap.NewNop())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /webhook", h.HandleWebhook)
	mux.HandleFunc("POST /api/webhook", h.HandleWebhook)
	mux.HandleFunc("GET /api/info", h.HandleInfo)
	return mux, agent, sender
}

func sealRequest(t *testing.T, target string, payload types.Payload) []byte {
	t.Helper()
	return testutil.Seal(t, testIdentity(t, "client"), envelope.Message{
		Target:  target,
		Session: "session-7",
		Schema:  envelope.SchemaWeatherRequest,
		Payload: payload,
	})
}

func TestAgentHandler_Webhook(t *testing.T) {
	for _, path := range []string{"/webhook", "/api/webhook"} {
		t.Run(path, func(t *testing.T) {
			mux, agent, sender := newAgentMux(t)
			body := sealRequest(t, agent.Address(), types.Payload{"location": "Tokyo"})

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(body))))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, `{"status":"success"}`, w.Body.String())
			require.Len(t, sender.out, 1)
			assert.Equal(t, "Mild in Tokyo", sender.out[0].Payload.String(types.KeyAnalysis))
			assert.Equal(t, "session-7", sender.out[0].Session)
		})
	}
}

func TestAgentHandler_WebhookWithoutLocation(t *testing.T) {
	mux, agent, sender := newAgentMux(t)
	body := sealRequest(t, agent.Address(), types.Payload{"city": "Tokyo"})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body))))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var ack relay.Ack
	require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
	assert.Equal(t, relay.AckError, ack.Status)
	assert.Equal(t, "No location provided", ack.Message)
	assert.Empty(t, sender.out)
}

func TestAgentHandler_Info(t *testing.T) {
	mux, agent, _ := newAgentMux(t)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/info", nil))

	var info AgentInfo
	require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
	assert.Equal(t, agent.Address(), info.Address)
	assert.Equal(t, 0.99, info.Price)
}
