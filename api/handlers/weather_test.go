package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/api"
	"github.com/rajashekarcs2023/weather-marketplace/discovery"
	"github.com/rajashekarcs2023/weather-marketplace/envelope"
	"github.com/rajashekarcs2023/weather-marketplace/identity"
	"github.com/rajashekarcs2023/weather-marketplace/mailbox"
	"github.com/rajashekarcs2023/weather-marketplace/relay"
	"github.com/rajashekarcs2023/weather-marketplace/testutil"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

type fakeOffers struct {
	offers []discovery.Offer
	err    error
	query  string
}

func (f *fakeOffers) Search(_ context.Context, query string) ([]discovery.Offer, error) {
	f.query = query
	return f.offers, f.err
}

type stubSender struct {
	id  *identity.Identity
	mu  sync.Mutex
	out []envelope.Message
	err error
}

func (s *stubSender) Address() string { return s.id.Address() }

func (s *stubSender) Send(_ context.Context, msg envelope.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.out = append(s.out, msg)
	return s.err
}

func testIdentity(t *testing.T, seed string) *identity.Identity {
	return testutil.Identity(t, seed)
}

func sealReply(t *testing.T, from *identity.Identity, target, session string, payload types.Payload) []byte {
	t.Helper()
	return testutil.Seal(t, from, envelope.Message{Target: target, Session: session, Payload: payload})
}

type weatherFixture struct {
	handler *WeatherHandler
	client  *relay.Client
	sender  *stubSender
	offers  *fakeOffers
	agent   *identity.Identity
	mux     *http.ServeMux
}

func newWeatherFixture(t *testing.T, ttl time.Duration) *weatherFixture {
	t.Helper()
	f := &weatherFixture{
		sender: &stubSender{id: testIdentity(t, "client")},
		offers: &fakeOffers{},
		agent:  testIdentity(t, "agent"),
	}
	f.client = relay.NewClient(f.sender, mailbox.NewMemoryMailbox(mailbox.DefaultConfig()), relay.ClientConfig{RequestTTL: ttl})

	cfg := DefaultWeatherHandlerConfig()
	cfg.StreamInterval = 5 * time.Millisecond
	f.handler = NewWeatherHandler(f.offers, f.client, cfg, zap.NewNop())

	f.mux = http.NewServeMux()
	f.mux.HandleFunc("GET /api/search-agents", f.handler.HandleSearchAgents)
	f.mux.HandleFunc("POST /api/get-weather", f.handler.HandleGetWeather)
	f.mux.HandleFunc("GET /api/get-weather-response", f.handler.HandleGetWeatherResponse)
	f.mux.HandleFunc("POST /api/webhook", f.handler.HandleWebhook)
	f.mux.HandleFunc("GET /api/weather-stream", f.handler.HandleWeatherStream)
	f.mux.HandleFunc("GET /api/stats", f.handler.HandleStats)
	return f
}

func (f *weatherFixture) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

func (f *weatherFixture) requestWeather(t *testing.T, location string) string {
	t.Helper()
	body, err := json.Marshal(api.GetWeatherRequest{Location: location, AgentAddress: f.agent.Address()})
	require.NoError(t, err)
	w := f.do(t, http.MethodPost, "/api/get-weather", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp api.GetWeatherResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, api.StatusRequestSent, resp.Status)
	require.NotEmpty(t, resp.RequestID)
	return resp.RequestID
}

func TestWeatherHandler_SearchAgents(t *testing.T) {
	t.Run("offers", func(t *testing.T) {
		f := newWeatherFixture(t, time.Minute)
		f.offers.offers = []discovery.Offer{
			{Name: "Budget Weather Assistant", Price: 0.99, Address: "agent1budget"},
			{Name: "Luxury Weather Assistant", Price: 2.99, Address: "agent1luxury"},
		}
		w := f.do(t, http.MethodGet, "/api/search-agents", nil)

		assert.Equal(t, http.StatusOK, w.Code)
		var resp api.SearchAgentsResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		assert.Equal(t, f.offers.offers, resp.Agents)
	})

	t.Run("none", func(t *testing.T) {
		f := newWeatherFixture(t, time.Minute)
		w := f.do(t, http.MethodGet, "/api/search-agents", nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"No weather agents available","code":"NOT_FOUND"}`, w.Body.String())
	})

	t.Run("directory down", func(t *testing.T) {
		f := newWeatherFixture(t, time.Minute)
		f.offers.err = types.NewUpstreamError("directory", "directory unreachable", context.DeadlineExceeded)
		w := f.do(t, http.MethodGet, "/api/search-agents", nil)
		assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	})
}

func TestWeatherHandler_GetWeather(t *testing.T) {
	f := newWeatherFixture(t, time.Minute)
	id := f.requestWeather(t, "Tokyo")

	require.Len(t, f.sender.out, 1)
	assert.Equal(t, f.agent.Address(), f.sender.out[0].Target)
	assert.Equal(t, id, f.sender.out[0].Payload.RequestID())

	for name, body := range map[string]string{
		"missing location": `{"agentAddress":"agent1abc"}`,
		"missing address":  `{"location":"Tokyo"}`,
		"bad json":         `{"location":`,
	} {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/get-weather", []byte(body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, types.ErrInvalidRequest, resp.Code)
		})
	}

	t.Run("send failure", func(t *testing.T) {
		f := newWeatherFixture(t, time.Minute)
		f.sender.err = types.NewError(types.ErrUpstreamError, "agent unreachable")
		body, _ := json.Marshal(api.GetWeatherRequest{Location: "Tokyo", AgentAddress: f.agent.Address()})
		w := f.do(t, http.MethodPost, "/api/get-weather", body)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})
}

func TestWeatherHandler_PollLifecycle(t *testing.T) {
	f := newWeatherFixture(t, time.Minute)
	id := f.requestWeather(t, "Tokyo")

	w := f.do(t, http.MethodGet, "/api/get-weather-response?request_id="+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"waiting"`)

	reply := types.WeatherResponse{Location: "Tokyo", Analysis: "Clear skies", Price: 0.99, RequestID: id}.Payload()
	w = f.do(t, http.MethodPost, "/api/webhook", sealReply(t, f.agent, f.client.Address(), id, reply))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"success"}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/get-weather-response?request_id="+id, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"location":"Tokyo","analysis":"Clear skies","price":0.99,"request_id":"`+id+`"}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/get-weather-response?request_id="+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = f.do(t, http.MethodGet, "/api/stats", nil)
	assert.JSONEq(t, `{"responses_received":1,"pending":0}`, w.Body.String())
}

func TestWeatherHandler_UnkeyedPoll(t *testing.T) {
	f := newWeatherFixture(t, time.Minute)

	w := f.do(t, http.MethodPost, "/api/webhook",
		sealReply(t, f.agent, f.client.Address(), "s-1", types.Payload{"location": "Paris"}))
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/get-weather-response", nil)
	assert.JSONEq(t, `{"location":"Paris"}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/api/get-weather-response", nil)
	assert.JSONEq(t, `{"status":"waiting"}`, w.Body.String())
}

func TestWeatherHandler_Expired(t *testing.T) {
	f := newWeatherFixture(t, 5*time.Millisecond)
	id := f.requestWeather(t, "Tokyo")
	time.Sleep(20 * time.Millisecond)

	w := f.do(t, http.MethodGet, "/api/get-weather-response?request_id="+id, nil)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	var resp api.PollStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, api.StatusExpired, resp.Status)
	assert.NotEmpty(t, resp.Error)
}

func TestWeatherHandler_WebhookRejectsGarbage(t *testing.T) {
	f := newWeatherFixture(t, time.Minute)

	for name, body := range map[string]string{"empty": "", "not an envelope": `{"location":"Paris"}`} {
		t.Run(name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/api/webhook", []byte(body))
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var ack relay.Ack
			require.NoError(t, json.NewDecoder(w.Body).Decode(&ack))
			assert.Equal(t, relay.AckError, ack.Status)
			assert.Equal(t, types.ErrInvalidEnvelope, ack.Code)
		})
	}

	w := f.do(t, http.MethodGet, "/api/get-weather-response", nil)
	assert.JSONEq(t, `{"status":"waiting"}`, w.Body.String())
}

func TestWeatherHandler_Stream(t *testing.T) {
	f := newWeatherFixture(t, time.Minute)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	id := f.requestWeather(t, "Tokyo")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/weather-stream?request_id="+id, nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	reply := sealReply(t, f.agent, f.client.Address(), id,
		types.WeatherResponse{Location: "Tokyo", Analysis: "Warm", Price: 2.99, RequestID: id}.Payload())
	ack := f.client.HandleIncoming(ctx, reply)
	require.True(t, ack.OK())

	var msg api.StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, api.StatusReady, msg.Status)
	assert.Equal(t, id, msg.RequestID)
	assert.Equal(t, "Warm", msg.Payload.String(types.KeyAnalysis))
}

func TestWeatherHandler_StreamUnknownRequest(t *testing.T) {
	f := newWeatherFixture(t, time.Minute)
	srv := httptest.NewServer(f.mux)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w := f.do(t, http.MethodGet, "/api/weather-stream", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"/api/weather-stream?request_id=nope", nil)
	require.NoError(t, err)
	defer conn.CloseNow()

	var msg api.StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, api.StatusError, msg.Status)
	assert.Equal(t, types.ErrNotFound, msg.Code)
}
