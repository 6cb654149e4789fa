package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/internal/metrics"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// upstreamName labels errors raised by directory calls.
const upstreamName = "directory"

// Client talks to a directory service over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	metrics *metrics.Collector
	logger  *zap.Logger
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithMetrics records every call on m.
func WithMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a client for the directory at baseURL. token, when set,
// is sent as a bearer token.
func NewClient(baseURL, token string, timeout time.Duration, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "directory_client"))
	return c
}

// Register registers or updates an agent.
func (c *Client) Register(ctx context.Context, reg Registration) (*AgentRecord, error) {
	var rec AgentRecord
	err := c.do(ctx, "register", http.MethodPost, "/v1/agents", reg, &rec)
	if err != nil {
		return nil, err
	}
	c.logger.Info("registered with directory", zap.String("address", reg.Address), zap.String("url", reg.URL))
	return &rec, nil
}

// Search runs a free-text capability search.
func (c *Client) Search(ctx context.Context, q SearchQuery) ([]SearchResult, error) {
	var resp struct {
		Agents []SearchResult `json:"agents"`
	}
	if err := c.do(ctx, "search", http.MethodPost, "/v1/search", q, &resp); err != nil {
		return nil, err
	}
	return resp.Agents, nil
}

// Resolve returns the record of address.
func (c *Client) Resolve(ctx context.Context, address string) (*AgentRecord, error) {
	var rec AgentRecord
	if err := c.do(ctx, "resolve", http.MethodGet, "/v1/agents/"+url.PathEscape(address), nil, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Unregister removes address.
func (c *Client) Unregister(ctx context.Context, address string) error {
	return c.do(ctx, "unregister", http.MethodDelete, "/v1/agents/"+url.PathEscape(address), nil, nil)
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) (err error) {
	defer func() { c.metrics.RecordDirectoryOp(op, err) }()

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return types.NewInvalidRequestError("encode directory request").WithCause(err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return types.NewError(types.ErrInternalError, "build directory request").WithCause(err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.http.Do(req)
	if err != nil {
		return types.NewUpstreamError(upstreamName, "directory unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return types.NewUpstreamError(upstreamName, "read directory response", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return types.NewUpstreamError(upstreamName, "directory returned invalid JSON", err)
	}
	return nil
}

// statusError maps a non-2xx directory answer onto an error kind. Caller
// mistakes keep their kind; everything else is an upstream failure.
func statusError(status int, body []byte) error {
	var e struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	_ = json.Unmarshal(body, &e)
	msg := e.Error
	if msg == "" {
		msg = fmt.Sprintf("directory returned %d", status)
	}

	switch status {
	case http.StatusNotFound:
		return types.NewNotFoundError(msg).WithUpstream(upstreamName)
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrUnauthorized, msg).WithUpstream(upstreamName)
	case http.StatusBadRequest:
		return types.NewInvalidRequestError(msg).WithUpstream(upstreamName)
	case http.StatusConflict:
		return types.NewError(types.ErrConflict, msg).WithUpstream(upstreamName)
	case http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithUpstream(upstreamName).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithUpstream(upstreamName).
			WithRetryable(status >= 500 || status == http.StatusTooManyRequests)
	}
}
