package relay

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rajashekarcs2023/weather-marketplace/envelope"
	"github.com/rajashekarcs2023/weather-marketplace/internal/metrics"
	"github.com/rajashekarcs2023/weather-marketplace/mailbox"
	"github.com/rajashekarcs2023/weather-marketplace/types"
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// RequestTTL is how long a request waits for its reply
	RequestTTL time.Duration
}

// ClientStats is reported by GET /api/stats.
type ClientStats struct {
	ResponsesReceived int64 `json:"responses_received"`
	Pending           int   `json:"pending"`
}

// Client is the relay of the frontend client service.
type Client struct {
	sender   Sender
	mailbox  mailbox.Mailbox
	opener   envelope.Opener
	config   ClientConfig
	metrics  *metrics.Collector
	logger   *zap.Logger
	newID    func() string
	received atomic.Int64
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithClientMetrics records polls, webhooks and the pending gauge on m.
func WithClientMetrics(m *metrics.Collector) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithClientLogger sets the logger.
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client relay sending through sender and parking replies
// in mb.
func NewClient(sender Sender, mb mailbox.Mailbox, config ClientConfig, opts ...ClientOption) *Client {
	c := &Client{
		sender:  sender,
		mailbox: mb,
		opener:  envelope.Opener{Self: sender.Address()},
		config:  config,
		logger:  zap.NewNop(),
		newID:   func() string { return uuid.New().String() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "client_relay"))
	return c
}

// Address is the client's agent address.
func (c *Client) Address() string {
	return c.sender.Address()
}

// RequestWeather sends a weather request for location to agentAddress and
// returns the request ID the reply will be filed under.
func (c *Client) RequestWeather(ctx context.Context, location, agentAddress string) (string, error) {
	location = strings.TrimSpace(location)
	agentAddress = strings.TrimSpace(agentAddress)
	if location == "" || agentAddress == "" {
		return "", types.NewInvalidRequestError("Missing location or agent address")
	}

	// An unkeyed poll must not answer this request with an older reply.
	if n, err := c.mailbox.ClearUnread(ctx); err != nil {
		return "", types.NewError(types.ErrInternalError, "clear response slot").WithCause(err)
	} else if n > 0 {
		c.logger.Debug("unread responses cleared", zap.Int("count", n))
	}

	requestID := c.newID()
	if err := c.mailbox.Reserve(ctx, requestID, c.config.RequestTTL); err != nil {
		return "", types.NewError(types.ErrInternalError, "reserve response slot").WithCause(err)
	}

	err := c.sender.Send(ctx, envelope.Message{
		Target:  agentAddress,
		Session: requestID,
		Schema:  envelope.SchemaWeatherRequest,
		Payload: types.WeatherRequest{Location: location, RequestID: requestID}.Payload(),
	})
	if err != nil {
		if rerr := c.mailbox.Release(ctx, requestID); rerr != nil && !errors.Is(rerr, mailbox.ErrNotFound) {
			c.logger.Warn("release response slot", zap.String("request_id", requestID), zap.Error(rerr))
		}
		c.logger.Warn("weather request not sent",
			zap.String("request_id", requestID),
			zap.String("agent", agentAddress),
			zap.Error(err),
		)
		return "", err
	}

	c.logger.Info("weather request sent",
		zap.String("request_id", requestID),
		zap.String("agent", agentAddress),
		zap.String("location", location),
	)
	c.refreshPending(ctx)
	return requestID, nil
}

// Poll reads the reply of requestID, or with an empty ID the oldest unread
// reply of any request. Ready and expired results are consumed.
func (c *Client) Poll(ctx context.Context, requestID string) (*mailbox.Result, error) {
	var (
		res *mailbox.Result
		err error
	)
	if requestID == "" {
		res, err = c.mailbox.TakeNext(ctx)
	} else {
		res, err = c.mailbox.Take(ctx, requestID)
	}
	if errors.Is(err, mailbox.ErrNotFound) {
		c.metrics.RecordPoll("not_found")
		return nil, types.NewNotFoundError("Unknown request ID")
	}
	if err != nil {
		c.metrics.RecordPoll("error")
		return nil, types.NewError(types.ErrInternalError, "read response").WithCause(err)
	}

	c.metrics.RecordPoll(string(res.Status))
	if res.Status != mailbox.StatusWaiting {
		c.refreshPending(ctx)
	}
	return res, nil
}

// Wait blocks until the reply of requestID is ready or expired, polling the
// mailbox every interval.
func (c *Client) Wait(ctx context.Context, requestID string, interval time.Duration) (*mailbox.Result, error) {
	res, err := mailbox.Wait(ctx, c.mailbox, requestID, interval)
	if errors.Is(err, mailbox.ErrNotFound) {
		c.metrics.RecordPoll("not_found")
		return nil, types.NewNotFoundError("Unknown request ID")
	}
	if err != nil {
		return nil, err
	}
	c.metrics.RecordPoll(string(res.Status))
	c.refreshPending(ctx)
	return res, nil
}

// HandleIncoming accepts a reply envelope POSTed to the client's webhook.
func (c *Client) HandleIncoming(ctx context.Context, raw []byte) Ack {
	env, payload, err := c.opener.Open(raw)
	if err != nil {
		c.metrics.RecordWebhook("rejected")
		c.logger.Warn("webhook rejected", zap.Error(err))
		return rejectEnvelope(err)
	}

	key := payload.RequestID()
	if key == "" {
		key = env.Session
	}
	outcome, err := c.mailbox.Deliver(ctx, key, payload)
	if err != nil {
		c.metrics.RecordWebhook("error")
		c.logger.Error("store response", zap.String("key", key), zap.Error(err))
		return ackFailure(types.NewError(types.ErrInternalError, "store response").WithCause(err))
	}

	c.metrics.RecordWebhook(string(outcome))
	switch outcome {
	case mailbox.OutcomeClaimed, mailbox.OutcomeUnsolicited:
		c.received.Add(1)
		c.logger.Info("weather response received",
			zap.String("key", key),
			zap.String("sender", env.Sender),
			zap.String("outcome", string(outcome)),
		)
	default:
		c.logger.Warn("weather response dropped",
			zap.String("key", key),
			zap.String("sender", env.Sender),
			zap.String("outcome", string(outcome)),
		)
	}
	c.refreshPending(ctx)
	return ackSuccess(http.StatusOK, "")
}

// Stats reports the replies received and the requests still waiting.
func (c *Client) Stats(ctx context.Context) (ClientStats, error) {
	s, err := c.mailbox.Stats(ctx)
	if err != nil {
		return ClientStats{}, types.NewError(types.ErrInternalError, "read mailbox stats").WithCause(err)
	}
	return ClientStats{ResponsesReceived: c.received.Load(), Pending: s.Waiting}, nil
}

func (c *Client) refreshPending(ctx context.Context) {
	if c.metrics == nil {
		return
	}
	if s, err := c.mailbox.Stats(ctx); err == nil {
		c.metrics.SetMailboxPending(s.Waiting)
	}
}
