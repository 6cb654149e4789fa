package mailbox

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Wait polls requestID every interval until the reply is ready, the request
// expires, or ctx is done. It consumes the cell like Take does.
func Wait(ctx context.Context, mb Mailbox, requestID string, interval time.Duration) (*Result, error) {
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		res, err := mb.Take(ctx, requestID)
		if err != nil {
			return nil, err
		}
		if res.Status != StatusWaiting {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// PurgeLoop calls Purge every interval until ctx is done.
func PurgeLoop(ctx context.Context, mb Mailbox, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := mb.Purge(ctx)
			if err != nil {
				logger.Warn("mailbox purge failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Debug("mailbox purged", zap.Int("removed", n))
			}
		}
	}
}
