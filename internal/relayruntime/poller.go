package relayruntime

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/israel303/Lollypop/internal/metrics"
	"github.com/israel303/Lollypop/internal/outputfmt"
	"github.com/israel303/Lollypop/internal/telegram"
)

type updatesAPI interface {
	GetUpdates(ctx context.Context, req telegram.GetUpdatesRequest) ([]telegram.Update, error)
}

type updateQueue interface {
	Enqueue(ctx context.Context, u telegram.Update) error
}

// poller long-polls getUpdates and feeds the dispatcher.
type poller struct {
	api     updatesAPI
	queue   updateQueue
	timeout time.Duration
	logger  *slog.Logger
	metrics *metrics.Metrics
	// retryDelay is the pause after a failed poll.
	retryDelay time.Duration
}

func (p *poller) run(ctx context.Context) error {
	retry := p.retryDelay
	if retry <= 0 {
		retry = time.Second
	}
	timeoutSecs := int(p.timeout / time.Second)
	if timeoutSecs <= 0 {
		timeoutSecs = 30
	}
	var offset int64
	p.logger.Info("poller_started", "timeout", timeoutSecs)
	for {
		updates, err := p.api.GetUpdates(ctx, telegram.GetUpdatesRequest{
			Offset:         offset,
			Timeout:        timeoutSecs,
			AllowedUpdates: allowedUpdates,
		})
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				p.logger.Info("poller_stopped", "reason", "context_canceled")
				return nil
			}
			if telegram.IsPollTimeoutError(err) {
				p.logger.Debug("get_updates_timeout", "error", err.Error())
			} else {
				p.metrics.TransportError("getUpdates")
				p.logger.Warn("get_updates_error", "error", outputfmt.FormatErrorForDisplay(err))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(retry):
			}
			continue
		}

		for _, u := range updates {
			if err := p.queue.Enqueue(ctx, u); err != nil {
				// Unacknowledged; Telegram hands it out again on the next start.
				p.logger.Info("poller_stopped", "reason", "enqueue_refused", "update_id", u.UpdateID)
				return nil
			}
			p.metrics.UpdateReceived("polling")
			offset = telegram.NextOffset(offset, []telegram.Update{u})
		}
	}
}
