package backup

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/adhocore/gronx"
)

const defaultInterval = 30 * time.Minute

// ValidateCron accepts an empty expression (interval scheduling) or any
// expression gronx understands.
func ValidateCron(expr string) error {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	if !gronx.IsValid(expr) {
		return fmt.Errorf("invalid backup cron expression %q", expr)
	}
	return nil
}

// Scheduler fires Tick on a fixed interval, or on a cron expression when Cron
// is set. Ticks run inline, so a slow tick delays the next instead of
// overlapping it. Run returns once ctx is cancelled.
type Scheduler struct {
	Interval time.Duration
	Cron     string
	Tick     func(ctx context.Context)
	Logger   *slog.Logger
	Now      func() time.Time
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s.Tick == nil {
		return fmt.Errorf("scheduler tick func is required")
	}
	if err := ValidateCron(s.Cron); err != nil {
		return err
	}
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := s.Now
	if now == nil {
		now = time.Now
	}
	cronExpr := strings.TrimSpace(s.Cron)
	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	logger.Info("backup_scheduler_started", "interval", interval.String(), "cron", cronExpr)

	for {
		wait := interval
		if cronExpr != "" {
			next, err := gronx.NextTickAfter(cronExpr, now().UTC(), false)
			if err != nil {
				logger.Error("backup_scheduler_next_tick_failed", "cron", cronExpr, "error", err.Error())
				wait = time.Minute
			} else {
				wait = next.Sub(now())
				if wait < 0 {
					wait = 0
				}
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info("backup_scheduler_stopped")
			return nil
		case <-timer.C:
		}
		s.Tick(ctx)
	}
}
