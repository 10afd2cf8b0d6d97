package backup

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestValidateCron(t *testing.T) {
	t.Parallel()

	for _, expr := range []string{"", "  ", "*/15 * * * *", "0 3 * * *"} {
		if err := ValidateCron(expr); err != nil {
			t.Fatalf("ValidateCron(%q) error = %v", expr, err)
		}
	}
	for _, expr := range []string{"every minute", "61 * * * *"} {
		if err := ValidateCron(expr); err == nil {
			t.Fatalf("ValidateCron(%q) expected error", expr)
		}
	}
}

func TestSchedulerTicksUntilCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var ticks atomic.Int32
	s := &Scheduler{
		Interval: 5 * time.Millisecond,
		Logger:   quietLogger(),
		Tick: func(context.Context) {
			if ticks.Add(1) == 3 {
				cancel()
			}
		},
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if got := ticks.Load(); got < 3 {
		t.Fatalf("ticks = %d, want >= 3", got)
	}
}

func TestSchedulerRejectsBadConfig(t *testing.T) {
	t.Parallel()

	if err := (&Scheduler{}).Run(context.Background()); err == nil {
		t.Fatalf("Run() without tick expected error")
	}
	s := &Scheduler{Cron: "nope", Tick: func(context.Context) {}}
	if err := s.Run(context.Background()); err == nil {
		t.Fatalf("Run() with invalid cron expected error")
	}
}

func TestSchedulerStopsBeforeFirstTick(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &Scheduler{Interval: time.Hour, Logger: quietLogger(), Tick: func(context.Context) {
		t.Errorf("tick fired after cancel")
	}}
	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestSchedulerCronWaitsOnInjectedClock(t *testing.T) {
	t.Parallel()

	// A year ahead of the wall clock, 50ms before a minute boundary.
	fakeNow := time.Now().UTC().AddDate(1, 0, 0).Truncate(time.Minute).Add(time.Minute - 50*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := &Scheduler{
		Cron:   "* * * * *",
		Logger: quietLogger(),
		Now:    func() time.Time { return fakeNow },
		Tick:   func(context.Context) { cancel() },
	}
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("cron tick did not fire; wait was not measured on the injected clock")
	}
}
