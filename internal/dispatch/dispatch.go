package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var ErrStopped = errors.New("dispatcher stopped")

const (
	defaultQueueSize    = 256
	defaultDrainTimeout = 30 * time.Second
)

type Options[J any] struct {
	QueueSize int
	// DrainTimeout bounds how long queued jobs may run after Run's context
	// is cancelled.
	DrainTimeout time.Duration
	Handle       func(context.Context, J)
	Logger       *slog.Logger
}

// Dispatcher runs jobs one at a time in the order they were enqueued.
type Dispatcher[J any] struct {
	jobs    chan J
	stopped chan struct{}
	once    sync.Once
	opts    Options[J]
}

func New[J any](opts Options[J]) *Dispatcher[J] {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = defaultDrainTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Dispatcher[J]{
		jobs:    make(chan J, opts.QueueSize),
		stopped: make(chan struct{}),
		opts:    opts,
	}
}

// Enqueue blocks until the job is queued, ctx is done or the dispatcher
// has stopped.
func (d *Dispatcher[J]) Enqueue(ctx context.Context, job J) error {
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case <-d.stopped:
		return ErrStopped
	default:
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.stopped:
		return ErrStopped
	case d.jobs <- job:
		return nil
	}
}

// Pending reports how many jobs are queued.
func (d *Dispatcher[J]) Pending() int {
	return len(d.jobs)
}

// Run handles jobs until ctx is cancelled, then refuses new jobs and drains
// what is already queued.
func (d *Dispatcher[J]) Run(ctx context.Context) error {
	if d.opts.Handle == nil {
		return errors.New("dispatch handle func is required")
	}
	for {
		select {
		case <-ctx.Done():
			d.stop()
			d.drain(context.WithoutCancel(ctx))
			return nil
		case job := <-d.jobs:
			d.handle(ctx, job)
		}
	}
}

func (d *Dispatcher[J]) stop() {
	d.once.Do(func() { close(d.stopped) })
}

func (d *Dispatcher[J]) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(parent, d.opts.DrainTimeout)
	defer cancel()
	drained := 0
	for {
		select {
		case job := <-d.jobs:
			if ctx.Err() != nil {
				d.opts.Logger.Warn("dispatch_drain_timeout", "drained", drained, "dropped", len(d.jobs)+1)
				return
			}
			d.handle(ctx, job)
			drained++
		default:
			if drained > 0 {
				d.opts.Logger.Info("dispatch_drained", "jobs", drained)
			}
			return
		}
	}
}

func (d *Dispatcher[J]) handle(ctx context.Context, job J) {
	defer func() {
		if r := recover(); r != nil {
			d.opts.Logger.Error("dispatch_job_panic", "panic", r)
		}
	}()
	d.opts.Handle(ctx, job)
}
