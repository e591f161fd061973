package engagement

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vidfriends/toptop/internal/logging"
)

// Job is one fire-and-forget engagement event, such as a view report.
type Job func(ctx context.Context) error

// DispatcherConfig controls the concurrency characteristics of the dispatcher.
type DispatcherConfig struct {
	QueueSize  int
	Workers    int
	JobTimeout time.Duration
}

// Dispatcher runs engagement events on a small worker pool so playback never
// waits on the network. Failed jobs are logged and dropped.
type Dispatcher struct {
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	closing chan struct{}
	jobs    chan namedJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type namedJob struct {
	name string
	run  Job
}

// ErrDispatcherClosed is returned by Submit after Shutdown has begun.
var ErrDispatcherClosed = errors.New("event dispatcher closed")

// NewDispatcher starts the worker pool.
func NewDispatcher(cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Dispatcher{
		logger:  logger,
		timeout: cfg.JobTimeout,
		closing: make(chan struct{}),
		jobs:    make(chan namedJob, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}

	d.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go d.worker()
	}

	return d
}

// TrySubmit queues job without blocking. It reports false when the queue is
// full or the dispatcher is shutting down; the job is then dropped.
func (d *Dispatcher) TrySubmit(name string, job Job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		d.logger.Warn("event dropped", "event", name, "reason", "closed")
		return false
	}

	select {
	case d.jobs <- namedJob{name: name, run: job}:
		return true
	default:
		d.logger.Warn("event dropped", "event", name, "reason", "queue full")
		return false
	}
}

// Submit queues job, waiting for room until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, name string, job Job) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrDispatcherClosed
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-d.closing:
		return ErrDispatcherClosed
	case d.jobs <- namedJob{name: name, run: job}:
		return nil
	}
}

// Shutdown stops accepting jobs and waits for queued ones to finish. If ctx
// expires first, running jobs are cancelled and ctx.Err is returned.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.once.Do(func() {
		close(d.closing)
		d.mu.Lock()
		d.closed = true
		close(d.jobs)
		d.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	case <-done:
		d.cancel()
		return nil
	}
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()

	for job := range d.jobs {
		d.handle(job)
	}
}

func (d *Dispatcher) handle(job namedJob) {
	ctx, cancel := context.WithTimeout(logging.WithLogger(d.ctx, d.logger), d.timeout)
	defer cancel()

	ctx, span := logging.StartSpan(ctx, job.name)
	err := job.run(ctx)
	span.End(err)
	if err != nil {
		d.logger.Warn("event failed", "event", job.name, "error", err)
	}
}
