package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultShutdownTimeout bounds Close when Options leaves it unset.
const DefaultShutdownTimeout = 30 * time.Second

// Options configures a Processor.
type Options struct {
	// Logger receives task failures; nil means the global logger.
	Logger *zerolog.Logger

	// Threads is the number of worker goroutines.
	Threads int

	// QueueCapacity bounds queued tasks; zero is unbounded.
	QueueCapacity int

	// MaxQueuedBytes is the admission byte budget.
	MaxQueuedBytes int64

	ShutdownTimeout time.Duration

	// Worker runs the observer for each notification.
	Worker Worker

	// Closer is closed once workers have stopped, typically the observer registry.
	Closer io.Closer
}

// Processor admits notifications, keeps at most one task per RowColumn
// queued or running, and executes them oldest first.
type Processor struct {
	tracker         *Tracker
	pool            *Pool
	worker          Worker
	closer          io.Closer
	logger          zerolog.Logger
	shutdownTimeout time.Duration
	closed          atomic.Bool
}

// NewProcessor creates a processor. Workers start with Start.
func NewProcessor(opts Options) (*Processor, error) {
	if opts.Worker == nil {
		return nil, errors.New("notification processor requires a worker")
	}

	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("component", "notify").Logger()

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	p := &Processor{
		tracker:         NewTracker(opts.MaxQueuedBytes),
		pool:            NewPool(opts.Threads, opts.QueueCapacity, logger),
		worker:          opts.Worker,
		closer:          opts.Closer,
		logger:          logger,
		shutdownTimeout: timeout,
	}

	telemetry.NewGaugeFunc("notifications_queued", "Notification tasks waiting for a worker", func() float64 {
		return float64(p.Size())
	})

	return p, nil
}

// Start launches the worker goroutines.
func (p *Processor) Start() {
	p.pool.Start()
}

// Submit admits n and returns a future for its task. A nil future with a nil
// error means n's RowColumn already had work queued or running.
func (p *Processor) Submit(ctx context.Context, finder Finder, n Notification) (*future.Future[Outcome], error) {
	if p.closed.Load() {
		telemetry.AdmissionsTotal.With("rejected").Inc()
		return nil, ErrPoolClosed
	}

	task := newTask(p, finder, n)
	added, err := p.tracker.Add(ctx, n.RowColumn, task)
	if err != nil {
		telemetry.AdmissionsTotal.With("rejected").Inc()
		return nil, err
	}
	if !added {
		telemetry.AdmissionsTotal.With("duplicate").Inc()
		return nil, nil
	}

	if err := p.pool.Submit(task); err != nil {
		p.tracker.release(n.RowColumn, task)
		telemetry.AdmissionsTotal.With("rejected").Inc()
		return nil, fmt.Errorf("queue notification %s: %w", n, err)
	}

	telemetry.AdmissionsTotal.With("admitted").Inc()
	return task.Future(), nil
}

// AddNotification admits n. It returns false if its RowColumn already had
// work, and blocks while the tracked byte budget is exceeded.
func (p *Processor) AddNotification(ctx context.Context, finder Finder, n Notification) (bool, error) {
	fut, err := p.Submit(ctx, finder, n)
	return fut != nil, err
}

// RequeueNotification replaces the tracked task for n's RowColumn with a new
// one for n. It returns false if the RowColumn is not tracked. A queued
// previous task is cancelled; a running one finishes before the new task is
// queued, so a RowColumn never has two tasks executing.
func (p *Processor) RequeueNotification(finder Finder, n Notification) (bool, error) {
	task := newTask(p, finder, n)
	tracked, deferred := p.tracker.Requeue(n.RowColumn, task)
	if !tracked {
		return false, nil
	}
	telemetry.RequeuesTotal.Inc()
	if deferred {
		return true, nil
	}

	if err := p.pool.Submit(task); err != nil {
		task.cancel()
		p.tracker.release(n.RowColumn, task)
		return false, fmt.Errorf("requeue notification %s: %w", n, err)
	}
	return true, nil
}

// submitReplacement queues a requeued task whose predecessor just finished.
func (p *Processor) submitReplacement(t *Task) {
	if err := p.pool.Submit(t); err != nil {
		t.cancel()
		p.tracker.release(t.n.RowColumn, t)
		if !errors.Is(err, ErrPoolClosed) {
			t.logFailure(err).Msg("Failed to queue requeued notification")
		}
	}
}

// NotificationProcessed frees n's RowColumn regardless of which task owns it.
func (p *Processor) NotificationProcessed(n Notification) {
	p.tracker.Remove(n.RowColumn)
}

// Size returns the number of tasks waiting for a worker.
func (p *Processor) Size() int {
	return p.pool.Len()
}

// TrackerStats returns tracked entries and their estimated bytes.
func (p *Processor) TrackerStats() (int, int64) {
	return p.tracker.Stats()
}

// Clear cancels all tasks that have not started and empties the tracker.
func (p *Processor) Clear() {
	p.tracker.Clear()
	dropped := p.pool.Purge()
	p.logger.Debug().Int("dropped", dropped).Msg("Cleared queued notifications")
}

// Close stops accepting work, cancels queued tasks and waits for running ones
// up to the shutdown timeout or ctx, whichever comes first.
func (p *Processor) Close(ctx context.Context) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}

	p.tracker.close()

	ctx, cancel := context.WithTimeout(ctx, p.shutdownTimeout)
	defer cancel()

	err := p.pool.Stop(ctx)
	if err != nil {
		p.logger.Warn().Err(err).Dur("timeout", p.shutdownTimeout).Msg("Notification workers still running")
	}

	if p.closer != nil {
		if cerr := p.closer.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close observers: %w", cerr))
		}
	}
	return err
}
