package notify

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/telemetry"
	"github.com/rs/zerolog"
)

// Outcome is how a task finished.
type Outcome int

const (
	// OutcomeProcessed means the worker ran and returned without error.
	OutcomeProcessed Outcome = iota
	// OutcomeSkipped means the finder no longer considered the notification applicable.
	OutcomeSkipped
	// OutcomeFailed means the worker returned an error or panicked.
	OutcomeFailed
	// OutcomeCancelled means the task was dropped before it started.
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return "processed"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeCancelled:
		return "cancelled"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Finder decides at execution time whether a queued notification is still
// this process's to handle.
type Finder interface {
	ShouldProcess(n Notification) bool
}

// FinderFunc adapts a function to Finder.
type FinderFunc func(n Notification) bool

// ShouldProcess calls f(n).
func (f FinderFunc) ShouldProcess(n Notification) bool { return f(n) }

// WorkResult reports what a worker left behind.
type WorkResult struct {
	// Recreated is set when processing wrote a new notification on the same
	// RowColumn. The task requeues it under its admission slot.
	Recreated *Notification
}

// Worker runs the observer for a notification inside its own transaction.
type Worker interface {
	Process(ctx context.Context, n Notification) (WorkResult, error)
}

// WorkerFunc adapts a function to Worker.
type WorkerFunc func(ctx context.Context, n Notification) (WorkResult, error)

// Process calls f(ctx, n).
func (f WorkerFunc) Process(ctx context.Context, n Notification) (WorkResult, error) {
	return f(ctx, n)
}

const (
	taskQueued int32 = iota
	taskRunning
	taskDone
	taskCancelled
)

// Task is the unit queued for a notification. The applicability check runs
// when a worker picks it up, not when it is queued.
type Task struct {
	n       Notification
	finder  Finder
	proc    *Processor
	seq     uint64
	state   atomic.Int32
	promise *future.Promise[Outcome]
}

func newTask(proc *Processor, finder Finder, n Notification) *Task {
	return &Task{
		n:       n,
		finder:  finder,
		proc:    proc,
		promise: future.NewPromise[Outcome](),
	}
}

// Notification returns the notification the task was queued for.
func (t *Task) Notification() Notification {
	return t.n
}

// Future resolves once with the task's outcome.
func (t *Task) Future() *future.Future[Outcome] {
	return t.promise.Future()
}

func (t *Task) cancel() bool {
	if !t.state.CompareAndSwap(taskQueued, taskCancelled) {
		return false
	}
	t.resolve(OutcomeCancelled)
	return true
}

func (t *Task) resolve(outcome Outcome) {
	telemetry.NotificationsProcessedTotal.With(outcome.String()).Inc()
	t.promise.Set(outcome, nil)
}

func (t *Task) isCancelled() bool {
	return t.state.Load() == taskCancelled
}

func (t *Task) run(ctx context.Context) {
	if !t.state.CompareAndSwap(taskQueued, taskRunning) {
		return
	}

	// Replaced between queueing and pickup
	if !t.proc.tracker.start(t.n.RowColumn, t) {
		t.state.Store(taskCancelled)
		t.resolve(OutcomeCancelled)
		return
	}

	outcome := t.execute(ctx)
	if next := t.proc.tracker.finish(t.n.RowColumn, t); next != nil {
		t.proc.submitReplacement(next)
	}

	t.state.Store(taskDone)
	t.resolve(outcome)
}

func (t *Task) execute(ctx context.Context) (outcome Outcome) {
	defer func() {
		if r := recover(); r != nil {
			t.logFailure(fmt.Errorf("panic: %v", r)).
				Str("stack", string(debug.Stack())).
				Msg("Observer panicked while processing notification")
			outcome = OutcomeFailed
		}
	}()

	if !t.finder.ShouldProcess(t.n) {
		return OutcomeSkipped
	}

	res, err := t.proc.worker.Process(ctx, t.n)
	if err != nil {
		t.logFailure(err).Msg("Failed to process notification")
		return OutcomeFailed
	}

	if res.Recreated != nil && res.Recreated.RowColumn.Equal(t.n.RowColumn) {
		if _, err := t.proc.RequeueNotification(t.finder, *res.Recreated); err != nil {
			t.logFailure(err).Msg("Failed to requeue recreated notification")
		}
	}
	return OutcomeProcessed
}

func (t *Task) logFailure(err error) *zerolog.Event {
	return t.proc.logger.Error().
		Err(err).
		Str("row", data.EscapeNonASCII(t.n.Row)).
		Str("column", t.n.Column.String()).
		Uint64("timestamp", t.n.Timestamp)
}
