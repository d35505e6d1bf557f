package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/telemetry"
)

const (
	// DefaultMaxQueuedBytes is the soft cap on the estimated size of tracked work.
	DefaultMaxQueuedBytes = 1 << 24

	// defaultRecheckInterval bounds each wait on the byte budget.
	defaultRecheckInterval = time.Second
)

type trackedEntry struct {
	rc   data.RowColumn
	task *Task // owner of the slot

	// running is the task executing for rc. While it runs a requeued owner
	// is held back (deferred) and handed to the pool when running finishes.
	running  *Task
	deferred bool
}

// Tracker registers the RowColumns that have work queued or running in this
// process and applies backpressure once their estimated size exceeds the
// budget. All operations are serialized by one mutex; blocked admissions wait
// on a broadcast channel that is replaced whenever space is freed.
type Tracker struct {
	mu          sync.Mutex
	queued      map[string]*trackedEntry
	sizeInBytes int64
	maxSize     int64
	recheck     time.Duration
	changed     chan struct{}
	closed      bool
}

// NewTracker creates a tracker with the given byte budget.
func NewTracker(maxSize int64) *Tracker {
	if maxSize <= 0 {
		maxSize = DefaultMaxQueuedBytes
	}
	return &Tracker{
		queued:  make(map[string]*trackedEntry),
		maxSize: maxSize,
		recheck: defaultRecheckInterval,
		changed: make(chan struct{}),
	}
}

// Add registers task for rc. It returns false if rc is already tracked. While
// the budget is exceeded the caller blocks until space frees, rc gets admitted
// by another path, the tracker closes, or ctx is done.
func (t *Tracker) Add(ctx context.Context, rc data.RowColumn, task *Task) (bool, error) {
	key := rc.Key()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return false, ErrTrackerClosed
	}
	if _, ok := t.queued[key]; ok {
		t.mu.Unlock()
		return false, nil
	}

	var waitStart time.Time
	for t.sizeInBytes > t.maxSize {
		if waitStart.IsZero() {
			waitStart = time.Now()
		}
		changed := t.changed
		t.mu.Unlock()

		timer := time.NewTimer(t.recheck)
		select {
		case <-changed:
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return false, fmt.Errorf("admission of %s aborted: %w", rc, ctx.Err())
		}
		timer.Stop()

		t.mu.Lock()
		if t.closed {
			t.mu.Unlock()
			return false, ErrTrackerClosed
		}
		if _, ok := t.queued[key]; ok {
			t.mu.Unlock()
			return false, nil
		}
	}

	t.queued[key] = &trackedEntry{rc: rc, task: task}
	t.sizeInBytes += rc.EstimatedSize()
	t.mu.Unlock()

	if !waitStart.IsZero() {
		telemetry.AdmissionWaitSeconds.Observe(time.Since(waitStart).Seconds())
	}
	return true, nil
}

// Remove unregisters rc if present and wakes blocked admissions.
func (t *Tracker) Remove(rc data.RowColumn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(rc.Key())
}

// release unregisters rc only while task still owns the slot and is not
// executing, so a replaced task does not evict its replacement.
func (t *Tracker) release(rc data.RowColumn, task *Task) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := rc.Key()
	if entry, ok := t.queued[key]; ok && entry.task == task && entry.running == nil {
		t.removeLocked(key)
	}
}

func (t *Tracker) removeLocked(key string) {
	entry, ok := t.queued[key]
	if !ok {
		return
	}
	delete(t.queued, key)
	t.sizeInBytes -= entry.rc.EstimatedSize()
	t.broadcastLocked()
}

// Clear cancels every tracked task that has not started, empties the
// registry and wakes blocked admissions. Running tasks finish on their own.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, entry := range t.queued {
		entry.task.cancel()
	}
	t.queued = make(map[string]*trackedEntry)
	t.sizeInBytes = 0
	t.broadcastLocked()
}

// Requeue makes task the owner of rc's slot without touching the byte
// budget. A queued previous owner is cancelled. If a task for rc is
// executing, task is deferred and must not be queued until that execution
// finishes. tracked is false if rc is not tracked.
func (t *Tracker) Requeue(rc data.RowColumn, task *Task) (tracked, deferred bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.queued[rc.Key()]
	if !ok {
		return false, false
	}

	prev := entry.task
	entry.task = task
	if entry.running != nil {
		entry.deferred = true
		return true, true
	}
	if prev != task {
		prev.cancel()
	}
	return true, false
}

// start marks task as executing for rc. It returns false when task no
// longer owns the slot, in which case it must not run.
func (t *Tracker) start(rc data.RowColumn, task *Task) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.queued[rc.Key()]
	if !ok || entry.task != task || entry.running != nil {
		return false
	}
	entry.running = task
	return true
}

// finish ends task's execution. The slot is released if task still owns
// it; otherwise the deferred owner that replaced it is returned for queueing.
func (t *Tracker) finish(rc data.RowColumn, task *Task) *Task {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := rc.Key()
	entry, ok := t.queued[key]
	if !ok || entry.running != task {
		return nil
	}
	entry.running = nil

	if entry.task == task {
		t.removeLocked(key)
		return nil
	}
	if entry.deferred {
		entry.deferred = false
		return entry.task
	}
	return nil
}

// Contains reports whether rc is tracked.
func (t *Tracker) Contains(rc data.RowColumn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.queued[rc.Key()]
	return ok
}

// Len returns the number of tracked entries.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queued)
}

// Bytes returns the estimated size of tracked entries.
func (t *Tracker) Bytes() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sizeInBytes
}

// Stats returns the number of tracked entries and their estimated size.
func (t *Tracker) Stats() (entries int, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queued), t.sizeInBytes
}

// close rejects further admissions and wakes blocked callers.
func (t *Tracker) close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.broadcastLocked()
}

func (t *Tracker) broadcastLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}
