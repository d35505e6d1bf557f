package hlc

import "sync"

// Stamp positions a transaction in the oracle's total order. A transaction
// reads at StartTS; its writes become visible at CommitTS.
type Stamp struct {
	StartTS  uint64
	CommitTS uint64
}

// TimestampSource issues globally monotonic logical timestamps.
type TimestampSource interface {
	GetStamp() Stamp
}

// Oracle hands out strictly increasing timestamps derived from a Clock.
// A floor can be raised with Observe so timestamps survive restarts.
type Oracle struct {
	clock *Clock
	mu    sync.Mutex
	last  uint64
}

// NewOracle creates an oracle backed by clock.
func NewOracle(clock *Clock) *Oracle {
	return &Oracle{clock: clock}
}

// Next allocates the next timestamp.
func (o *Oracle) Next() uint64 {
	ts := o.clock.Now().Pack()

	o.mu.Lock()
	defer o.mu.Unlock()
	if ts <= o.last {
		ts = o.last + 1
	}
	o.last = ts
	return ts
}

// GetStamp allocates a fresh timestamp. Both fields carry it: callers beginning
// a transaction read StartTS, callers committing one read CommitTS.
func (o *Oracle) GetStamp() Stamp {
	ts := o.Next()
	return Stamp{StartTS: ts, CommitTS: ts}
}

// Observe raises the floor so every later timestamp is greater than ts.
func (o *Oracle) Observe(ts uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ts > o.last {
		o.last = ts
	}
}

// Last returns the most recently issued (or observed) timestamp.
func (o *Oracle) Last() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.last
}
