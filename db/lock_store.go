package db

import (
	"github.com/maxpert/ripple/data"
	"github.com/puzpuzpuz/xsync/v3"
)

// LockHolder identifies the transaction holding cell locks. Done is closed
// once the transaction has committed or rolled back and released them.
type LockHolder struct {
	StartTS uint64
	done    chan struct{}
}

func newLockHolder(startTS uint64) *LockHolder {
	return &LockHolder{StartTS: startTS, done: make(chan struct{})}
}

// Done returns a channel closed when the holder finishes.
func (h *LockHolder) Done() <-chan struct{} {
	return h.done
}

// LockStore keeps the write locks taken at pre-commit in lock-free
// concurrent maps.
type LockStore struct {
	// cells: RowColumn key → holder
	cells *xsync.MapOf[string, *LockHolder]

	// byTxn: reverse index startTS → set of RowColumn keys
	byTxn *xsync.MapOf[uint64, *xsync.MapOf[string, struct{}]]
}

// NewLockStore creates an empty lock store.
func NewLockStore() *LockStore {
	return &LockStore{
		cells: xsync.NewMapOf[string, *LockHolder](),
		byTxn: xsync.NewMapOf[uint64, *xsync.MapOf[string, struct{}]](),
	}
}

// Acquire locks rc for holder. It returns the current holder and false if
// another transaction already holds the lock.
func (s *LockStore) Acquire(rc data.RowColumn, holder *LockHolder) (*LockHolder, bool) {
	key := rc.Key()

	current, loaded := s.cells.LoadOrStore(key, holder)
	if loaded && current != holder {
		return current, false
	}

	txnMap, _ := s.byTxn.LoadOrStore(holder.StartTS, xsync.NewMapOf[string, struct{}]())
	txnMap.Store(key, struct{}{})
	return holder, true
}

// Holder returns the transaction holding rc, if any.
func (s *LockStore) Holder(rc data.RowColumn) (*LockHolder, bool) {
	return s.cells.Load(rc.Key())
}

// ReleaseByTxn releases every lock held by holder.
func (s *LockStore) ReleaseByTxn(holder *LockHolder) {
	txnMap, ok := s.byTxn.LoadAndDelete(holder.StartTS)
	if !ok {
		return
	}

	txnMap.Range(func(key string, _ struct{}) bool {
		s.cells.Compute(key, func(current *LockHolder, loaded bool) (*LockHolder, bool) {
			// Keep locks that belong to another holder
			return current, !loaded || current == holder
		})
		return true
	})
}

// Len returns the number of locked cells.
func (s *LockStore) Len() int {
	return s.cells.Size()
}
