package db

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/ripple/cfg"
	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/notify"
	"github.com/rs/zerolog/log"
)

// ErrStoreClosed is returned by operations on a closed store.
var ErrStoreClosed = errors.New("store is closed")

// Options configures the pebble store
type Options struct {
	CacheSizeMB           int64
	MemTableSizeMB        int64
	L0CompactionThreshold int
	L0StopWrites          int
	SyncCommits           bool
	DisableWAL            bool // Only for testing!
}

// DefaultOptions returns store options from cfg.Config.Store.
func DefaultOptions() Options {
	sc := cfg.Config.Store
	return Options{
		CacheSizeMB:           sc.CacheSizeMB,
		MemTableSizeMB:        sc.MemTableSizeMB,
		L0CompactionThreshold: sc.L0CompactionThreshold,
		L0StopWrites:          sc.L0StopWrites,
		SyncCommits:           sc.SyncCommits,
	}
}

// pebbleLogger wraps zerolog for Pebble
type pebbleLogger struct{}

func (l *pebbleLogger) Infof(format string, args ...interface{}) {
	log.Debug().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...interface{}) {
	log.Error().Msgf("[pebble] "+format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...interface{}) {
	log.Fatal().Msgf("[pebble] "+format, args...)
}

// Store is a multi-version cell store with a single-entry notification
// space per RowColumn. Commits are serialized by commitMu and applied as one
// pebble batch each.
type Store struct {
	db        *pebble.DB
	path      string
	locks     *LockStore
	hub       *notify.Hub
	writeOpts *pebble.WriteOptions
	commitMu  sync.Mutex

	// mu orders closing against operation starts; inflight counts
	// operations Close must drain before pebble goes away
	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

// Open opens (or creates) a store at path. Committed notifications are
// signalled on hub when it is not nil.
func Open(path string, opts Options, hub *notify.Hub) (*Store, error) {
	pebbleOpts := &pebble.Options{
		DisableWAL: opts.DisableWAL,
		Logger:     &pebbleLogger{},
	}
	if opts.CacheSizeMB > 0 {
		cache := pebble.NewCache(opts.CacheSizeMB << 20)
		defer cache.Unref()
		pebbleOpts.Cache = cache
	}
	if opts.MemTableSizeMB > 0 {
		pebbleOpts.MemTableSize = uint64(opts.MemTableSizeMB << 20)
	}
	if opts.L0CompactionThreshold > 0 {
		pebbleOpts.L0CompactionThreshold = opts.L0CompactionThreshold
	}
	if opts.L0StopWrites > 0 {
		pebbleOpts.L0StopWritesThreshold = opts.L0StopWrites
	}

	db, err := pebble.Open(path, pebbleOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db: %w", err)
	}

	writeOpts := pebble.NoSync
	if opts.SyncCommits {
		writeOpts = pebble.Sync
	}

	return &Store{
		db:        db,
		path:      path,
		locks:     NewLockStore(),
		hub:       hub,
		writeOpts: writeOpts,
	}, nil
}

// Close rejects new operations, waits for in-flight ones and closes the
// underlying database. Close is idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.inflight.Wait()
	return s.db.Close()
}

// acquire registers an operation against the open database. Every
// successful acquire must be paired with release.
func (s *Store) acquire() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.inflight.Add(1)
	return nil
}

func (s *Store) release() {
	s.inflight.Done()
}

// Locks exposes the pre-commit lock table.
func (s *Store) Locks() *LockStore {
	return s.locks
}

// Begin starts a transaction reading at startTS.
func (s *Store) Begin(startTS uint64) *Transaction {
	return newTransaction(s, startTS)
}

// readVersion returns the newest version of rc committed at or before ts.
func (s *Store) readVersion(rc data.RowColumn, ts uint64) (cellValue, uint64, bool, error) {
	if err := s.acquire(); err != nil {
		return cellValue{}, 0, false, err
	}
	defer s.release()

	prefix := dataPrefix(rc)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return cellValue{}, 0, false, err
	}
	defer iter.Close()

	if !iter.SeekGE(dataKey(rc, ts)) {
		return cellValue{}, 0, false, iter.Error()
	}

	val, err := iter.ValueAndErr()
	if err != nil {
		return cellValue{}, 0, false, err
	}
	cell, err := decodeCell(val)
	if err != nil {
		return cellValue{}, 0, false, err
	}
	return cell, versionFromKey(iter.Key()), true, nil
}

// latestCommit returns the commit timestamp of the newest version of rc.
func (s *Store) latestCommit(rc data.RowColumn) (uint64, bool, error) {
	_, ts, ok, err := s.readVersion(rc, ^uint64(0)-1)
	return ts, ok, err
}

// GetNotification returns the pending notification for rc, if any.
func (s *Store) GetNotification(rc data.RowColumn) (notify.Notification, bool, error) {
	if err := s.acquire(); err != nil {
		return notify.Notification{}, false, err
	}
	defer s.release()

	key := notifyKey(rc)
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return notify.Notification{}, false, nil
	}
	if err != nil {
		return notify.Notification{}, false, err
	}
	defer closer.Close()

	n, err := decodeNotification(key, val)
	if err != nil {
		return notify.Notification{}, false, err
	}
	return n, true, nil
}

// ScanNotifications calls fn for every pending notification in key order.
// Iteration stops at the first error fn returns.
func (s *Store) ScanNotifications(fn func(n notify.Notification) error) error {
	return s.ScanNotificationsAfter(nil, fn)
}

// ScanNotificationsAfter is ScanNotifications starting past the RowColumn
// whose encoding is after. A nil after starts at the first notification.
func (s *Store) ScanNotificationsAfter(after []byte, fn func(n notify.Notification) error) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	prefix := []byte(prefixNotify)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	valid := iter.First()
	if after != nil {
		start := append(append([]byte(nil), prefix...), after...)
		valid = iter.SeekGE(start)
		if valid && bytes.Equal(iter.Key(), start) {
			valid = iter.Next()
		}
	}

	for ; valid; valid = iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		n, err := decodeNotification(iter.Key(), val)
		if err != nil {
			log.Warn().Err(err).Hex("key", iter.Key()).Msg("Skipping undecodable notification")
			continue
		}
		if err := fn(n); err != nil {
			return err
		}
	}
	return iter.Error()
}

// CountNotifications returns the number of pending notifications.
func (s *Store) CountNotifications() (int, error) {
	count := 0
	err := s.ScanNotifications(func(notify.Notification) error {
		count++
		return nil
	})
	return count, err
}

// LastCommitTS returns the highest commit timestamp persisted, so a restarted
// oracle never hands out a timestamp below it.
func (s *Store) LastCommitTS() (uint64, error) {
	if err := s.acquire(); err != nil {
		return 0, err
	}
	defer s.release()

	val, closer, err := s.db.Get([]byte(keyOracle))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer closer.Close()

	if len(val) < 8 {
		return 0, fmt.Errorf("corrupt oracle mark: %d bytes", len(val))
	}
	return binary.BigEndian.Uint64(val), nil
}
