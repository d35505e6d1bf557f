package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/notify"
	"github.com/maxpert/ripple/telemetry"
)

var (
	// ErrCommitConflict is returned when a cell written (or, for strong
	// notifications, observed) changed after the transaction started.
	ErrCommitConflict = errors.New("commit conflict")

	// ErrTxnFinished is returned when a finished transaction is used.
	ErrTxnFinished = errors.New("transaction already finished")
)

type txnState int

const (
	txnOpen txnState = iota
	txnPreCommitted
	txnCommitted
	txnClosed
)

type mutation struct {
	rc      data.RowColumn
	value   []byte
	deleted bool
}

// Transaction buffers writes and notifications and reads a snapshot fixed
// at its start timestamp. A transaction is used by a single goroutine.
type Transaction struct {
	store    *Store
	startTS  uint64
	commitTS uint64
	holder   *LockHolder
	state    txnState

	writes        map[string]*mutation
	notifications map[string]notify.Notification
	observed      *notify.Notification
	applied       []notify.Notification
}

func newTransaction(s *Store, startTS uint64) *Transaction {
	return &Transaction{
		store:         s,
		startTS:       startTS,
		holder:        newLockHolder(startTS),
		writes:        make(map[string]*mutation),
		notifications: make(map[string]notify.Notification),
	}
}

// StartTS returns the snapshot timestamp.
func (tx *Transaction) StartTS() uint64 {
	return tx.startTS
}

// CommitTS returns the commit timestamp once the primary commit succeeded.
func (tx *Transaction) CommitTS() uint64 {
	return tx.commitTS
}

// Get reads rc as of the start timestamp, seeing the transaction's own writes.
// It waits for older transactions that hold a lock on rc to finish.
func (tx *Transaction) Get(ctx context.Context, rc data.RowColumn) ([]byte, bool, error) {
	if m, ok := tx.writes[rc.Key()]; ok {
		if m.deleted {
			return nil, false, nil
		}
		return m.value, true, nil
	}

	if err := tx.waitForLock(ctx, rc); err != nil {
		return nil, false, err
	}

	cell, _, ok, err := tx.store.readVersion(rc, tx.startTS)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", rc, err)
	}
	if !ok || cell.Deleted {
		return nil, false, nil
	}
	return cell.Value, true, nil
}

func (tx *Transaction) waitForLock(ctx context.Context, rc data.RowColumn) error {
	for {
		holder, ok := tx.store.locks.Holder(rc)
		if !ok || holder == tx.holder || holder.StartTS >= tx.startTS {
			return nil
		}

		select {
		case <-holder.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for lock on %s: %w", rc, ctx.Err())
		}
	}
}

// Set buffers a write of value to rc.
func (tx *Transaction) Set(rc data.RowColumn, value []byte) error {
	if tx.state != txnOpen {
		return ErrTxnFinished
	}
	tx.writes[rc.Key()] = &mutation{rc: rc, value: append([]byte(nil), value...)}
	return nil
}

// Delete buffers a delete of rc.
func (tx *Transaction) Delete(rc data.RowColumn) error {
	if tx.state != txnOpen {
		return ErrTxnFinished
	}
	tx.writes[rc.Key()] = &mutation{rc: rc, deleted: true}
	return nil
}

// SetWeakNotification records a weak notification for rc at commit.
func (tx *Transaction) SetWeakNotification(rc data.RowColumn) error {
	return tx.setNotification(rc, notify.Weak)
}

// SetStrongNotification records a strong notification for rc at commit.
func (tx *Transaction) SetStrongNotification(rc data.RowColumn) error {
	return tx.setNotification(rc, notify.Strong)
}

func (tx *Transaction) setNotification(rc data.RowColumn, typ notify.Type) error {
	if tx.state != txnOpen {
		return ErrTxnFinished
	}
	tx.notifications[rc.Key()] = notify.New(rc, typ, 0)
	return nil
}

// ProcessingNotification binds the notification this transaction consumes.
// Commit deletes it unless a newer notification replaced it meanwhile.
func (tx *Transaction) ProcessingNotification(n notify.Notification) {
	tx.observed = &n
}

// Observed returns the notification bound with ProcessingNotification.
func (tx *Transaction) Observed() (notify.Notification, bool) {
	if tx.observed == nil {
		return notify.Notification{}, false
	}
	return *tx.observed, true
}

// Recreated returns the notification this transaction committed on the
// RowColumn it was processing, if any.
func (tx *Transaction) Recreated() *notify.Notification {
	if tx.observed == nil {
		return nil
	}
	for _, n := range tx.applied {
		if n.RowColumn.Equal(tx.observed.RowColumn) {
			n := n
			return &n
		}
	}
	return nil
}

// CommitData is the prepared write set of a transaction.
type CommitData struct {
	Primary   data.RowColumn
	mutations []*mutation
	sets      []notify.Notification
	conflicts []data.RowColumn
}

// IsEmpty reports whether committing would change nothing.
func (cd *CommitData) IsEmpty() bool {
	return len(cd.mutations) == 0 && len(cd.sets) == 0
}

// CreateCommitData collects the buffered writes in key order. The first data
// cell is the primary.
func (tx *Transaction) CreateCommitData() (*CommitData, error) {
	if tx.state != txnOpen {
		return nil, ErrTxnFinished
	}

	cd := &CommitData{}
	for _, m := range tx.writes {
		cd.mutations = append(cd.mutations, m)
	}
	sort.Slice(cd.mutations, func(i, j int) bool {
		return cd.mutations[i].rc.Compare(cd.mutations[j].rc) < 0
	})

	for _, n := range tx.notifications {
		cd.sets = append(cd.sets, n)
	}
	sort.Slice(cd.sets, func(i, j int) bool {
		return cd.sets[i].RowColumn.Compare(cd.sets[j].RowColumn) < 0
	})

	seen := make(map[string]bool, len(cd.mutations)+1)
	for _, m := range cd.mutations {
		cd.conflicts = append(cd.conflicts, m.rc)
		seen[m.rc.Key()] = true
	}
	if tx.observed != nil && tx.observed.Type == notify.Strong && !seen[tx.observed.RowColumn.Key()] {
		cd.conflicts = append(cd.conflicts, tx.observed.RowColumn)
	}

	switch {
	case len(cd.mutations) > 0:
		cd.Primary = cd.mutations[0].rc
	case tx.observed != nil:
		cd.Primary = tx.observed.RowColumn
	case len(cd.sets) > 0:
		cd.Primary = cd.sets[0].RowColumn
	}
	return cd, nil
}

// PreCommit locks every written cell, plus the observed cell of a strong
// notification, and fails with ErrCommitConflict if any of them is locked
// by another transaction or has a version newer than the start timestamp.
func (tx *Transaction) PreCommit(cd *CommitData) error {
	if tx.state != txnOpen {
		return ErrTxnFinished
	}

	for _, rc := range cd.conflicts {
		if holder, ok := tx.store.locks.Acquire(rc, tx.holder); !ok {
			tx.store.locks.ReleaseByTxn(tx.holder)
			return fmt.Errorf("%s locked by transaction %d: %w", rc, holder.StartTS, ErrCommitConflict)
		}

		latest, ok, err := tx.store.latestCommit(rc)
		if err != nil {
			tx.store.locks.ReleaseByTxn(tx.holder)
			return fmt.Errorf("check %s: %w", rc, err)
		}
		if ok && latest > tx.startTS {
			tx.store.locks.ReleaseByTxn(tx.holder)
			return fmt.Errorf("%s committed at %d after start %d: %w", rc, latest, tx.startTS, ErrCommitConflict)
		}
	}

	tx.state = txnPreCommitted
	return nil
}

// CommitPrimaryColumn durably applies the write set at stamp.CommitTS in a
// single batch. Notification sets never move a stored notification back in
// time. The observed notification is deleted only if it is still the one
// stored; a newer one survives and the rest of the batch still commits.
func (tx *Transaction) CommitPrimaryColumn(cd *CommitData, stamp hlc.Stamp) error {
	if tx.state != txnPreCommitted {
		return fmt.Errorf("commit before pre-commit: %w", ErrTxnFinished)
	}
	commitTS := stamp.CommitTS
	if commitTS <= tx.startTS {
		return fmt.Errorf("commit timestamp %d not after start %d", commitTS, tx.startTS)
	}

	s := tx.store
	s.commitMu.Lock()
	defer s.commitMu.Unlock()

	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, m := range cd.mutations {
		val, err := encodeCell(m.value, m.deleted)
		if err != nil {
			return err
		}
		if err := batch.Set(dataKey(m.rc, commitTS), val, nil); err != nil {
			return err
		}
	}

	var applied []notify.Notification
	setKeys := make(map[string]bool, len(cd.sets))
	for _, n := range cd.sets {
		setKeys[n.RowColumn.Key()] = true

		current, ok, err := s.GetNotification(n.RowColumn)
		if err != nil {
			return err
		}
		if ok && current.Timestamp >= commitTS {
			continue
		}

		val, err := encodeNotification(n.Type, commitTS)
		if err != nil {
			return err
		}
		if err := batch.Set(notifyKey(n.RowColumn), val, nil); err != nil {
			return err
		}
		applied = append(applied, notify.New(n.RowColumn, n.Type, commitTS))
	}

	if tx.observed != nil && !setKeys[tx.observed.RowColumn.Key()] {
		current, ok, err := s.GetNotification(tx.observed.RowColumn)
		if err != nil {
			return err
		}
		switch {
		case !ok:
		case current.Timestamp <= tx.observed.Timestamp:
			if err := batch.Delete(notifyKey(tx.observed.RowColumn), nil); err != nil {
				return err
			}
		default:
			telemetry.NotificationDeletesRejectedTotal.Inc()
		}
	}

	last, err := s.LastCommitTS()
	if err != nil {
		return err
	}
	if commitTS > last {
		if err := batch.Set([]byte(keyOracle), encodeUint64(commitTS), nil); err != nil {
			return err
		}
	}

	if err := batch.Commit(s.writeOpts); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	tx.commitTS = commitTS
	tx.applied = applied
	tx.state = txnCommitted
	return nil
}

// FinishCommit releases locks and signals committed notifications.
func (tx *Transaction) FinishCommit(cd *CommitData, stamp hlc.Stamp) {
	tx.release()

	if tx.store.hub != nil {
		for _, n := range tx.applied {
			tx.store.hub.Signal(n)
		}
	}
}

// Commit runs the full commit protocol with a commit stamp from ts.
func (tx *Transaction) Commit(ctx context.Context, ts hlc.TimestampSource) error {
	defer tx.Close()

	cd, err := tx.CreateCommitData()
	if err != nil {
		return err
	}
	if cd.IsEmpty() && tx.observed == nil {
		return nil
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := tx.PreCommit(cd); err != nil {
		if errors.Is(err, ErrCommitConflict) {
			telemetry.TxnTotal.With("conflict").Inc()
		} else {
			telemetry.TxnTotal.With("failed").Inc()
		}
		return err
	}

	stamp := ts.GetStamp()
	if err := tx.CommitPrimaryColumn(cd, stamp); err != nil {
		telemetry.TxnTotal.With("failed").Inc()
		return err
	}

	tx.FinishCommit(cd, stamp)
	telemetry.TxnTotal.With("committed").Inc()
	return nil
}

// Close abandons an uncommitted transaction and releases its locks.
func (tx *Transaction) Close() {
	tx.release()
}

func (tx *Transaction) release() {
	if tx.state == txnClosed {
		return
	}
	if tx.state != txnCommitted {
		tx.state = txnClosed
	}
	tx.store.locks.ReleaseByTxn(tx.holder)
	select {
	case <-tx.holder.done:
	default:
		close(tx.holder.done)
	}
}
