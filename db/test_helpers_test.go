package db

import (
	"context"
	"strconv"
	"testing"

	"github.com/maxpert/ripple/data"
	"github.com/maxpert/ripple/hlc"
	"github.com/maxpert/ripple/notify"
	"github.com/stretchr/testify/require"
)

var (
	statTotal     = data.NewColumn("stat", "total")
	statProcessed = data.NewColumn("stat", "processed")
	statChanged   = data.NewColumn("stat", "changed")
)

func newTestStore(t *testing.T, hub *notify.Hub) *Store {
	t.Helper()
	s, err := Open(t.TempDir(), Options{DisableWAL: true}, hub)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestOracle() *hlc.Oracle {
	return hlc.NewOracle(hlc.NewClock(1))
}

func rc(row string, col data.Column) data.RowColumn {
	return data.NewRowColumn(row, col)
}

func getInt(t *testing.T, tx *Transaction, row string, col data.Column) (int, bool) {
	t.Helper()
	v, ok, err := tx.Get(context.Background(), rc(row, col))
	require.NoError(t, err)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(string(v))
	require.NoError(t, err)
	return n, true
}

func increment(t *testing.T, tx *Transaction, row string, col data.Column, delta int) {
	t.Helper()
	cur, _ := getInt(t, tx, row, col)
	require.NoError(t, tx.Set(rc(row, col), []byte(strconv.Itoa(cur+delta))))
}

// observing begins a transaction bound to the notification currently stored
// for row/col, the way a dispatched observer would.
func observing(t *testing.T, s *Store, o *hlc.Oracle, row string, col data.Column) *Transaction {
	t.Helper()
	n, ok, err := s.GetNotification(rc(row, col))
	require.NoError(t, err)
	require.True(t, ok, "no notification for %s", row)

	tx := s.Begin(o.GetStamp().StartTS)
	tx.ProcessingNotification(n)
	return tx
}

// processTotal rolls the per-row total into the "all" row.
func processTotal(t *testing.T, tx *Transaction, row string) {
	t.Helper()
	total, ok := getInt(t, tx, row, statTotal)
	if !ok {
		return
	}
	processed, _ := getInt(t, tx, row, statProcessed)
	require.NoError(t, tx.Set(rc(row, statProcessed), []byte(strconv.Itoa(total))))
	increment(t, tx, "all", statTotal, total-processed)
}

func readString(t *testing.T, s *Store, o *hlc.Oracle, row string, col data.Column) string {
	t.Helper()
	tx := s.Begin(o.GetStamp().StartTS)
	defer tx.Close()
	v, ok, err := tx.Get(context.Background(), rc(row, col))
	require.NoError(t, err)
	if !ok {
		return ""
	}
	return string(v)
}

func countNotifications(t *testing.T, s *Store) int {
	t.Helper()
	n, err := s.CountNotifications()
	require.NoError(t, err)
	return n
}
