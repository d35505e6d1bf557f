package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

// An observer deletes the notification it read, never one committed after
// it started.
func TestWeakNotificationOverlap(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	o := newTestOracle()

	tx1 := s.Begin(o.GetStamp().StartTS)
	increment(t, tx1, "1", statTotal, 1)
	require.NoError(t, tx1.SetWeakNotification(rc("1", statChanged)))
	require.NoError(t, tx1.Commit(ctx, o))

	tx2 := observing(t, s, o, "1", statChanged)

	tx3 := s.Begin(o.GetStamp().StartTS)
	increment(t, tx3, "1", statTotal, 1)
	require.NoError(t, tx3.SetWeakNotification(rc("1", statChanged)))
	require.NoError(t, tx3.Commit(ctx, o))

	require.Equal(t, 1, countNotifications(t, s))

	processTotal(t, tx2, "1")
	require.NoError(t, tx2.Commit(ctx, o))

	require.Equal(t, "1", readString(t, s, o, "all", statTotal))
	require.Equal(t, 1, countNotifications(t, s))

	tx4 := observing(t, s, o, "1", statChanged)
	processTotal(t, tx4, "1")
	require.NoError(t, tx4.Commit(ctx, o))

	require.Equal(t, 0, countNotifications(t, s))
	require.Equal(t, "2", readString(t, s, o, "all", statTotal))

	// A notification whose data was deleted leaves the observer nothing to
	// write; it still only deletes what it read.
	tx5 := s.Begin(o.GetStamp().StartTS)
	require.NoError(t, tx5.Delete(rc("1", statTotal)))
	require.NoError(t, tx5.Delete(rc("1", statProcessed)))
	require.NoError(t, tx5.SetWeakNotification(rc("1", statChanged)))
	require.NoError(t, tx5.Commit(ctx, o))

	require.Equal(t, 1, countNotifications(t, s))

	tx6 := observing(t, s, o, "1", statChanged)

	tx7 := s.Begin(o.GetStamp().StartTS)
	increment(t, tx7, "1", statTotal, 1)
	require.NoError(t, tx7.SetWeakNotification(rc("1", statChanged)))
	require.NoError(t, tx7.Commit(ctx, o))

	require.Equal(t, 1, countNotifications(t, s))

	processTotal(t, tx6, "1")
	require.NoError(t, tx6.Commit(ctx, o))

	require.Equal(t, 1, countNotifications(t, s))
	require.Equal(t, "2", readString(t, s, o, "all", statTotal))

	tx8 := observing(t, s, o, "1", statChanged)
	processTotal(t, tx8, "1")
	require.NoError(t, tx8.Commit(ctx, o))

	require.Equal(t, 0, countNotifications(t, s))
	require.Equal(t, "3", readString(t, s, o, "all", statTotal))
}

// A notification set takes the commit timestamp, so an observer that starts
// while the setter is mid-commit cannot delete it.
func TestWeakNotificationOverlapMidCommit(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	o := newTestOracle()

	tx1 := s.Begin(o.GetStamp().StartTS)
	increment(t, tx1, "1", statTotal, 1)
	require.NoError(t, tx1.SetWeakNotification(rc("1", statChanged)))
	require.NoError(t, tx1.Commit(ctx, o))

	require.Equal(t, 1, countNotifications(t, s))

	tx2 := s.Begin(o.GetStamp().StartTS)
	increment(t, tx2, "1", statTotal, 1)
	require.NoError(t, tx2.SetWeakNotification(rc("1", statChanged)))
	cd2, err := tx2.CreateCommitData()
	require.NoError(t, err)
	require.NoError(t, tx2.PreCommit(cd2))

	tx3 := observing(t, s, o, "1", statChanged)

	stamp := o.GetStamp()
	require.NoError(t, tx2.CommitPrimaryColumn(cd2, stamp))
	tx2.FinishCommit(cd2, stamp)
	tx2.Close()

	require.Equal(t, 1, countNotifications(t, s))

	processTotal(t, tx3, "1")
	require.NoError(t, tx3.Commit(ctx, o))

	require.Equal(t, 1, countNotifications(t, s))
	require.Equal(t, "1", readString(t, s, o, "all", statTotal))

	tx4 := observing(t, s, o, "1", statChanged)
	processTotal(t, tx4, "1")
	require.NoError(t, tx4.Commit(ctx, o))

	require.Equal(t, 0, countNotifications(t, s))
	require.Equal(t, "2", readString(t, s, o, "all", statTotal))
}

func TestStrongNotificationConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	o := newTestOracle()
	watched := rc("1", statTotal)

	set := func(v string) {
		tx := s.Begin(o.GetStamp().StartTS)
		require.NoError(t, tx.Set(watched, []byte(v)))
		require.NoError(t, tx.SetStrongNotification(watched))
		require.NoError(t, tx.Commit(ctx, o))
	}

	set("a")
	observer := observing(t, s, o, "1", statTotal)
	set("b")

	require.NoError(t, observer.Set(rc("1", statProcessed), []byte("a")))
	err := observer.Commit(ctx, o)
	require.True(t, errors.Is(err, ErrCommitConflict), "got %v", err)

	// Nothing from the conflicting observer landed
	require.Equal(t, 1, countNotifications(t, s))
	require.Equal(t, "", readString(t, s, o, "1", statProcessed))
	require.Equal(t, 0, s.Locks().Len())

	retry := observing(t, s, o, "1", statTotal)
	v, ok, err := retry.Get(ctx, watched)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, retry.Set(rc("1", statProcessed), v))
	require.NoError(t, retry.Commit(ctx, o))

	require.Equal(t, 0, countNotifications(t, s))
	require.Equal(t, "b", readString(t, s, o, "1", statProcessed))
}

func TestNotificationRecreatedByObserver(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, nil)
	o := newTestOracle()
	target := rc("1", statChanged)

	tx := s.Begin(o.GetStamp().StartTS)
	require.NoError(t, tx.SetWeakNotification(target))
	require.NoError(t, tx.Commit(ctx, o))

	observer := observing(t, s, o, "1", statChanged)
	require.NoError(t, observer.SetWeakNotification(target))
	require.NoError(t, observer.Commit(ctx, o))

	recreated := observer.Recreated()
	require.NotNil(t, recreated)
	require.Equal(t, observer.CommitTS(), recreated.Timestamp)

	stored, ok, err := s.GetNotification(target)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, recreated.Timestamp, stored.Timestamp)
}
