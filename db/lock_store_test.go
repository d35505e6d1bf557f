package db

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLockStore_AcquireAndRelease(t *testing.T) {
	s := NewLockStore()
	a, b := newLockHolder(1), newLockHolder(2)
	cell := rc("r1", statTotal)

	holder, ok := s.Acquire(cell, a)
	require.True(t, ok)
	require.Same(t, a, holder)

	// Reentrant for the same holder
	_, ok = s.Acquire(cell, a)
	require.True(t, ok)

	holder, ok = s.Acquire(cell, b)
	require.False(t, ok)
	require.Same(t, a, holder)

	s.ReleaseByTxn(a)
	_, ok = s.Holder(cell)
	require.False(t, ok)

	_, ok = s.Acquire(cell, b)
	require.True(t, ok)
	require.Equal(t, 1, s.Len())

	// Releasing a holder with no locks leaves others alone
	s.ReleaseByTxn(a)
	require.Equal(t, 1, s.Len())
}

func TestLockStore_ConcurrentAcquire(t *testing.T) {
	s := NewLockStore()
	cell := rc("r1", statTotal)

	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 1; i <= 32; i++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			if _, ok := s.Acquire(cell, newLockHolder(id)); ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(uint64(i))
	}
	wg.Wait()

	require.Equal(t, 1, winners)
}
