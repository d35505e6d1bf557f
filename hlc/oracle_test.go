package hlc

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOracle_Monotonic(t *testing.T) {
	t.Parallel()

	oracle := NewOracle(NewClock(1))
	prev := oracle.GetStamp()
	for i := 0; i < 1000; i++ {
		next := oracle.GetStamp()
		require.Greater(t, next.StartTS, prev.StartTS)
		require.Equal(t, next.StartTS, next.CommitTS)
		prev = next
	}
}

func TestOracle_ObserveRaisesFloor(t *testing.T) {
	t.Parallel()

	oracle := NewOracle(NewClock(1))
	floor := oracle.Next() + 1<<40
	oracle.Observe(floor)

	require.Equal(t, floor, oracle.Last())
	require.Greater(t, oracle.Next(), floor)

	// Observing an older value is a no-op
	last := oracle.Last()
	oracle.Observe(1)
	require.Equal(t, last, oracle.Last())
}

func TestOracle_ConcurrentUnique(t *testing.T) {
	t.Parallel()

	oracle := NewOracle(NewClock(3))

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[uint64]struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 500; j++ {
				ts := oracle.Next()
				mu.Lock()
				_, dup := seen[ts]
				seen[ts] = struct{}{}
				mu.Unlock()
				if dup {
					t.Errorf("duplicate timestamp %d", ts)
				}
			}
		}()
	}
	wg.Wait()
	require.Len(t, seen, 8*500)
}
