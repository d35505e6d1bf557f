package notify

import (
	"sync"
	"testing"
	"time"

	"github.com/maxpert/ripple/data"
)

var (
	colCount = data.NewColumn("attr", "count")
	colTotal = data.NewColumn("attr", "total")
)

func TestHub_BasicSubscribeSignal(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(Filter{})
	defer cancel()

	hub.Signal(New(data.NewRowColumn("r1", colCount), Weak, 1))

	select {
	case n := <-signals:
		if string(n.Row) != "r1" || n.Timestamp != 1 {
			t.Errorf("expected r1@1, got %s", n)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
	}
}

func TestHub_FilterColumns(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(Filter{Columns: []data.Column{colCount}})
	defer cancel()

	hub.Signal(New(data.NewRowColumn("r1", colCount), Weak, 1))

	select {
	case n := <-signals:
		if !n.Column.Equal(colCount) {
			t.Errorf("expected %s, got %s", colCount, n.Column)
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
	}

	hub.Signal(New(data.NewRowColumn("r1", colTotal), Weak, 2))

	select {
	case n := <-signals:
		t.Errorf("should not receive signal for %s, got %s", colTotal, n)
	case <-time.After(50 * time.Millisecond):
		// Expected - no signal
	}
}

func TestHub_CancelUnsubscribes(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(Filter{})

	hub.Signal(New(data.NewRowColumn("r1", colCount), Weak, 1))

	select {
	case <-signals:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for signal")
	}

	cancel()

	select {
	case _, ok := <-signals:
		if ok {
			t.Error("channel should be closed after cancel")
		}
	case <-time.After(100 * time.Millisecond):
		t.Fatal("timeout waiting for channel close")
	}

	// Subsequent signals and cancels should not panic
	hub.Signal(New(data.NewRowColumn("r1", colCount), Weak, 2))
	cancel()
}

func TestHub_MultipleSubscribers(t *testing.T) {
	hub := NewHub()

	all, cancel1 := hub.Subscribe(Filter{})
	defer cancel1()
	counts, cancel2 := hub.Subscribe(Filter{Columns: []data.Column{colCount}})
	defer cancel2()
	totals, cancel3 := hub.Subscribe(Filter{Columns: []data.Column{colTotal}})
	defer cancel3()

	hub.Signal(New(data.NewRowColumn("r1", colCount), Strong, 7))

	for name, ch := range map[string]<-chan Notification{"all": all, "counts": counts} {
		select {
		case n := <-ch:
			if n.Type != Strong || n.Timestamp != 7 {
				t.Errorf("%s: unexpected signal %s", name, n)
			}
		case <-time.After(100 * time.Millisecond):
			t.Fatalf("timeout on %s", name)
		}
	}

	select {
	case n := <-totals:
		t.Errorf("totals should not receive, got %s", n)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_ConcurrentSignalSubscribe(t *testing.T) {
	hub := NewHub()
	const numGoroutines = 10
	const numSignals = 100

	var wg sync.WaitGroup
	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			signals, cancel := hub.Subscribe(Filter{})
			defer cancel()

			received := 0
			timeout := time.After(2 * time.Second)
			for received < numSignals {
				select {
				case <-signals:
					received++
				case <-timeout:
					return
				}
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < numSignals; i++ {
			hub.Signal(New(data.NewRowColumn("r1", colCount), Weak, uint64(i)))
		}
	}()

	wg.Wait()
}

func TestHub_BufferOverflowNonBlocking(t *testing.T) {
	hub := NewHub()

	signals, cancel := hub.Subscribe(Filter{})
	defer cancel()

	for i := 0; i < 20; i++ {
		hub.Signal(New(data.NewRowColumn("r1", colCount), Weak, uint64(i)))
	}

	received := 0
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case <-signals:
			received++
		case <-timeout:
			if received != defaultSignalBufferSize {
				t.Errorf("expected %d signals, got %d", defaultSignalBufferSize, received)
			}
			return
		}
	}
}

func TestHub_UniqueSubscriptionIDs(t *testing.T) {
	hub := NewHub()

	const numSubs = 100
	cancels := make([]func(), numSubs)
	for i := 0; i < numSubs; i++ {
		_, cancel := hub.Subscribe(Filter{})
		cancels[i] = cancel
	}

	if len(hub.subscriptions) != numSubs {
		t.Errorf("expected %d subscriptions, got %d", numSubs, len(hub.subscriptions))
	}

	for _, cancel := range cancels {
		cancel()
	}

	if len(hub.subscriptions) != 0 {
		t.Errorf("expected 0 subscriptions after cancel, got %d", len(hub.subscriptions))
	}
}
