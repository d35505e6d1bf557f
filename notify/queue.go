package notify

import (
	"container/heap"
	"sync"
)

// taskHeap orders tasks by notification timestamp, then RowColumn, then
// submission order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.n.Timestamp != b.n.Timestamp || !a.n.RowColumn.Equal(b.n.RowColumn) {
		return a.n.less(b.n)
	}
	return a.seq < b.seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// taskQueue is a blocking priority queue shared by the pool workers.
type taskQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    taskHeap
	capacity int
	seq      uint64
	closed   bool
}

func newTaskQueue(capacity int) *taskQueue {
	q := &taskQueue{capacity: capacity}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *taskQueue) push(t *Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrPoolClosed
	}
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return ErrPoolSaturated
	}
	q.seq++
	t.seq = q.seq
	heap.Push(&q.items, t)
	q.cond.Signal()
	return nil
}

// pop blocks until a task is available. It returns nil once the queue is
// closed and drained.
func (q *taskQueue) pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.closed {
			return nil
		}
		q.cond.Wait()
	}
	return heap.Pop(&q.items).(*Task)
}

func (q *taskQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// purge drops tasks that were cancelled before they started.
func (q *taskQueue) purge() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.items[:0]
	dropped := 0
	for _, t := range q.items {
		if t.isCancelled() {
			dropped++
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	heap.Init(&q.items)
	return dropped
}

// close rejects further pushes and hands back the tasks still queued.
func (q *taskQueue) close() []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	pending := make([]*Task, len(q.items))
	copy(pending, q.items)
	q.items = nil
	q.cond.Broadcast()
	return pending
}
