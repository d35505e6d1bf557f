package notify

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Pool runs queued tasks on a fixed set of worker goroutines, always picking
// the task with the oldest notification timestamp.
type Pool struct {
	queue   *taskQueue
	threads int
	logger  zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup
	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewPool creates a pool with the given number of workers. A capacity of
// zero leaves the queue unbounded.
func NewPool(threads, capacity int, logger zerolog.Logger) *Pool {
	if threads <= 0 {
		threads = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		queue:   newTaskQueue(capacity),
		threads: threads,
		logger:  logger,
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the workers. Tasks submitted earlier wait in the queue.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.wg.Add(p.threads)
		for i := 0; i < p.threads; i++ {
			go p.workerLoop(i)
		}
		go func() {
			p.wg.Wait()
			close(p.done)
		}()
		p.logger.Debug().Int("threads", p.threads).Msg("Notification workers started")
	})
}

// Submit queues a task for execution.
func (p *Pool) Submit(t *Task) error {
	return p.queue.push(t)
}

// Len returns the number of tasks waiting for a worker.
func (p *Pool) Len() int {
	return p.queue.len()
}

// Purge removes cancelled tasks from the queue.
func (p *Pool) Purge() int {
	return p.queue.purge()
}

// Stop rejects new tasks, cancels queued ones and waits for running tasks to
// finish until ctx is done, in which case it returns ErrShutdownTimeout.
func (p *Pool) Stop(ctx context.Context) error {
	p.stopOnce.Do(func() {
		for _, t := range p.queue.close() {
			t.cancel()
		}
		// A pool that never started has no workers to wait for
		p.startOnce.Do(func() { close(p.done) })
	})

	select {
	case <-p.done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		return ErrShutdownTimeout
	}
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	logger := p.logger.With().Int("worker", id).Logger()
	for {
		t := p.queue.pop()
		if t == nil {
			logger.Debug().Msg("Notification worker stopped")
			return
		}
		t.run(p.ctx)
	}
}
