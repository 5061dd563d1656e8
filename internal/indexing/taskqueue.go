package indexing

import (
	"context"
	"sync"

	"github.com/gong8/cramkit-sub000/internal/platform/logger"
)

type taskFunc func(ctx context.Context)

/*
taskQueue is an in-process FIFO with a fixed worker count. Enqueue
never blocks: admitted tasks wait in order until a worker frees up.
Depth counts both waiting and in-flight tasks so a caller can tell
whether anything is still moving.
*/
type taskQueue struct {
	name    string
	workers int
	log     *logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	items   []taskFunc
	running int
	closed  bool
	wg      sync.WaitGroup
}

func newTaskQueue(name string, workers int, baseLog *logger.Logger) *taskQueue {
	if workers < 1 {
		workers = 1
	}
	q := &taskQueue{
		name:    name,
		workers: workers,
		log:     baseLog.With("queue", name),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Start launches the worker goroutines. Workers run tasks with ctx
// and exit once the queue is closed and drained.
func (q *taskQueue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.work(ctx)
	}
	go func() {
		<-ctx.Done()
		q.Close()
	}()
}

// Enqueue admits a task and returns immediately. Tasks offered after
// Close are dropped with a warning.
func (q *taskQueue) Enqueue(fn taskFunc) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.log.Warn("Task rejected: queue closed")
		return
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()
	q.cond.Signal()
}

// Depth reports waiting plus in-flight tasks.
func (q *taskQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) + q.running
}

// Close stops admission and wakes idle workers. In-flight tasks
// finish; waiting tasks still drain.
func (q *taskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.cond.Broadcast()
}

// Wait blocks until the workers have exited.
func (q *taskQueue) Wait() {
	q.wg.Wait()
}

func (q *taskQueue) work(ctx context.Context) {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 && q.closed {
			q.mu.Unlock()
			return
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.running++
		q.mu.Unlock()

		q.run(ctx, fn)

		q.mu.Lock()
		q.running--
		q.mu.Unlock()
	}
}

// If a task panics, contain it so the worker survives.
func (q *taskQueue) run(ctx context.Context, fn taskFunc) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("Task panic", "panic", r)
		}
	}()
	fn(ctx)
}
