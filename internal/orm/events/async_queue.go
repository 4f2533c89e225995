package events

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// AsyncTask represents a task to be executed asynchronously
type AsyncTask struct {
	Name string
	Fn   func(ctx context.Context) error
}

// AsyncQueue manages asynchronous task execution with a worker pool
type AsyncQueue struct {
	tasks       chan AsyncTask
	workerCount int
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
	started     bool
	shutdown    bool
	mu          sync.RWMutex
}

// NewAsyncQueue creates a new async task queue with the specified worker count
func NewAsyncQueue(workerCount int, logger *zap.Logger) *AsyncQueue {
	if workerCount <= 0 {
		workerCount = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &AsyncQueue{
		tasks:       make(chan AsyncTask, 100),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Start starts the worker pool
func (q *AsyncQueue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return
	}

	for i := 0; i < q.workerCount; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	q.started = true
}

func (q *AsyncQueue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case task, ok := <-q.tasks:
			if !ok {
				return
			}
			q.run(id, task)
		}
	}
}

func (q *AsyncQueue) run(id int, task AsyncTask) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("async task panicked",
				zap.Int("worker", id),
				zap.String("task", task.Name),
				zap.Any("panic", r))
		}
	}()

	if err := task.Fn(q.ctx); err != nil {
		q.logger.Warn("async task failed",
			zap.Int("worker", id),
			zap.String("task", task.Name),
			zap.Error(err))
	}
}

// Enqueue adds a task to the queue
func (q *AsyncQueue) Enqueue(task AsyncTask) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if !q.started {
		return fmt.Errorf("queue not started")
	}
	if q.shutdown {
		return fmt.Errorf("queue shutdown")
	}

	select {
	case q.tasks <- task:
		return nil
	case <-q.ctx.Done():
		return fmt.Errorf("queue closed")
	}
}

// Shutdown stops accepting new tasks and waits for queued tasks to complete
func (q *AsyncQueue) Shutdown() {
	q.mu.Lock()
	if !q.started || q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	close(q.tasks)
	q.mu.Unlock()

	q.wg.Wait()
}

// Stop immediately stops the queue without waiting for tasks to complete
func (q *AsyncQueue) Stop() {
	q.cancel()
	q.wg.Wait()
}
