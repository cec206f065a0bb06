package mis

import (
	"context"
	"log/slog"
	"sync"
)

// Task represents a unit of work to be processed by the worker pool
type Task func(ctx context.Context) error

// WorkerPool runs MIS writes off the caller's goroutine.
type WorkerPool struct {
	workerCount int
	taskQueue   chan Task
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	closed      bool
	closeMux    sync.Mutex
	logger      *slog.Logger
}

// NewWorkerPool creates a pool with workerCount workers and a queue of
// queueSize tasks. queueSize <= 0 means workerCount*2.
func NewWorkerPool(workerCount, queueSize int, logger *slog.Logger) *WorkerPool {
	return WorkerPoolWithContext(context.Background(), workerCount, queueSize, logger)
}

// WorkerPoolWithContext creates a worker pool with a custom context
func WorkerPoolWithContext(ctx context.Context, workerCount, queueSize int, logger *slog.Logger) *WorkerPool {
	if workerCount < 1 {
		workerCount = 1
	}
	if queueSize <= 0 {
		queueSize = workerCount * 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	poolCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		workerCount: workerCount,
		taskQueue:   make(chan Task, queueSize),
		ctx:         poolCtx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Start launches worker goroutines
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.workerCount; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Info("worker_pool_started", "workers", wp.workerCount)
}

// Submit queues task, blocking while the queue is full. It reports false
// when the pool is shutting down or already drained.
func (wp *WorkerPool) Submit(task Task) bool {
	wp.closeMux.Lock()
	defer wp.closeMux.Unlock()
	if wp.closed {
		return false
	}

	select {
	case wp.taskQueue <- task:
		return true
	case <-wp.ctx.Done():
		wp.logger.Warn("worker_pool_task_rejected", "reason", "shutting down")
		return false
	}
}

// TrySubmit queues task without blocking. It reports false when the queue is
// full or the pool is closed.
func (wp *WorkerPool) TrySubmit(task Task) bool {
	wp.closeMux.Lock()
	defer wp.closeMux.Unlock()
	if wp.closed || wp.ctx.Err() != nil {
		return false
	}

	select {
	case wp.taskQueue <- task:
		return true
	default:
		return false
	}
}

// Wait stops accepting tasks and blocks until queued tasks complete.
func (wp *WorkerPool) Wait() {
	wp.closeMux.Lock()
	if !wp.closed {
		close(wp.taskQueue)
		wp.closed = true
	}
	wp.closeMux.Unlock()

	wp.wg.Wait()
	wp.logger.Info("worker_pool_drained")
}

// Shutdown cancels all workers and waits for completion
func (wp *WorkerPool) Shutdown() {
	wp.logger.Info("worker_pool_shutting_down")
	wp.cancel()
	wp.Wait()
}

// worker processes tasks from the queue
func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for task := range wp.taskQueue {
		select {
		case <-wp.ctx.Done():
			wp.logger.Debug("worker_cancelled", "worker", id)
			return
		default:
		}

		if err := wp.run(task); err != nil {
			wp.logger.Warn("worker_task_failed", "worker", id, "error", err)
		}
	}
}

func (wp *WorkerPool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Error("worker_task_panic", "panic", r)
		}
	}()
	return task(wp.ctx)
}
