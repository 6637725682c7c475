package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"guardian/metrics"
	"guardian/util/goroutine"
)

var (
	ErrPoolNotRunning = errors.New("worker pool is not running")
	ErrPoolQueueFull  = errors.New("worker pool task queue is full")
)

// WorkerPool runs tenant evaluation runs on a fixed set of goroutines so
// a burst of due tenants cannot spawn unbounded concurrency.
type WorkerPool struct {
	workers int
	name    string
	taskCh  chan func()
	wg      sync.WaitGroup
	logger  *zap.SugaredLogger
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	mu      sync.RWMutex
}

// NewWorkerPool creates a pool. Workers start on Start.
func NewWorkerPool(ctx context.Context, workers, queueSize int, name string, logger *zap.SugaredLogger) *WorkerPool {
	poolCtx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		workers: workers,
		name:    name,
		taskCh:  make(chan func(), queueSize),
		logger:  logger,
		ctx:     poolCtx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines. Safe to call once; repeated calls
// are no-ops.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.running {
		return
	}
	wp.running = true

	metrics.WorkerPoolActiveWorkers.WithLabelValues(wp.name).Set(float64(wp.workers))
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.logger.Infow("Worker pool started", "pool", wp.name, "workers", wp.workers)
}

// Submit enqueues a task without blocking. A full queue is an error the
// caller decides how to handle.
func (wp *WorkerPool) Submit(task func()) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.running {
		return ErrPoolNotRunning
	}
	select {
	case wp.taskCh <- task:
		metrics.WorkerPoolQueueSize.WithLabelValues(wp.name).Set(float64(len(wp.taskCh)))
		return nil
	default:
		return ErrPoolQueueFull
	}
}

// Stop cancels workers, stops accepting tasks and waits for in-flight
// tasks, bounded by a shutdown timeout.
func (wp *WorkerPool) Stop(timeout time.Duration) {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	wp.cancel()
	close(wp.taskCh)
	wp.mu.Unlock()

	done := make(chan struct{})
	go func() {
		wp.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		wp.logger.Infow("Worker pool stopped", "pool", wp.name)
	case <-time.After(timeout):
		wp.logger.Errorw("Worker pool shutdown timed out",
			"pool", wp.name,
			"timeout", timeout)
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	defer goroutine.Recover("worker-pool", wp.logger)

	for {
		select {
		case <-wp.ctx.Done():
			return
		case task, ok := <-wp.taskCh:
			if !ok {
				return
			}
			func() {
				defer func() {
					if r := recover(); r != nil {
						wp.logger.Errorw("Task panicked in worker",
							"pool", wp.name,
							"worker_id", id,
							"panic", r)
					}
				}()
				task()
				metrics.WorkerPoolTasksProcessed.WithLabelValues(wp.name).Inc()
			}()
		}
	}
}
