// Package concurrency runs poll work on a bounded pond worker pool.
package concurrency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chainwatch/internal/core"

	"github.com/alitto/pond"
)

// ErrPoolFull is returned by Submit on a saturated non-blocking pool.
var ErrPoolFull = errors.New("worker pool is full")

// PoolConfig holds configuration for a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int // queued tasks beyond the running workers
	IdleTimeout time.Duration
	NonBlocking bool // Submit fails with ErrPoolFull instead of blocking
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Running    int    `json:"running_workers"`
	Idle       int    `json:"idle_workers"`
	Submitted  uint64 `json:"submitted_tasks"`
	Waiting    uint64 `json:"waiting_tasks"`
	Successful uint64 `json:"successful_tasks"`
	Failed     uint64 `json:"failed_tasks"`
}

// WorkerPool wraps a pond pool with logging and panic recovery.
type WorkerPool struct {
	pool   *pond.WorkerPool
	config PoolConfig
	logger core.ILogger
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 64
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = time.Minute
	}

	logger = logger.WithFields(map[string]interface{}{"component": "worker_pool", "pool": cfg.Name})

	return &WorkerPool{
		pool: pond.New(
			cfg.MaxWorkers,
			cfg.MaxCapacity,
			pond.MinWorkers(1),
			pond.IdleTimeout(cfg.IdleTimeout),
			pond.Strategy(pond.Balanced()),
			pond.PanicHandler(func(p interface{}) {
				logger.Error("Task panicked", "panic", p)
			}),
		),
		config: cfg,
		logger: logger,
	}
}

// Submit queues task. A non-blocking pool rejects it when the queue is full.
func (wp *WorkerPool) Submit(task func()) error {
	if !wp.config.NonBlocking {
		wp.pool.Submit(task)
		return nil
	}
	if !wp.pool.TrySubmit(task) {
		return fmt.Errorf("%w: %s (capacity %d)", ErrPoolFull, wp.config.Name, wp.config.MaxCapacity)
	}
	return nil
}

// RunAll runs every task on the pool and waits for all of them. The context
// passed to tasks is cancelled as soon as one of them fails; the first error
// is returned.
func (wp *WorkerPool) RunAll(ctx context.Context, tasks ...func(ctx context.Context) error) error {
	group, gctx := wp.pool.GroupContext(ctx)
	for _, task := range tasks {
		task := task
		group.Submit(func() error { return task(gctx) })
	}
	return group.Wait()
}

// Stop waits for queued tasks and stops the workers.
func (wp *WorkerPool) Stop() {
	wp.pool.StopAndWait()
}

// Stats returns pool statistics
func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Running:    wp.pool.RunningWorkers(),
		Idle:       wp.pool.IdleWorkers(),
		Submitted:  wp.pool.SubmittedTasks(),
		Waiting:    wp.pool.WaitingTasks(),
		Successful: wp.pool.SuccessfulTasks(),
		Failed:     wp.pool.FailedTasks(),
	}
}

// Saturation is a health check that fails once the queue holds at least
// threshold waiting tasks.
func (wp *WorkerPool) Saturation(threshold uint64) func() error {
	return func() error {
		if w := wp.pool.WaitingTasks(); w >= threshold {
			return fmt.Errorf("%d tasks waiting on %s", w, wp.config.Name)
		}
		return nil
	}
}
