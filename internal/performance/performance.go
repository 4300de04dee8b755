// Package performance provides the bounded worker pool and batching helpers
// used by the backtest and drift pipelines.
package performance

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
)

// ErrPoolClosed is returned when submitting to a stopped pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware unit of work.
type Task func(ctx context.Context) error

// WorkerPool runs tasks on a bounded set of goroutines.
type WorkerPool struct {
	pool       *ants.Pool
	workers    int
	logger     zerolog.Logger
	tasksTotal atomic.Uint64
	tasksDone  atomic.Uint64
	panics     atomic.Uint64
}

// NewWorkerPool creates a pool with the given number of workers.
// If workers is 0, it defaults to runtime.NumCPU().
func NewWorkerPool(workers int, logger zerolog.Logger) (*WorkerPool, error) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	wp := &WorkerPool{workers: workers, logger: logger}
	pool, err := ants.NewPool(workers,
		ants.WithPanicHandler(func(p interface{}) {
			wp.panics.Add(1)
			wp.logger.Error().Interface("panic", p).Msg("worker panic recovered")
		}),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		return nil, err
	}
	wp.pool = pool
	return wp, nil
}

// Submit queues a task. A cancelled context is reported without queueing and
// tasks still queued when the context is cancelled are skipped.
func (p *WorkerPool) Submit(ctx context.Context, task func(ctx context.Context)) error {
	return p.submit(ctx, func() {
		select {
		case <-ctx.Done():
			p.logger.Debug().Err(ctx.Err()).Msg("task skipped: context cancelled")
			return
		default:
		}
		task(ctx)
	})
}

func (p *WorkerPool) submit(ctx context.Context, fn func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.pool.IsClosed() {
		return ErrPoolClosed
	}

	p.tasksTotal.Add(1)
	return p.pool.Submit(func() {
		defer p.tasksDone.Add(1)
		fn()
	})
}

// RunAll runs every task on the pool and waits for them. The returned slice
// holds each task's error at its own index; a task that never ran because
// the context was cancelled reports ctx.Err().
func (p *WorkerPool) RunAll(ctx context.Context, tasks []Task) []error {
	errs := make([]error, len(tasks))
	var wg sync.WaitGroup
	for i, task := range tasks {
		i, task := i, task
		wg.Add(1)
		err := p.submit(ctx, func() {
			defer func() {
				if r := recover(); r != nil {
					p.panics.Add(1)
					errs[i] = fmt.Errorf("task %d panicked: %v", i, r)
				}
				wg.Done()
			}()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			errs[i] = task(ctx)
		})
		if err != nil {
			wg.Done()
			errs[i] = err
		}
	}
	wg.Wait()
	return errs
}

// Stop releases the pool, waiting up to timeout for running tasks.
func (p *WorkerPool) Stop(timeout time.Duration) error {
	if p.pool.IsClosed() {
		return nil
	}
	return p.pool.ReleaseTimeout(timeout)
}

// Stats returns pool statistics.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		Running:    p.pool.Running(),
		Free:       p.pool.Free(),
		TasksTotal: p.tasksTotal.Load(),
		TasksDone:  p.tasksDone.Load(),
		Panics:     p.panics.Load(),
	}
}

// PoolStats contains worker pool statistics.
type PoolStats struct {
	Workers    int
	Running    int
	Free       int
	TasksTotal uint64
	TasksDone  uint64
	Panics     uint64
}

// BatchProcessor processes items in batches.
type BatchProcessor[T any] struct {
	batchSize int
	processor func([]T) error
	items     []T
	mu        sync.Mutex
}

// NewBatchProcessor creates a new batch processor.
func NewBatchProcessor[T any](batchSize int, processor func([]T) error) *BatchProcessor[T] {
	if batchSize <= 0 {
		batchSize = 1
	}
	return &BatchProcessor[T]{
		batchSize: batchSize,
		processor: processor,
		items:     make([]T, 0, batchSize),
	}
}

// Add adds an item to the batch. If the batch is full, it's processed.
func (b *BatchProcessor[T]) Add(item T) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items = append(b.items, item)
	if len(b.items) >= b.batchSize {
		return b.flush()
	}
	return nil
}

// Flush processes any remaining items in the batch.
func (b *BatchProcessor[T]) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flush()
}

func (b *BatchProcessor[T]) flush() error {
	if len(b.items) == 0 {
		return nil
	}

	err := b.processor(b.items)
	b.items = b.items[:0]
	return err
}

// MemoryStats returns current memory statistics.
func MemoryStats() MemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return MemStats{
		HeapAlloc:  m.HeapAlloc,
		HeapInuse:  m.HeapInuse,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
}

// MemStats contains memory statistics.
type MemStats struct {
	HeapAlloc  uint64
	HeapInuse  uint64
	NumGC      uint32
	Goroutines int
}
