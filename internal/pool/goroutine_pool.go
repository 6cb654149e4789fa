// Package pool provides a bounded goroutine pool for background work that must
// outlive the HTTP request that triggered it.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Task represents a unit of work. ctx is derived from the pool, not from the
// submitter, and carries the per-task timeout.
type Task func(ctx context.Context) error

// GoroutinePool runs tasks on a fixed set of workers fed by a bounded queue.
type GoroutinePool struct {
	tasks chan Task

	mu     sync.RWMutex
	closed bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	activeCount atomic.Int32
	submitted   atomic.Int64
	completed   atomic.Int64
	failed      atomic.Int64
	rejected    atomic.Int64

	workers      int
	taskTimeout  time.Duration
	panicHandler func(any)
	onQueue      func(depth int)
}

// GoroutinePoolConfig configures the pool.
type GoroutinePoolConfig struct {
	Workers     int           `json:"workers"`
	QueueSize   int           `json:"queue_size"`
	TaskTimeout time.Duration `json:"task_timeout"`
	// PanicHandler receives recovered panics; the task then fails.
	PanicHandler func(any) `json:"-"`
	// OnQueueChange observes the queue depth after every enqueue and dequeue.
	OnQueueChange func(depth int) `json:"-"`
}

// DefaultGoroutinePoolConfig returns sensible defaults.
func DefaultGoroutinePoolConfig() GoroutinePoolConfig {
	return GoroutinePoolConfig{
		Workers:     4,
		QueueSize:   64,
		TaskTimeout: 60 * time.Second,
	}
}

// NewGoroutinePool starts the workers.
func NewGoroutinePool(config GoroutinePoolConfig) *GoroutinePool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &GoroutinePool{
		tasks:        make(chan Task, config.QueueSize),
		baseCtx:      ctx,
		cancel:       cancel,
		workers:      config.Workers,
		taskTimeout:  config.TaskTimeout,
		panicHandler: config.PanicHandler,
		onQueue:      config.OnQueueChange,
	}
	p.wg.Add(config.Workers)
	for i := 0; i < config.Workers; i++ {
		go p.worker()
	}
	return p
}

// Submit enqueues task without blocking. ErrPoolFull when every worker is busy
// and the queue is at capacity.
func (p *GoroutinePool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	select {
	case p.tasks <- task:
		p.observe(len(p.tasks))
		return nil
	default:
		p.rejected.Add(1)
		return ErrPoolFull
	}
}

func (p *GoroutinePool) worker() {
	defer p.wg.Done()

	for task := range p.tasks {
		p.observe(len(p.tasks))

		p.activeCount.Add(1)
		err := p.executeTask(task)
		p.activeCount.Add(-1)

		if err != nil {
			p.failed.Add(1)
		} else {
			p.completed.Add(1)
		}
	}
}

func (p *GoroutinePool) executeTask(task Task) (err error) {
	ctx := p.baseCtx
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()

	return task(ctx)
}

func (p *GoroutinePool) observe(depth int) {
	if p.onQueue != nil {
		p.onQueue(depth)
	}
}

// Close stops accepting tasks and lets the workers drain the queue. If ctx
// ends first, running tasks are cancelled and Close returns ctx.Err() once the
// workers have exited.
func (p *GoroutinePool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}

// Stats returns pool statistics.
func (p *GoroutinePool) Stats() GoroutinePoolStats {
	return GoroutinePoolStats{
		Workers:   p.workers,
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// GoroutinePoolStats contains pool statistics.
type GoroutinePoolStats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
