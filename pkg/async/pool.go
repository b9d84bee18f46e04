package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/drivewatch/pkg/observability"
)

var (
	// ErrQueueFull is returned by TrySubmit when every queue slot is taken
	ErrQueueFull = errors.New("worker pool queue full")
	// ErrPoolClosed is returned once Shutdown has been called or the pool's context is done
	ErrPoolClosed = errors.New("worker pool shut down")
)

// Task is a unit of work run by the pool
type Task func(ctx context.Context) error

// PoolConfig sizes a WorkerPool
type PoolConfig struct {
	// Name labels log lines from this pool
	Name string
	// Workers is the number of goroutines running tasks; defaults to 1
	Workers int
	// QueueSize is how many tasks may wait for a worker; defaults to Workers*2
	QueueSize int
	// Timeout bounds each task; zero means no per-task timeout
	Timeout time.Duration
}

// WorkerPool runs tasks on a fixed set of goroutines fed by a bounded queue
type WorkerPool struct {
	config PoolConfig
	logger *observability.Logger

	workCh chan Task
	doneCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// NewWorkerPool starts the pool's workers. Canceling ctx cancels running
// tasks and makes further submissions fail.
func NewWorkerPool(ctx context.Context, config PoolConfig, logger *observability.Logger) *WorkerPool {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	if config.QueueSize <= 0 {
		config.QueueSize = config.Workers * 2
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		config: config,
		logger: logger.WithField("pool", config.Name),
		workCh: make(chan Task, config.QueueSize),
		doneCh: make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}

	var wg sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			pool.worker(id)
		}(i)
	}
	go func() {
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Workers returns the number of worker goroutines
func (p *WorkerPool) Workers() int {
	return p.config.Workers
}

// Pending returns the number of queued tasks not yet picked up by a worker
func (p *WorkerPool) Pending() int {
	return len(p.workCh)
}

// Submit queues fn, waiting for a free slot if the queue is full
func (p *WorkerPool) Submit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	case <-p.ctx.Done():
		return ErrPoolClosed
	}
}

// TrySubmit queues fn without waiting. It returns ErrQueueFull when there is
// no free slot.
func (p *WorkerPool) TrySubmit(fn Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed || p.ctx.Err() != nil {
		return ErrPoolClosed
	}

	select {
	case p.workCh <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting tasks and waits up to timeout for the queue to
// drain. Later calls return the first call's result.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.workCh)
		p.mu.Unlock()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			p.shutdownErr = fmt.Errorf("worker pool %q shutdown timed out after %v", p.config.Name, timeout)
		}
	})
	return p.shutdownErr
}

// worker runs until the queue is closed and empty
func (p *WorkerPool) worker(id int) {
	for fn := range p.workCh {
		p.run(id, fn)
	}
}

func (p *WorkerPool) run(id int, fn Task) {
	ctx, cancel := p.ctx, context.CancelFunc(func() {})
	if p.config.Timeout > 0 {
		ctx, cancel = context.WithTimeout(p.ctx, p.config.Timeout)
	}
	defer cancel()
	defer observability.RecoverPanic(p.logger.WithField("worker", id), p.config.Name)

	if err := fn(ctx); err != nil {
		p.logger.WithError(err).WithField("worker", id).Warn("task failed")
	}
}
