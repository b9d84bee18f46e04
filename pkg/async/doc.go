// Package async provides a bounded worker pool for background work that must
// never block the caller.
//
// # WorkerPool
//
// A fixed number of workers drain a bounded queue. TrySubmit refuses work when
// the queue is full instead of waiting, which lets request paths shed load:
//
//	pool := async.NewWorkerPool(ctx, async.PoolConfig{
//		Name:      "audit writer",
//		Workers:   4,
//		QueueSize: 1024,
//		Timeout:   5 * time.Second,
//	}, logger)
//	defer pool.Shutdown(30 * time.Second)
//
//	if err := pool.TrySubmit(func(ctx context.Context) error {
//		return auditLog.Log(ctx, event)
//	}); errors.Is(err, async.ErrQueueFull) {
//		// dropped
//	}
//
// Every task runs with its own timeout. Panics are recovered and logged, and
// the worker moves on to the next task. Shutdown stops accepting work and
// waits for queued tasks to finish; tasks still queued when the shutdown
// timeout expires run with an already canceled context.
package async
