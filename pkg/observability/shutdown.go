package observability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

// ShutdownManager runs registered cleanup functions once the process is
// asked to stop. Functions run concurrently under a shared deadline.
type ShutdownManager struct {
	logger  *Logger
	timeout time.Duration

	mu    sync.Mutex
	names []string
	funcs []ShutdownFunc
}

// NewShutdownManager creates a new shutdown manager; timeout defaults to 30s
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = NewNopLogger()
	}
	return &ShutdownManager{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a named cleanup function
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.names = append(sm.names, name)
	sm.funcs = append(sm.funcs, fn)
}

// Shutdown runs every registered function and returns the first failure
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, sm.timeout)
	defer cancel()

	sm.mu.Lock()
	names := append([]string(nil), sm.names...)
	funcs := append([]ShutdownFunc(nil), sm.funcs...)
	sm.mu.Unlock()

	var wg sync.WaitGroup
	errs := make(chan error, len(funcs))

	for i, fn := range funcs {
		wg.Add(1)
		go func(name string, fn ShutdownFunc) {
			defer wg.Done()
			if err := fn(ctx); err != nil {
				sm.logger.WithError(err).WithField("component", name).Error("shutdown step failed")
				errs <- fmt.Errorf("%s: %w", name, err)
				return
			}
			sm.logger.WithField("component", name).Debug("shutdown step complete")
		}(names[i], fn)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sm.logger.Warn("Shutdown timeout reached, forcing shutdown")
		return fmt.Errorf("shutdown timeout reached")
	}

	close(errs)
	var first error
	count := 0
	for err := range errs {
		if first == nil {
			first = err
		}
		count++
	}
	if count > 0 {
		return fmt.Errorf("shutdown completed with %d errors, first: %w", count, first)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
