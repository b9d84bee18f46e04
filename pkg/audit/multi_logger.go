package audit

import (
	"context"
	"errors"
	"fmt"
)

// MultiLogger writes every event to each of its loggers in order. Search is
// served by the first logger that can search.
type MultiLogger struct {
	loggers []Logger
}

var (
	_ Logger   = (*MultiLogger)(nil)
	_ Searcher = (*MultiLogger)(nil)
)

// NewMultiLogger creates a new multi-logger that writes to multiple destinations.
// Nil loggers are skipped.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	m := &MultiLogger{}
	for _, l := range loggers {
		if l != nil {
			m.loggers = append(m.loggers, l)
		}
	}
	return m
}

// Log writes to every logger, continuing past failures, and returns them joined
func (m *MultiLogger) Log(ctx context.Context, event *AuditEvent) error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Log(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Search delegates to the first logger implementing Searcher
func (m *MultiLogger) Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error) {
	for _, logger := range m.loggers {
		if s, ok := logger.(Searcher); ok {
			return s.Search(ctx, filter)
		}
	}
	return nil, fmt.Errorf("no searchable audit logger configured")
}

// Close closes all loggers
func (m *MultiLogger) Close() error {
	var errs []error
	for _, logger := range m.loggers {
		if err := logger.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close logger: %w", err))
		}
	}
	return errors.Join(errs...)
}
