package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/platinummonkey/drivewatch/pkg/async"
	"github.com/platinummonkey/drivewatch/pkg/contextkeys"
	"github.com/platinummonkey/drivewatch/pkg/observability"
)

// Defaults for the Sink's writer pool
const (
	DefaultSinkWorkers   = 4
	DefaultSinkQueueSize = 1024
)

// ErrSinkQueueFull is reported to the WriteRecorder for events dropped because
// every writer was busy and the queue was full
var ErrSinkQueueFull = errors.New("audit queue full")

// WriteRecorder counts audit writes; *observability.Metrics satisfies it
type WriteRecorder interface {
	RecordAuditWrite(eventType string, err error)
}

// Sink turns access-control callbacks into AuditEvents and writes them through
// a Logger on a bounded pool of writer goroutines. Callers never block on the
// write and never see its error. Events that arrive while the queue is full
// are dropped; failures and drops are logged at WARN and counted.
type Sink struct {
	logger       Logger
	recorder     WriteRecorder
	log          *observability.Logger
	writeTimeout time.Duration
	drainTimeout time.Duration
	workers      int
	queueSize    int

	pool *async.WorkerPool

	mu      sync.Mutex
	closed  bool
	pending sync.WaitGroup
}

// SinkOption configures a Sink
type SinkOption func(*Sink)

// WithRecorder counts every write and failure
func WithRecorder(r WriteRecorder) SinkOption {
	return func(s *Sink) { s.recorder = r }
}

// WithWriteTimeout bounds each write; the default is 5 seconds
func WithWriteTimeout(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d > 0 {
			s.writeTimeout = d
		}
	}
}

// WithWriters sets the number of writer goroutines and how many events may
// wait for one. Non-positive values keep the defaults.
func WithWriters(workers, queueSize int) SinkOption {
	return func(s *Sink) {
		if workers > 0 {
			s.workers = workers
		}
		if queueSize > 0 {
			s.queueSize = queueSize
		}
	}
}

// WithDrainTimeout bounds how long Close waits for queued events; the default is 30 seconds
func WithDrainTimeout(d time.Duration) SinkOption {
	return func(s *Sink) {
		if d > 0 {
			s.drainTimeout = d
		}
	}
}

// NewSink wraps logger. A nil log discards sink diagnostics.
func NewSink(logger Logger, log *observability.Logger, opts ...SinkOption) *Sink {
	if log == nil {
		log = observability.NewNopLogger()
	}
	s := &Sink{
		logger:       logger,
		log:          log.WithField("component", "audit_sink"),
		writeTimeout: 5 * time.Second,
		drainTimeout: 30 * time.Second,
		workers:      DefaultSinkWorkers,
		queueSize:    DefaultSinkQueueSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	if logger != nil {
		s.pool = async.NewWorkerPool(context.Background(), async.PoolConfig{
			Name:      "audit sink",
			Workers:   s.workers,
			QueueSize: s.queueSize,
			Timeout:   s.writeTimeout,
		}, s.log)
	}
	return s
}

// LogAuthorizationAttempt records one authorization decision
func (s *Sink) LogAuthorizationAttempt(ctx context.Context, email, resource string, authorized bool, reason string) {
	status := EventStatusDenied
	if authorized {
		status = EventStatusAllowed
	}
	event := NewEvent(EventTypeAuthorizationAttempt, status, email)
	event.Resource = resource
	event.Reason = reason
	s.dispatch(ctx, event)
}

// LogRoleAssignment records a role change
func (s *Sink) LogRoleAssignment(ctx context.Context, assignerEmail, targetEmail, previousRole, newRole, reason string) {
	event := NewEvent(EventTypeRoleAssignment, EventStatusSuccess, assignerEmail)
	event.TargetEmail = targetEmail
	event.PreviousRole = previousRole
	event.NewRole = newRole
	event.Reason = reason
	s.dispatch(ctx, event)
}

func (s *Sink) dispatch(ctx context.Context, event *AuditEvent) {
	event.RequestID = contextkeys.GetRequestID(ctx)
	if s.pool == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.drop(event, async.ErrPoolClosed)
		return
	}

	s.pending.Add(1)
	err := s.pool.TrySubmit(func(ctx context.Context) error {
		defer s.pending.Done()
		s.write(ctx, event)
		return nil
	})
	if err != nil {
		s.pending.Done()
		if errors.Is(err, async.ErrQueueFull) {
			err = ErrSinkQueueFull
		}
		s.drop(event, err)
	}
}

func (s *Sink) write(ctx context.Context, event *AuditEvent) {
	err := s.logger.Log(ctx, event)
	if s.recorder != nil {
		s.recorder.RecordAuditWrite(string(event.EventType), err)
	}
	if err != nil {
		s.eventLog(event).WithError(err).Warn("failed to write audit event")
	}
}

func (s *Sink) drop(event *AuditEvent, reason error) {
	if s.recorder != nil {
		s.recorder.RecordAuditWrite(string(event.EventType), reason)
	}
	s.eventLog(event).WithError(reason).Warn("dropped audit event")
}

func (s *Sink) eventLog(event *AuditEvent) *observability.Logger {
	return s.log.WithFields(map[string]interface{}{
		"event_type": string(event.EventType),
		"event_id":   event.ID,
		"actor":      event.ActorEmail,
	})
}

// Wait blocks until every accepted event has been written or has failed
func (s *Sink) Wait() {
	s.pending.Wait()
}

// Close stops accepting events, waits for queued ones to be written and
// closes the underlying logger. Events logged after Close are dropped.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if s.pool == nil {
		return nil
	}
	drainErr := s.pool.Shutdown(s.drainTimeout)
	if drainErr != nil {
		s.log.WithError(drainErr).Warn("audit events still pending at close")
	}
	return errors.Join(drainErr, s.logger.Close())
}
