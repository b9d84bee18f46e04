package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics mirrors the decision metrics onto the OpenTelemetry meter
// provider so they are exported alongside traces.
type OTelMetrics struct {
	authorizations      metric.Int64Counter
	authorizationTiming metric.Float64Histogram
	roleAssignments     metric.Int64Counter
}

// NewOTelMetrics creates the instruments on the global meter provider
func NewOTelMetrics() (*OTelMetrics, error) {
	meter := otel.Meter("github.com/platinummonkey/drivewatch")

	m := &OTelMetrics{}
	var err error

	m.authorizations, err = meter.Int64Counter(
		"rbac.authorizations",
		metric.WithDescription("Authorization decisions"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorizations counter: %w", err)
	}

	m.authorizationTiming, err = meter.Float64Histogram(
		"rbac.authorization.duration",
		metric.WithDescription("Authorization decision latency"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization duration histogram: %w", err)
	}

	m.roleAssignments, err = meter.Int64Counter(
		"rbac.role_assignments",
		metric.WithDescription("Role assignment attempts"),
		metric.WithUnit("{assignment}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create role assignments counter: %w", err)
	}

	return m, nil
}

// RecordAuthorization records one authorization decision
func (m *OTelMetrics) RecordAuthorization(resource string, authorized bool, duration time.Duration) {
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("resource", resource),
		attribute.Bool("authorized", authorized),
	)
	m.authorizations.Add(ctx, 1, attrs)
	m.authorizationTiming.Record(ctx, duration.Seconds(), metric.WithAttributes(attribute.String("resource", resource)))
}

// RecordRoleAssignment records one role assignment attempt
func (m *OTelMetrics) RecordRoleAssignment(newRole string, success bool) {
	m.roleAssignments.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("new_role", newRole),
		attribute.Bool("success", success),
	))
}

// DecisionRecorder is the method set shared by Metrics and OTelMetrics
type DecisionRecorder interface {
	RecordAuthorization(resource string, authorized bool, duration time.Duration)
	RecordRoleAssignment(newRole string, success bool)
}

// Recorders fans decision metrics out to every non-nil recorder
type Recorders []DecisionRecorder

// RecordAuthorization forwards to every recorder
func (rs Recorders) RecordAuthorization(resource string, authorized bool, duration time.Duration) {
	for _, r := range rs {
		if r != nil {
			r.RecordAuthorization(resource, authorized, duration)
		}
	}
}

// RecordRoleAssignment forwards to every recorder
func (rs Recorders) RecordRoleAssignment(newRole string, success bool) {
	for _, r := range rs {
		if r != nil {
			r.RecordRoleAssignment(newRole, success)
		}
	}
}
