package rbac

import (
	"context"
	"time"

	"github.com/platinummonkey/drivewatch/pkg/users"
)

// UserStore is the persistence the RBAC services read users from and write
// role changes to. GetUserByEmail must return users.ErrNotFound for unknown
// emails and must reflect the most recent completed UpdateUser.
type UserStore interface {
	GetUserByEmail(ctx context.Context, email string) (*users.User, error)
	UpdateUser(ctx context.Context, email string, patch users.Patch) (*users.User, error)
	GetAllUsers(ctx context.Context) ([]users.User, error)
	CreateUser(ctx context.Context, user users.User) (*users.User, error)
}

// AuditSink records authorization attempts and role assignments.
// Implementations must not block the caller and must swallow their own failures.
type AuditSink interface {
	LogAuthorizationAttempt(ctx context.Context, email, resource string, authorized bool, reason string)
	LogRoleAssignment(ctx context.Context, assignerEmail, targetEmail, previousRole, newRole, reason string)
}

// DecisionRecorder receives decision metrics
type DecisionRecorder interface {
	RecordAuthorization(resource string, authorized bool, duration time.Duration)
	RecordRoleAssignment(newRole string, success bool)
}

type nopAuditSink struct{}

func (nopAuditSink) LogAuthorizationAttempt(context.Context, string, string, bool, string) {}

func (nopAuditSink) LogRoleAssignment(context.Context, string, string, string, string, string) {}

type nopRecorder struct{}

func (nopRecorder) RecordAuthorization(string, bool, time.Duration) {}

func (nopRecorder) RecordRoleAssignment(string, bool) {}
