package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what kind of action an audit event records
type EventType string

const (
	// EventTypeAuthorizationAttempt is written once per authorization decision
	EventTypeAuthorizationAttempt EventType = "authorization.attempt"
	// EventTypeRoleAssignment is written when a user's role changes, including
	// the initial role given at registration
	EventTypeRoleAssignment EventType = "role.assignment"
)

// EventStatus represents the outcome of an audited action
type EventStatus string

const (
	EventStatusAllowed EventStatus = "allowed"
	EventStatusDenied  EventStatus = "denied"
	EventStatusSuccess EventStatus = "success"
)

// AuditEvent is a single audit log entry
type AuditEvent struct {
	ID        string      `json:"id"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`

	// ActorEmail is the user whose access was checked, or the assigner of a role
	ActorEmail  string `json:"actor_email"`
	TargetEmail string `json:"target_email,omitempty"`

	Resource     string `json:"resource,omitempty"`
	PreviousRole string `json:"previous_role,omitempty"`
	NewRole      string `json:"new_role,omitempty"`
	Reason       string `json:"reason,omitempty"`

	RequestID string                 `json:"request_id,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewEvent returns an event with a fresh id and the current UTC time
func NewEvent(eventType EventType, status EventStatus, actorEmail string) *AuditEvent {
	return &AuditEvent{
		ID:         uuid.NewString(),
		Timestamp:  time.Now().UTC(),
		EventType:  eventType,
		Status:     status,
		ActorEmail: actorEmail,
		Metadata:   make(map[string]interface{}),
	}
}

// Logger persists audit events
type Logger interface {
	Log(ctx context.Context, event *AuditEvent) error
	Close() error
}

// Searcher reads audit events back, newest first
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*AuditEvent, error)
}

// SearchFilter narrows a Search. Zero values match everything.
type SearchFilter struct {
	StartTime *time.Time
	EndTime   *time.Time

	ActorEmail  string
	TargetEmail string
	Resource    string

	EventTypes []EventType
	Status     *EventStatus

	Limit  int
	Offset int
}

// Matches reports whether event satisfies every filter except pagination
func (f SearchFilter) Matches(event *AuditEvent) bool {
	if f.StartTime != nil && event.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && event.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.ActorEmail != "" && !strings.EqualFold(f.ActorEmail, event.ActorEmail) {
		return false
	}
	if f.TargetEmail != "" && !strings.EqualFold(f.TargetEmail, event.TargetEmail) {
		return false
	}
	if f.Resource != "" && f.Resource != event.Resource {
		return false
	}
	if f.Status != nil && *f.Status != event.Status {
		return false
	}
	if len(f.EventTypes) > 0 {
		found := false
		for _, et := range f.EventTypes {
			if et == event.EventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ExportFormat represents the format for exporting audit logs
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatCSV    ExportFormat = "csv"
	ExportFormatNDJSON ExportFormat = "ndjson" // Newline-delimited JSON
)

// ParseExportFormat accepts json, ndjson or csv; empty means json
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExportFormatJSON:
		return ExportFormatJSON, nil
	case ExportFormatNDJSON:
		return ExportFormatNDJSON, nil
	case ExportFormatCSV:
		return ExportFormatCSV, nil
	}
	return "", fmt.Errorf("unsupported export format: %q", s)
}
