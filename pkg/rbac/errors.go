package rbac

import (
	"errors"
	"fmt"
)

// Kind classifies an RBAC error
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound is returned when a role, resource or user does not exist
	KindNotFound
	// KindUnauthorized is returned when a workflow is rejected by a permission,
	// hierarchy or status rule
	KindUnauthorized
	// KindInvalid is returned for malformed input (bad resource keys, empty emails)
	KindInvalid
	// KindMisconfiguration is returned when a required collaborator is missing
	KindMisconfiguration
	// KindStoreFailure is returned when the user store fails
	KindStoreFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindInvalid:
		return "invalid"
	case KindMisconfiguration:
		return "misconfiguration"
	case KindStoreFailure:
		return "store_failure"
	default:
		return "unknown"
	}
}

var (
	// ErrUserNotFound indicates the user store has no record for an email
	ErrUserNotFound = errors.New("user not found")
	// ErrRoleNotFound indicates a role identifier is not in the catalog
	ErrRoleNotFound = errors.New("role not found")
	// ErrResourceNotFound indicates a resource identifier is not in the catalog
	ErrResourceNotFound = errors.New("resource not found")
)

// Error is the single failure type returned by the RBAC services.
// Message is safe to show to end users; Err carries the underlying cause.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, or KindUnknown if err is not an *Error
func KindOf(err error) Kind {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindUnknown
}

// MessageOf returns the user-facing message of err
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var rerr *Error
	if errors.As(err, &rerr) && rerr.Message != "" {
		return rerr.Message
	}
	return err.Error()
}

func notFound(op, message string, cause error) error {
	return &Error{Kind: KindNotFound, Op: op, Message: message, Err: cause}
}

func unauthorized(op, message string) error {
	return &Error{Kind: KindUnauthorized, Op: op, Message: message}
}

func invalid(op, message string, cause error) error {
	return &Error{Kind: KindInvalid, Op: op, Message: message, Err: cause}
}

func misconfigured(op, message string) error {
	return &Error{Kind: KindMisconfiguration, Op: op, Message: message}
}

func storeFailure(op string, cause error) error {
	return &Error{Kind: KindStoreFailure, Op: op, Message: "user store failure", Err: cause}
}
