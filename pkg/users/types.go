package users

import (
	"errors"
	"strings"
	"time"
)

// Status is the account state of a user
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPending, StatusSuspended:
		return true
	}
	return false
}

var (
	// ErrNotFound is returned when no user exists for an email
	ErrNotFound = errors.New("users: not found")
	// ErrAlreadyExists is returned by CreateUser for a duplicate email
	ErrAlreadyExists = errors.New("users: already exists")
)

// User is a dashboard account keyed by email
type User struct {
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	Role      string    `json:"role"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by,omitempty"`
}

// IsActive reports whether the user may be authorized at all
func (u User) IsActive() bool {
	return u.Status == StatusActive
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Name      *string
	Role      *string
	Status    *Status
	UpdatedBy string
	UpdatedAt time.Time
}

// Apply returns u with the patch applied
func (p Patch) Apply(u User) User {
	if p.Name != nil {
		u.Name = *p.Name
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
	if p.UpdatedBy != "" {
		u.UpdatedBy = p.UpdatedBy
	}
	if p.UpdatedAt.IsZero() {
		u.UpdatedAt = time.Now().UTC()
	} else {
		u.UpdatedAt = p.UpdatedAt
	}
	return u
}

// NormalizeEmail is the canonical key form of an email
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
