package users

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store persists users. Emails are normalized with NormalizeEmail before use.
type Store interface {
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, email string, patch Patch) (*User, error)
	GetAllUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, user User) (*User, error)
	Close() error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a MemoryStore seeded with the given users
func NewMemoryStore(seed ...User) *MemoryStore {
	s := &MemoryStore{users: make(map[string]User, len(seed))}
	for _, u := range seed {
		u.Email = NormalizeEmail(u.Email)
		s.users[u.Email] = u
	}
	return s
}

// GetUserByEmail returns the user or ErrNotFound
func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// UpdateUser applies patch to an existing user
func (s *MemoryStore) UpdateUser(ctx context.Context, email string, patch Patch) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := NormalizeEmail(email)
	u, ok := s.users[key]
	if !ok {
		return nil, ErrNotFound
	}
	u = patch.Apply(u)
	s.users[key] = u
	return &u, nil
}

// GetAllUsers returns every user sorted by email
func (s *MemoryStore) GetAllUsers(ctx context.Context) ([]User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

// CreateUser inserts a new user
func (s *MemoryStore) CreateUser(ctx context.Context, user User) (*User, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	user, err := prepareNew(user)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Email]; exists {
		return nil, ErrAlreadyExists
	}
	s.users[user.Email] = user
	return &user, nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}

// prepareNew normalizes and validates a user about to be created
func prepareNew(user User) (User, error) {
	user.Email = NormalizeEmail(user.Email)
	if user.Email == "" {
		return User{}, fmt.Errorf("users: email is required")
	}
	if user.Role == "" {
		return User{}, fmt.Errorf("users: role is required")
	}
	if user.Status == "" {
		user.Status = StatusPending
	}
	if !user.Status.Valid() {
		return User{}, fmt.Errorf("users: invalid status %q", user.Status)
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	return user, nil
}
