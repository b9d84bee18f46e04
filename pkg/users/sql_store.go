package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

// SQLStore persists users in PostgreSQL (lib/pq) or SQLite (go-sqlite3).
// Queries use $N placeholders in ascending order, which both drivers accept.
type SQLStore struct {
	db *sql.DB
}

var _ Store = (*SQLStore)(nil)

const usersSchema = `
CREATE TABLE IF NOT EXISTS users (
	email      VARCHAR(320) PRIMARY KEY,
	name       VARCHAR(255) NOT NULL DEFAULT '',
	role       VARCHAR(50)  NOT NULL,
	status     VARCHAR(20)  NOT NULL,
	created_at TIMESTAMP    NOT NULL,
	updated_at TIMESTAMP    NOT NULL,
	updated_by VARCHAR(320) NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);
`

// NewSQLStore creates a SQLStore over an open database
func NewSQLStore(db *sql.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &SQLStore{db: db}, nil
}

// OpenSQLStore opens driver/dsn, verifies the connection and ensures the schema
func OpenSQLStore(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	s := &SQLStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// DB exposes the underlying handle for health checks
func (s *SQLStore) DB() *sql.DB {
	return s.db
}

// Migrate creates the users table if it does not exist
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usersSchema); err != nil {
		return fmt.Errorf("failed to ensure users table: %w", err)
	}
	return nil
}

// GetUserByEmail returns the user or ErrNotFound
func (s *SQLStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	query := `
		SELECT email, name, role, status, created_at, updated_at, updated_by
		FROM users
		WHERE email = $1
	`

	u, err := scanUser(s.db.QueryRowContext(ctx, query, NormalizeEmail(email)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// UpdateUser applies patch and returns the stored row
func (s *SQLStore) UpdateUser(ctx context.Context, email string, patch Patch) (*User, error) {
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		UPDATE users
		SET name = COALESCE($1, name),
		    role = COALESCE($2, role),
		    status = COALESCE($3, status),
		    updated_at = $4,
		    updated_by = $5
		WHERE email = $6
	`

	res, err := s.db.ExecContext(ctx, query,
		nullableString(patch.Name),
		nullableString(patch.Role),
		nullableStatus(patch.Status),
		updatedAt,
		patch.UpdatedBy,
		NormalizeEmail(email),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	if rows == 0 {
		return nil, ErrNotFound
	}
	return s.GetUserByEmail(ctx, email)
}

// GetAllUsers returns every user ordered by email
func (s *SQLStore) GetAllUsers(ctx context.Context) ([]User, error) {
	query := `
		SELECT email, name, role, status, created_at, updated_at, updated_by
		FROM users
		ORDER BY email ASC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	out := []User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return out, nil
}

// CreateUser inserts a new user
func (s *SQLStore) CreateUser(ctx context.Context, user User) (*User, error) {
	user, err := prepareNew(user)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (email, name, role, status, created_at, updated_at, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = s.db.ExecContext(ctx, query,
		user.Email,
		user.Name,
		user.Role,
		string(user.Status),
		user.CreatedAt,
		user.UpdatedAt,
		user.UpdatedBy,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

// Close closes the database handle
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func scanUser(scanner interface {
	Scan(dest ...interface{}) error
}) (*User, error) {
	var u User
	var status string
	err := scanner.Scan(
		&u.Email,
		&u.Name,
		&u.Role,
		&status,
		&u.CreatedAt,
		&u.UpdatedAt,
		&u.UpdatedBy,
	)
	if err != nil {
		return nil, err
	}
	u.Status = Status(status)
	return &u, nil
}

func nullableString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableStatus(s *Status) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*s), Valid: true}
}

// isUniqueViolation reports a duplicate key from either driver
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
