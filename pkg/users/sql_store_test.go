package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database with the users table
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, mock
}

var userColumns = []string{"email", "name", "role", "status", "created_at", "updated_at", "updated_by"}

func TestSQLStore_SQLite(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, err := NewSQLStore(setupTestDB(t))
		require.NoError(t, err)
		require.NoError(t, s.Migrate(context.Background()))
		return s
	})
}

func TestSQLStore_MigrateIdempotent(t *testing.T) {
	s, err := NewSQLStore(setupTestDB(t))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, s.Migrate(context.Background()))
}

func TestOpenSQLStore_SQLite(t *testing.T) {
	s, err := OpenSQLStore(context.Background(), "sqlite3", "file::memory:?cache=shared")
	require.NoError(t, err)
	defer s.Close()

	assert.NotNil(t, s.DB())
}

func TestNewSQLStore_NilDB(t *testing.T) {
	_, err := NewSQLStore(nil)
	assert.Error(t, err)
}

func TestSQLStore_GetUserByEmail_Mock(t *testing.T) {
	db, mock := setupMockDB(t)
	s, err := NewSQLStore(db)
	require.NoError(t, err)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("alice@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow("alice@example.com", "Alice", "admin", "active", now, now, ""))

	u, err := s.GetUserByEmail(context.Background(), "Alice@Example.com")
	require.NoError(t, err)
	assert.Equal(t, "admin", u.Role)
	assert.Equal(t, StatusActive, u.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetUserByEmail_NotFound(t *testing.T) {
	db, mock := setupMockDB(t)
	s, _ := NewSQLStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("ghost@example.com").
		WillReturnError(sql.ErrNoRows)

	_, err := s.GetUserByEmail(context.Background(), "ghost@example.com")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_GetUserByEmail_Failure(t *testing.T) {
	db, mock := setupMockDB(t)
	s, _ := NewSQLStore(db)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WillReturnError(errors.New("connection reset"))

	_, err := s.GetUserByEmail(context.Background(), "a@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestSQLStore_UpdateUser_Mock(t *testing.T) {
	db, mock := setupMockDB(t)
	s, _ := NewSQLStore(db)

	at := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
		WithArgs(
			sql.NullString{},
			sql.NullString{String: "owner", Valid: true},
			sql.NullString{},
			at,
			"root@example.com",
			"b@example.com",
		).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs("b@example.com").
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow("b@example.com", "", "owner", "active", at, at, "root@example.com"))

	u, err := s.UpdateUser(context.Background(), "b@example.com", Patch{
		Role:      strPtr("owner"),
		UpdatedBy: "root@example.com",
		UpdatedAt: at,
	})
	require.NoError(t, err)
	assert.Equal(t, "owner", u.Role)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_UpdateUser_NoRows(t *testing.T) {
	db, mock := setupMockDB(t)
	s, _ := NewSQLStore(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE users")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.UpdateUser(context.Background(), "ghost@example.com", Patch{Role: strPtr("user")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_CreateUser_Duplicate(t *testing.T) {
	db, mock := setupMockDB(t)
	s, _ := NewSQLStore(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO users")).
		WillReturnError(&pq.Error{Code: "23505", Message: `duplicate key value violates unique constraint "users_pkey"`})

	_, err := s.CreateUser(context.Background(), User{Email: "a@example.com", Role: "guest"})
	assert.ErrorIs(t, err, ErrAlreadyExists)
}

func TestSQLStore_GetAllUsers_Mock(t *testing.T) {
	db, mock := setupMockDB(t)
	s, _ := NewSQLStore(db)

	now := time.Now().UTC()
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY email ASC")).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow("a@example.com", "", "guest", "pending", now, now, "").
			AddRow("b@example.com", "", "owner", "active", now, now, ""))

	all, err := s.GetAllUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, StatusPending, all[0].Status)
	assert.Equal(t, "owner", all[1].Role)
}

func TestSQLStore_Migrate_Failure(t *testing.T) {
	db, mock := setupMockDB(t)
	s, _ := NewSQLStore(db)

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS users")).
		WillReturnError(errors.New("permission denied"))

	err := s.Migrate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "permission denied")
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"postgres unique", &pq.Error{Code: "23505"}, true},
		{"postgres wrapped", fmt.Errorf("insert: %w", &pq.Error{Code: "23505"}), true},
		{"postgres other", &pq.Error{Code: "23502"}, false},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite primary key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintPrimaryKey}, true},
		{"sqlite not null", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintNotNull}, false},
		{"message only", errors.New("UNIQUE constraint failed: users.email"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}
