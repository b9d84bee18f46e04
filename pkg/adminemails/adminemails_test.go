package adminemails

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"empty", "", []string{}},
		{"blanks only", " , ,,", []string{}},
		{"comma list", "a@co.com, B@Co.com ,c@co.com", []string{"a@co.com", "b@co.com", "c@co.com"}},
		{"newlines and comments", "# admins\na@co.com\n\nb@co.com,c@co.com\n", []string{"a@co.com", "b@co.com", "c@co.com"}},
		{"duplicates", "a@co.com,A@co.com", []string{"a@co.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.raw))
		})
	}
}

func TestStatic(t *testing.T) {
	s := NewStatic("boss@co.com")
	emails, err := s.AdminEmails()
	require.NoError(t, err)
	assert.Equal(t, []string{"boss@co.com"}, emails)

	emails[0] = "mutated"
	again, _ := s.AdminEmails()
	assert.Equal(t, "boss@co.com", again[0])
}

func TestEnv(t *testing.T) {
	t.Setenv("TEST_ADMIN_EMAILS", "x@co.com,y@co.com")
	src := Env{Var: "TEST_ADMIN_EMAILS"}

	emails, err := src.AdminEmails()
	require.NoError(t, err)
	assert.Equal(t, []string{"x@co.com", "y@co.com"}, emails)

	t.Setenv("TEST_ADMIN_EMAILS", "")
	emails, err = src.AdminEmails()
	require.NoError(t, err)
	assert.Empty(t, emails)
}

func TestFileSource_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admins.txt")
	require.NoError(t, os.WriteFile(path, []byte("a@co.com\nb@co.com\n"), 0o600))

	var counts []int
	fs, err := NewFileSource(path, nil, func(n int, err error) {
		require.NoError(t, err)
		counts = append(counts, n)
	})
	require.NoError(t, err)

	emails, err := fs.AdminEmails()
	require.NoError(t, err)
	assert.Equal(t, []string{"a@co.com", "b@co.com"}, emails)
	assert.Equal(t, []int{2}, counts)
}

func TestFileSource_MissingFile(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing.txt"), nil, nil)
	assert.Error(t, err)

	_, err = NewFileSource("", nil, nil)
	assert.Error(t, err)
}

func TestFileSource_ReloadKeepsLastGood(t *testing.T) {
	path := filepath.Join(t.TempDir(), "admins.txt")
	require.NoError(t, os.WriteFile(path, []byte("a@co.com"), 0o600))

	fs, err := NewFileSource(path, nil, nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(path))
	assert.Error(t, fs.Reload())

	emails, _ := fs.AdminEmails()
	assert.Equal(t, []string{"a@co.com"}, emails)
}

func TestFileSource_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "admins.txt")
	require.NoError(t, os.WriteFile(path, []byte("a@co.com"), 0o600))

	var mu sync.Mutex
	reloads := 0
	fs, err := NewFileSource(path, nil, func(int, error) {
		mu.Lock()
		reloads++
		mu.Unlock()
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- fs.Watch(ctx) }()

	// Let the watcher register before writing.
	time.Sleep(100 * time.Millisecond)

	tmp := filepath.Join(dir, "admins.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("a@co.com\nnew@co.com"), 0o600))
	require.NoError(t, os.Rename(tmp, path))

	assert.Eventually(t, func() bool {
		emails, _ := fs.AdminEmails()
		return len(emails) == 2 && emails[1] == "new@co.com"
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop")
	}

	mu.Lock()
	assert.GreaterOrEqual(t, reloads, 2)
	mu.Unlock()
}
