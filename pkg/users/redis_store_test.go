package users

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		_, client := setupRedis(t)
		s, err := NewRedisStore(client, "test:")
		require.NoError(t, err)
		return s
	})
}

func TestRedisStore_KeyLayout(t *testing.T) {
	mr, client := setupRedis(t)
	s, err := NewRedisStore(client, "")
	require.NoError(t, err)

	_, err = s.CreateUser(context.Background(), User{Email: "Alice@Example.com", Role: "user"})
	require.NoError(t, err)

	assert.True(t, mr.Exists("drivewatch:user:alice@example.com"))
	members, err := mr.Members("drivewatch:users")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice@example.com"}, members)
}

func TestRedisStore_SkipsDanglingIndexEntries(t *testing.T) {
	mr, client := setupRedis(t)
	s, err := NewRedisStore(client, "t:")
	require.NoError(t, err)

	_, err = s.CreateUser(context.Background(), User{Email: "a@example.com", Role: "user"})
	require.NoError(t, err)
	_, err = mr.SAdd("t:users", "ghost@example.com")
	require.NoError(t, err)

	all, err := s.GetAllUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "a@example.com", all[0].Email)
}

func TestRedisStore_CorruptDocument(t *testing.T) {
	mr, client := setupRedis(t)
	s, err := NewRedisStore(client, "t:")
	require.NoError(t, err)

	require.NoError(t, mr.Set("t:user:bad@example.com", "{not json"))

	_, err = s.GetUserByEmail(context.Background(), "bad@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_Unavailable(t *testing.T) {
	mr, client := setupRedis(t)
	s, err := NewRedisStore(client, "t:")
	require.NoError(t, err)
	mr.Close()

	_, err = s.GetUserByEmail(context.Background(), "a@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestOpenRedisStore(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	s, err := OpenRedisStore(context.Background(), "redis://"+mr.Addr()+"/0", "")
	require.NoError(t, err)
	defer s.Close()
	assert.NotNil(t, s.Client())

	_, err = OpenRedisStore(context.Background(), "not a url", "")
	assert.Error(t, err)
}

func TestNewRedisStore_NilClient(t *testing.T) {
	_, err := NewRedisStore(nil, "")
	assert.Error(t, err)
}

func TestRedisStore_CreateIndexesExistingDocument(t *testing.T) {
	mr, client := setupRedis(t)
	s, err := NewRedisStore(client, "t:")
	require.NoError(t, err)
	ctx := context.Background()

	// a document written without its index entry
	require.NoError(t, mr.Set("t:user:orphan@example.com", `{"email":"orphan@example.com","role":"user","status":"active"}`))

	_, err = s.CreateUser(ctx, User{Email: "orphan@example.com", Role: "guest"})
	assert.ErrorIs(t, err, ErrAlreadyExists)

	members, err := mr.Members("t:users")
	require.NoError(t, err)
	assert.Equal(t, []string{"orphan@example.com"}, members)

	all, err := s.GetAllUsers(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "user", all[0].Role, "existing document is not overwritten")
}

func TestRedisStore_CreateFailsWholeWhenRedisDown(t *testing.T) {
	mr, client := setupRedis(t)
	s, err := NewRedisStore(client, "t:")
	require.NoError(t, err)

	mr.SetError("server unavailable")
	_, err = s.CreateUser(context.Background(), User{Email: "a@example.com", Role: "user"})
	require.Error(t, err)

	mr.SetError("")
	assert.False(t, mr.Exists("t:user:a@example.com"))
	_, err = s.CreateUser(context.Background(), User{Email: "a@example.com", Role: "user"})
	assert.NoError(t, err, "a failed create leaves nothing behind to block the retry")
}
