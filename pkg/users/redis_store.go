package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisStore keeps each user as a JSON document under <prefix>user:<email>
// and the set of known emails under <prefix>users.
type RedisStore struct {
	client *redis.Client
	prefix string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps an existing client. prefix defaults to "drivewatch:".
func NewRedisStore(client *redis.Client, prefix string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if prefix == "" {
		prefix = "drivewatch:"
	}
	return &RedisStore{client: client, prefix: prefix}, nil
}

// OpenRedisStore parses a redis:// URL, verifies the connection and returns a store
func OpenRedisStore(ctx context.Context, url, prefix string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStore(client, prefix)
}

// Client exposes the underlying client for health checks
func (s *RedisStore) Client() *redis.Client {
	return s.client
}

func (s *RedisStore) userKey(email string) string {
	return s.prefix + "user:" + email
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "users"
}

// GetUserByEmail returns the user or ErrNotFound
func (s *RedisStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.get(ctx, s.client, NormalizeEmail(email))
}

func (s *RedisStore) get(ctx context.Context, c redis.Cmdable, email string) (*User, error) {
	data, err := c.Get(ctx, s.userKey(email)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var u User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user %s: %w", email, err)
	}
	return &u, nil
}

// UpdateUser applies patch inside a WATCH transaction so concurrent writers
// cannot lose each other's changes.
func (s *RedisStore) UpdateUser(ctx context.Context, email string, patch Patch) (*User, error) {
	email = NormalizeEmail(email)
	key := s.userKey(email)

	var updated User
	txf := func(tx *redis.Tx) error {
		current, err := s.get(ctx, tx, email)
		if err != nil {
			return err
		}
		updated = patch.Apply(*current)

		data, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}

	const maxRetries = 5
	for i := 0; i < maxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return &updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis update failed: %w", err)
	}
	return nil, fmt.Errorf("redis update failed: too much contention on %s", email)
}

// GetAllUsers returns every user sorted by email
func (s *RedisStore) GetAllUsers(ctx context.Context) ([]User, error) {
	emails, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers failed: %w", err)
	}
	sort.Strings(emails)

	out := make([]User, 0, len(emails))
	if len(emails) == 0 {
		return out, nil
	}

	keys := make([]string, len(emails))
	for i, e := range emails {
		keys[i] = s.userKey(e)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry without a document
			continue
		}
		var u User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			return nil, fmt.Errorf("failed to unmarshal user %s: %w", emails[i], err)
		}
		out = append(out, u)
	}
	return out, nil
}

// createScript writes the document only if it is absent and always indexes
// the email, so a document and its index entry never diverge. Returns 1 when
// the document was created.
var createScript = redis.NewScript(`
local created = redis.call("SETNX", KEYS[1], ARGV[1])
redis.call("SADD", KEYS[2], ARGV[2])
return created
`)

// CreateUser inserts a new user. The document write and the index update run
// as one script.
func (s *RedisStore) CreateUser(ctx context.Context, user User) (*User, error) {
	user, err := prepareNew(user)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal user: %w", err)
	}

	created, err := createScript.Run(ctx, s.client,
		[]string{s.userKey(user.Email), s.indexKey()},
		string(data), user.Email,
	).Int()
	if err != nil {
		return nil, fmt.Errorf("redis create failed: %w", err)
	}
	if created == 0 {
		return nil, ErrAlreadyExists
	}
	return &user, nil
}

// Close closes the client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
