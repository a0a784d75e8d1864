package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key layout:
//   ical:<key>             calendar document
//   ical:<key>:updated_at  RFC3339Nano write timestamp
const (
	redisKeyPrefix     = "ical:"
	redisUpdatedSuffix = ":updated_at"
)

// RedisStore keeps documents in a remote key-value store. Freshness is
// tracked explicitly in a sibling key since Redis has no per-key mtime.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects using a redis:// URL and verifies the
// connection with a ping.
func NewRedisStore(ctx context.Context, rawURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{rdb: rdb}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, time.Time, error) {
	data, err := s.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, time.Time{}, ErrNotFound
		}
		return nil, time.Time{}, err
	}

	// A missing or malformed timestamp degrades to the zero time, which
	// the serve layer treats as stale; the document itself still serves.
	var updatedAt time.Time
	if raw, err := s.rdb.Get(ctx, redisKeyPrefix+key+redisUpdatedSuffix).Result(); err == nil {
		if ts, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			updatedAt = ts
		}
	}
	return data, updatedAt, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, data []byte) error {
	if err := s.rdb.Set(ctx, redisKeyPrefix+key, data, 0).Err(); err != nil {
		return err
	}
	return s.rdb.Set(ctx, redisKeyPrefix+key+redisUpdatedSuffix,
		time.Now().UTC().Format(time.RFC3339Nano), 0).Err()
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error {
	return s.rdb.Close()
}
