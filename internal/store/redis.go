package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// compareAndDelete deletes KEYS[1] only while it holds ARGV[1].
var compareAndDelete = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Store backed by a Redis server or cluster. Keys are namespaced
// with an optional prefix so several services can share one instance.
type Redis struct {
	rdb    redis.UniversalClient
	prefix string
}

// NewRedis wraps an already-configured client. The caller owns its lifecycle.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	return &Redis{rdb: rdb, prefix: prefix}
}

func (r *Redis) k(key string) string { return r.prefix + key }

// SetIfAbsent implements Store with SET key value NX PX ttl.
func (r *Redis) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	if err := checkTTL(ttl); err != nil {
		return false, err
	}
	return r.rdb.SetNX(ctx, r.k(key), value, ttl).Result()
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.rdb.Get(ctx, r.k(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	return v, err
}

// Set implements Store.
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := checkTTL(ttl); err != nil {
		return err
	}
	return r.rdb.Set(ctx, r.k(key), value, ttl).Err()
}

// Delete implements Store.
func (r *Redis) Delete(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, r.k(key)).Err()
}

// CompareAndDelete implements Store using a server-side script so the check
// and the delete are one atomic step.
func (r *Redis) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	n, err := compareAndDelete.Run(ctx, r.rdb, []string{r.k(key)}, value).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

var _ Store = (*Redis)(nil)
