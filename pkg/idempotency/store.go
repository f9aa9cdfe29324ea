// Package idempotency provides the Redis-backed duplicate suppression and
// per-reference mutual exclusion the reconciler runs under. The SQL
// compare-and-swap on the transaction state stays the authoritative guard;
// the lock only keeps concurrent channels from doing redundant work.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewStore(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

// Seen reports whether the key has been marked. Used to drop duplicate
// webhook deliveries cheaply before they hit the database.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Mark records the key for the store's TTL. Callers mark only after the work
// behind the key succeeded, so a failed first delivery is retryable.
func (s *Store) Mark(ctx context.Context, key string) error {
	return s.rdb.Set(ctx, key, "1", s.ttl).Err()
}

var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Lock acquires a per-key mutex, retrying until the context expires. The
// returned function releases the lock; release of an expired lock is a no-op.
func (s *Store) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	lockKey := "lock:" + key
	for {
		ok, err := s.rdb.SetNX(ctx, lockKey, token, s.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquiring lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(25 * time.Millisecond):
		}
	}
	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = unlockScript.Run(releaseCtx, s.rdb, []string{lockKey}, token).Err()
	}
	return release, nil
}
