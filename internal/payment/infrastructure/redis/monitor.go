// Package redis holds the session monitor store. A session's watched
// references live in a capped Redis list so abandoned attempts age out with
// the session instead of accumulating.
package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const maxWatched = 10

type Monitor struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewMonitor(rdb *redis.Client, ttl time.Duration) *Monitor {
	return &Monitor{rdb: rdb, ttl: ttl}
}

func key(sessionID string) string { return "monitor:" + sessionID }

func (m *Monitor) Watch(ctx context.Context, sessionID, reference string) error {
	pipe := m.rdb.TxPipeline()
	pipe.LPush(ctx, key(sessionID), reference)
	pipe.LTrim(ctx, key(sessionID), 0, maxWatched-1)
	pipe.Expire(ctx, key(sessionID), m.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

// References returns the watched references, most recently added first.
func (m *Monitor) References(ctx context.Context, sessionID string) ([]string, error) {
	refs, err := m.rdb.LRange(ctx, key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return refs, nil
}

func (m *Monitor) Clear(ctx context.Context, sessionID string) error {
	return m.rdb.Del(ctx, key(sessionID)).Err()
}
