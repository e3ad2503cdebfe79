package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisRateWindow is the shared hourly counter behind the rate-ceiling
// policy rule. Many kernel instances increment the same bucket, so the count
// is global across the fleet, not per process.
type RedisRateWindow struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisRateWindow(rdb *redis.Client) *RedisRateWindow {
	return &RedisRateWindow{rdb: rdb, now: time.Now}
}

// Incr bumps the current hour's counter for the action and returns the new
// total. INCR + EXPIRE in one pipeline; the two-hour TTL is a backstop, the
// unix-hour bucket in the key does the actual windowing.
func (w *RedisRateWindow) Incr(ctx context.Context, action string) (int64, error) {
	key := GetRateWindowKey(action, w.now().Unix()/3600)

	pipe := w.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, 2*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("rate window incr: %w", err)
	}
	return incr.Val(), nil
}
