package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"knowledge_server/server/common/apperr"
)

// Counter tracks per-owner AI credit consumption in redis, one key per
// calendar month. Limit 0 disables enforcement.
type Counter struct {
	redis *redis.Client
	limit int64
}

func NewCounter(client *redis.Client, limit int64) *Counter {
	return &Counter{redis: client, limit: limit}
}

func key(ownerID string, now time.Time) string {
	return fmt.Sprintf("usage:%s:%s", ownerID, now.UTC().Format("200601"))
}

// CheckAndReserve increments the owner's counter and rejects the call when
// the configured limit is already spent. The increment happens before the
// provider call so a crash mid-call never under-counts.
func (c *Counter) CheckAndReserve(ctx context.Context, ownerID string) error {
	if c.limit <= 0 {
		return nil
	}
	used, err := c.redis.Incr(ctx, key(ownerID, time.Now())).Result()
	if err != nil {
		return err
	}
	if used > c.limit {
		return apperr.QuotaExceeded(fmt.Sprintf("ai credit limit of %d reached", c.limit))
	}
	return nil
}

// Record counts a successful call without enforcing the limit; the
// ingestion pipeline uses it because a failed extraction is retried with
// the same inputs and must not burn credits twice.
func (c *Counter) Record(ctx context.Context, ownerID string) error {
	return c.redis.Incr(ctx, key(ownerID, time.Now())).Err()
}

func (c *Counter) Limit() int64 {
	return c.limit
}

func (c *Counter) Used(ctx context.Context, ownerID string) (int64, error) {
	used, err := c.redis.Get(ctx, key(ownerID, time.Now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return used, err
}
