package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var dedupClaimScript = redis.NewScript(`
-- KEYS[1] = event key
-- ARGV[1] = inflight ttl_ms
--
-- Returns 1 if claimed, 0 if already inflight or processed.
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], 'inflight', 'PX', ARGV[1])
return 1
`)

var dedupReleaseScript = redis.NewScript(`
-- KEYS[1] = event key
-- Only an inflight claim may be released; a processed marker stays.
if redis.call('GET', KEYS[1]) == 'inflight' then
  redis.call('DEL', KEYS[1])
end
return 1
`)

// RedisDeduper shares dedup state across replicas.
//
// The inflight TTL bounds how long a crashed replica can hold a claim; the
// retention TTL bounds how long a processed event stays recognized, which
// must exceed the provider's redelivery horizon.
type RedisDeduper struct {
	rdb       *redis.Client
	prefix    string
	inflight  time.Duration
	retention time.Duration
}

func NewRedisDeduper(rdb *redis.Client, prefix string, retention time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = "webhook:event:"
	}
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &RedisDeduper{
		rdb:       rdb,
		prefix:    prefix,
		inflight:  2 * time.Minute,
		retention: retention,
	}
}

func (d *RedisDeduper) key(eventID string) string { return d.prefix + eventID }

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	res, err := dedupClaimScript.Run(ctx, d.rdb, []string{d.key(eventID)}, d.inflight.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("dedup claim: %w", err)
	}
	return res == 1, nil
}

func (d *RedisDeduper) MarkProcessed(ctx context.Context, eventID string) error {
	if err := d.rdb.Set(ctx, d.key(eventID), "done", d.retention).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	if err := dedupReleaseScript.Run(ctx, d.rdb, []string{d.key(eventID)}).Err(); err != nil {
		return fmt.Errorf("dedup release: %w", err)
	}
	return nil
}
