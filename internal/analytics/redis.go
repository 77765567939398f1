// Package analytics records funnel activity counters in Redis.
//
// Counters are best-effort observability: dispatch correctness never
// depends on them.
package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Config struct {
	// Window buckets counters by time: 1m, 5m, 1h.
	Window time.Duration
	// Retention is the key TTL, must be >= Window.
	Retention time.Duration
}

func DefaultConfig() Config {
	return Config{
		Window:    time.Hour,
		Retention: 30 * 24 * time.Hour,
	}
}

type RedisSink struct {
	client *redis.Client
	config Config
}

func NewRedisSink(client *redis.Client, config Config) *RedisSink {
	return &RedisSink{client: client, config: config}
}

// Write increments the (action kind, outcome) counter for the bucket
// containing t.
func (s *RedisSink) Write(ctx context.Context, kind, outcome string, t time.Time) error {
	key := buildKey(kind, outcome, t, s.config.Window)

	pipe := s.client.Pipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, s.config.Retention)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}

	return nil
}

func buildKey(kind, outcome string, t time.Time, window time.Duration) string {
	return fmt.Sprintf("k:%s:o:%s:%s", kind, outcome, truncateToBucket(t, window))
}

func truncateToBucket(t time.Time, window time.Duration) string {
	t = t.UTC()
	switch window {
	case time.Minute:
		return t.Format("200601021504")
	case 5 * time.Minute:
		minute := (t.Minute() / 5) * 5
		return t.Format("2006010215") + fmt.Sprintf("%02d", minute)
	case time.Hour:
		return t.Format("2006010215")
	default:
		return t.Format("200601021504")
	}
}
