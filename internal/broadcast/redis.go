package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher PUBLISHes events on a channel so other processes (or other
// replicas' viewers) can follow the canvas. It also keeps per-minute
// placement counters next to the channel.
type RedisPublisher struct {
	rdb     *redis.Client
	channel string
	prefix  string
	ttl     time.Duration
}

// RedisOption configures a RedisPublisher.
type RedisOption func(*RedisPublisher)

// WithRedisStatsPrefix sets the key prefix of the placement counters.
func WithRedisStatsPrefix(prefix string) RedisOption {
	return func(p *RedisPublisher) { p.prefix = strings.Trim(prefix, ":") }
}

// WithRedisStatsTTL sets how long per-minute counters live.
func WithRedisStatsTTL(d time.Duration) RedisOption {
	return func(p *RedisPublisher) { p.ttl = d }
}

// NewRedisPublisher creates a RedisPublisher on channel.
func NewRedisPublisher(rdb *redis.Client, channel string, opts ...RedisOption) *RedisPublisher {
	p := &RedisPublisher{
		rdb:     rdb,
		channel: channel,
		prefix:  "pixelplace:stats",
		ttl:     24 * time.Hour,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// NewRedisClient parses a redis:// URL and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Channel returns the pub/sub channel name.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

func (p *RedisPublisher) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	bucketKey := fmt.Sprintf("%s:minute:%s", p.prefix, at.UTC().Format("200601021504"))

	pipe := p.rdb.Pipeline()
	pipe.Publish(ctx, p.channel, data)
	pipe.HIncrBy(ctx, p.prefix+":total", "placements", 1)
	pipe.HIncrBy(ctx, bucketKey, "placements", 1)
	if p.ttl > 0 {
		pipe.Expire(ctx, bucketKey, p.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}
