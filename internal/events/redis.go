package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig controls the redis client used for event fan-out.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
	PingTimeout  time.Duration
}

func (c RedisConfig) withDefaults() RedisConfig {
	out := c
	if out.DialTimeout <= 0 {
		out.DialTimeout = 3 * time.Second
	}
	if out.ReadTimeout <= 0 {
		out.ReadTimeout = 2 * time.Second
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = 2 * time.Second
	}
	if out.PoolSize <= 0 {
		out.PoolSize = 10
	}
	if out.PingTimeout <= 0 {
		out.PingTimeout = 2 * time.Second
	}
	return out
}

// OpenRedis initializes a client and validates connectivity via PING.
func OpenRedis(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	cfg = cfg.withDefaults()
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.PingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return rdb, nil
}

// RedisPublisher publishes events on <prefix>:user:<id>:events and keeps
// the most recent call-log entries per user in <prefix>:user:<id>:calls.
type RedisPublisher struct {
	rdb        redis.UniversalClient
	prefix     string
	historyMax int64
}

func NewRedisPublisher(rdb redis.UniversalClient, prefix string, historyMax int) *RedisPublisher {
	if historyMax <= 0 {
		historyMax = 50
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix, historyMax: int64(historyMax)}
}

func (p *RedisPublisher) Channel(e Event) string {
	return p.key(e.Subject())
}

func (p *RedisPublisher) HistoryKey(userID uint) string {
	return p.key(fmt.Sprintf("user:%d:calls", userID))
}

func (p *RedisPublisher) key(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + ":" + suffix
}

func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	pipe := p.rdb.TxPipeline()
	pipe.Publish(ctx, p.Channel(e), payload)
	if e.Kind == KindCallEnded && e.Entry != nil {
		entry, err := json.Marshal(e.Entry)
		if err != nil {
			return fmt.Errorf("encode call log entry: %w", err)
		}
		key := p.HistoryKey(e.UserID)
		pipe.LPush(ctx, key, entry)
		pipe.LTrim(ctx, key, 0, p.historyMax-1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error {
	return p.rdb.Close()
}
