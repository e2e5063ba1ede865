package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/rickgao/streamlabs-tracer/internal/model"
)

const defaultRedisTimeout = 5 * time.Second

// Publisher is the subset of the go-redis client used for publishing.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *goredis.IntCmd
}

// Redis publishes events as JSON to a pub/sub channel for an out-of-process
// rule engine.
type Redis struct {
	pub     Publisher
	channel string
}

// NewRedis creates a redis dispatcher.
func NewRedis(pub Publisher, channel string) *Redis {
	return &Redis{pub: pub, channel: channel}
}

// HandleEvent publishes the event.
func (r *Redis) HandleEvent(ctx context.Context, ev model.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := r.pub.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to redis: %w", err)
	}

	return nil
}

// RedisOptions configures the redis connection.
type RedisOptions struct {
	Addrs        []string
	MasterName   string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient creates a client for single-node, Sentinel or Cluster
// deployments and verifies it with a ping.
func NewRedisClient(ctx context.Context, opts RedisOptions) (goredis.UniversalClient, error) {
	if len(opts.Addrs) == 0 {
		return nil, errors.New("at least one redis address is required")
	}

	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:        opts.Addrs,
		MasterName:   opts.MasterName,
		Username:     opts.Username,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  orDefault(opts.DialTimeout),
		ReadTimeout:  orDefault(opts.ReadTimeout),
		WriteTimeout: orDefault(opts.WriteTimeout),
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func orDefault(d time.Duration) time.Duration {
	if d == 0 {
		return defaultRedisTimeout
	}
	return d
}
