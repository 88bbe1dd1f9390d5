package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/clinic-api/pkg/messaging"
)

type RedisBroker struct {
	client *redis.Client
	logger zerolog.Logger
}

type Config struct {
	URL          string
	MaxRetries   int
	RetryBackoff time.Duration
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
}

var _ messaging.Broker = (*RedisBroker)(nil)

// NewRedisBroker connects to Redis and fails if the server does not answer a ping.
func NewRedisBroker(ctx context.Context, config Config, logger zerolog.Logger) (*RedisBroker, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Configure connection pooling
	opts.MaxRetries = config.MaxRetries
	opts.MinRetryBackoff = config.RetryBackoff
	opts.PoolSize = config.PoolSize
	opts.MinIdleConns = config.MinIdleConns
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBroker{
		client: client,
		logger: logger.With().Str("component", "redis-broker").Logger(),
	}, nil
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	receivers, err := b.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	b.logger.Debug().Str("channel", channel).Int64("receivers", receivers).Msg("message published")
	return nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Close() error {
	return b.client.Close()
}
