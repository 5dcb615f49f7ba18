// redisstream.go implements the Redis stream sink: XADD with an approximate
// MAXLEN cap so the stream cannot grow without bound when no consumer trims it.
package shipper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/fieldtrace/fieldtrace/internal/config"
)

// DefaultStream is used when no stream key is configured.
const DefaultStream = "fieldtrace:changes"

// RedisStreamShipper delivers envelopes to a Redis stream
type RedisStreamShipper struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamShipper creates a new Redis stream shipper using the shared
// Redis connection settings.
func NewRedisStreamShipper(rc *config.RedisConfig, cfg *config.RedisStreamShipperConfig) (*RedisStreamShipper, error) {
	if rc.Addr == "" {
		return nil, fmt.Errorf("redis address is required for the redis_stream shipper")
	}

	stream := cfg.Stream
	if stream == "" {
		stream = DefaultStream
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	return &RedisStreamShipper{
		client: client,
		stream: stream,
		maxLen: cfg.MaxLen,
	}, nil
}

// Ship appends one envelope to the stream
func (rs *RedisStreamShipper) Ship(ctx context.Context, env *Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: rs.stream,
		Values: map[string]interface{}{
			"kind":      env.Kind,
			"entity_id": env.EntityID,
			"payload":   data,
		},
	}
	if rs.maxLen > 0 {
		args.MaxLen = rs.maxLen
		args.Approx = true
	}

	if err := rs.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to append to redis stream: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (rs *RedisStreamShipper) Close() error {
	return rs.client.Close()
}
