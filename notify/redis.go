package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStreamConfig configures the Redis stream sink
type RedisStreamConfig struct {
	Stream string
	// MaxLen trims the stream approximately; zero keeps everything
	MaxLen int64
}

// RedisStream appends alert messages to a Redis stream with XADD
type RedisStream struct {
	client *redis.Client
	cfg    RedisStreamConfig
	logger *zap.SugaredLogger
}

// NewRedisStream creates the sink on an existing client
func NewRedisStream(client *redis.Client, cfg RedisStreamConfig, logger *zap.SugaredLogger) *RedisStream {
	if cfg.Stream == "" {
		cfg.Stream = "vigil:alerts"
	}
	return &RedisStream{client: client, cfg: cfg, logger: logger}
}

// Name identifies the sink in logs and metrics
func (r *RedisStream) Name() string {
	return "redis"
}

// Send adds one entry with the alert id, severity and the JSON message
func (r *RedisStream) Send(ctx context.Context, msg AlertMessage) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal alert message: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: r.cfg.Stream,
		Values: map[string]interface{}{
			"type":     msg.Type,
			"alert_id": msg.Alert.ID,
			"severity": string(msg.Alert.Severity),
			"payload":  string(payload),
		},
	}
	if r.cfg.MaxLen > 0 {
		args.MaxLen = r.cfg.MaxLen
		args.Approx = true
	}

	if err := r.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to add alert to stream %s: %w", r.cfg.Stream, err)
	}
	return nil
}
