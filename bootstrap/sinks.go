package bootstrap

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"vigil/config"
	"vigil/notify"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SinkComponents holds the alert dispatcher and the connections its sinks own.
type SinkComponents struct {
	Dispatcher *notify.Dispatcher
	Sinks      []notify.Sink
	closers    []io.Closer
}

// Close releases broker connections. The dispatcher must be closed first.
func (s *SinkComponents) Close(sugar *zap.SugaredLogger) {
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			sugar.Errorw("Failed to close sink connection", "error", err)
		}
	}
}

// InitSinks builds every enabled sink and the dispatcher that feeds them.
// With no sink enabled it returns a nil Dispatcher.
func InitSinks(ctx context.Context, cfg *config.Config, sugar *zap.SugaredLogger) (*SinkComponents, error) {
	components := &SinkComponents{}

	if cfg.Webhook.Enabled {
		webhook, err := notify.NewWebhook(notify.WebhookConfig{
			URL:           cfg.Webhook.URL,
			Secret:        cfg.Webhook.Secret,
			Timeout:       cfg.Webhook.Timeout,
			RatePerSecond: cfg.Webhook.RatePerSecond,
			Burst:         cfg.Webhook.Burst,
			Breaker: notify.BreakerConfig{
				MaxFailures: cfg.Webhook.BreakerFailures,
				Cooldown:    cfg.Webhook.BreakerCooldown,
			},
		}, sugar)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize webhook sink: %w", err)
		}
		components.Sinks = append(components.Sinks, webhook)
		sugar.Infow("Webhook sink enabled", "url", cfg.Webhook.URL)
	}

	if cfg.Redis.Enabled {
		client, err := InitRedis(ctx, cfg.Redis, sugar)
		if err != nil {
			components.Close(sugar)
			return nil, err
		}
		components.closers = append(components.closers, client)
		components.Sinks = append(components.Sinks, notify.NewRedisStream(client, notify.RedisStreamConfig{
			Stream: cfg.Redis.Stream,
			MaxLen: cfg.Redis.MaxLen,
		}, sugar))
		sugar.Infow("Redis stream sink enabled", "addr", cfg.Redis.Addr, "stream", cfg.Redis.Stream)
	}

	if cfg.Kafka.Enabled {
		topic, err := notify.NewKafkaTopic(notify.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			WriteTimeout: cfg.Kafka.WriteTimeout,
		}, sugar)
		if err != nil {
			components.Close(sugar)
			return nil, fmt.Errorf("failed to initialize kafka sink: %w", err)
		}
		components.closers = append(components.closers, topic)
		components.Sinks = append(components.Sinks, topic)
		sugar.Infow("Kafka sink enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	if len(components.Sinks) == 0 {
		sugar.Info("No alert sinks enabled")
		return components, nil
	}

	components.Dispatcher = notify.NewDispatcher(components.Sinks, notify.DispatcherConfig{
		QueueSize:   cfg.Webhook.QueueSize,
		SendTimeout: cfg.Webhook.Timeout,
	}, sugar)
	return components, nil
}

// InitRedis connects to Redis with retry logic.
func InitRedis(ctx context.Context, cfg config.RedisConfig, sugar *zap.SugaredLogger) (*redis.Client, error) {
	const maxRetries = 3
	retryDelays := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			sugar.Infow("Retrying Redis connection",
				"attempt", attempt,
				"max_retries", maxRetries,
				"delay", retryDelays[attempt-1])
			select {
			case <-time.After(retryDelays[attempt-1]):
			case <-ctx.Done():
				client.Close()
				return nil, ctx.Err()
			}
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		lastErr = client.Ping(pingCtx).Err()
		cancel()
		if lastErr == nil {
			break
		}

		sugar.Warnw("Redis connection attempt failed",
			"attempt", attempt+1,
			"error", lastErr)
	}

	if lastErr != nil {
		client.Close()
		errMsg := ClassifyConnectionError(lastErr, "Redis", cfg.Addr)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: Redis Connection Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries+1, lastErr)
	}

	sugar.Info("Connected to Redis successfully")
	return client, nil
}
