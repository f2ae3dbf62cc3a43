package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"vigil/core"

	"github.com/spf13/viper"
)

// DataPaths holds data directory and file path configuration
type DataPaths struct {
	// DataDir is the base data directory (VIGIL_DATA_DIR, default: ./data)
	DataDir string `mapstructure:"data_dir"`
	// SQLitePath is the database file (VIGIL_SQLITE_PATH, default: ${DataDir}/vigil.db)
	SQLitePath string `mapstructure:"sqlite_path"`
}

// APIConfig configures the HTTP server
type APIConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// RulesConfig points at the declarative rule file
type RulesConfig struct {
	File             string        `mapstructure:"file"`
	MaxPatternLength int           `mapstructure:"max_pattern_length"`
	MatchTimeout     time.Duration `mapstructure:"match_timeout"`
}

// EDRConfig configures the agent control plane
type EDRConfig struct {
	// Allowlist holds the requesters allowed to issue dangerous actions
	Allowlist    []string      `mapstructure:"allowlist"`
	CallTimeout  time.Duration `mapstructure:"call_timeout"`
	OfflineAfter time.Duration `mapstructure:"offline_after"`
}

// IncidentConfig configures auto-promotion
type IncidentConfig struct {
	AutoPromote          bool   `mapstructure:"auto_promote"`
	AutoPromoteThreshold string `mapstructure:"auto_promote_threshold"`
}

// QueryConfig configures the query service
type QueryConfig struct {
	StatsCacheSize int           `mapstructure:"stats_cache_size"`
	StatsCacheTTL  time.Duration `mapstructure:"stats_cache_ttl"`
}

// IngestConfig configures the ingest pipeline
type IngestConfig struct {
	MaxMessageBytes   int    `mapstructure:"max_message_bytes"`
	MaxBatchSize      int    `mapstructure:"max_batch_size"`
	IndicatorSeverity string `mapstructure:"indicator_severity"`
}

// WebhookConfig configures the signed alert webhook
type WebhookConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	URL             string        `mapstructure:"url"`
	Secret          string        `mapstructure:"secret"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	Burst           int           `mapstructure:"burst"`
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerCooldown time.Duration `mapstructure:"breaker_cooldown"`
	QueueSize       int           `mapstructure:"queue_size"`
}

// RedisConfig configures the Redis stream sink
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
	MaxLen   int64  `mapstructure:"max_len"`
}

// KafkaConfig configures the Kafka topic sink
type KafkaConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Brokers      []string      `mapstructure:"brokers"`
	Topic        string        `mapstructure:"topic"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// RetentionConfig configures event purging. A zero EventMaxAge keeps events forever.
type RetentionConfig struct {
	EventMaxAge   time.Duration `mapstructure:"event_max_age"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// MetricsConfig configures Prometheus exposure
type MetricsConfig struct {
	Enabled             bool          `mapstructure:"enabled"`
	PoolCollectInterval time.Duration `mapstructure:"pool_collect_interval"`
}

// Config holds all configuration for the vigil service
type Config struct {
	DataPaths DataPaths       `mapstructure:"data_paths"`
	API       APIConfig       `mapstructure:"api"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Rules     RulesConfig     `mapstructure:"rules"`
	EDR       EDRConfig       `mapstructure:"edr"`
	Incident  IncidentConfig  `mapstructure:"incident"`
	Query     QueryConfig     `mapstructure:"query"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	Retention RetentionConfig `mapstructure:"retention"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

func setDefaults() {
	viper.SetDefault("data_paths.data_dir", "./data")
	viper.SetDefault("data_paths.sqlite_path", "") // Empty = derive from data_dir

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8081)
	viper.SetDefault("api.read_timeout", 15*time.Second)
	viper.SetDefault("api.write_timeout", 30*time.Second)
	viper.SetDefault("api.idle_timeout", 60*time.Second)
	viper.SetDefault("api.max_body_bytes", 1<<20)
	viper.SetDefault("api.shutdown_timeout", 15*time.Second)
	viper.SetDefault("api.allowed_origins", []string{})

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")

	viper.SetDefault("rules.file", "rules.yaml")
	viper.SetDefault("rules.max_pattern_length", 1000)
	viper.SetDefault("rules.match_timeout", 100*time.Millisecond)

	viper.SetDefault("edr.allowlist", []string{})
	viper.SetDefault("edr.call_timeout", 10*time.Second)
	viper.SetDefault("edr.offline_after", 5*time.Minute)

	viper.SetDefault("incident.auto_promote", false)
	viper.SetDefault("incident.auto_promote_threshold", "high")

	viper.SetDefault("query.stats_cache_size", 64)
	viper.SetDefault("query.stats_cache_ttl", 30*time.Second)

	viper.SetDefault("ingest.max_message_bytes", 256<<10)
	viper.SetDefault("ingest.max_batch_size", 500)
	viper.SetDefault("ingest.indicator_severity", "high")

	viper.SetDefault("webhook.enabled", false)
	viper.SetDefault("webhook.timeout", 5*time.Second)
	viper.SetDefault("webhook.rate_per_second", 10)
	viper.SetDefault("webhook.burst", 20)
	viper.SetDefault("webhook.breaker_failures", 5)
	viper.SetDefault("webhook.breaker_cooldown", 60*time.Second)
	viper.SetDefault("webhook.queue_size", 1024)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.stream", "vigil:alerts")
	viper.SetDefault("redis.max_len", 100000)

	viper.SetDefault("kafka.enabled", false)
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.topic", "vigil.alerts")
	viper.SetDefault("kafka.write_timeout", 10*time.Second)

	viper.SetDefault("retention.event_max_age", 30*24*time.Hour)
	viper.SetDefault("retention.check_interval", time.Hour)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.pool_collect_interval", 15*time.Second)
}

// loadFromEnv sets up environment variable loading
func loadFromEnv() {
	viper.SetEnvPrefix("VIGIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Shorter names for the path settings
	_ = viper.BindEnv("data_paths.data_dir", "VIGIL_DATA_DIR")
	_ = viper.BindEnv("data_paths.sqlite_path", "VIGIL_SQLITE_PATH")
	_ = viper.BindEnv("rules.file", "VIGIL_RULES_FILE")
	_ = viper.BindEnv("webhook.secret", "VIGIL_WEBHOOK_SECRET")
	_ = viper.BindEnv("redis.password", "VIGIL_REDIS_PASSWORD")
}

// LoadConfig loads configuration from defaults, an optional config file and
// VIGIL_* environment variables. With an empty file, config.yaml is looked up
// in . and ./config and may be absent.
func LoadConfig(file string) (*Config, error) {
	if file != "" {
		viper.SetConfigFile(file)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
	}

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || file != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	config.ResolveDataPaths()
	return &config, nil
}

// ResolveDataPaths derives unset paths from DataDir
func (c *Config) ResolveDataPaths() {
	dataDir := c.DataPaths.DataDir
	if dataDir == "" {
		dataDir = "./data"
	}

	if c.DataPaths.SQLitePath == "" {
		c.DataPaths.SQLitePath = filepath.Join(dataDir, "vigil.db")
	} else if !filepath.IsAbs(c.DataPaths.SQLitePath) {
		c.DataPaths.SQLitePath = filepath.Clean(c.DataPaths.SQLitePath)
	}
	c.DataPaths.DataDir = dataDir
}

// Addr returns the API listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.API.Host, c.API.Port)
}

func validateConfig(config *Config) error {
	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.MaxBodyBytes < 1024 {
		return fmt.Errorf("api.max_body_bytes must be at least 1024, got %d", config.API.MaxBodyBytes)
	}

	switch strings.ToLower(config.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", config.Logging.Level)
	}
	switch config.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid logging.format %q (must be console or json)", config.Logging.Format)
	}

	if config.Rules.File == "" {
		return fmt.Errorf("rules.file cannot be empty")
	}
	if config.Rules.MaxPatternLength < 1 || config.Rules.MaxPatternLength > 10000 {
		return fmt.Errorf("rules.max_pattern_length must be between 1 and 10000, got %d", config.Rules.MaxPatternLength)
	}
	if config.Rules.MatchTimeout < time.Millisecond || config.Rules.MatchTimeout > time.Minute {
		return fmt.Errorf("rules.match_timeout must be between 1ms and 1m, got %s", config.Rules.MatchTimeout)
	}

	if config.Retention.EventMaxAge < 0 {
		return fmt.Errorf("retention.event_max_age cannot be negative")
	}

	if config.EDR.CallTimeout <= 0 {
		return fmt.Errorf("edr.call_timeout must be positive")
	}
	if config.EDR.OfflineAfter <= 0 {
		return fmt.Errorf("edr.offline_after must be positive")
	}

	if !core.Severity(config.Incident.AutoPromoteThreshold).IsValid() {
		return fmt.Errorf("invalid incident.auto_promote_threshold %q", config.Incident.AutoPromoteThreshold)
	}
	if !core.Severity(config.Ingest.IndicatorSeverity).IsValid() {
		return fmt.Errorf("invalid ingest.indicator_severity %q", config.Ingest.IndicatorSeverity)
	}
	if config.Ingest.MaxMessageBytes < 1 {
		return fmt.Errorf("ingest.max_message_bytes must be positive")
	}
	if config.Ingest.MaxBatchSize < 1 {
		return fmt.Errorf("ingest.max_batch_size must be positive")
	}

	if config.Query.StatsCacheSize < 1 {
		return fmt.Errorf("query.stats_cache_size must be positive")
	}

	if config.Webhook.Enabled {
		parsed, err := url.Parse(config.Webhook.URL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("invalid webhook.url %q", config.Webhook.URL)
		}
	}
	if config.Redis.Enabled && (config.Redis.Addr == "" || config.Redis.Stream == "") {
		return fmt.Errorf("redis.addr and redis.stream are required when redis is enabled")
	}
	if config.Kafka.Enabled && (len(config.Kafka.Brokers) == 0 || config.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}
