package bootstrap

import (
	"fmt"
	"os"
	"strings"

	"vigil/config"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger builds the zap logger. Format "json" writes structured lines,
// anything else writes colored console output.
func InitLogger(cfg config.LoggingConfig) (*zap.Logger, *zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
		}
		level = parsed
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	} else {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stdout), level)
	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration. It runs before the logger
// exists, so failures go to stderr.
func InitConfig(file string) (*config.Config, error) {
	cfg, err := config.LoadConfig(file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load config: %v\n", err)
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// logConfig reports the settings an operator usually wants to see at startup
func logConfig(cfg *config.Config, sugar *zap.SugaredLogger) {
	if viper.ConfigFileUsed() == "" {
		sugar.Info("No config file found, using defaults and env vars")
	} else {
		sugar.Infow("Config loaded", "file", viper.ConfigFileUsed())
	}

	sugar.Infow("Data paths configuration",
		"data_dir", cfg.DataPaths.DataDir,
		"sqlite_path", cfg.DataPaths.SQLitePath)

	sugar.Infow("Service configuration",
		"api_addr", cfg.Addr(),
		"rules_file", cfg.Rules.File,
		"auto_promote", cfg.Incident.AutoPromote,
		"auto_promote_threshold", cfg.Incident.AutoPromoteThreshold,
		"webhook", cfg.Webhook.Enabled,
		"redis", cfg.Redis.Enabled,
		"kafka", cfg.Kafka.Enabled,
		"metrics", cfg.Metrics.Enabled)
}

// DataDirectoriesFromConfig creates DataDirectories from configuration.
func DataDirectoriesFromConfig(cfg *config.Config) DataDirectories {
	return DataDirectories{
		Base:   cfg.DataPaths.DataDir,
		SQLite: cfg.DataPaths.SQLitePath,
	}
}
