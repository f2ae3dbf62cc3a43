package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"

	"vigil/config"
	"vigil/core"
	"vigil/detect"
	"vigil/threat"

	"go.uber.org/zap"
)

// LoadRules compiles the configured rule file. A missing file starts the
// service with no rules; a file that exists but does not compile is fatal.
func LoadRules(cfg config.RulesConfig, sugar *zap.SugaredLogger) ([]*core.Rule, error) {
	if cfg.File == "" {
		sugar.Warn("No rules file configured - starting with empty rule set")
		return []*core.Rule{}, nil
	}

	if _, err := os.Stat(cfg.File); errors.Is(err, os.ErrNotExist) {
		sugar.Warnw("Rules file not found - starting with empty rule set", "file", cfg.File)
		return []*core.Rule{}, nil
	}

	rules, err := detect.LoadRules(cfg.File, detect.LoadOptions{
		MaxPatternLength: cfg.MaxPatternLength,
		MatchTimeout:     cfg.MatchTimeout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Invalid rules file %s: %v\n", cfg.File, err)
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	sugar.Infof("Loaded %d rules from %s", len(rules), cfg.File)
	return rules, nil
}

// InitMatcher builds the indicator index from storage.
func InitMatcher(ctx context.Context, store threat.IndicatorLister, sugar *zap.SugaredLogger) (*threat.Matcher, error) {
	matcher := threat.NewMatcher(store, sugar)
	if err := matcher.Load(ctx); err != nil {
		return nil, fmt.Errorf("failed to load indicators: %w", err)
	}
	sugar.Infof("Indicator index loaded with %d indicators", matcher.Len())
	return matcher, nil
}
