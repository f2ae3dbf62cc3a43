package threat

import (
	"context"
	"fmt"
	"time"

	"vigil/core"

	"go.uber.org/zap"
)

// IndicatorStore persists indicators
type IndicatorStore interface {
	IndicatorLister
	CreateIndicator(ctx context.Context, ind *core.Indicator) error
	DeleteIndicator(ctx context.Context, id string) error
}

// Catalog keeps indicator storage and the matcher index in step.
// Writes go to the store first and reach the index only after they commit.
type Catalog struct {
	store   IndicatorStore
	matcher *Matcher
	timeout time.Duration
	logger  *zap.SugaredLogger
}

// NewCatalog creates a catalog over store and matcher
func NewCatalog(store IndicatorStore, matcher *Matcher, logger *zap.SugaredLogger) *Catalog {
	return &Catalog{
		store:   store,
		matcher: matcher,
		timeout: 10 * time.Second,
		logger:  logger,
	}
}

// Add validates and stores a new indicator, then indexes it.
// A duplicate (type, value) pair returns the store's duplicate error.
func (c *Catalog) Add(ctx context.Context, t core.IndicatorType, value, source, note string) (*core.Indicator, error) {
	ind, err := core.NewIndicator(t, value, source, note)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.store.CreateIndicator(ctx, ind); err != nil {
		return nil, fmt.Errorf("failed to add indicator %s: %w", ind, err)
	}

	c.matcher.Add(ind)
	c.logger.Debugw("Indicator indexed", "indicator_id", ind.ID, "indexed", c.matcher.Len())
	return ind, nil
}

// List returns every stored indicator
func (c *Catalog) List(ctx context.Context) ([]*core.Indicator, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.store.ListIndicators(ctx)
}

// Delete removes an indicator from storage and from the index
func (c *Catalog) Delete(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.store.DeleteIndicator(ctx, id); err != nil {
		return err
	}

	c.matcher.Remove(id)
	c.logger.Debugw("Indicator removed from index", "indicator_id", id, "indexed", c.matcher.Len())
	return nil
}
