package threat

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"vigil/core"
	"vigil/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupCatalog(t *testing.T) (*Catalog, *Matcher) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	db, err := storage.NewSQLite(filepath.Join(t.TempDir(), "vigil.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := storage.NewSQLiteIndicatorStorage(db, logger)
	matcher := NewMatcher(store, logger)
	require.NoError(t, matcher.Load(context.Background()))
	return NewCatalog(store, matcher, logger), matcher
}

func TestCatalog_AddIndexesAfterCommit(t *testing.T) {
	c, m := setupCatalog(t)
	ctx := context.Background()

	ind, err := c.Add(ctx, core.IndicatorTypeIP, " 203.0.113.7 ", "abuse-feed", "scanner")
	require.NoError(t, err)
	assert.Equal(t, "203.0.113.7", ind.Value)
	assert.Equal(t, 1, m.Len())

	ev := eventWith("", []string{"203.0.113.7"}, nil)
	assert.Equal(t, []*core.Indicator{ind}, m.Match(ev))

	listed, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, ind.ID, listed[0].ID)
}

func TestCatalog_AddDuplicate(t *testing.T) {
	c, m := setupCatalog(t)
	ctx := context.Background()

	_, err := c.Add(ctx, core.IndicatorTypeDomain, "evil.example.com", "feed", "")
	require.NoError(t, err)
	_, err = c.Add(ctx, core.IndicatorTypeDomain, "EVIL.example.com.", "other", "")
	assert.True(t, errors.Is(err, storage.ErrDuplicateIndicator))
	assert.Equal(t, 1, m.Len())
}

func TestCatalog_AddInvalid(t *testing.T) {
	c, m := setupCatalog(t)

	_, err := c.Add(context.Background(), core.IndicatorTypeSHA256, "abc", "feed", "")
	assert.True(t, errors.Is(err, core.ErrValidation))
	assert.Zero(t, m.Len())
}

func TestCatalog_Delete(t *testing.T) {
	c, m := setupCatalog(t)
	ctx := context.Background()

	ind, err := c.Add(ctx, core.IndicatorTypeIP, "10.0.0.5", "feed", "")
	require.NoError(t, err)

	require.NoError(t, c.Delete(ctx, ind.ID))
	assert.Zero(t, m.Len())
	assert.Empty(t, m.Match(eventWith("", []string{"10.0.0.5"}, nil)))

	err = c.Delete(ctx, ind.ID)
	assert.True(t, errors.Is(err, core.ErrNotFound))
}
