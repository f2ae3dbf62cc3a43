package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vigil/metrics"

	"go.uber.org/zap"
)

// RetentionManager purges events older than the retention window. Alerts and
// IP index rows go with their event. Events behind an alert that was promoted
// to an incident are kept so incidents never lose their provenance.
type RetentionManager struct {
	sqlite        *SQLite
	maxAge        time.Duration
	checkInterval time.Duration
	logger        *zap.SugaredLogger
	now           func() time.Time
}

// NewRetentionManager creates a new retention manager
func NewRetentionManager(sqlite *SQLite, maxAge, checkInterval time.Duration, logger *zap.SugaredLogger) *RetentionManager {
	if checkInterval <= 0 {
		checkInterval = time.Hour
	}
	return &RetentionManager{
		sqlite:        sqlite,
		maxAge:        maxAge,
		checkInterval: checkInterval,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Run purges once, then on every tick until ctx is done
func (rm *RetentionManager) Run(ctx context.Context) {
	ticker := time.NewTicker(rm.checkInterval)
	defer ticker.Stop()

	for {
		rm.cleanup(ctx)
		select {
		case <-ctx.Done():
			rm.logger.Info("Retention manager stopped")
			return
		case <-ticker.C:
		}
	}
}

func (rm *RetentionManager) cleanup(ctx context.Context) {
	purged, err := rm.PurgeExpired(ctx)
	if err != nil {
		rm.logger.Errorw("Failed to purge expired events", "error", err)
		return
	}
	if purged > 0 {
		rm.logger.Infow("Purged expired events", "count", purged, "max_age", rm.maxAge)
	}
}

// PurgeExpired deletes events received before now - maxAge and returns how
// many were removed
func (rm *RetentionManager) PurgeExpired(ctx context.Context) (int64, error) {
	cutoff := formatTime(rm.now().Add(-rm.maxAge))

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var purged int64
	err := rm.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM events
			WHERE received_at < ?
			  AND id NOT IN (
				SELECT a.event_id FROM alerts a
				JOIN incidents i ON i.alert_id = a.id
			  )`, cutoff)
		if err != nil {
			return fmt.Errorf("failed to delete events: %w", err)
		}
		purged, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, storageErr("purge events", err)
	}

	metrics.EventsPurged.Add(float64(purged))
	return purged, nil
}
