package storage

import (
	"context"
	"database/sql"
	"fmt"

	"vigil/core"

	"go.uber.org/zap"
)

// SQLiteIndicatorStorage persists threat-intelligence indicators
type SQLiteIndicatorStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteIndicatorStorage creates a new indicator storage instance
func NewSQLiteIndicatorStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteIndicatorStorage {
	return &SQLiteIndicatorStorage{sqlite: sqlite, logger: logger}
}

// CreateIndicator inserts an indicator. A (type, value) pair that already
// exists yields ErrDuplicateIndicator.
func (s *SQLiteIndicatorStorage) CreateIndicator(ctx context.Context, ind *core.Indicator) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	_, err := s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO indicators (id, type, value, source, note, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ind.ID, string(ind.Type), ind.Value, ind.Source, ind.Note, formatTime(ind.CreatedAt))
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", ind, ErrDuplicateIndicator)
	}
	if err != nil {
		return storageErr("create indicator", err)
	}

	s.logger.Infow("Indicator created", "indicator_id", ind.ID, "indicator", ind.String(), "source", ind.Source)
	return nil
}

// GetIndicator retrieves an indicator by id
func (s *SQLiteIndicatorStorage) GetIndicator(ctx context.Context, id string) (*core.Indicator, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	row := s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT id, type, value, source, note, created_at FROM indicators WHERE id = ?`, id)
	ind, err := scanIndicator(row)
	if err == sql.ErrNoRows {
		return nil, notFound("indicator", id)
	}
	if err != nil {
		return nil, storageErr("get indicator", err)
	}
	return ind, nil
}

// ListIndicators returns every indicator in creation order
func (s *SQLiteIndicatorStorage) ListIndicators(ctx context.Context) ([]*core.Indicator, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		`SELECT id, type, value, source, note, created_at FROM indicators ORDER BY created_at, id`)
	if err != nil {
		return nil, storageErr("list indicators", err)
	}
	defer rows.Close()

	indicators := make([]*core.Indicator, 0)
	for rows.Next() {
		ind, err := scanIndicator(rows)
		if err != nil {
			return nil, storageErr("list indicators", err)
		}
		indicators = append(indicators, ind)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list indicators", err)
	}
	return indicators, nil
}

// DeleteIndicator removes an indicator. Alerts it raised keep its id as provenance.
func (s *SQLiteIndicatorStorage) DeleteIndicator(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	res, err := s.sqlite.WriteDB.ExecContext(ctx, `DELETE FROM indicators WHERE id = ?`, id)
	if err != nil {
		return storageErr("delete indicator", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("delete indicator", err)
	}
	if n == 0 {
		return notFound("indicator", id)
	}

	s.logger.Infow("Indicator deleted", "indicator_id", id)
	return nil
}

func scanIndicator(row rowScanner) (*core.Indicator, error) {
	var (
		ind       core.Indicator
		typ       string
		createdAt string
	)
	if err := row.Scan(&ind.ID, &typ, &ind.Value, &ind.Source, &ind.Note, &createdAt); err != nil {
		return nil, err
	}
	ind.Type = core.IndicatorType(typ)

	var err error
	if ind.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &ind, nil
}
