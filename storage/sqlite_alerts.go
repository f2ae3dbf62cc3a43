package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"vigil/core"

	"go.uber.org/zap"
)

// AlertFilter selects alerts by properties of their event. Empty fields do not filter.
type AlertFilter struct {
	IP      string
	AgentID string
	Limit   int
}

// SQLiteAlertStorage reads and writes alerts
type SQLiteAlertStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAlertStorage creates a new alert storage instance
func NewSQLiteAlertStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAlertStorage {
	return &SQLiteAlertStorage{sqlite: sqlite, logger: logger}
}

const alertColumns = `a.id, a.event_id, a.kind, a.rule_id, a.indicator_id, a.indicator_source, a.severity, a.description, a.created_at`

// insertAlertsTx inserts alerts, skipping any (event_id, detector_key) pair
// that already exists. Only the rows actually written are returned.
func insertAlertsTx(ctx context.Context, tx *sql.Tx, alerts []*core.Alert) ([]*core.Alert, error) {
	inserted := make([]*core.Alert, 0, len(alerts))
	for _, alert := range alerts {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (id, event_id, kind, rule_id, indicator_id, indicator_source, detector_key, severity, description, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(event_id, detector_key) DO NOTHING`,
			alert.ID, alert.EventID, string(alert.Kind), alert.RuleID, alert.IndicatorID, alert.IndicatorSource,
			alert.DetectorKey(), string(alert.Severity), alert.Description, formatTime(alert.CreatedAt))
		if err != nil {
			return nil, fmt.Errorf("failed to insert alert for %s: %w", alert.DetectorKey(), err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("failed to read rows affected: %w", err)
		}
		if n > 0 {
			inserted = append(inserted, alert)
		}
	}
	return inserted, nil
}

// InsertAlerts stores alerts for an already persisted event. Re-inserting an
// alert for the same event and detector is a no-op; the new rows are returned.
func (s *SQLiteAlertStorage) InsertAlerts(ctx context.Context, alerts []*core.Alert) ([]*core.Alert, error) {
	if len(alerts) == 0 {
		return []*core.Alert{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var inserted []*core.Alert
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		inserted, err = insertAlertsTx(ctx, tx, alerts)
		return err
	})
	if err != nil {
		return nil, storageErr("insert alerts", err)
	}
	return inserted, nil
}

// GetAlert retrieves an alert by id
func (s *SQLiteAlertStorage) GetAlert(ctx context.Context, id string) (*core.Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	row := s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts a WHERE a.id = ?`, id)
	alert, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, notFound("alert", id)
	}
	if err != nil {
		return nil, storageErr("get alert", err)
	}
	return alert, nil
}

// ListAlerts returns alerts newest first
func (s *SQLiteAlertStorage) ListAlerts(ctx context.Context, filter AlertFilter) ([]*core.Alert, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.IP != "" {
		where = append(where, "a.event_id IN (SELECT event_id FROM event_ips WHERE ip = ?)")
		args = append(args, filter.IP)
	}
	if filter.AgentID != "" {
		where = append(where, "a.event_id IN (SELECT id FROM events WHERE agent_id = ?)")
		args = append(args, filter.AgentID)
	}

	query := `SELECT ` + alertColumns + ` FROM alerts a`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY a.seq DESC LIMIT ?"
	args = append(args, clampLimit(filter.Limit))

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list alerts", err)
	}
	defer rows.Close()

	alerts := make([]*core.Alert, 0)
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, storageErr("list alerts", err)
		}
		alerts = append(alerts, alert)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list alerts", err)
	}
	return alerts, nil
}

func scanAlert(row rowScanner) (*core.Alert, error) {
	var (
		alert          core.Alert
		kind, severity string
		createdAt      string
	)
	if err := row.Scan(&alert.ID, &alert.EventID, &kind, &alert.RuleID, &alert.IndicatorID,
		&alert.IndicatorSource, &severity, &alert.Description, &createdAt); err != nil {
		return nil, err
	}
	alert.Kind = core.AlertKind(kind)
	alert.Severity = core.Severity(severity)

	var err error
	if alert.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &alert, nil
}
