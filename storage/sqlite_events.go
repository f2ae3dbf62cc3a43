package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"vigil/core"

	"go.uber.org/zap"
)

// Limits applied to list queries
const (
	DefaultListLimit = 100
	MaxListLimit     = 1000
)

// EventFilter selects events for ListEvents. Empty fields do not filter.
type EventFilter struct {
	// Query is a case-insensitive substring of the message or any field value
	Query   string
	IP      string
	AgentID string
	Limit   int
}

// SQLiteEventStorage persists events together with their IP index and alerts
type SQLiteEventStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteEventStorage creates a new event storage instance
func NewSQLiteEventStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteEventStorage {
	return &SQLiteEventStorage{sqlite: sqlite, logger: logger}
}

// SaveEvent writes the event, its event_ips rows and the alerts in one
// transaction. It returns the alerts that were newly inserted.
func (s *SQLiteEventStorage) SaveEvent(ctx context.Context, event *core.Event, alerts []*core.Alert) ([]*core.Alert, error) {
	fields, err := encodeColumn("save event", "fields", event.Fields)
	if err != nil {
		return nil, err
	}
	ips, err := encodeColumn("save event", "ips", event.IPs)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var inserted []*core.Alert
	err = s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, received_at, source, host, message, fields, ips, agent_id, log_type)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			event.ID, formatTime(event.ReceivedAt), event.Source, event.Host, event.Message,
			fields, ips, event.AgentID, event.LogType)
		if err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}

		for _, ip := range event.IPs {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO event_ips (ip, event_id) VALUES (?, ?)`, ip, event.ID); err != nil {
				return fmt.Errorf("failed to index ip %s: %w", ip, err)
			}
		}

		inserted, err = insertAlertsTx(ctx, tx, alerts)
		return err
	})
	if err != nil {
		return nil, storageErr("save event", err)
	}
	return inserted, nil
}

// GetEvent retrieves an event by id
func (s *SQLiteEventStorage) GetEvent(ctx context.Context, id string) (*core.Event, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	row := s.sqlite.ReadDB.QueryRowContext(ctx, `
		SELECT id, received_at, source, host, message, fields, ips, agent_id, log_type
		FROM events WHERE id = ?`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, notFound("event", id)
	}
	if err != nil {
		return nil, storageErr("get event", err)
	}
	return event, nil
}

// ListEvents returns events newest first
func (s *SQLiteEventStorage) ListEvents(ctx context.Context, filter EventFilter) ([]*core.Event, error) {
	var (
		where []string
		args  []interface{}
	)
	if filter.IP != "" {
		where = append(where, "e.id IN (SELECT event_id FROM event_ips WHERE ip = ?)")
		args = append(args, filter.IP)
	}
	if filter.AgentID != "" {
		where = append(where, "e.agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Query != "" {
		q := strings.ToLower(filter.Query)
		where = append(where, `(instr(lower(e.message), ?) > 0
			OR EXISTS (SELECT 1 FROM json_each(e.fields) f WHERE instr(lower(f.value), ?) > 0))`)
		args = append(args, q, q)
	}

	query := `SELECT e.id, e.received_at, e.source, e.host, e.message, e.fields, e.ips, e.agent_id, e.log_type FROM events e`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY e.seq DESC LIMIT ?"
	args = append(args, clampLimit(filter.Limit))

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list events", err)
	}
	defer rows.Close()

	events := make([]*core.Event, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, storageErr("list events", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list events", err)
	}
	return events, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*core.Event, error) {
	var (
		event              core.Event
		receivedAt         string
		fieldsJSON, ipJSON string
	)
	if err := row.Scan(&event.ID, &receivedAt, &event.Source, &event.Host, &event.Message,
		&fieldsJSON, &ipJSON, &event.AgentID, &event.LogType); err != nil {
		return nil, err
	}

	var err error
	if event.ReceivedAt, err = parseTime(receivedAt); err != nil {
		return nil, err
	}
	event.Fields = make(map[string]string)
	if err := safeUnmarshalJSON(fieldsJSON, &event.Fields); err != nil {
		return nil, fmt.Errorf("failed to decode fields of event %s: %w", event.ID, err)
	}
	event.IPs = []string{}
	if err := safeUnmarshalJSON(ipJSON, &event.IPs); err != nil {
		return nil, fmt.Errorf("failed to decode ips of event %s: %w", event.ID, err)
	}
	return &event, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
