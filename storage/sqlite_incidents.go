package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"vigil/core"

	"go.uber.org/zap"
)

// SQLiteIncidentStorage persists incidents and their append-only note journal
type SQLiteIncidentStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteIncidentStorage creates a new incident storage instance
func NewSQLiteIncidentStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteIncidentStorage {
	return &SQLiteIncidentStorage{sqlite: sqlite, logger: logger}
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

const incidentColumns = `id, title, severity, status, assigned_to, alert_id, trigger_source, created_by, created_at, updated_at`

// CreateIncident inserts the incident and any notes it already carries.
// A second incident for the same alert yields ErrAlertAlreadyPromoted.
func (s *SQLiteIncidentStorage) CreateIncident(ctx context.Context, inc *core.Incident) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var alertID interface{}
	if inc.AlertID != "" {
		alertID = inc.AlertID
	}

	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO incidents (`+incidentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inc.ID, inc.Title, string(inc.Severity), string(inc.Status), inc.AssignedTo, alertID,
			inc.TriggerSource, inc.CreatedBy, formatTime(inc.CreatedAt), formatTime(inc.UpdatedAt))
		if isUniqueViolation(err) && inc.AlertID != "" {
			return fmt.Errorf("alert %s: %w", inc.AlertID, ErrAlertAlreadyPromoted)
		}
		if err != nil {
			return fmt.Errorf("failed to insert incident: %w", err)
		}
		return insertNotesTx(ctx, tx, inc.ID, inc.Notes)
	})
	return wrapTxErr("create incident", err)
}

// GetIncident retrieves an incident with its full note journal
func (s *SQLiteIncidentStorage) GetIncident(ctx context.Context, id string) (*core.Incident, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	inc, err := loadIncident(ctx, s.sqlite.ReadDB, id)
	if err != nil {
		return nil, wrapTxErr("get incident", err)
	}
	return inc, nil
}

// ListIncidents returns incidents newest first. Notes are not loaded.
func (s *SQLiteIncidentStorage) ListIncidents(ctx context.Context, status core.IncidentStatus, limit int) ([]*core.Incident, error) {
	var (
		where []string
		args  []interface{}
	)
	if status != "" {
		where = append(where, "status = ?")
		args = append(args, string(status))
	}

	query := `SELECT ` + incidentColumns + ` FROM incidents`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, clampLimit(limit))

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list incidents", err)
	}
	defer rows.Close()

	incidents := make([]*core.Incident, 0)
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, storageErr("list incidents", err)
		}
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list incidents", err)
	}
	return incidents, nil
}

// UpdateIncident loads the incident, applies fn and writes the result back in
// one transaction. Notes appended by fn are inserted; existing notes are never rewritten.
func (s *SQLiteIncidentStorage) UpdateIncident(ctx context.Context, id string, fn func(*core.Incident) error) (*core.Incident, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var inc *core.Incident
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		inc, err = loadIncident(ctx, tx, id)
		if err != nil {
			return err
		}

		before := len(inc.Notes)
		if err := fn(inc); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE incidents SET title = ?, severity = ?, status = ?, assigned_to = ?, updated_at = ?
			WHERE id = ?`,
			inc.Title, string(inc.Severity), string(inc.Status), inc.AssignedTo, formatTime(inc.UpdatedAt), id)
		if err != nil {
			return fmt.Errorf("failed to update incident: %w", err)
		}
		return insertNotesTx(ctx, tx, id, inc.Notes[before:])
	})
	if err != nil {
		return nil, wrapTxErr("update incident", err)
	}
	return inc, nil
}

func loadIncident(ctx context.Context, q querier, id string) (*core.Incident, error) {
	inc, err := scanIncident(q.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("incident", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load incident: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, author, content, created_at FROM incident_notes WHERE incident_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load notes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			note      core.IncidentNote
			createdAt string
		)
		if err := rows.Scan(&note.ID, &note.Author, &note.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		if note.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		inc.Notes = append(inc.Notes, note)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notes: %w", err)
	}
	return inc, nil
}

func insertNotesTx(ctx context.Context, tx *sql.Tx, incidentID string, notes []core.IncidentNote) error {
	for _, note := range notes {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO incident_notes (id, incident_id, author, content, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			note.ID, incidentID, note.Author, note.Content, formatTime(note.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert note: %w", err)
		}
	}
	return nil
}

func scanIncident(row rowScanner) (*core.Incident, error) {
	var (
		inc                  core.Incident
		severity, status     string
		alertID              sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(&inc.ID, &inc.Title, &severity, &status, &inc.AssignedTo, &alertID,
		&inc.TriggerSource, &inc.CreatedBy, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	inc.Severity = core.Severity(severity)
	inc.Status = core.IncidentStatus(status)
	inc.AlertID = alertID.String
	inc.Notes = []core.IncidentNote{}

	var err error
	if inc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if inc.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &inc, nil
}
