package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"vigil/core"

	"go.uber.org/zap"
)

// SQLiteActionStorage handles the per-agent response action queue
type SQLiteActionStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteActionStorage creates a new SQLite action storage handler
func NewSQLiteActionStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteActionStorage {
	return &SQLiteActionStorage{
		sqlite: sqlite,
		logger: logger,
	}
}

const actionColumns = `id, agent_id, action_type, params, requested_by, status, created_at, delivered_at, completed_at, result`

// CreateAction queues an action. The agent must exist.
func (s *SQLiteActionStorage) CreateAction(ctx context.Context, action *core.Action) error {
	params, err := encodeColumn("create action", "params", action.Params)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	err = s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM agents WHERE id = ?`, action.AgentID).Scan(&exists)
		if err == sql.ErrNoRows {
			return notFound("agent", action.AgentID)
		}
		if err != nil {
			return fmt.Errorf("failed to look up agent: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO actions (id, agent_id, action_type, params, requested_by, status, created_at, result)
			VALUES (?, ?, ?, ?, ?, ?, ?, '')`,
			action.ID, action.AgentID, string(action.Type), params, action.RequestedBy,
			string(action.Status), formatTime(action.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to insert action: %w", err)
		}
		return nil
	})
	return wrapTxErr("create action", err)
}

// ClaimQueuedActions marks every queued action of the agent as delivered and
// returns them oldest first. The touch and the claim happen in one write
// transaction, so concurrent callers never receive the same action.
func (s *SQLiteActionStorage) ClaimQueuedActions(ctx context.Context, agentID string, now time.Time) ([]*core.Action, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	claimed := make([]*core.Action, 0)
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := touchAgent(ctx, tx, agentID, now); err != nil {
			return err
		}

		rows, err := tx.QueryContext(ctx, `
			UPDATE actions SET status = 'delivered', delivered_at = ?
			WHERE agent_id = ? AND status = 'queued'
			RETURNING `+actionColumns,
			formatTime(now), agentID)
		if err != nil {
			return fmt.Errorf("failed to claim actions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			action, err := scanAction(rows)
			if err != nil {
				return err
			}
			claimed = append(claimed, action)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, wrapTxErr("claim actions", err)
	}

	// RETURNING order is unspecified
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].CreatedAt.Before(claimed[j].CreatedAt)
	})
	return claimed, nil
}

// FinalizeAction records the agent's result. Only a delivered action can be
// finalized. A non-empty agentID must own the action.
func (s *SQLiteActionStorage) FinalizeAction(ctx context.Context, id, agentID string, status core.ActionStatus, result string, now time.Time) (*core.Action, error) {
	if !status.IsFinal() {
		return nil, core.NewValidationError("status", "status must be completed or failed, got %q", status)
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	var action *core.Action
	err := s.sqlite.WithTransaction(ctx, func(tx *sql.Tx) error {
		var err error
		action, err = scanAction(tx.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id))
		if err == sql.ErrNoRows {
			return notFound("action", id)
		}
		if err != nil {
			return fmt.Errorf("failed to load action: %w", err)
		}
		if agentID != "" && action.AgentID != agentID {
			return notFound("action", id)
		}

		switch action.Status {
		case core.ActionStatusQueued:
			return core.NewValidationError("status", "action %s has not been delivered yet", id)
		case core.ActionStatusCompleted, core.ActionStatusFailed:
			return core.NewValidationError("status", "action %s is already %s", id, action.Status)
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE actions SET status = ?, completed_at = ?, result = ?
			WHERE id = ? AND status = 'delivered'`,
			string(status), formatTime(now), result, id)
		if err != nil {
			return fmt.Errorf("failed to finalize action: %w", err)
		}
		if err := touchAgent(ctx, tx, action.AgentID, now); err != nil {
			return err
		}

		completedAt := now.UTC()
		action.Status = status
		action.CompletedAt = &completedAt
		action.Result = result
		return nil
	})
	if err != nil {
		return nil, wrapTxErr("finalize action", err)
	}
	return action, nil
}

// GetAction retrieves an action by id
func (s *SQLiteActionStorage) GetAction(ctx context.Context, id string) (*core.Action, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	action, err := scanAction(s.sqlite.ReadDB.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, notFound("action", id)
	}
	if err != nil {
		return nil, storageErr("get action", err)
	}
	return action, nil
}

// ListActions returns actions newest first, optionally for a single agent
func (s *SQLiteActionStorage) ListActions(ctx context.Context, agentID string, limit int) ([]*core.Action, error) {
	query := `SELECT ` + actionColumns + ` FROM actions`
	args := []interface{}{}
	if agentID != "" {
		query += ` WHERE agent_id = ?`
		args = append(args, agentID)
	}
	query += ` ORDER BY seq DESC LIMIT ?`
	args = append(args, clampLimit(limit))

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list actions", err)
	}
	defer rows.Close()

	// Non-nil so an empty history encodes as []
	actions := make([]*core.Action, 0)
	for rows.Next() {
		action, err := scanAction(rows)
		if err != nil {
			return nil, storageErr("list actions", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list actions", err)
	}
	return actions, nil
}

func scanAction(row rowScanner) (*core.Action, error) {
	var (
		action                   core.Action
		actionType, status       string
		params, createdAt        string
		deliveredAt, completedAt *string
	)
	if err := row.Scan(&action.ID, &action.AgentID, &actionType, &params, &action.RequestedBy, &status,
		&createdAt, &deliveredAt, &completedAt, &action.Result); err != nil {
		return nil, err
	}
	action.Type = core.ActionType(actionType)
	action.Status = core.ActionStatus(status)

	action.Params = make(map[string]string)
	if err := safeUnmarshalJSON(params, &action.Params); err != nil {
		return nil, fmt.Errorf("failed to decode params of action %s: %w", action.ID, err)
	}

	var err error
	if action.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if action.DeliveredAt, err = parseNullTime(deliveredAt); err != nil {
		return nil, err
	}
	if action.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return nil, err
	}
	return &action, nil
}
