package storage

import (
	"context"
	"database/sql"
	"time"

	"vigil/core"

	"go.uber.org/zap"
)

// SQLiteAgentStorage persists registered EDR agents
type SQLiteAgentStorage struct {
	sqlite *SQLite
	logger *zap.SugaredLogger
}

// NewSQLiteAgentStorage creates a new agent storage instance
func NewSQLiteAgentStorage(sqlite *SQLite, logger *zap.SugaredLogger) *SQLiteAgentStorage {
	return &SQLiteAgentStorage{sqlite: sqlite, logger: logger}
}

// CreateAgent inserts a newly registered agent
func (s *SQLiteAgentStorage) CreateAgent(ctx context.Context, agent *core.Agent) error {
	metadata, err := encodeColumn("create agent", "metadata", agent.Metadata)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	_, err = s.sqlite.WriteDB.ExecContext(ctx, `
		INSERT INTO agents (id, hostname, metadata, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)`,
		agent.ID, agent.Hostname, metadata, formatTime(agent.FirstSeen), formatTime(agent.LastSeen))
	if err != nil {
		return storageErr("create agent", err)
	}
	return nil
}

// GetAgent retrieves an agent by id
func (s *SQLiteAgentStorage) GetAgent(ctx context.Context, id string) (*core.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	row := s.sqlite.ReadDB.QueryRowContext(ctx,
		`SELECT id, hostname, metadata, first_seen, last_seen FROM agents WHERE id = ?`, id)
	agent, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, notFound("agent", id)
	}
	if err != nil {
		return nil, storageErr("get agent", err)
	}
	return agent, nil
}

// ListAgents returns all agents ordered by registration time
func (s *SQLiteAgentStorage) ListAgents(ctx context.Context) ([]*core.Agent, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	rows, err := s.sqlite.ReadDB.QueryContext(ctx,
		`SELECT id, hostname, metadata, first_seen, last_seen FROM agents ORDER BY first_seen, id`)
	if err != nil {
		return nil, storageErr("list agents", err)
	}
	defer rows.Close()

	agents := make([]*core.Agent, 0)
	for rows.Next() {
		agent, err := scanAgent(rows)
		if err != nil {
			return nil, storageErr("list agents", err)
		}
		agents = append(agents, agent)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list agents", err)
	}
	return agents, nil
}

// TouchAgent records activity from the agent. Unknown agents yield a NotFoundError.
func (s *SQLiteAgentStorage) TouchAgent(ctx context.Context, id string, now time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, defaultQueryTimeout)
	defer cancel()

	return touchAgent(ctx, s.sqlite.WriteDB, id, now)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// touchAgent updates last_seen on db, which may be a transaction
func touchAgent(ctx context.Context, db execer, id string, now time.Time) error {
	res, err := db.ExecContext(ctx, `UPDATE agents SET last_seen = ? WHERE id = ?`, formatTime(now), id)
	if err != nil {
		return storageErr("touch agent", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("touch agent", err)
	}
	if n == 0 {
		return notFound("agent", id)
	}
	return nil
}

func scanAgent(row rowScanner) (*core.Agent, error) {
	var (
		agent               core.Agent
		metadata            string
		firstSeen, lastSeen string
	)
	if err := row.Scan(&agent.ID, &agent.Hostname, &metadata, &firstSeen, &lastSeen); err != nil {
		return nil, err
	}

	agent.Metadata = make(map[string]string)
	if err := safeUnmarshalJSON(metadata, &agent.Metadata); err != nil {
		return nil, err
	}

	var err error
	if agent.FirstSeen, err = parseTime(firstSeen); err != nil {
		return nil, err
	}
	if agent.LastSeen, err = parseTime(lastSeen); err != nil {
		return nil, err
	}
	return &agent, nil
}
