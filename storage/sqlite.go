package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"vigil/metrics"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// defaultQueryTimeout bounds every single storage call
const defaultQueryTimeout = 5 * time.Second

// SQLite holds the SQLite database connections backing the event store.
// Reads and writes use separate pools so WAL readers never queue behind the single writer.
type SQLite struct {
	WriteDB *sql.DB // MaxOpenConns=1, BEGIN IMMEDIATE transactions
	ReadDB  *sql.DB // query_only connections for concurrent reads
	Path    string
	Logger  *zap.SugaredLogger

	prevWriteWaitCount int64
	prevReadWaitCount  int64
}

// buildDSN applies connection pragmas through the driver so that every pooled
// connection gets them, not only the first one.
func buildDSN(dbPath string, readOnly bool) string {
	base, sep := dbPath, "?"
	if dbPath == ":memory:" {
		base, sep = "file::memory:?cache=shared", "&"
	}

	params := []string{
		"_pragma=foreign_keys(1)",
		"_pragma=busy_timeout(5000)",
	}
	if readOnly {
		params = append(params, "_pragma=query_only(1)")
	} else {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)", "_txlock=immediate")
	}
	return base + sep + strings.Join(params, "&")
}

// configureSQLiteConnection verifies the pragmas requested in the DSN took effect
func configureSQLiteConnection(db *sql.DB, logger *zap.SugaredLogger, dbPath string, poolType string) error {
	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	var fkEnabled int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		return fmt.Errorf("failed to verify foreign keys: %w", err)
	}
	if fkEnabled != 1 {
		return fmt.Errorf("foreign keys not enabled on %s pool (got: %d)", poolType, fkEnabled)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		return fmt.Errorf("failed to query journal mode: %w", err)
	}
	// In-memory databases report "memory"
	if dbPath != ":memory:" && journalMode != "wal" {
		return fmt.Errorf("WAL mode not enabled on %s pool (got: %s)", poolType, journalMode)
	}

	logger.Infof("SQLite %s pool ready (journal mode: %s)", poolType, journalMode)
	return nil
}

// NewSQLite opens the database, configures both pools and creates the schema
func NewSQLite(dbPath string, logger *zap.SugaredLogger) (*SQLite, error) {
	if err := validateDatabasePath(dbPath); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	writeDB, err := sql.Open("sqlite", buildDSN(dbPath, false))
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite write database: %w", err)
	}
	writeDB.SetMaxOpenConns(1)
	writeDB.SetMaxIdleConns(1)
	writeDB.SetConnMaxLifetime(0) // in-memory databases vanish with their last connection
	if err := configureSQLiteConnection(writeDB, logger, dbPath, "write"); err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to configure write connection: %w", err)
	}

	readDB, err := sql.Open("sqlite", buildDSN(dbPath, true))
	if err != nil {
		_ = writeDB.Close()
		return nil, fmt.Errorf("failed to open SQLite read database: %w", err)
	}
	readDB.SetMaxOpenConns(10)
	readDB.SetMaxIdleConns(5)
	readDB.SetConnMaxLifetime(5 * time.Minute)
	readDB.SetConnMaxIdleTime(10 * time.Minute)
	if err := configureSQLiteConnection(readDB, logger, dbPath, "read"); err != nil {
		_ = writeDB.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("failed to configure read connection: %w", err)
	}

	s := &SQLite{
		WriteDB: writeDB,
		ReadDB:  readDB,
		Path:    dbPath,
		Logger:  logger,
	}

	if err := s.createTables(); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Infow("SQLite event store opened", "path", dbPath)
	return s, nil
}

// WithTransaction runs fn inside a write transaction, rolling back on error or panic
func (s *SQLite) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.WriteDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w, rollback error: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// createTables creates all necessary tables
func (s *SQLite) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		received_at TEXT NOT NULL,
		source TEXT NOT NULL,
		host TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		fields TEXT NOT NULL DEFAULT '{}',
		ips TEXT NOT NULL DEFAULT '[]',
		agent_id TEXT NOT NULL DEFAULT '',
		log_type TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_events_received_at ON events(received_at);
	CREATE INDEX IF NOT EXISTS idx_events_agent_id ON events(agent_id);
	CREATE INDEX IF NOT EXISTS idx_events_source ON events(source);

	CREATE TABLE IF NOT EXISTS event_ips (
		ip TEXT NOT NULL,
		event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		PRIMARY KEY (ip, event_id)
	);
	CREATE INDEX IF NOT EXISTS idx_event_ips_event ON event_ips(event_id);

	CREATE TABLE IF NOT EXISTS alerts (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		event_id TEXT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
		kind TEXT NOT NULL CHECK(kind IN ('rule','indicator')),
		rule_id TEXT NOT NULL DEFAULT '',
		indicator_id TEXT NOT NULL DEFAULT '',
		indicator_source TEXT NOT NULL DEFAULT '',
		detector_key TEXT NOT NULL,
		severity TEXT NOT NULL CHECK(severity IN ('low','medium','high','critical')),
		description TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (event_id, detector_key)
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
	CREATE INDEX IF NOT EXISTS idx_alerts_rule_id ON alerts(rule_id);
	CREATE INDEX IF NOT EXISTS idx_alerts_severity ON alerts(severity);

	CREATE TABLE IF NOT EXISTS indicators (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK(type IN ('ip','domain','sha256')),
		value TEXT NOT NULL,
		source TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE (type, value)
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		hostname TEXT NOT NULL,
		metadata TEXT NOT NULL DEFAULT '{}',
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_agents_last_seen ON agents(last_seen);

	CREATE TABLE IF NOT EXISTS actions (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		agent_id TEXT NOT NULL REFERENCES agents(id),
		action_type TEXT NOT NULL,
		params TEXT NOT NULL DEFAULT '{}',
		requested_by TEXT NOT NULL,
		status TEXT NOT NULL CHECK(status IN ('queued','delivered','completed','failed')),
		created_at TEXT NOT NULL,
		delivered_at TEXT,
		completed_at TEXT,
		result TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_actions_agent_status ON actions(agent_id, status);

	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		severity TEXT NOT NULL CHECK(severity IN ('low','medium','high','critical')),
		status TEXT NOT NULL CHECK(status IN ('open','acknowledged','resolved')),
		assigned_to TEXT NOT NULL DEFAULT '',
		alert_id TEXT,
		trigger_source TEXT NOT NULL DEFAULT 'manual',
		created_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_incidents_alert_id ON incidents(alert_id) WHERE alert_id IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);

	CREATE TABLE IF NOT EXISTS incident_notes (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		incident_id TEXT NOT NULL REFERENCES incidents(id),
		author TEXT NOT NULL,
		content TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incident_notes_incident ON incident_notes(incident_id, seq);
	`

	if _, err := s.WriteDB.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes both connection pools
func (s *SQLite) Close() error {
	var writeErr, readErr error
	if s.WriteDB != nil {
		writeErr = s.WriteDB.Close()
	}
	if s.ReadDB != nil {
		readErr = s.ReadDB.Close()
	}

	if writeErr != nil {
		return fmt.Errorf("failed to close write pool: %w", writeErr)
	}
	if readErr != nil {
		return fmt.Errorf("failed to close read pool: %w", readErr)
	}
	return nil
}

// HealthCheck verifies the database connection is alive
func (s *SQLite) HealthCheck(ctx context.Context) error {
	return s.ReadDB.PingContext(ctx)
}

// StartMetricsCollection periodically exports pool statistics until ctx is done
func (s *SQLite) StartMetricsCollection(ctx context.Context, interval time.Duration) {
	s.updatePoolMetrics()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.Logger.Info("SQLite metrics collection stopped")
				return
			case <-ticker.C:
				s.updatePoolMetrics()
			}
		}
	}()

	s.Logger.Infof("SQLite metrics collection started (interval: %v)", interval)
}

func (s *SQLite) updatePoolMetrics() {
	s.updatePoolMetricsForType("write", s.WriteDB.Stats(), &s.prevWriteWaitCount)
	s.updatePoolMetricsForType("read", s.ReadDB.Stats(), &s.prevReadWaitCount)
}

func (s *SQLite) updatePoolMetricsForType(poolType string, stats sql.DBStats, prevWaitCount *int64) {
	metrics.SQLitePoolOpenConnections.WithLabelValues(poolType).Set(float64(stats.OpenConnections))
	metrics.SQLitePoolInUse.WithLabelValues(poolType).Set(float64(stats.InUse))
	metrics.SQLitePoolIdle.WithLabelValues(poolType).Set(float64(stats.Idle))

	// Counters only move forward, so export the delta since the last sample
	if delta := stats.WaitCount - *prevWaitCount; delta > 0 {
		metrics.SQLitePoolWaitCount.WithLabelValues(poolType).Add(float64(delta))
		*prevWaitCount = stats.WaitCount
	}
}

// systemDirs never hold a database file
var systemDirs = []string{"/dev", "/proc", "/sys", "/etc", "/boot", "/bin", "/sbin", "/usr/bin", "/usr/sbin"}

// validateDatabasePath rejects traversal, null bytes, device names and
// system directories. Other absolute paths such as /var/lib/vigil are allowed.
func validateDatabasePath(dbPath string) error {
	if dbPath == "" {
		return fmt.Errorf("database path cannot be empty")
	}
	if dbPath == ":memory:" {
		return nil
	}
	if len(dbPath) > 512 {
		return fmt.Errorf("database path exceeds maximum length of 512 characters")
	}
	if strings.Contains(dbPath, "\x00") {
		return fmt.Errorf("null bytes not allowed in path")
	}
	if strings.Contains(dbPath, "..") {
		return fmt.Errorf("path traversal not allowed (..): %s", dbPath)
	}
	if filepath.IsAbs(dbPath) {
		clean := filepath.Clean(dbPath)
		for _, dir := range systemDirs {
			if clean == dir || strings.HasPrefix(clean, dir+"/") {
				return fmt.Errorf("system directory not allowed: %s", dbPath)
			}
		}
	}

	base := strings.ToUpper(filepath.Base(dbPath))
	reserved := []string{"CON", "PRN", "AUX", "NUL", "COM1", "COM2", "COM3", "COM4",
		"COM5", "COM6", "COM7", "COM8", "COM9", "LPT1", "LPT2", "LPT3", "LPT4",
		"LPT5", "LPT6", "LPT7", "LPT8", "LPT9"}
	for _, r := range reserved {
		if base == r || strings.HasPrefix(base, r+".") {
			return fmt.Errorf("reserved name not allowed: %s", filepath.Base(dbPath))
		}
	}
	return nil
}
