package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestSQLite creates a test SQLite database
func setupTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	sqlite, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err, "Failed to create SQLite database")
	require.NotNil(t, sqlite.WriteDB)
	require.NotNil(t, sqlite.ReadDB)

	t.Cleanup(func() { _ = sqlite.Close() })
	return sqlite
}

func TestNewSQLite_Success(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "subdir", "nested", "test.db")

	sqlite, err := NewSQLite(dbPath, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.Equal(t, dbPath, sqlite.Path)

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
	assert.NoError(t, sqlite.HealthCheck(context.Background()))
	assert.NoError(t, sqlite.Close())
}

func TestNewSQLite_Tables(t *testing.T) {
	sqlite := setupTestSQLite(t)

	for _, table := range []string{"events", "event_ips", "alerts", "indicators", "agents", "actions", "incidents", "incident_notes"} {
		var name string
		err := sqlite.ReadDB.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		assert.NoError(t, err, "table %s should exist", table)
	}
}

func TestReadDBWritePrevention(t *testing.T) {
	sqlite := setupTestSQLite(t)

	_, err := sqlite.ReadDB.Exec(`INSERT INTO agents (id, hostname, first_seen, last_seen) VALUES ('a', 'h', 'x', 'x')`)
	assert.Error(t, err, "read pool must be query_only")
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	sqlite := setupTestSQLite(t)
	boom := errors.New("boom")

	err := sqlite.WithTransaction(context.Background(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO agents (id, hostname, first_seen, last_seen) VALUES ('a', 'h', 'x', 'x')`)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&n))
	assert.Zero(t, n)
}

func TestWithTransaction_RollsBackOnPanic(t *testing.T) {
	sqlite := setupTestSQLite(t)

	assert.Panics(t, func() {
		_ = sqlite.WithTransaction(context.Background(), func(tx *sql.Tx) error {
			_, _ = tx.Exec(`INSERT INTO agents (id, hostname, first_seen, last_seen) VALUES ('a', 'h', 'x', 'x')`)
			panic("kaboom")
		})
	})

	var n int
	require.NoError(t, sqlite.ReadDB.QueryRow(`SELECT COUNT(*) FROM agents`).Scan(&n))
	assert.Zero(t, n)
}

func TestValidateDatabasePath(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{"relative", "data/vigil.db", false},
		{"memory", ":memory:", false},
		{"temp dir absolute", filepath.Join(os.TempDir(), "vigil.db"), false},
		{"empty", "", true},
		{"traversal", "../../etc/passwd", true},
		{"absolute data dir", "/var/lib/vigil/vigil.db", false},
		{"system directory", "/etc/vigil.db", true},
		{"device file", "/dev/sda", true},
		{"null byte", "data/vi\x00gil.db", true},
		{"reserved name", "data/CON", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateDatabasePath(tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBuildDSN(t *testing.T) {
	assert.Contains(t, buildDSN("data/x.db", false), "_txlock=immediate")
	assert.Contains(t, buildDSN("data/x.db", true), "query_only(1)")
	assert.NotContains(t, buildDSN("data/x.db", true), "_txlock")
	assert.Contains(t, buildDSN(":memory:", false), "file::memory:?cache=shared&")
}
