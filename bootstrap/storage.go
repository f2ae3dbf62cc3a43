package bootstrap

import (
	"fmt"
	"os"

	"vigil/storage"

	"go.uber.org/zap"
)

// StorageComponents holds all storage-related components.
type StorageComponents struct {
	SQLite     *storage.SQLite
	Events     *storage.SQLiteEventStorage
	Alerts     *storage.SQLiteAlertStorage
	Indicators *storage.SQLiteIndicatorStorage
	Agents     *storage.SQLiteAgentStorage
	Actions    *storage.SQLiteActionStorage
	Incidents  *storage.SQLiteIncidentStorage
	Stats      *storage.SQLiteStatsStorage
}

// InitSQLite opens the database, creating the schema if needed.
func InitSQLite(dirs DataDirectories, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(dirs.SQLite, sugar)
	if err != nil {
		errMsg := ClassifySQLiteError(err, dirs.SQLite)
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", errMsg)
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}

	sugar.Info("SQLite initialized successfully")
	return sqlite, nil
}

// InitStorage builds every store on one database.
func InitStorage(sqlite *storage.SQLite, sugar *zap.SugaredLogger) *StorageComponents {
	return &StorageComponents{
		SQLite:     sqlite,
		Events:     storage.NewSQLiteEventStorage(sqlite, sugar),
		Alerts:     storage.NewSQLiteAlertStorage(sqlite, sugar),
		Indicators: storage.NewSQLiteIndicatorStorage(sqlite, sugar),
		Agents:     storage.NewSQLiteAgentStorage(sqlite, sugar),
		Actions:    storage.NewSQLiteActionStorage(sqlite, sugar),
		Incidents:  storage.NewSQLiteIncidentStorage(sqlite, sugar),
		Stats:      storage.NewSQLiteStatsStorage(sqlite, sugar),
	}
}
