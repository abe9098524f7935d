package server

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sakif/propability/internal/config"
	"github.com/sakif/propability/internal/repository"
	"github.com/sakif/propability/internal/repository/postgres"
	sqliteRepo "github.com/sakif/propability/internal/repository/sqlite"
)

// RecordStore is the opened record store, whichever backend RECORD_STORE
// names.
type RecordStore struct {
	Cuttings repository.CuttingRepository
	Users    repository.UserRepository

	kind      string
	close     func() error
	ping      func() error
	migrateUp func() error
}

// OpenRecordStore opens the backend named by cfg.RecordStore. SQLite
// migrates on open; Postgres is migrated by `propability migrate` or by
// calling MigrateUp.
func OpenRecordStore(cfg *config.Config) (*RecordStore, error) {
	switch cfg.RecordStore {
	case "postgres":
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &RecordStore{
			Cuttings:  db.Cuttings(),
			Users:     db.Users(),
			kind:      "postgres",
			close:     db.Close,
			ping:      db.Ping,
			migrateUp: db.MigrateUp,
		}, nil

	case "sqlite", "":
		if cfg.DBPath != sqliteRepo.MemoryPath {
			// Like `mkdir -p`: the data directory may not exist on first run.
			if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
				return nil, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return &RecordStore{
			Cuttings:  db.Cuttings(),
			Users:     db.Users(),
			kind:      "sqlite",
			close:     db.Close,
			ping:      db.Ping,
			migrateUp: db.MigrateUp,
		}, nil

	default:
		return nil, fmt.Errorf("unknown record store: %s", cfg.RecordStore)
	}
}

// Kind is "sqlite" or "postgres".
func (s *RecordStore) Kind() string { return s.kind }

// Close releases the connection pool.
func (s *RecordStore) Close() error { return s.close() }

// Ping checks the store is reachable.
func (s *RecordStore) Ping() error { return s.ping() }

// MigrateUp applies pending schema migrations.
func (s *RecordStore) MigrateUp() error { return s.migrateUp() }
