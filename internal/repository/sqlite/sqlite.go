// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs no
// C toolchain. The schema is versioned with golang-migrate; the SQL files are
// embedded from migrations/.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// Registers the "sqlite" database/sql driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MemoryPath opens a private in-memory database (tests, demos).
const MemoryPath = ":memory:"

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and brings the schema up to date.
//
// dbPath examples:
//   - "data/propability.db" → file-based database (persistent)
//   - ":memory:"            → in-memory database (lost on close)
func New(dbPath string) (*DB, error) {
	dsn := dbPath
	if dbPath != MemoryPath {
		dsn = dbPath + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	if dbPath == MemoryPath {
		// Every new connection to ":memory:" is a separate, empty database.
		conn.SetMaxOpenConns(1)
		if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
		}
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.MigrateUp(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// MigrateUp runs all pending migrations. Already being at the latest
// version is not an error.
func (db *DB) MigrateUp() error {
	m, err := newMigrate(db.conn)
	if err != nil {
		return fmt.Errorf("sqlite: creating migrate instance: %w", err)
	}
	// m is not closed: closing it would close db.conn, which the caller owns.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: running migrations: %w", err)
	}
	return nil
}

func newMigrate(conn *sql.DB) (*migrate.Migrate, error) {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migration files: %w", err)
	}

	driver, err := migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("creating migrate driver: %w", err)
	}

	return migrate.NewWithInstance("iofs", src, "sqlite", driver)
}
