// Package postgres implements the repository interfaces on PostgreSQL through
// pgx's database/sql driver. Schema changes are embedded golang-migrate files.
package postgres

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"

	// Registers the "pgx" database/sql driver.
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// DB wraps a Postgres connection pool.
type DB struct {
	conn *sql.DB
}

// Open connects to the database at dsn and verifies the connection.
// It does not run migrations; call MigrateUp (or `propability migrate`).
func Open(dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("postgres: DATABASE_URL is not set")
	}

	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping verifies the database is reachable.
func (db *DB) Ping() error {
	return db.conn.Ping()
}

// MigrateUp applies all pending migrations.
func (db *DB) MigrateUp() error {
	return db.migrate("up")
}

// MigrateDown rolls every migration back.
func (db *DB) MigrateDown() error {
	return db.migrate("down")
}

func (db *DB) migrate(direction string) error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: migrate source: %w", err)
	}
	driver, err := migratepgx.WithInstance(db.conn, &migratepgx.Config{})
	if err != nil {
		return fmt.Errorf("postgres: migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}

	switch direction {
	case "up":
		err = m.Up()
	case "down":
		err = m.Down()
	default:
		return fmt.Errorf("postgres: direction must be up or down, got %q", direction)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("postgres: running migrations %s: %w", direction, err)
	}
	return nil
}

// isUniqueViolation reports a unique_violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
