package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the users table view of a DB.
type UserDB struct {
	conn *sql.DB
}

// Users returns the user repository backed by db.
func (db *DB) Users() *UserDB {
	return &UserDB{conn: db.conn}
}

const userColumns = `id, email, display_name, provider, provider_subject,
	password_hash, avatar_url, created_at, updated_at`

// Create inserts an email/password account.
// A second account with the same email is rejected with apperror.ErrConflict.
func (db *UserDB) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	if user.Provider == "" {
		user.Provider = model.ProviderPassword
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.DisplayName,
		user.Provider,
		user.ProviderSubject,
		user.PasswordHash,
		user.AvatarURL,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("This email is already in use.")
		}
		return fmt.Errorf("sqlite: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// UpsertProvider inserts or refreshes an OAuth account.
//
// The lookup key is (provider, provider_subject). An existing row keeps its
// internal ID and has its profile fields refreshed, since email, name and
// avatar can change on the provider side between sign-ins.
func (db *UserDB) UpsertProvider(ctx context.Context, user *model.User) error {
	var existingID string
	err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM users WHERE provider = ? AND provider_subject = ?`,
		user.Provider, user.ProviderSubject,
	).Scan(&existingID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("sqlite: looking up %s user %s: %w", user.Provider, user.ProviderSubject, err)
	}

	now := time.Now().UTC()
	if existingID != "" {
		user.ID = existingID
		user.UpdatedAt = now
		_, err = db.conn.ExecContext(ctx,
			`UPDATE users SET email = ?, display_name = ?, avatar_url = ?, updated_at = ?
			 WHERE id = ?`,
			user.Email,
			user.DisplayName,
			user.AvatarURL,
			user.UpdatedAt,
			user.ID,
		)
		if err != nil {
			return fmt.Errorf("sqlite: updating user %s: %w", user.ID, err)
		}
		return db.fillTimestamps(ctx, user)
	}

	user.ID = xid.New().String()
	user.CreatedAt = now
	user.UpdatedAt = now
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID,
		user.Email,
		user.DisplayName,
		user.Provider,
		user.ProviderSubject,
		"",
		user.AvatarURL,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting %s user %s: %w", user.Provider, user.ProviderSubject, err)
	}
	return nil
}

// GetUserByID retrieves a user by their internal ID.
// Returns apperror.ErrNotFound if no user exists with that ID.
func (db *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = ?`, id,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("sqlite: getting user %s: %w", id, err)
	}
	return u, nil
}

// GetUserByEmail finds the email/password account for email.
// OAuth accounts sharing the address are not returned.
func (db *UserDB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? AND provider = ?`,
		email, model.ProviderPassword,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("sqlite: getting user by email: %w", err)
	}
	return u, nil
}

func (db *UserDB) fillTimestamps(ctx context.Context, user *model.User) error {
	err := db.conn.QueryRowContext(ctx,
		`SELECT created_at FROM users WHERE id = ?`, user.ID,
	).Scan(&user.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: reading user %s: %w", user.ID, err)
	}
	return nil
}

func scanUser(s rowScanner) (*model.User, error) {
	var u model.User
	err := s.Scan(
		&u.ID,
		&u.Email,
		&u.DisplayName,
		&u.Provider,
		&u.ProviderSubject,
		&u.PasswordHash,
		&u.AvatarURL,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// isUniqueViolation matches SQLite's constraint error text. modernc reports
// it as "constraint failed: UNIQUE constraint failed: users.email (2067)".
func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
