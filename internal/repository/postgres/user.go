package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/repository"
)

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
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		user.ID, user.Email, user.DisplayName, user.Provider, user.ProviderSubject,
		user.PasswordHash, user.AvatarURL, user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("This email is already in use.")
		}
		return fmt.Errorf("postgres: inserting user %s: %w", user.Email, err)
	}
	return nil
}

// UpsertProvider inserts or refreshes an OAuth account keyed on
// (provider, provider_subject). The conflict target repeats the partial
// index predicate so Postgres can infer it.
func (db *UserDB) UpsertProvider(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO users (`+userColumns+`)
		 VALUES ($1, $2, $3, $4, $5, '', $6, $7, $7)
		 ON CONFLICT (provider, provider_subject) WHERE provider <> 'password'
		 DO UPDATE SET email = EXCLUDED.email,
		               display_name = EXCLUDED.display_name,
		               avatar_url = EXCLUDED.avatar_url,
		               updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		xid.New().String(), user.Email, user.DisplayName, user.Provider,
		user.ProviderSubject, user.AvatarURL, now,
	).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: upserting %s user %s: %w", user.Provider, user.ProviderSubject, err)
	}
	return nil
}

func (db *UserDB) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", id)
		}
		return nil, fmt.Errorf("postgres: getting user %s: %w", id, err)
	}
	return u, nil
}

func (db *UserDB) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1 AND provider = $2`,
		email, model.ProviderPassword,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", email)
		}
		return nil, fmt.Errorf("postgres: getting user by email: %w", err)
	}
	return u, nil
}

func scanUser(s rowScanner) (*model.User, error) {
	var u model.User
	err := s.Scan(
		&u.ID, &u.Email, &u.DisplayName, &u.Provider, &u.ProviderSubject,
		&u.PasswordHash, &u.AvatarURL, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
