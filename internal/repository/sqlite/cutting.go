package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/propability/internal/apperror"
	"github.com/sakif/propability/internal/model"
	"github.com/sakif/propability/internal/repository"
)

// compile-time check that *CuttingDB implements repository.CuttingRepository
var _ repository.CuttingRepository = (*CuttingDB)(nil)

// CuttingDB is the cutting table view of a DB.
type CuttingDB struct {
	conn *sql.DB
}

// Cuttings returns the cutting repository backed by db.
func (db *DB) Cuttings() *CuttingDB {
	return &CuttingDB{conn: db.conn}
}

const cuttingColumns = `id, user_id, nickname, image_url, success_rate, health_status,
	species, feedback, created_at, updated_at`

// Create inserts a new cutting. ID is always generated here; CreatedAt is
// kept when the caller already set it (imports, tests) and defaults to now.
//
// Timestamps are stored in UTC so the created_at index sorts them correctly.
func (db *CuttingDB) Create(ctx context.Context, c *model.Cutting) error {
	now := time.Now().UTC()
	c.ID = xid.New().String()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.CreatedAt
	if c.Species == "" {
		c.Species = model.DefaultSpecies
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO cuttings (`+cuttingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID,
		c.OwnerID,
		c.Nickname,
		c.ImageURL,
		c.SuccessRate,
		c.HealthStatus,
		c.Species,
		c.Feedback,
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: inserting cutting for user %s: %w", c.OwnerID, err)
	}
	return nil
}

// GetByID returns one cutting owned by ownerID.
// A row owned by someone else is reported as apperror.ErrNotFound.
func (db *CuttingDB) GetByID(ctx context.Context, ownerID, id string) (*model.Cutting, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+cuttingColumns+` FROM cuttings WHERE id = ? AND user_id = ?`,
		id, ownerID,
	)
	c, err := scanCutting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("cutting", id)
		}
		return nil, fmt.Errorf("sqlite: getting cutting %s: %w", id, err)
	}
	return c, nil
}

// ListByOwner returns every cutting the owner has, newest first.
func (db *CuttingDB) ListByOwner(ctx context.Context, ownerID string) ([]model.Cutting, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+cuttingColumns+` FROM cuttings
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing cuttings for user %s: %w", ownerID, err)
	}
	defer rows.Close()

	cuttings := []model.Cutting{}
	for rows.Next() {
		c, err := scanCutting(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning cutting row: %w", err)
		}
		cuttings = append(cuttings, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating cutting rows: %w", err)
	}

	// DATETIME is stored as text; re-sort on the parsed value so mixed
	// precision timestamps cannot reorder the list.
	slices.SortStableFunc(cuttings, func(a, b model.Cutting) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return cuttings, nil
}

// UpdateNickname renames a cutting and returns the stored record.
func (db *CuttingDB) UpdateNickname(ctx context.Context, ownerID, id, nickname string) (*model.Cutting, error) {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE cuttings SET nickname = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		nickname, time.Now().UTC(), id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: renaming cutting %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return nil, apperror.NotFound("cutting", id)
	}

	return db.GetByID(ctx, ownerID, id)
}

// Delete removes a cutting owned by ownerID.
func (db *CuttingDB) Delete(ctx context.Context, ownerID, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM cuttings WHERE id = ? AND user_id = ?`, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: deleting cutting %s: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("cutting", id)
	}
	return nil
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCutting(s rowScanner) (*model.Cutting, error) {
	var c model.Cutting
	err := s.Scan(
		&c.ID,
		&c.OwnerID,
		&c.Nickname,
		&c.ImageURL,
		&c.SuccessRate,
		&c.HealthStatus,
		&c.Species,
		&c.Feedback,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
