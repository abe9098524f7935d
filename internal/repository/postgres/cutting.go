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

func (db *CuttingDB) Create(ctx context.Context, c *model.Cutting) error {
	c.ID = xid.New().String()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.CreatedAt
	if c.Species == "" {
		c.Species = model.DefaultSpecies
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO cuttings (`+cuttingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.OwnerID, c.Nickname, c.ImageURL, c.SuccessRate,
		c.HealthStatus, c.Species, c.Feedback, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: inserting cutting for user %s: %w", c.OwnerID, err)
	}
	return nil
}

func (db *CuttingDB) GetByID(ctx context.Context, ownerID, id string) (*model.Cutting, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+cuttingColumns+` FROM cuttings WHERE id = $1 AND user_id = $2`,
		id, ownerID,
	)
	c, err := scanCutting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("cutting", id)
		}
		return nil, fmt.Errorf("postgres: getting cutting %s: %w", id, err)
	}
	return c, nil
}

func (db *CuttingDB) ListByOwner(ctx context.Context, ownerID string) ([]model.Cutting, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+cuttingColumns+` FROM cuttings
		 WHERE user_id = $1
		 ORDER BY created_at DESC, id DESC`,
		ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: listing cuttings for user %s: %w", ownerID, err)
	}
	defer rows.Close()

	cuttings := []model.Cutting{}
	for rows.Next() {
		c, err := scanCutting(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scanning cutting row: %w", err)
		}
		cuttings = append(cuttings, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterating cutting rows: %w", err)
	}
	return cuttings, nil
}

// UpdateNickname renames a cutting and returns the stored record in one round trip.
func (db *CuttingDB) UpdateNickname(ctx context.Context, ownerID, id, nickname string) (*model.Cutting, error) {
	row := db.conn.QueryRowContext(ctx,
		`UPDATE cuttings SET nickname = $1, updated_at = now()
		 WHERE id = $2 AND user_id = $3
		 RETURNING `+cuttingColumns,
		nickname, id, ownerID,
	)
	c, err := scanCutting(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("cutting", id)
		}
		return nil, fmt.Errorf("postgres: renaming cutting %s: %w", id, err)
	}
	return c, nil
}

func (db *CuttingDB) Delete(ctx context.Context, ownerID, id string) error {
	result, err := db.conn.ExecContext(ctx,
		`DELETE FROM cuttings WHERE id = $1 AND user_id = $2`, id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("postgres: deleting cutting %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("postgres: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("cutting", id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCutting(s rowScanner) (*model.Cutting, error) {
	var c model.Cutting
	err := s.Scan(
		&c.ID, &c.OwnerID, &c.Nickname, &c.ImageURL, &c.SuccessRate,
		&c.HealthStatus, &c.Species, &c.Feedback, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}
