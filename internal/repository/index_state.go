package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IndexStateRepository is a small key/value table for index bookkeeping.
type IndexStateRepository struct {
	db dbtx
}

func NewIndexStateRepository(pool *pgxpool.Pool) *IndexStateRepository {
	return &IndexStateRepository{db: pool}
}

// GetTime reads a timestamp value; ok is false when the key is unset.
func (r *IndexStateRepository) GetTime(ctx context.Context, key string) (time.Time, bool, error) {
	var value string
	err := r.db.QueryRow(ctx, `SELECT value FROM index_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse index_state %s: %w", key, err)
	}
	return t, true, nil
}

func (r *IndexStateRepository) SetTime(ctx context.Context, key string, t time.Time) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO index_state (key, value, updated_at) VALUES ($1, $2, NOW())
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		key, t.UTC().Format(time.RFC3339Nano))
	return err
}
