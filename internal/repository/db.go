package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/cloo-solutions/recall/internal/domain"
)

// dbtx is satisfied by both *pgxpool.Pool and pgx.Tx, so every repository
// can run standalone or inside a caller's transaction. Begin on a pgx.Tx
// opens a savepoint.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func layerInts(layers []domain.Layer) []int16 {
	out := make([]int16, len(layers))
	for i, l := range layers {
		out[i] = int16(l)
	}
	return out
}
