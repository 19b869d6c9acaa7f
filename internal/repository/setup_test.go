//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/testutil"
)

const testDimensions = 3

func setupPool(t *testing.T) (context.Context, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	url := testutil.StartPostgres(ctx, t)
	pool, _ := testutil.NewIndexedPool(ctx, t, url, "../../migrations", testDimensions)

	return ctx, pool
}

func seedDocument(ctx context.Context, t *testing.T, repo *DocumentRepository, title, body string) *domain.Document {
	t.Helper()
	doc := &domain.Document{ID: uuid.NewString(), Title: title, Body: body}
	require.NoError(t, repo.Upsert(ctx, doc))
	// keep updated_at strictly increasing between seeds
	time.Sleep(2 * time.Millisecond)
	return doc
}
