package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/recall/internal/logging"
)

// VectorIndex records whether the chunk_embeddings half of the index is
// usable. It is the "vector index loaded" capability probe.
type VectorIndex struct {
	loaded     atomic.Bool
	dimensions int
}

// NewVectorIndex returns a probe in the given state. Used by tests and by
// commands that run without a database.
func NewVectorIndex(loaded bool, dimensions int) *VectorIndex {
	v := &VectorIndex{dimensions: dimensions}
	v.loaded.Store(loaded)
	return v
}

// IsVectorIndexLoaded reports whether vector reads and writes may be issued.
func (v *VectorIndex) IsVectorIndexLoaded() bool {
	if v == nil {
		return false
	}
	return v.loaded.Load()
}

// Dimensions returns the width of the stored vectors.
func (v *VectorIndex) Dimensions() int {
	return v.dimensions
}

// EnsureVectorIndex creates the pgvector extension, the chunk_embeddings
// table and its HNSW cosine index. Any failure leaves the probe unloaded and
// is logged; callers degrade to lexical-only behaviour.
func EnsureVectorIndex(ctx context.Context, pool *pgxpool.Pool, dimensions int) *VectorIndex {
	log := logging.FromContext(ctx)
	v := &VectorIndex{dimensions: dimensions}

	if err := ensureVectorIndex(ctx, pool, dimensions); err != nil {
		log.Warn("vector index unavailable, search degrades to lexical only", slog.String("error", err.Error()))
		return v
	}

	v.loaded.Store(true)
	log.Info("vector index loaded", slog.Int("dimensions", dimensions))
	return v
}

func ensureVectorIndex(ctx context.Context, pool *pgxpool.Pool, dimensions int) error {
	if dimensions <= 0 || dimensions > 2000 {
		return fmt.Errorf("unsupported embedding dimensions %d", dimensions)
	}

	if _, err := pool.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", err)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			chunk_id BIGINT PRIMARY KEY,
			embedding vector(%d) NOT NULL
		)`, dimensions),
		`CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_hnsw
			ON chunk_embeddings USING hnsw (embedding vector_cosine_ops)`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("create chunk_embeddings: %w", err)
		}
	}

	// An existing table built for another model cannot be reused.
	var existing int
	err := pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'chunk_embeddings'::regclass AND attname = 'embedding'`,
	).Scan(&existing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return errors.New("chunk_embeddings.embedding column missing")
		}
		return fmt.Errorf("inspect chunk_embeddings: %w", err)
	}
	if existing != dimensions {
		return fmt.Errorf("chunk_embeddings stores %d-dimensional vectors, configured %d", existing, dimensions)
	}

	return nil
}
