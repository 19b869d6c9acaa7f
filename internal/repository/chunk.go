package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/service"
)

// ChunkRepository pairs chunk rows with chunk_embeddings rows. The vector
// table has no foreign key, so every delete here removes embeddings first
// and every multi-row write runs in one transaction.
type ChunkRepository struct {
	db dbtx
}

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func NewChunkRepositoryWithTx(tx pgx.Tx) *ChunkRepository {
	return &ChunkRepository{db: tx}
}

func (r *ChunkRepository) inTx(ctx context.Context, fn func(q *ChunkRepository) error) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		return fn(&ChunkRepository{db: tx})
	})
}

func (r *ChunkRepository) insertChunk(ctx context.Context, c *domain.Chunk) error {
	return r.db.QueryRow(ctx,
		`INSERT INTO chunks (document_id, layer, position, text, context_text)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at`,
		nullableString(c.DocumentID), int16(c.Layer), c.Position, c.Text, c.ContextText,
	).Scan(&c.ID, &c.CreatedAt)
}

func (r *ChunkRepository) insertEmbedding(ctx context.Context, chunkID int64, vector []float32) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO chunk_embeddings (chunk_id, embedding) VALUES ($1, $2)`,
		chunkID, pgvector.NewVector(vector))
	return err
}

// InsertChunks writes relational rows only. Callers must either attach
// embeddings or delete the returned chunks.
func (r *ChunkRepository) InsertChunks(ctx context.Context, documentID string, layer domain.Layer, drafts []domain.ChunkDraft) ([]domain.Chunk, error) {
	if len(drafts) == 0 {
		return nil, nil
	}
	chunks := make([]domain.Chunk, len(drafts))
	err := r.inTx(ctx, func(q *ChunkRepository) error {
		for i, d := range drafts {
			chunks[i] = domain.Chunk{
				DocumentID:  documentID,
				Text:        d.Text,
				ContextText: d.ContextText,
				Layer:       layer,
				Position:    d.Position,
			}
			if err := q.insertChunk(ctx, &chunks[i]); err != nil {
				return fmt.Errorf("insert chunk %d: %w", d.Position, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// AttachEmbeddings writes one vector per chunk id, all or nothing.
func (r *ChunkRepository) AttachEmbeddings(ctx context.Context, chunkIDs []int64, vectors [][]float32) error {
	if len(chunkIDs) != len(vectors) {
		return fmt.Errorf("have %d chunks but %d vectors", len(chunkIDs), len(vectors))
	}
	return r.inTx(ctx, func(q *ChunkRepository) error {
		for i, id := range chunkIDs {
			if err := q.insertEmbedding(ctx, id, vectors[i]); err != nil {
				return fmt.Errorf("insert embedding for chunk %d: %w", id, err)
			}
		}
		return nil
	})
}

// InsertPair writes a chunk and its embedding atomically.
func (r *ChunkRepository) InsertPair(ctx context.Context, chunk domain.Chunk, vector []float32) (domain.Chunk, error) {
	err := r.inTx(ctx, func(q *ChunkRepository) error {
		if err := q.insertChunk(ctx, &chunk); err != nil {
			return err
		}
		return q.insertEmbedding(ctx, chunk.ID, vector)
	})
	return chunk, err
}

func (r *ChunkRepository) deleteWhere(ctx context.Context, where string, args ...any) error {
	return r.inTx(ctx, func(q *ChunkRepository) error {
		if _, err := q.db.Exec(ctx,
			`DELETE FROM chunk_embeddings WHERE chunk_id IN (SELECT id FROM chunks WHERE `+where+`)`,
			args...); err != nil {
			return fmt.Errorf("delete embeddings: %w", err)
		}
		if _, err := q.db.Exec(ctx, `DELETE FROM chunks WHERE `+where, args...); err != nil {
			return fmt.Errorf("delete chunks: %w", err)
		}
		return nil
	})
}

func (r *ChunkRepository) DeleteChunks(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	return r.deleteWhere(ctx, `id = ANY($1)`, ids)
}

// DeleteByDocument removes the document's chunks in the given layers, or in
// every layer when none are given.
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID string, layers ...domain.Layer) error {
	if len(layers) == 0 {
		return r.deleteWhere(ctx, `document_id = $1`, documentID)
	}
	return r.deleteWhere(ctx, `document_id = $1 AND layer = ANY($2)`, documentID, layerInts(layers))
}

func (r *ChunkRepository) DeleteByLayer(ctx context.Context, layer domain.Layer) error {
	return r.deleteWhere(ctx, `layer = $1`, int16(layer))
}

// ReplaceDocumentSummary swaps the document's layer-2 pair for staged.
func (r *ChunkRepository) ReplaceDocumentSummary(ctx context.Context, documentID string, staged domain.StagedChunk) error {
	return r.inTx(ctx, func(q *ChunkRepository) error {
		if err := q.DeleteByDocument(ctx, documentID, domain.LayerSummary); err != nil {
			return err
		}
		chunk := staged.Chunk
		chunk.DocumentID = documentID
		chunk.Layer = domain.LayerSummary
		chunk.Position = 0
		_, err := q.InsertPair(ctx, chunk, staged.Vector)
		return err
	})
}

// ReplaceLayer deletes every pair in layer and inserts staged in its place.
func (r *ChunkRepository) ReplaceLayer(ctx context.Context, layer domain.Layer, staged []domain.StagedChunk) error {
	return r.inTx(ctx, func(q *ChunkRepository) error {
		if err := q.DeleteByLayer(ctx, layer); err != nil {
			return err
		}
		for _, s := range staged {
			chunk := s.Chunk
			chunk.Layer = layer
			if _, err := q.InsertPair(ctx, chunk, s.Vector); err != nil {
				return fmt.Errorf("insert layer %d chunk %d: %w", layer, chunk.Position, err)
			}
		}
		return nil
	})
}

func (r *ChunkRepository) ListLayer(ctx context.Context, layer domain.Layer) ([]domain.Chunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, coalesce(document_id::text, ''), text, context_text, layer, position, created_at
		 FROM chunks
		 WHERE layer = $1
		 ORDER BY document_id NULLS FIRST, position`, int16(layer))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var l int16
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.ContextText, &l, &c.Position, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Layer = domain.Layer(l)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (r *ChunkRepository) CountLayer(ctx context.Context, layer domain.Layer) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `SELECT count(*) FROM chunks WHERE layer = $1`, int16(layer)).Scan(&n)
	return n, err
}

// SearchNearest returns up to limit chunks in layers ordered by cosine
// distance to vector. Chunks of archived documents are skipped.
func (r *ChunkRepository) SearchNearest(ctx context.Context, vector []float32, layers []domain.Layer, limit int) ([]domain.ChunkHit, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.Query(ctx,
		`SELECT c.id, coalesce(c.document_id::text, ''), coalesce(d.title, ''), c.text, c.layer,
		        e.embedding <=> $1 AS distance
		 FROM chunk_embeddings e
		 JOIN chunks c ON c.id = e.chunk_id
		 LEFT JOIN documents d ON d.id = c.document_id
		 WHERE c.layer = ANY($2)
		   AND (c.document_id IS NULL OR d.archived_at IS NULL)
		 ORDER BY e.embedding <=> $1
		 LIMIT $3`,
		pgvector.NewVector(vector), layerInts(layers), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []domain.ChunkHit
	for rows.Next() {
		var h domain.ChunkHit
		var l int16
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Title, &h.Text, &l, &h.Distance); err != nil {
			return nil, err
		}
		h.Layer = domain.Layer(l)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// NearestClusterMembers unions the member ids of the limit layer-3 clusters
// nearest to vector, nearest cluster first. Undecodable member lists are skipped.
func (r *ChunkRepository) NearestClusterMembers(ctx context.Context, vector []float32, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT c.context_text
		 FROM chunk_embeddings e
		 JOIN chunks c ON c.id = e.chunk_id
		 WHERE c.layer = 3
		 ORDER BY e.embedding <=> $1
		 LIMIT $2`,
		pgvector.NewVector(vector), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var members []string
	for rows.Next() {
		var contextText string
		if err := rows.Scan(&contextText); err != nil {
			return nil, err
		}
		ids, err := domain.DecodeMemberIDs(contextText)
		if err != nil {
			continue
		}
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			members = append(members, id)
		}
	}
	return members, rows.Err()
}

// SummariesFor maps document id to its layer-2 summary text.
func (r *ChunkRepository) SummariesFor(ctx context.Context, documentIDs []string) (map[string]string, error) {
	out := make(map[string]string)
	if len(documentIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT document_id::text, text FROM chunks
		 WHERE layer = 2 AND document_id = ANY($1::text[]::uuid[])`, documentIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, err
		}
		out[id] = text
	}
	return out, rows.Err()
}

func (r *ChunkRepository) CountOrphans(ctx context.Context) (service.OrphanReport, error) {
	var report service.OrphanReport
	err := r.db.QueryRow(ctx,
		`SELECT
			(SELECT count(*) FROM chunks c
			 WHERE NOT EXISTS (SELECT 1 FROM chunk_embeddings e WHERE e.chunk_id = c.id)),
			(SELECT count(*) FROM chunk_embeddings e
			 WHERE NOT EXISTS (SELECT 1 FROM chunks c WHERE c.id = e.chunk_id))`,
	).Scan(&report.ChunksWithoutEmbedding, &report.EmbeddingsWithoutChunk)
	return report, err
}
