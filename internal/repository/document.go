package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/recall/internal/domain"
)

type DocumentRepository struct {
	db dbtx
}

func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: pool}
}

func NewDocumentRepositoryWithTx(tx pgx.Tx) *DocumentRepository {
	return &DocumentRepository{db: tx}
}

const documentColumns = `id, title, body, created_at, updated_at, archived_at, index_dirty`

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var d domain.Document
	if err := row.Scan(&d.ID, &d.Title, &d.Body, &d.CreatedAt, &d.UpdatedAt, &d.ArchivedAt, &d.IndexDirty); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*domain.Document, error) {
	d, err := scanDocument(r.db.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrDocumentNotFound
		}
		return nil, err
	}
	return d, nil
}

// GetMany returns the non-archived documents among ids, in no particular order.
func (r *DocumentRepository) GetMany(ctx context.Context, ids []string) ([]*domain.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE id = ANY($1::text[]::uuid[]) AND archived_at IS NULL`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Upsert writes title and body, bumps updated_at, clears any tombstone and
// marks the document dirty.
func (r *DocumentRepository) Upsert(ctx context.Context, d *domain.Document) error {
	// timestamptz keeps microseconds
	now := time.Now().UTC().Truncate(time.Microsecond)
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	d.ArchivedAt = nil
	d.IndexDirty = true

	return r.db.QueryRow(ctx,
		`INSERT INTO documents (id, title, body, created_at, updated_at, index_dirty)
		 VALUES ($1, $2, $3, $4, $5, TRUE)
		 ON CONFLICT (id) DO UPDATE
		 SET title = EXCLUDED.title,
		     body = EXCLUDED.body,
		     updated_at = EXCLUDED.updated_at,
		     archived_at = NULL,
		     index_dirty = TRUE
		 RETURNING created_at`,
		d.ID, d.Title, d.Body, d.CreatedAt, d.UpdatedAt,
	).Scan(&d.CreatedAt)
}

func (r *DocumentRepository) Archive(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET archived_at = $2, index_dirty = FALSE WHERE id = $1`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

func (r *DocumentRepository) MarkDirty(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE documents SET index_dirty = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrDocumentNotFound
	}
	return nil
}

// ClearDirty clears the flag unless the document was edited after readAt.
// It reports whether the flag was cleared.
func (r *DocumentRepository) ClearDirty(ctx context.Context, id string, readAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE documents SET index_dirty = FALSE WHERE id = $1 AND updated_at <= $2`, id, readAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ListDirty returns dirty, non-archived documents, newest-updated first.
func (r *DocumentRepository) ListDirty(ctx context.Context, limit int) ([]*domain.Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE index_dirty AND archived_at IS NULL
		 ORDER BY updated_at DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*domain.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// SearchLexical runs full-text search for terms OR-combined, best match
// first, newest first among ties.
func (r *DocumentRepository) SearchLexical(ctx context.Context, terms []string, limit int) ([]domain.LexicalHit, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	parts := make([]string, len(terms))
	args := make([]any, 0, len(terms)+1)
	for i, term := range terms {
		parts[i] = fmt.Sprintf("plainto_tsquery('english', $%d)", i+1)
		args = append(args, term)
	}
	args = append(args, limit)

	query := fmt.Sprintf(`
		SELECT d.id, d.title, d.updated_at, ts_rank_cd(d.search_vector, q.query) AS rank
		FROM documents d, (SELECT (%s) AS query) q
		WHERE d.archived_at IS NULL
		  AND numnode(q.query) > 0
		  AND d.search_vector @@ q.query
		ORDER BY rank DESC, d.updated_at DESC
		LIMIT $%d`, strings.Join(parts, " || "), len(terms)+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []domain.LexicalHit
	for rows.Next() {
		var h domain.LexicalHit
		var rank float32
		if err := rows.Scan(&h.DocumentID, &h.Title, &h.UpdatedAt, &rank); err != nil {
			return nil, err
		}
		h.Rank = float64(rank)
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// SearchSubstring matches term case-insensitively inside titles and bodies.
func (r *DocumentRepository) SearchSubstring(ctx context.Context, term string, exclude []string, limit int) ([]domain.LexicalHit, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	if exclude == nil {
		exclude = []string{}
	}

	pattern := "%" + escapeLike(term) + "%"
	rows, err := r.db.Query(ctx,
		`SELECT id, title, updated_at
		 FROM documents
		 WHERE archived_at IS NULL
		   AND (title ILIKE $1 OR body ILIKE $1)
		   AND NOT (id = ANY($2::text[]::uuid[]))
		 ORDER BY updated_at DESC
		 LIMIT $3`, pattern, exclude, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []domain.LexicalHit
	for rows.Next() {
		var h domain.LexicalHit
		if err := rows.Scan(&h.DocumentID, &h.Title, &h.UpdatedAt); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
