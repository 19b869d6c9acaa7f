package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloo-solutions/recall/internal/domain"
)

// GraphRepository stores explicit document links and document/entity
// associations, and answers 1-hop neighbour queries over both.
type GraphRepository struct {
	db dbtx
}

func NewGraphRepository(pool *pgxpool.Pool) *GraphRepository {
	return &GraphRepository{db: pool}
}

func NewGraphRepositoryWithTx(tx pgx.Tx) *GraphRepository {
	return &GraphRepository{db: tx}
}

// ReplaceLinks replaces every outgoing link of sourceID.
func (r *GraphRepository) ReplaceLinks(ctx context.Context, sourceID string, targetIDs []string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM document_links WHERE source_id = $1`, sourceID); err != nil {
			return err
		}
		for _, target := range targetIDs {
			if target == sourceID {
				return domain.ErrSelfLink
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO document_links (source_id, target_id) VALUES ($1, $2)
				 ON CONFLICT DO NOTHING`, sourceID, target); err != nil {
				return fmt.Errorf("insert link %s: %w", target, err)
			}
		}
		return nil
	})
}

// EntityKey is the normalized form entities are deduplicated on.
func EntityKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// ReplaceEntities replaces the document's entity associations with names,
// creating entities that do not exist yet.
func (r *GraphRepository) ReplaceEntities(ctx context.Context, documentID string, names []string) error {
	return pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM document_entities WHERE document_id = $1`, documentID); err != nil {
			return err
		}
		for _, name := range names {
			key := EntityKey(name)
			if key == "" {
				continue
			}
			var entityID int64
			err := tx.QueryRow(ctx,
				`INSERT INTO entities (name, name_key) VALUES ($1, $2)
				 ON CONFLICT (name_key) DO UPDATE SET name = entities.name
				 RETURNING id`, strings.TrimSpace(name), key,
			).Scan(&entityID)
			if err != nil {
				return fmt.Errorf("upsert entity %q: %w", name, err)
			}
			if _, err := tx.Exec(ctx,
				`INSERT INTO document_entities (document_id, entity_id) VALUES ($1, $2)
				 ON CONFLICT DO NOTHING`, documentID, entityID); err != nil {
				return fmt.Errorf("associate entity %q: %w", name, err)
			}
		}
		return nil
	})
}

// LinkedNeighbors returns documents linked to or from any seed, ranked by the
// number of distinct seeds they are linked with.
func (r *GraphRepository) LinkedNeighbors(ctx context.Context, seeds, exclude []string, limit int) ([]domain.GraphNeighbor, error) {
	if len(seeds) == 0 || limit <= 0 {
		return nil, nil
	}
	return r.neighbors(ctx,
		`WITH edges AS (
			SELECT target_id AS neighbor, source_id AS via FROM document_links
			WHERE source_id = ANY($1::text[]::uuid[])
			UNION
			SELECT source_id AS neighbor, target_id AS via FROM document_links
			WHERE target_id = ANY($1::text[]::uuid[])
		)
		SELECT e.neighbor::text, count(DISTINCT e.via) AS overlap
		FROM edges e
		JOIN documents d ON d.id = e.neighbor
		WHERE d.archived_at IS NULL
		  AND NOT (e.neighbor = ANY($2::text[]::uuid[]))
		GROUP BY e.neighbor
		ORDER BY overlap DESC, e.neighbor
		LIMIT $3`, seeds, exclude, limit)
}

// EntityNeighbors returns documents sharing entities with the seeds, ranked by
// the number of distinct shared entities.
func (r *GraphRepository) EntityNeighbors(ctx context.Context, seeds, exclude []string, limit int) ([]domain.GraphNeighbor, error) {
	if len(seeds) == 0 || limit <= 0 {
		return nil, nil
	}
	return r.neighbors(ctx,
		`SELECT other.document_id::text, count(DISTINCT other.entity_id) AS overlap
		FROM document_entities seed
		JOIN document_entities other ON other.entity_id = seed.entity_id
		JOIN documents d ON d.id = other.document_id
		WHERE seed.document_id = ANY($1::text[]::uuid[])
		  AND d.archived_at IS NULL
		  AND NOT (other.document_id = ANY($2::text[]::uuid[]))
		GROUP BY other.document_id
		ORDER BY overlap DESC, other.document_id
		LIMIT $3`, seeds, exclude, limit)
}

func (r *GraphRepository) neighbors(ctx context.Context, query string, seeds, exclude []string, limit int) ([]domain.GraphNeighbor, error) {
	if exclude == nil {
		exclude = []string{}
	}
	rows, err := r.db.Query(ctx, query, seeds, exclude, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.GraphNeighbor
	for rows.Next() {
		var n domain.GraphNeighbor
		if err := rows.Scan(&n.DocumentID, &n.Overlap); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
