package service

import (
	"context"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
)

// Embedder turns texts into unit-length vectors, one per text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Completer is the completion half of the provider layer.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
	Rank(ctx context.Context, query string, candidates []string) ([]int, error)
}

// Providers is the provider registry as seen by the services.
type Providers interface {
	Embedder
	Completer
	HasEmbeddingCredentials() bool
	HasCompletionCredentials() bool
}

// VectorIndexProbe reports whether the vector half of the index is usable.
type VectorIndexProbe interface {
	IsVectorIndexLoaded() bool
}

// DocumentRepositoryInterface defines the repository interface for documents
type DocumentRepositoryInterface interface {
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	GetMany(ctx context.Context, ids []string) ([]*domain.Document, error)
	Upsert(ctx context.Context, d *domain.Document) error
	Archive(ctx context.Context, id string, at time.Time) error
	MarkDirty(ctx context.Context, id string) error
	ClearDirty(ctx context.Context, id string, readAt time.Time) (bool, error)
	ListDirty(ctx context.Context, limit int) ([]*domain.Document, error)
	SearchLexical(ctx context.Context, terms []string, limit int) ([]domain.LexicalHit, error)
	SearchSubstring(ctx context.Context, term string, exclude []string, limit int) ([]domain.LexicalHit, error)
}

// ChunkRepositoryInterface is the paired relational/vector store. Every
// delete removes vector rows before chunk rows.
type ChunkRepositoryInterface interface {
	InsertChunks(ctx context.Context, documentID string, layer domain.Layer, drafts []domain.ChunkDraft) ([]domain.Chunk, error)
	AttachEmbeddings(ctx context.Context, chunkIDs []int64, vectors [][]float32) error
	InsertPair(ctx context.Context, chunk domain.Chunk, vector []float32) (domain.Chunk, error)
	DeleteChunks(ctx context.Context, ids []int64) error
	DeleteByDocument(ctx context.Context, documentID string, layers ...domain.Layer) error
	DeleteByLayer(ctx context.Context, layer domain.Layer) error
	ReplaceDocumentSummary(ctx context.Context, documentID string, staged domain.StagedChunk) error
	ReplaceLayer(ctx context.Context, layer domain.Layer, staged []domain.StagedChunk) error
	ListLayer(ctx context.Context, layer domain.Layer) ([]domain.Chunk, error)
	CountLayer(ctx context.Context, layer domain.Layer) (int, error)
	SearchNearest(ctx context.Context, vector []float32, layers []domain.Layer, limit int) ([]domain.ChunkHit, error)
	NearestClusterMembers(ctx context.Context, vector []float32, limit int) ([]string, error)
	SummariesFor(ctx context.Context, documentIDs []string) (map[string]string, error)
	CountOrphans(ctx context.Context) (OrphanReport, error)
}

// OrphanReport counts rows that break the chunk/embedding pairing.
type OrphanReport struct {
	ChunksWithoutEmbedding int
	EmbeddingsWithoutChunk int
}

// Clean reports whether the index is consistent.
func (r OrphanReport) Clean() bool {
	return r.ChunksWithoutEmbedding == 0 && r.EmbeddingsWithoutChunk == 0
}

// GraphRepositoryInterface covers explicit links and shared entities.
type GraphRepositoryInterface interface {
	ReplaceLinks(ctx context.Context, sourceID string, targetIDs []string) error
	ReplaceEntities(ctx context.Context, documentID string, names []string) error
	LinkedNeighbors(ctx context.Context, seeds, exclude []string, limit int) ([]domain.GraphNeighbor, error)
	EntityNeighbors(ctx context.Context, seeds, exclude []string, limit int) ([]domain.GraphNeighbor, error)
}

// IndexStateRepositoryInterface persists small pieces of index bookkeeping.
type IndexStateRepositoryInterface interface {
	GetTime(ctx context.Context, key string) (time.Time, bool, error)
	SetTime(ctx context.Context, key string, t time.Time) error
}

// ClusterArchive stores a snapshot of each cluster rebuild.
type ClusterArchive interface {
	Archive(ctx context.Context, snapshot *domain.ClusterSnapshot) (string, error)
}

// Spawner runs fire-and-forget work.
type Spawner interface {
	Spawn(name string, fn func(ctx context.Context))
}
