//go:build integration

package repository

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/recall/internal/domain"
)

func TestChunkRepository_InsertAndAttach(t *testing.T) {
	ctx, pool := setupPool(t)
	docs := NewDocumentRepository(pool)
	repo := NewChunkRepository(pool)

	doc := seedDocument(ctx, t, docs, "Garden", "Tomatoes need sun. Basil likes water.")

	chunks, err := repo.InsertChunks(ctx, doc.ID, domain.LayerRaw, []domain.ChunkDraft{
		{Text: "Tomatoes need sun.", ContextText: "Garden", Position: 0},
		{Text: "Basil likes water.", ContextText: "Garden", Position: 1},
	})
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.NotZero(t, chunks[0].ID)
	assert.Equal(t, doc.ID, chunks[1].DocumentID)

	report, err := repo.CountOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.ChunksWithoutEmbedding)

	err = repo.AttachEmbeddings(ctx, []int64{chunks[0].ID}, nil)
	assert.Error(t, err)

	require.NoError(t, repo.AttachEmbeddings(ctx,
		[]int64{chunks[0].ID, chunks[1].ID},
		[][]float32{{1, 0, 0}, {0, 1, 0}}))

	report, err = repo.CountOrphans(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())

	listed, err := repo.ListLayer(ctx, domain.LayerRaw)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, 0, listed[0].Position)
	assert.Equal(t, "Basil likes water.", listed[1].Text)
	assert.Equal(t, domain.LayerRaw, listed[1].Layer)
}

func TestChunkRepository_DeleteChunksRemovesUnpairedRows(t *testing.T) {
	ctx, pool := setupPool(t)
	docs := NewDocumentRepository(pool)
	repo := NewChunkRepository(pool)

	doc := seedDocument(ctx, t, docs, "Scratch", "x")
	chunks, err := repo.InsertChunks(ctx, doc.ID, domain.LayerRaw, []domain.ChunkDraft{{Text: "x", Position: 0}})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteChunks(ctx, []int64{chunks[0].ID}))

	report, err := repo.CountOrphans(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())

	n, err := repo.CountLayer(ctx, domain.LayerRaw)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestChunkRepository_ReplaceDocumentSummary(t *testing.T) {
	ctx, pool := setupPool(t)
	docs := NewDocumentRepository(pool)
	repo := NewChunkRepository(pool)

	doc := seedDocument(ctx, t, docs, "Notes", "body")

	require.NoError(t, repo.ReplaceDocumentSummary(ctx, doc.ID, domain.StagedChunk{
		Chunk:  domain.Chunk{Text: "first summary"},
		Vector: []float32{1, 0, 0},
	}))
	require.NoError(t, repo.ReplaceDocumentSummary(ctx, doc.ID, domain.StagedChunk{
		Chunk:  domain.Chunk{Text: "second summary"},
		Vector: []float32{0, 1, 0},
	}))

	n, err := repo.CountLayer(ctx, domain.LayerSummary)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	summaries, err := repo.SummariesFor(ctx, []string{doc.ID})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{doc.ID: "second summary"}, summaries)

	report, err := repo.CountOrphans(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestChunkRepository_DeleteByDocument(t *testing.T) {
	ctx, pool := setupPool(t)
	docs := NewDocumentRepository(pool)
	repo := NewChunkRepository(pool)

	doc := seedDocument(ctx, t, docs, "Notes", "body")
	_, err := repo.InsertPair(ctx, domain.Chunk{DocumentID: doc.ID, Layer: domain.LayerRaw, Text: "raw"}, []float32{1, 0, 0})
	require.NoError(t, err)
	_, err = repo.InsertPair(ctx, domain.Chunk{DocumentID: doc.ID, Layer: domain.LayerSummary, Text: "summary"}, []float32{0, 1, 0})
	require.NoError(t, err)

	require.NoError(t, repo.DeleteByDocument(ctx, doc.ID, domain.LayerRaw))
	raw, err := repo.CountLayer(ctx, domain.LayerRaw)
	require.NoError(t, err)
	summary, err := repo.CountLayer(ctx, domain.LayerSummary)
	require.NoError(t, err)
	assert.Zero(t, raw)
	assert.Equal(t, 1, summary)

	require.NoError(t, repo.DeleteByDocument(ctx, doc.ID))
	summary, err = repo.CountLayer(ctx, domain.LayerSummary)
	require.NoError(t, err)
	assert.Zero(t, summary)

	report, err := repo.CountOrphans(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}

func TestChunkRepository_SearchNearest(t *testing.T) {
	ctx, pool := setupPool(t)
	docs := NewDocumentRepository(pool)
	repo := NewChunkRepository(pool)

	near := seedDocument(ctx, t, docs, "Near", "n")
	far := seedDocument(ctx, t, docs, "Far", "f")
	archived := seedDocument(ctx, t, docs, "Archived", "a")

	_, err := repo.InsertPair(ctx, domain.Chunk{DocumentID: near.ID, Layer: domain.LayerRaw, Text: "near raw"}, []float32{1, 0, 0})
	require.NoError(t, err)
	_, err = repo.InsertPair(ctx, domain.Chunk{DocumentID: far.ID, Layer: domain.LayerSummary, Text: "far summary"}, []float32{0, 1, 0})
	require.NoError(t, err)
	_, err = repo.InsertPair(ctx, domain.Chunk{DocumentID: archived.ID, Layer: domain.LayerRaw, Text: "archived raw"}, []float32{1, 0, 0})
	require.NoError(t, err)
	require.NoError(t, docs.Archive(ctx, archived.ID, time.Now()))

	hits, err := repo.SearchNearest(ctx, []float32{1, 0, 0}, []domain.Layer{domain.LayerRaw, domain.LayerSummary}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, near.ID, hits[0].DocumentID)
	assert.Equal(t, "Near", hits[0].Title)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-6)
	assert.Equal(t, far.ID, hits[1].DocumentID)
	assert.Equal(t, domain.LayerSummary, hits[1].Layer)

	hits, err = repo.SearchNearest(ctx, []float32{1, 0, 0}, []domain.Layer{domain.LayerSummary}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, far.ID, hits[0].DocumentID)
}

func TestChunkRepository_ClusterLayer(t *testing.T) {
	ctx, pool := setupPool(t)
	repo := NewChunkRepository(pool)

	first, err := domain.EncodeMemberIDs([]string{"a", "b"})
	require.NoError(t, err)
	second, err := domain.EncodeMemberIDs([]string{"b", "c"})
	require.NoError(t, err)

	require.NoError(t, repo.ReplaceLayer(ctx, domain.LayerCluster, []domain.StagedChunk{
		{Chunk: domain.Chunk{Text: "Theme one", ContextText: first, Position: 0}, Vector: []float32{1, 0, 0}},
		{Chunk: domain.Chunk{Text: "Theme two", ContextText: second, Position: 1}, Vector: []float32{0.6, 0.8, 0}},
		{Chunk: domain.Chunk{Text: "Broken", ContextText: "not json", Position: 2}, Vector: []float32{0, 0, 1}},
	}))

	members, err := repo.NearestClusterMembers(ctx, []float32{1, 0, 0}, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, members)

	members, err = repo.NearestClusterMembers(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, members)

	listed, err := repo.ListLayer(ctx, domain.LayerCluster)
	require.NoError(t, err)
	require.Len(t, listed, 3)
	assert.Empty(t, listed[0].DocumentID)
	assert.Equal(t, "Theme one", listed[0].Text)

	require.NoError(t, repo.ReplaceLayer(ctx, domain.LayerCluster, nil))
	n, err := repo.CountLayer(ctx, domain.LayerCluster)
	require.NoError(t, err)
	assert.Zero(t, n)

	report, err := repo.CountOrphans(ctx)
	require.NoError(t, err)
	assert.True(t, report.Clean())
}
