package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/recall/internal/domain"
)

func newTestEngine(store *memStore, p *fakeProviders, loaded bool) *SearchEngine {
	return NewSearchEngine(store, store, store, p, vectorProbe(loaded), nil, DefaultSearchConfig())
}

func resultIDs(results []domain.SearchResult) []string {
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.DocumentID
	}
	return ids
}

// indexAll runs the embedding pipeline for every stored document.
func indexAll(t *testing.T, store *memStore, p *fakeProviders) {
	t.Helper()
	o := NewOrchestrator(store, store, p, vectorProbe(true), nil, inlineSpawner{}, nil, DefaultPipelineConfig())
	for id := range store.docs {
		_, err := o.IndexDocument(context.Background(), id)
		require.NoError(t, err)
	}
}

func seedMigrationDocs(store *memStore) {
	store.put(docA, "Migration plan", "We plan the database migration for March. Rollback is scripted.")
	store.put(docB, "Budget", "The budget for the migration project is approved.")
	store.put(docC, "Garden", "Tomatoes need compost and water.")
}

func TestSearch_LexicalOnlyScenario(t *testing.T) {
	store := newMemStore()
	store.put(docA, "Weekly sync", meetingBody)
	engine := newTestEngine(store, newFakeProviders(false, false), false)

	results := engine.Search(context.Background(), "who approved the report")

	require.Len(t, results, 1)
	assert.Equal(t, docA, results[0].DocumentID)
	assert.Equal(t, "Weekly sync", results[0].Title)
	assert.Empty(t, results[0].Excerpt)
	assert.InDelta(t, 1.0/60, results[0].Score, 1e-12)
}

func TestSearch_EmptyQuery(t *testing.T) {
	store := newMemStore()
	store.put(docA, "Weekly sync", meetingBody)
	engine := newTestEngine(store, newFakeProviders(false, false), false)

	assert.Empty(t, engine.Search(context.Background(), "   "))
	assert.Empty(t, store.lexicalCalls)
}

func TestSearch_LexicalFailureYieldsEmpty(t *testing.T) {
	store := newMemStore()
	store.put(docA, "Weekly sync", meetingBody)
	store.lexicalErr = errors.New("db down")
	engine := newTestEngine(store, newFakeProviders(false, false), false)

	assert.Empty(t, engine.Search(context.Background(), "report"))
}

func TestSearch_ArchivedDocumentsExcluded(t *testing.T) {
	store := newMemStore()
	store.put(docA, "Weekly sync", meetingBody)
	store.put(docB, "Old sync", meetingBody)
	require.NoError(t, store.Archive(context.Background(), docB, store.clock))
	engine := newTestEngine(store, newFakeProviders(false, false), false)

	assert.Equal(t, []string{docA}, resultIDs(engine.Search(context.Background(), "report")))
}

func TestSearch_CapsAtMaxResults(t *testing.T) {
	store := newMemStore()
	for i := 0; i < 20; i++ {
		store.put(fmt.Sprintf("0b5a6f2e-3c1d-4e8f-9a7b-%012d", i), fmt.Sprintf("Report %d", i), "Quarterly report draft.")
	}
	engine := newTestEngine(store, newFakeProviders(false, false), false)

	assert.Len(t, engine.Search(context.Background(), "report"), 15)
}

func TestSearch_VectorTierFusesAndAddsExcerpts(t *testing.T) {
	store := newMemStore()
	seedMigrationDocs(store)
	p := newFakeProviders(true, false)
	indexAll(t, store, p)
	engine := newTestEngine(store, p, true)

	results := engine.Search(context.Background(), "database migration")

	require.NotEmpty(t, results)
	assert.Equal(t, docA, results[0].DocumentID)
	assert.NotEmpty(t, results[0].Excerpt)
	// docA is first in both lists
	assert.InDelta(t, 2.0/60, results[0].Score, 1e-12)
	assert.Zero(t, p.calls("expansion"))
}

func TestSearch_DisablingCompletionPreservesFusionOrder(t *testing.T) {
	store := newMemStore()
	seedMigrationDocs(store)
	indexAll(t, store, newFakeProviders(true, false))

	vectorOnly := newTestEngine(store, newFakeProviders(true, false), true)
	full := newFakeProviders(true, true)
	full.rankFn = func(_ string, candidates []string) ([]int, error) {
		scores := make([]int, len(candidates))
		for i := range scores {
			scores[i] = 5
		}
		return scores, nil
	}
	complete := newTestEngine(store, full, true)

	base := resultIDs(vectorOnly.Search(context.Background(), "migration"))
	withCompletion := resultIDs(complete.Search(context.Background(), "migration"))

	require.NotEmpty(t, base)
	assert.Equal(t, base, withCompletion)
	assert.Equal(t, 1, full.calls("expansion"))
}

func TestSearch_NoVectorIndexCollapsesToLexical(t *testing.T) {
	store := newMemStore()
	seedMigrationDocs(store)
	p := newFakeProviders(true, true)
	indexAll(t, store, p)
	engine := newTestEngine(store, p, false)

	results := engine.Search(context.Background(), "migration")

	require.Len(t, results, 2)
	for _, r := range results {
		assert.Empty(t, r.Excerpt)
	}
	assert.Zero(t, p.calls("expansion"))
}

func TestSearch_ExpansionTermsReachLexicalSearch(t *testing.T) {
	store := newMemStore()
	store.put(docA, "Weekly sync", meetingBody)
	store.put(docB, "Sign-off", "Carol gave the sign-off on the budget.")
	p := newFakeProviders(true, true)
	p.completeFn = func(system, prompt string) (string, error) {
		if system == expansionSystemPrompt {
			return "```json\n[\"sign-off\", \"endorsed\", \"approved\"]\n```", nil
		}
		return "", domain.ErrProviderFailure
	}
	engine := newTestEngine(store, p, true)

	results := engine.Search(context.Background(), "who approved the report")

	require.NotEmpty(t, store.lexicalCalls)
	assert.Equal(t, []string{"approved report", "sign-off", "endorsed", "approved"}, store.lexicalCalls[0])
	assert.ElementsMatch(t, []string{docA, docB}, resultIDs(results))
}

func TestSearch_ExpansionFailureIsSkipped(t *testing.T) {
	store := newMemStore()
	store.put(docA, "Weekly sync", meetingBody)
	p := newFakeProviders(true, true)
	p.completeFn = func(string, string) (string, error) { return "not json at all", nil }
	engine := newTestEngine(store, p, true)

	results := engine.Search(context.Background(), "approved report")

	assert.Equal(t, []string{docA}, resultIDs(results))
}

func TestSearch_RerankReordersHead(t *testing.T) {
	store := newMemStore()
	seedMigrationDocs(store)
	store.put(docD, "Migration retro", "Notes from the migration retrospective.")
	p := newFakeProviders(true, true)
	p.rankFn = func(_ string, candidates []string) ([]int, error) {
		scores := make([]int, len(candidates))
		for i, c := range candidates {
			if strings.HasPrefix(c, "Budget") {
				scores[i] = 10
			}
		}
		return scores, nil
	}
	engine := newTestEngine(store, p, true)

	results := engine.Search(context.Background(), "migration")

	require.Len(t, results, 3)
	assert.Equal(t, docB, results[0].DocumentID)
}

func TestSearch_MalformedRerankKeepsFusionOrder(t *testing.T) {
	store := newMemStore()
	seedMigrationDocs(store)
	store.put(docD, "Migration retro", "Notes from the migration retrospective.")
	lexicalOnly := resultIDs(newTestEngine(store, newFakeProviders(false, false), false).Search(context.Background(), "migration"))

	p := newFakeProviders(true, true)
	p.rankFn = func(string, []string) ([]int, error) { return []int{10}, nil }
	engine := newTestEngine(store, p, true)

	assert.Equal(t, lexicalOnly, resultIDs(engine.Search(context.Background(), "migration")))
}

func TestSearch_ClusterBoost(t *testing.T) {
	store := newMemStore()
	store.put(docA, "Migration plan", "The migration starts in March.")
	store.put(docB, "Migration budget", "The migration budget is approved.")
	members, err := domain.EncodeMemberIDs([]string{docA})
	require.NoError(t, err)
	_, err = store.InsertPair(context.Background(), domain.Chunk{
		Text: "Database migration work", ContextText: members, Layer: domain.LayerCluster,
	}, hashVector("migration"))
	require.NoError(t, err)

	p := newFakeProviders(true, true)
	engine := newTestEngine(store, p, true)
	require.Equal(t, TierCluster, tierOf(engine.Capabilities(context.Background())))

	results := engine.Search(context.Background(), "migration")

	require.Len(t, results, 2)
	assert.Equal(t, docA, results[0].DocumentID)
	// docB is newer so ranks first lexically; the boost lifts docA over it.
	assert.InDelta(t, 1.0/61+0.05, results[0].Score, 1e-12)
	assert.InDelta(t, 1.0/60, results[1].Score, 1e-12)
}

func TestSearch_BackfillAddsSubstringMatchesAtFloor(t *testing.T) {
	store := newMemStore()
	store.put(docA, "Weekly sync", meetingBody)
	store.put(docB, "Tooling", "We bought two frobnicators for the lab.")
	p := newFakeProviders(true, true)
	p.completeFn = func(system, prompt string) (string, error) {
		if system == expansionSystemPrompt {
			return `["frobnicator"]`, nil
		}
		return "", domain.ErrProviderFailure
	}
	engine := newTestEngine(store, p, true)

	results := engine.Search(context.Background(), "approved report")

	require.Len(t, results, 2)
	assert.Equal(t, docA, results[0].DocumentID)
	assert.Equal(t, docB, results[1].DocumentID)
	assert.InDelta(t, rrfScore(60, 20), results[1].Score, 1e-12)
}

func TestSearch_NoBackfillWithoutExpansion(t *testing.T) {
	store := newMemStore()
	store.put(docA, "Weekly sync", meetingBody)
	store.put(docB, "Tooling", "Reports are filed weekly.")
	engine := newTestEngine(store, newFakeProviders(false, false), false)

	assert.Equal(t, []string{docA}, resultIDs(engine.Search(context.Background(), "approved report")))
}

func TestCapabilities(t *testing.T) {
	store := newMemStore()
	engine := newTestEngine(store, newFakeProviders(true, false), true)

	caps := engine.Capabilities(context.Background())

	assert.Equal(t, domain.Capabilities{VectorIndexLoaded: true, EmbeddingCredentials: true}, caps)
	assert.Equal(t, TierVector, tierOf(caps))
	assert.Equal(t, TierLexical, tierOf(domain.Capabilities{EmbeddingCredentials: true, CompletionCredentials: true}))
	assert.Equal(t, TierComplete, tierOf(domain.Capabilities{VectorIndexLoaded: true, EmbeddingCredentials: true, CompletionCredentials: true}))
}
