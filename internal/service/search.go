package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/logging"
	"github.com/cloo-solutions/recall/internal/metrics"
	"github.com/cloo-solutions/recall/internal/openai"
	"github.com/cloo-solutions/recall/internal/telemetry"
)

// Capability tiers, used as metric labels.
const (
	TierLexical  = "lexical"
	TierVector   = "vector"
	TierComplete = "completion"
	TierCluster  = "cluster"
)

// SearchConfig holds the ranking constants.
type SearchConfig struct {
	RRFK              float64
	ClusterBoost      float64
	MaxResults        int
	LexicalLimit      int
	VectorLimit       int
	ClusterLimit      int
	BackfillThreshold int
	RerankLimit       int
	GraphLimit        int
	ExcerptChars      int
	MaxExpansionTerms int
}

// DefaultSearchConfig returns the standard ranking constants.
func DefaultSearchConfig() SearchConfig {
	return SearchConfig{
		RRFK:              60,
		ClusterBoost:      0.05,
		MaxResults:        15,
		LexicalLimit:      20,
		VectorLimit:       20,
		ClusterLimit:      3,
		BackfillThreshold: 10,
		RerankLimit:       15,
		GraphLimit:        5,
		ExcerptChars:      250,
		MaxExpansionTerms: 8,
	}
}

func (c SearchConfig) withDefaults() SearchConfig {
	d := DefaultSearchConfig()
	if c.RRFK <= 0 {
		c.RRFK = d.RRFK
	}
	if c.ClusterBoost < 0 {
		c.ClusterBoost = d.ClusterBoost
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.LexicalLimit <= 0 {
		c.LexicalLimit = d.LexicalLimit
	}
	if c.VectorLimit <= 0 {
		c.VectorLimit = d.VectorLimit
	}
	if c.ClusterLimit <= 0 {
		c.ClusterLimit = d.ClusterLimit
	}
	if c.BackfillThreshold <= 0 {
		c.BackfillThreshold = d.BackfillThreshold
	}
	if c.RerankLimit <= 0 {
		c.RerankLimit = d.RerankLimit
	}
	if c.GraphLimit <= 0 {
		c.GraphLimit = d.GraphLimit
	}
	if c.ExcerptChars <= 0 {
		c.ExcerptChars = d.ExcerptChars
	}
	if c.MaxExpansionTerms <= 0 {
		c.MaxExpansionTerms = d.MaxExpansionTerms
	}
	return c
}

// SearchEngine answers relevance queries by fusing lexical, vector, cluster,
// LLM and graph signals, degrading to whatever capabilities are available.
type SearchEngine struct {
	docs      DocumentRepositoryInterface
	chunks    ChunkRepositoryInterface
	graph     GraphRepositoryInterface
	providers Providers
	vectors   VectorIndexProbe
	metrics   *metrics.Metrics
	cfg       SearchConfig
}

func NewSearchEngine(
	docs DocumentRepositoryInterface,
	chunks ChunkRepositoryInterface,
	graph GraphRepositoryInterface,
	providers Providers,
	vectors VectorIndexProbe,
	m *metrics.Metrics,
	cfg SearchConfig,
) *SearchEngine {
	return &SearchEngine{
		docs:      docs,
		chunks:    chunks,
		graph:     graph,
		providers: providers,
		vectors:   vectors,
		metrics:   m,
		cfg:       cfg.withDefaults(),
	}
}

// Capabilities reports the three probes plus whether layer 3 has rows.
func (e *SearchEngine) Capabilities(ctx context.Context) domain.Capabilities {
	caps := domain.Capabilities{
		VectorIndexLoaded:     e.vectors.IsVectorIndexLoaded(),
		EmbeddingCredentials:  e.providers.HasEmbeddingCredentials(),
		CompletionCredentials: e.providers.HasCompletionCredentials(),
	}
	if caps.VectorIndexLoaded {
		n, err := e.chunks.CountLayer(ctx, domain.LayerCluster)
		if err != nil {
			logging.FromContext(ctx).Warn("count cluster tier failed", logging.Err(err))
		}
		caps.ClusterTierPopulated = n > 0
	}
	return caps
}

func tierOf(caps domain.Capabilities) string {
	switch {
	case !caps.VectorIndexLoaded || !caps.EmbeddingCredentials:
		return TierLexical
	case !caps.CompletionCredentials:
		return TierVector
	case !caps.ClusterTierPopulated:
		return TierComplete
	default:
		return TierCluster
	}
}

// Search returns at most MaxResults ranked documents. It never fails: stage
// errors are logged and the stage skipped, and a failing lexical fallback
// yields an empty list.
func (e *SearchEngine) Search(ctx context.Context, query string) []domain.SearchResult {
	ranked, _ := e.rank(ctx, query)
	if len(ranked) > e.cfg.MaxResults {
		ranked = ranked[:e.cfg.MaxResults]
	}
	return toResults(ranked)
}

func toResults(cands []*candidate) []domain.SearchResult {
	out := make([]domain.SearchResult, 0, len(cands))
	for _, c := range cands {
		out = append(out, domain.SearchResult{
			DocumentID: c.DocumentID,
			Title:      c.Title,
			Excerpt:    c.Excerpt,
			Score:      c.Score,
			UpdatedAt:  c.UpdatedAt,
		})
	}
	return out
}

// rank runs the full query pipeline and returns every fused candidate.
func (e *SearchEngine) rank(ctx context.Context, query string) ([]*candidate, domain.Capabilities) {
	log := logging.FromContext(ctx)
	start := time.Now()

	query = strings.TrimSpace(query)
	caps := e.Capabilities(ctx)
	tier := tierOf(caps)
	if query == "" {
		return nil, caps
	}

	ctx, span := telemetry.StartSpan(ctx, "search.rank", telemetry.Tier(tier))
	defer span.End()
	defer func() { e.metrics.SearchRequest(tier, time.Since(start)) }()

	sanitized := sanitizeQuery(query)
	vectorTier := tier != TierLexical
	completionTier := tier == TierComplete || tier == TierCluster

	// Stage 1: expansion and query embedding run concurrently.
	var terms []string
	var queryVec []float32
	var prep errgroup.Group
	if completionTier {
		prep.Go(func() error {
			expanded, err := e.expand(ctx, query)
			if err != nil {
				log.Warn("query expansion failed", logging.Err(err))
				return nil
			}
			terms = expanded
			return nil
		})
	}
	if vectorTier {
		prep.Go(func() error {
			vecs, err := e.providers.Embed(ctx, []string{query})
			if err != nil || len(vecs) != 1 {
				log.Warn("query embedding failed", logging.Err(err))
				return nil
			}
			queryVec = vecs[0]
			return nil
		})
	}
	_ = prep.Wait()

	// Stage 2: lexical, vector and cluster lookups run concurrently.
	var lexical, vector []rankedDoc
	var boostSet []string
	var lookup errgroup.Group
	lookup.Go(func() error {
		lexical = e.lexical(ctx, sanitized, terms)
		return nil
	})
	if queryVec != nil {
		lookup.Go(func() error {
			vector = e.vector(ctx, queryVec)
			return nil
		})
		if tier == TierCluster {
			lookup.Go(func() error {
				members, err := e.chunks.NearestClusterMembers(ctx, queryVec, e.cfg.ClusterLimit)
				if err != nil {
					log.Warn("cluster boost lookup failed", logging.Err(err))
					return nil
				}
				boostSet = members
				return nil
			})
		}
	}
	_ = lookup.Wait()

	cands := fuse(e.cfg.RRFK, lexical, vector)
	applyBoost(cands, boostSet, e.cfg.ClusterBoost)

	if len(cands) < e.cfg.BackfillThreshold && len(terms) > 0 {
		e.backfill(ctx, cands, terms)
	}

	ranked := sortCandidates(cands)

	if completionTier && len(ranked) > 0 {
		ranked = e.rerank(ctx, query, ranked)
	}

	log.Debug("search ranked",
		slog.String("tier", tier),
		slog.Int("lexical", len(lexical)),
		slog.Int("vector", len(vector)),
		slog.Int("expansion_terms", len(terms)),
		slog.Int("boosted", len(boostSet)),
		slog.Int("candidates", len(ranked)))

	return ranked, caps
}

// expand asks the completion provider for related terms.
func (e *SearchEngine) expand(ctx context.Context, query string) ([]string, error) {
	text, err := e.providers.Complete(ctx, expansionSystemPrompt, expansionPrompt(query))
	if err != nil {
		return nil, err
	}
	var terms []string
	if err := openai.DecodeJSONArray(text, &terms); err != nil {
		return nil, err
	}
	return cleanTerms(terms, e.cfg.MaxExpansionTerms), nil
}

// lexical searches the expanded terms (plus the sanitized query) and falls
// back to the sanitized query alone when that finds nothing.
func (e *SearchEngine) lexical(ctx context.Context, sanitized string, terms []string) []rankedDoc {
	log := logging.FromContext(ctx)

	if len(terms) > 0 {
		all := cleanTerms(append([]string{sanitized}, terms...), 0)
		hits, err := e.docs.SearchLexical(ctx, all, e.cfg.LexicalLimit)
		if err != nil {
			log.Warn("expanded lexical search failed", logging.Err(err))
		} else if len(hits) > 0 {
			return lexicalDocs(hits)
		}
	}

	if sanitized == "" {
		return nil
	}
	hits, err := e.docs.SearchLexical(ctx, []string{sanitized}, e.cfg.LexicalLimit)
	if err != nil {
		log.Error("lexical search failed", logging.Err(err))
		return nil
	}
	return lexicalDocs(hits)
}

func lexicalDocs(hits []domain.LexicalHit) []rankedDoc {
	out := make([]rankedDoc, 0, len(hits))
	for _, h := range hits {
		out = append(out, rankedDoc{DocumentID: h.DocumentID, Title: h.Title, UpdatedAt: h.UpdatedAt})
	}
	return out
}

// vector returns one entry per document: its first chunk in distance order.
func (e *SearchEngine) vector(ctx context.Context, queryVec []float32) []rankedDoc {
	hits, err := e.chunks.SearchNearest(ctx, queryVec, []domain.Layer{domain.LayerRaw, domain.LayerSummary}, e.cfg.VectorLimit)
	if err != nil {
		logging.FromContext(ctx).Warn("vector search failed", logging.Err(err))
		return nil
	}

	seen := make(map[string]struct{}, len(hits))
	out := make([]rankedDoc, 0, len(hits))
	for _, h := range hits {
		if h.DocumentID == "" {
			continue
		}
		if _, ok := seen[h.DocumentID]; ok {
			continue
		}
		seen[h.DocumentID] = struct{}{}
		out = append(out, rankedDoc{
			DocumentID: h.DocumentID,
			Title:      h.Title,
			Excerpt:    makeExcerpt(h.Text, e.cfg.ExcerptChars),
		})
	}
	return out
}

// backfill adds substring matches for each term at the rank-20 floor score.
func (e *SearchEngine) backfill(ctx context.Context, cands map[string]*candidate, terms []string) {
	floor := rrfScore(e.cfg.RRFK, 20)
	for _, term := range terms {
		exclude := make([]string, 0, len(cands))
		for id := range cands {
			exclude = append(exclude, id)
		}
		hits, err := e.docs.SearchSubstring(ctx, term, exclude, e.cfg.LexicalLimit)
		if err != nil {
			logging.FromContext(ctx).Warn("backfill failed", slog.String("term", term), logging.Err(err))
			continue
		}
		for _, h := range hits {
			if _, ok := cands[h.DocumentID]; ok {
				continue
			}
			cands[h.DocumentID] = &candidate{
				DocumentID: h.DocumentID,
				Title:      h.Title,
				UpdatedAt:  h.UpdatedAt,
				Score:      floor,
			}
		}
	}
}

// rerank asks the provider to score the head of the list in one call.
func (e *SearchEngine) rerank(ctx context.Context, query string, ranked []*candidate) []*candidate {
	n := len(ranked)
	if n > e.cfg.RerankLimit {
		n = e.cfg.RerankLimit
	}
	texts := make([]string, n)
	for i := 0; i < n; i++ {
		texts[i] = ranked[i].Title
		if ranked[i].Excerpt != "" {
			texts[i] += "\n" + truncateRunes(ranked[i].Excerpt, e.cfg.ExcerptChars)
		}
	}

	scores, err := e.providers.Rank(ctx, query, texts)
	if err != nil {
		logging.FromContext(ctx).Warn("re-rank failed", logging.Err(err))
		return ranked
	}
	out, ok := applyRerank(ranked, scores, e.cfg.RerankLimit)
	if !ok {
		logging.FromContext(ctx).Warn("re-rank discarded",
			slog.Int("candidates", n), slog.Int("scores", len(scores)))
	}
	return out
}
