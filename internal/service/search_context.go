package service

import (
	"context"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/logging"
)

const (
	defaultSeedLimit = 8
	maxSeedLimit     = 50
)

// RetrieveContext builds grounding context for the assistant: the top
// seedLimit ranked documents, then up to GraphLimit documents linked to
// them and up to GraphLimit sharing entities with them. Nothing is truncated
// to MaxResults; the caller manages its own context budget.
func (e *SearchEngine) RetrieveContext(ctx context.Context, query string, seedLimit int) []domain.ContextItem {
	if seedLimit <= 0 {
		seedLimit = defaultSeedLimit
	}
	if seedLimit > maxSeedLimit {
		seedLimit = maxSeedLimit
	}

	ranked, _ := e.rank(ctx, query)
	if len(ranked) > seedLimit {
		ranked = ranked[:seedLimit]
	}
	if len(ranked) == 0 {
		return nil
	}

	items := make([]domain.ContextItem, 0, len(ranked)+2*e.cfg.GraphLimit)
	selected := make([]string, 0, cap(items))
	for _, c := range ranked {
		items = append(items, domain.ContextItem{
			DocumentID: c.DocumentID,
			Title:      c.Title,
			Excerpt:    c.Excerpt,
			Source:     domain.ContextSourceSearch,
		})
		selected = append(selected, c.DocumentID)
	}
	seeds := append([]string(nil), selected...)

	for _, n := range e.expandGraph(ctx, seeds, selected) {
		items = append(items, n)
	}

	e.fillExcerpts(ctx, items)
	return items
}

// expandGraph collects 1-hop neighbours over links and then shared
// entities, each capped at GraphLimit and deduplicated against every
// document already selected.
func (e *SearchEngine) expandGraph(ctx context.Context, seeds, selected []string) []domain.ContextItem {
	log := logging.FromContext(ctx)
	exclude := append([]string(nil), selected...)
	var out []domain.ContextItem

	linked, err := e.graph.LinkedNeighbors(ctx, seeds, exclude, e.cfg.GraphLimit)
	if err != nil {
		log.Warn("link expansion failed", logging.Err(err))
	}
	for _, n := range linked {
		out = append(out, domain.ContextItem{DocumentID: n.DocumentID, Source: domain.ContextSourceLink, Overlap: n.Overlap})
		exclude = append(exclude, n.DocumentID)
	}

	shared, err := e.graph.EntityNeighbors(ctx, seeds, exclude, e.cfg.GraphLimit)
	if err != nil {
		log.Warn("entity expansion failed", logging.Err(err))
	}
	for _, n := range shared {
		out = append(out, domain.ContextItem{DocumentID: n.DocumentID, Source: domain.ContextSourceEntity, Overlap: n.Overlap})
	}

	return out
}

// fillExcerpts gives every item without an excerpt its layer-2 summary, or
// failing that the start of its body, and fills missing titles. Items whose
// document has since disappeared keep what they have.
func (e *SearchEngine) fillExcerpts(ctx context.Context, items []domain.ContextItem) {
	var missing []string
	for _, it := range items {
		if it.Excerpt == "" || it.Title == "" {
			missing = append(missing, it.DocumentID)
		}
	}
	if len(missing) == 0 {
		return
	}

	log := logging.FromContext(ctx)
	summaries, err := e.chunks.SummariesFor(ctx, missing)
	if err != nil {
		log.Warn("load summaries failed", logging.Err(err))
		summaries = map[string]string{}
	}
	docs, err := e.docs.GetMany(ctx, missing)
	if err != nil {
		log.Warn("load context documents failed", logging.Err(err))
	}
	byID := make(map[string]*domain.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	for i := range items {
		it := &items[i]
		d := byID[it.DocumentID]
		if it.Title == "" && d != nil {
			it.Title = d.Title
		}
		if it.Excerpt != "" {
			continue
		}
		if s, ok := summaries[it.DocumentID]; ok && s != "" {
			it.Excerpt = makeExcerpt(s, e.cfg.ExcerptChars)
		} else if d != nil {
			it.Excerpt = makeExcerpt(d.Body, e.cfg.ExcerptChars)
		}
	}
}
