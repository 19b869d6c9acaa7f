package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/logging"
	"github.com/cloo-solutions/recall/internal/metrics"
	"github.com/cloo-solutions/recall/internal/openai"
)

const (
	maxEntities       = 10
	maxEntityNameRune = 80
)

// Enricher detects entities and keywords in a document and records them as
// graph associations. It shares no state with the embedding sub-pipeline.
type Enricher struct {
	docs      DocumentRepositoryInterface
	graph     GraphRepositoryInterface
	providers Providers
	metrics   *metrics.Metrics
}

func NewEnricher(docs DocumentRepositoryInterface, graph GraphRepositoryInterface, providers Providers, m *metrics.Metrics) *Enricher {
	return &Enricher{docs: docs, graph: graph, providers: providers, metrics: m}
}

func (e *Enricher) Enrich(ctx context.Context, documentID string) error {
	if !e.providers.HasCompletionCredentials() {
		e.metrics.PipelineRun("enrichment", metrics.OutcomeSkipped)
		return nil
	}

	err := e.enrich(ctx, documentID)
	if err != nil {
		e.metrics.PipelineRun("enrichment", metrics.OutcomeError)
	} else {
		e.metrics.PipelineRun("enrichment", metrics.OutcomeOK)
	}
	return err
}

func (e *Enricher) enrich(ctx context.Context, documentID string) error {
	doc, err := e.docs.GetByID(ctx, documentID)
	if errors.Is(err, domain.ErrDocumentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc.IsArchived() {
		return nil
	}
	if !doc.HasBody() {
		return e.graph.ReplaceEntities(ctx, documentID, nil)
	}

	text, err := e.providers.Complete(ctx, entitySystemPrompt, entityPrompt(doc.Title, doc.Body))
	if err != nil {
		return fmt.Errorf("detect entities: %w", err)
	}
	var names []string
	if err := openai.DecodeJSONArray(text, &names); err != nil {
		return fmt.Errorf("detect entities: %w", err)
	}
	names = normalizeEntities(names)

	if err := e.graph.ReplaceEntities(ctx, documentID, names); err != nil {
		return fmt.Errorf("replace entities: %w", err)
	}
	logging.FromContext(ctx).Debug("entities replaced",
		slog.String("document_id", documentID), slog.Int("count", len(names)))
	return nil
}

// normalizeEntities collapses whitespace, drops blanks and overlong names,
// dedupes case-insensitively and keeps at most maxEntities.
func normalizeEntities(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.Join(strings.Fields(n), " ")
		if n == "" || utf8.RuneCountInString(n) > maxEntityNameRune {
			continue
		}
		key := strings.ToLower(n)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
		if len(out) == maxEntities {
			break
		}
	}
	return out
}
