package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/logging"
	"github.com/cloo-solutions/recall/internal/metrics"
	"github.com/cloo-solutions/recall/internal/telemetry"
)

// rollbackTimeout bounds the raw-chunk cleanup, which runs detached from the
// run's context.
const rollbackTimeout = 10 * time.Second

// IndexOutcome describes how far one embedding run got.
type IndexOutcome string

const (
	// IndexSkipped means the vector index or embedding credentials are absent.
	IndexSkipped IndexOutcome = "skipped"
	// IndexRemoved means the document is missing or archived and its rows were purged.
	IndexRemoved IndexOutcome = "removed"
	// IndexCleared means the body is empty; layers 1 and 2 were deleted.
	IndexCleared IndexOutcome = "cleared"
	// IndexIncomplete means chunking produced nothing; the dirty flag stays set.
	IndexIncomplete IndexOutcome = "incomplete"
	// IndexRawOnly means layer 1 committed but layer 2 failed; the dirty flag stays set.
	IndexRawOnly IndexOutcome = "raw_only"
	// IndexFailed means layer 1 could not be written.
	IndexFailed IndexOutcome = "failed"
	// IndexComplete means every applicable layer is current.
	IndexComplete IndexOutcome = "complete"
)

// DocumentEnricher is the sibling sub-pipeline run for every save event.
type DocumentEnricher interface {
	Enrich(ctx context.Context, documentID string) error
}

// PipelineConfig tunes the orchestrator.
type PipelineConfig struct {
	RecoveryBatch int
	Chunking      ChunkConfig
}

// DefaultPipelineConfig returns a recovery batch of 50 and the default chunker.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{RecoveryBatch: 50, Chunking: DefaultChunkConfig()}
}

// RecoveryReport summarizes one RecoverDirty pass.
type RecoveryReport struct {
	Listed   int  `json:"listed"`
	Complete int  `json:"complete"`
	Partial  int  `json:"partial"`
	Failed   int  `json:"failed"`
	Skipped  bool `json:"skipped"`
}

// Orchestrator keeps the index in step with document edits.
type Orchestrator struct {
	docs      DocumentRepositoryInterface
	chunks    ChunkRepositoryInterface
	providers Providers
	vectors   VectorIndexProbe
	enricher  DocumentEnricher
	spawner   Spawner
	metrics   *metrics.Metrics
	cfg       PipelineConfig
	locks     *keyedMutex
}

func NewOrchestrator(
	docs DocumentRepositoryInterface,
	chunks ChunkRepositoryInterface,
	providers Providers,
	vectors VectorIndexProbe,
	enricher DocumentEnricher,
	spawner Spawner,
	m *metrics.Metrics,
	cfg PipelineConfig,
) *Orchestrator {
	if cfg.RecoveryBatch <= 0 {
		cfg.RecoveryBatch = DefaultPipelineConfig().RecoveryBatch
	}
	if cfg.Chunking.MaxChars <= 0 {
		cfg.Chunking = DefaultChunkConfig()
	}
	return &Orchestrator{
		docs:      docs,
		chunks:    chunks,
		providers: providers,
		vectors:   vectors,
		enricher:  enricher,
		spawner:   spawner,
		metrics:   m,
		cfg:       cfg,
		locks:     newKeyedMutex(),
	}
}

// OnDocumentSaved schedules ProcessSave and returns immediately.
func (o *Orchestrator) OnDocumentSaved(documentID string) {
	o.spawner.Spawn("document_saved", func(ctx context.Context) {
		o.ProcessSave(ctx, documentID)
	})
}

// ProcessSave runs the embedding and enrichment sub-pipelines concurrently
// and returns once both have finished. Failures are logged, never returned.
func (o *Orchestrator) ProcessSave(ctx context.Context, documentID string) {
	log := logging.FromContext(ctx).With(slog.String("document_id", documentID))
	ctx = logging.WithLogger(ctx, log)

	var g errgroup.Group
	g.Go(func() error {
		outcome, err := o.IndexDocument(ctx, documentID)
		if err != nil {
			log.Warn("embedding pipeline failed",
				slog.String("stage", "embedding"),
				slog.String("outcome", string(outcome)),
				logging.Err(err))
			telemetry.CaptureError(ctx, err)
		}
		return nil
	})
	if o.enricher != nil {
		g.Go(func() error {
			if err := o.enricher.Enrich(ctx, documentID); err != nil {
				log.Warn("enrichment pipeline failed", slog.String("stage", "enrichment"), logging.Err(err))
				telemetry.CaptureError(ctx, err)
			}
			return nil
		})
	}
	_ = g.Wait()
}

// IndexDocument rebuilds layers 1 and 2 for one document. Runs for the same
// document are serialized; each starts by deleting what the previous wrote.
func (o *Orchestrator) IndexDocument(ctx context.Context, documentID string) (outcome IndexOutcome, err error) {
	log := logging.FromContext(ctx)

	if !o.vectors.IsVectorIndexLoaded() || !o.providers.HasEmbeddingCredentials() {
		log.Debug("embedding pipeline skipped: capability absent", slog.String("document_id", documentID))
		o.metrics.PipelineRun("embedding", metrics.OutcomeSkipped)
		return IndexSkipped, nil
	}

	unlock := o.locks.Lock(documentID)
	defer unlock()

	ctx, span := telemetry.StartSpan(ctx, "pipeline.index_document",
		telemetry.Document(documentID), telemetry.Stage("embedding"))
	defer func() {
		if err != nil {
			span.Fail(err)
			o.metrics.PipelineRun("embedding", metrics.OutcomeError)
		} else {
			o.metrics.PipelineRun("embedding", metrics.OutcomeOK)
		}
		span.SetTag("outcome", string(outcome))
		span.End()
	}()

	doc, err := o.docs.GetByID(ctx, documentID)
	if errors.Is(err, domain.ErrDocumentNotFound) || (err == nil && doc.IsArchived()) {
		if err := o.chunks.DeleteByDocument(ctx, documentID); err != nil {
			return IndexFailed, fmt.Errorf("purge removed document: %w", err)
		}
		if err == nil {
			return IndexRemoved, o.clearDirty(ctx, doc)
		}
		return IndexRemoved, nil
	}
	if err != nil {
		return IndexFailed, fmt.Errorf("load document: %w", err)
	}

	if err := o.chunks.DeleteByDocument(ctx, documentID, domain.LayerRaw); err != nil {
		return IndexFailed, fmt.Errorf("delete raw chunks: %w", err)
	}

	if !doc.HasBody() {
		if err := o.chunks.DeleteByDocument(ctx, documentID, domain.LayerSummary); err != nil {
			return IndexFailed, fmt.Errorf("delete summary: %w", err)
		}
		return IndexCleared, o.clearDirty(ctx, doc)
	}

	drafts := ChunkDocument(doc.Title, doc.Body, o.cfg.Chunking)
	if len(drafts) == 0 {
		return IndexIncomplete, nil
	}

	if err := o.writeRaw(ctx, documentID, drafts); err != nil {
		return IndexFailed, err
	}

	if !o.providers.HasCompletionCredentials() {
		log.Debug("summary skipped: no completion credentials", slog.String("document_id", documentID))
		return IndexComplete, o.clearDirty(ctx, doc)
	}

	if err := o.writeSummary(ctx, doc); err != nil {
		return IndexRawOnly, err
	}
	return IndexComplete, o.clearDirty(ctx, doc)
}

// writeRaw inserts the layer-1 rows, embeds them in one call and attaches the
// vectors. Any failure after the insert deletes the rows it just wrote.
func (o *Orchestrator) writeRaw(ctx context.Context, documentID string, drafts []domain.ChunkDraft) error {
	inserted, err := o.chunks.InsertChunks(ctx, documentID, domain.LayerRaw, drafts)
	if err != nil {
		return fmt.Errorf("insert raw chunks: %w", err)
	}

	ids := make([]int64, len(inserted))
	texts := make([]string, len(inserted))
	for i, c := range inserted {
		ids[i] = c.ID
		texts[i] = c.ContextText
	}

	vectors, err := o.providers.Embed(ctx, texts)
	if err == nil {
		err = o.chunks.AttachEmbeddings(ctx, ids, vectors)
	}
	if err != nil {
		// The caller's ctx may be the reason Embed failed. The rows must go
		// regardless.
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()
		if rbErr := o.chunks.DeleteChunks(rbCtx, ids); rbErr != nil {
			return errors.Join(fmt.Errorf("embed raw chunks: %w", err), fmt.Errorf("roll back raw chunks: %w", rbErr))
		}
		return fmt.Errorf("embed raw chunks: %w", err)
	}
	return nil
}

// writeSummary generates, embeds and swaps in the layer-2 summary. Unlike
// the raw layer, the previous summary is not deleted up front: it keeps
// serving search until a replacement is staged, and a failure leaves the
// document dirty so recovery retries it.
func (o *Orchestrator) writeSummary(ctx context.Context, doc *domain.Document) error {
	summary, err := o.providers.Complete(ctx, summarySystemPrompt, summaryPrompt(doc.Title, doc.Body))
	if err != nil {
		return fmt.Errorf("generate summary: %w", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return fmt.Errorf("generate summary: %w", domain.ErrMalformedResponse)
	}

	contextText := fmt.Sprintf("Document: %s\n\n%s", doc.Title, summary)
	vectors, err := o.providers.Embed(ctx, []string{contextText})
	if err != nil {
		return fmt.Errorf("embed summary: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed summary: %w", domain.ErrMalformedResponse)
	}

	staged := domain.StagedChunk{
		Chunk:  domain.Chunk{Text: summary, ContextText: contextText},
		Vector: vectors[0],
	}
	if err := o.chunks.ReplaceDocumentSummary(ctx, doc.ID, staged); err != nil {
		return fmt.Errorf("replace summary: %w", err)
	}
	return nil
}

func (o *Orchestrator) clearDirty(ctx context.Context, doc *domain.Document) error {
	cleared, err := o.docs.ClearDirty(ctx, doc.ID, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("clear dirty flag: %w", err)
	}
	if !cleared {
		logging.FromContext(ctx).Debug("dirty flag kept: document edited during run", slog.String("document_id", doc.ID))
	}
	return nil
}

// RecoverDirty re-runs the embedding sub-pipeline for up to RecoveryBatch
// dirty documents, newest first, one at a time.
func (o *Orchestrator) RecoverDirty(ctx context.Context) (RecoveryReport, error) {
	var report RecoveryReport
	log := logging.FromContext(ctx)

	if !o.vectors.IsVectorIndexLoaded() || !o.providers.HasEmbeddingCredentials() {
		log.Info("dirty recovery skipped: capability absent")
		report.Skipped = true
		return report, nil
	}

	docs, err := o.docs.ListDirty(ctx, o.cfg.RecoveryBatch)
	if err != nil {
		return report, fmt.Errorf("list dirty documents: %w", err)
	}
	report.Listed = len(docs)

	for _, d := range docs {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		outcome, err := o.IndexDocument(ctx, d.ID)
		switch {
		case err != nil && outcome == IndexRawOnly:
			report.Partial++
			log.Warn("recovery left document partial", slog.String("document_id", d.ID), logging.Err(err))
		case err != nil:
			report.Failed++
			log.Warn("recovery failed for document", slog.String("document_id", d.ID), logging.Err(err))
		case outcome == IndexIncomplete:
			report.Partial++
		default:
			report.Complete++
		}
	}

	log.Info("dirty recovery finished",
		slog.Int("listed", report.Listed),
		slog.Int("complete", report.Complete),
		slog.Int("partial", report.Partial),
		slog.Int("failed", report.Failed))
	return report, nil
}
