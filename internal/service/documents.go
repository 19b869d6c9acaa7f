package service

import (
	"context"
	"fmt"
	"time"

	"github.com/cloo-solutions/recall/internal/domain"
)

// SaveNotifier is told about every persisted edit.
type SaveNotifier interface {
	OnDocumentSaved(documentID string)
}

// DocumentService is the thin document surface standing in for the editor:
// it writes documents and fires the save hook.
type DocumentService struct {
	docs     DocumentRepositoryInterface
	graph    GraphRepositoryInterface
	tx       TxRunner
	notifier SaveNotifier
	vectors  VectorIndexProbe
	now      func() time.Time
}

func NewDocumentService(
	docs DocumentRepositoryInterface,
	graph GraphRepositoryInterface,
	tx TxRunner,
	notifier SaveNotifier,
	vectors VectorIndexProbe,
) *DocumentService {
	return &DocumentService{
		docs:     docs,
		graph:    graph,
		tx:       tx,
		notifier: notifier,
		vectors:  vectors,
		now:      time.Now,
	}
}

func (s *DocumentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	if err := domain.ValidateDocumentID(id); err != nil {
		return nil, err
	}
	return s.docs.GetByID(ctx, id)
}

// Save upserts the document, marking it dirty, then schedules indexing.
func (s *DocumentService) Save(ctx context.Context, d *domain.Document) error {
	if err := domain.ValidateDocument(d); err != nil {
		return err
	}
	if err := s.docs.Upsert(ctx, d); err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	s.notifier.OnDocumentSaved(d.ID)
	return nil
}

// MarkSaved is the hook for edits persisted elsewhere.
func (s *DocumentService) MarkSaved(ctx context.Context, id string) error {
	if err := domain.ValidateDocumentID(id); err != nil {
		return err
	}
	if err := s.docs.MarkDirty(ctx, id); err != nil {
		return err
	}
	s.notifier.OnDocumentSaved(id)
	return nil
}

// Delete tombstones the document and, when the vector index exists, purges
// its chunks in the same transaction.
func (s *DocumentService) Delete(ctx context.Context, id string) error {
	if err := domain.ValidateDocumentID(id); err != nil {
		return err
	}
	purge := s.vectors.IsVectorIndexLoaded()
	return s.tx.WithTx(ctx, func(repos TxRepositories) error {
		if err := repos.Documents().Archive(ctx, id, s.now().UTC()); err != nil {
			return err
		}
		if !purge {
			return nil
		}
		if err := repos.Chunks().DeleteByDocument(ctx, id); err != nil {
			return fmt.Errorf("purge chunks: %w", err)
		}
		return nil
	})
}

// SetLinks replaces the document's outgoing explicit links.
func (s *DocumentService) SetLinks(ctx context.Context, id string, targets []string) error {
	if err := domain.ValidateDocumentID(id); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(targets))
	unique := make([]string, 0, len(targets))
	for _, t := range targets {
		if err := domain.ValidateDocumentID(t); err != nil {
			return err
		}
		if t == id {
			return domain.ErrSelfLink
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		unique = append(unique, t)
	}
	if _, err := s.docs.GetByID(ctx, id); err != nil {
		return err
	}
	return s.graph.ReplaceLinks(ctx, id, unique)
}
