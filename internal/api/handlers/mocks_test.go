package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/service"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Document), args.Error(1)
}

func (m *MockDocumentService) Save(ctx context.Context, d *domain.Document) error {
	args := m.Called(ctx, d)
	return args.Error(0)
}

func (m *MockDocumentService) MarkSaved(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentService) SetLinks(ctx context.Context, id string, targets []string) error {
	args := m.Called(ctx, id, targets)
	return args.Error(0)
}

type MockSearchService struct {
	mock.Mock
}

func (m *MockSearchService) Search(ctx context.Context, query string) []domain.SearchResult {
	args := m.Called(ctx, query)
	return args.Get(0).([]domain.SearchResult)
}

func (m *MockSearchService) RetrieveContext(ctx context.Context, query string, seedLimit int) []domain.ContextItem {
	args := m.Called(ctx, query, seedLimit)
	return args.Get(0).([]domain.ContextItem)
}

func (m *MockSearchService) Capabilities(ctx context.Context) domain.Capabilities {
	args := m.Called(ctx)
	return args.Get(0).(domain.Capabilities)
}

type MockClusterService struct {
	mock.Mock
}

func (m *MockClusterService) MaybeRun(ctx context.Context, force bool) (service.ClusterRun, error) {
	args := m.Called(ctx, force)
	return args.Get(0).(service.ClusterRun), args.Error(1)
}

func (m *MockClusterService) ListThemes(ctx context.Context) ([]domain.ClusterTheme, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.ClusterTheme), args.Error(1)
}
