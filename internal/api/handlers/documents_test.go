package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/recall/internal/domain"
)

const testDocID = "6f1c2b1e-8f4a-4d3c-9b2a-1e2f3a4b5c6d"

func documentRouter(h *DocumentHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/documents/{id}", h.Get)
	r.Put("/documents/{id}", h.Save)
	r.Post("/documents/{id}/saved", h.MarkSaved)
	r.Delete("/documents/{id}", h.Delete)
	r.Put("/documents/{id}/links", h.SetLinks)
	return r
}

func TestDocumentHandler_Save(t *testing.T) {
	mockSvc := new(MockDocumentService)
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mockSvc.On("Save", mock.Anything, mock.MatchedBy(func(d *domain.Document) bool {
		return d.ID == testDocID && d.Title == "Weekly sync" && d.Body == "Notes"
	})).Run(func(args mock.Arguments) {
		d := args.Get(1).(*domain.Document)
		d.UpdatedAt = updated
		d.CreatedAt = updated
		d.IndexDirty = true
	}).Return(nil)

	body, _ := json.Marshal(SaveDocumentRequest{Title: "Weekly sync", Body: "Notes"})
	req := httptest.NewRequest(http.MethodPut, "/documents/"+testDocID, bytes.NewReader(body))
	w := httptest.NewRecorder()

	documentRouter(NewDocumentHandler(mockSvc)).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp DocumentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, testDocID, resp.ID)
	assert.True(t, resp.IndexDirty)
	assert.Equal(t, "2026-01-02T03:04:05Z", resp.UpdatedAt)
	assert.Nil(t, resp.ArchivedAt)
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_SaveInvalidBody(t *testing.T) {
	mockSvc := new(MockDocumentService)
	req := httptest.NewRequest(http.MethodPut, "/documents/"+testDocID, bytes.NewReader([]byte("{")))
	w := httptest.NewRecorder()

	documentRouter(NewDocumentHandler(mockSvc)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	mockSvc.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestDocumentHandler_SaveInvalidID(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("Save", mock.Anything, mock.Anything).Return(domain.ErrInvalidDocumentID)

	req := httptest.NewRequest(http.MethodPut, "/documents/nope", bytes.NewReader([]byte(`{"title":"x"}`)))
	w := httptest.NewRecorder()

	documentRouter(NewDocumentHandler(mockSvc)).ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid document id")
}

func TestDocumentHandler_Get(t *testing.T) {
	mockSvc := new(MockDocumentService)
	archived := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	mockSvc.On("Get", mock.Anything, testDocID).Return(&domain.Document{ID: testDocID, Title: "T", ArchivedAt: &archived}, nil)

	w := httptest.NewRecorder()
	documentRouter(NewDocumentHandler(mockSvc)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents/"+testDocID, nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp DocumentResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.ArchivedAt)
	assert.Equal(t, "2026-02-01T00:00:00Z", *resp.ArchivedAt)
}

func TestDocumentHandler_GetNotFound(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("Get", mock.Anything, testDocID).Return(nil, domain.ErrDocumentNotFound)

	w := httptest.NewRecorder()
	documentRouter(NewDocumentHandler(mockSvc)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/documents/"+testDocID, nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDocumentHandler_MarkSaved(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("MarkSaved", mock.Anything, testDocID).Return(nil)

	w := httptest.NewRecorder()
	documentRouter(NewDocumentHandler(mockSvc)).ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/documents/"+testDocID+"/saved", nil))

	assert.Equal(t, http.StatusAccepted, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_Delete(t *testing.T) {
	mockSvc := new(MockDocumentService)
	mockSvc.On("Delete", mock.Anything, testDocID).Return(nil)

	w := httptest.NewRecorder()
	documentRouter(NewDocumentHandler(mockSvc)).ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/documents/"+testDocID, nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	mockSvc.AssertExpectations(t)
}

func TestDocumentHandler_SetLinks(t *testing.T) {
	mockSvc := new(MockDocumentService)
	target := "0b5a6f2e-3c1d-4e8f-9a7b-1c2d3e4f5a01"
	mockSvc.On("SetLinks", mock.Anything, testDocID, []string{target}).Return(nil)
	mockSvc.On("SetLinks", mock.Anything, testDocID, []string{testDocID}).Return(domain.ErrSelfLink)
	router := documentRouter(NewDocumentHandler(mockSvc))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/documents/"+testDocID+"/links",
		bytes.NewReader([]byte(`{"targets":["`+target+`"]}`))))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPut, "/documents/"+testDocID+"/links",
		bytes.NewReader([]byte(`{"targets":["`+testDocID+`"]}`))))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
