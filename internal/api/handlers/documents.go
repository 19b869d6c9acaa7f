package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/recall/internal/api"
	"github.com/cloo-solutions/recall/internal/domain"
)

type DocumentService interface {
	Get(ctx context.Context, id string) (*domain.Document, error)
	Save(ctx context.Context, d *domain.Document) error
	MarkSaved(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	SetLinks(ctx context.Context, id string, targets []string) error
}

type DocumentHandler struct {
	svc DocumentService
}

func NewDocumentHandler(svc DocumentService) *DocumentHandler {
	return &DocumentHandler{svc: svc}
}

type SaveDocumentRequest struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type SetLinksRequest struct {
	Targets []string `json:"targets"`
}

type DocumentResponse struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Body       string  `json:"body"`
	CreatedAt  string  `json:"created_at"`
	UpdatedAt  string  `json:"updated_at"`
	ArchivedAt *string `json:"archived_at"`
	IndexDirty bool    `json:"index_dirty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func documentToResponse(d *domain.Document) *DocumentResponse {
	resp := &DocumentResponse{
		ID:         d.ID,
		Title:      d.Title,
		Body:       d.Body,
		CreatedAt:  formatTime(d.CreatedAt),
		UpdatedAt:  formatTime(d.UpdatedAt),
		IndexDirty: d.IndexDirty,
	}
	if d.ArchivedAt != nil {
		archived := formatTime(*d.ArchivedAt)
		resp.ArchivedAt = &archived
	}
	return resp
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, documentToResponse(doc))
}

// Save upserts the document and schedules it for indexing.
func (h *DocumentHandler) Save(w http.ResponseWriter, r *http.Request) {
	var req SaveDocumentRequest
	if !api.Decode(w, r, &req) {
		return
	}

	doc := &domain.Document{ID: chi.URLParam(r, "id"), Title: req.Title, Body: req.Body}
	if err := h.svc.Save(r.Context(), doc); err != nil {
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, documentToResponse(doc))
}

// MarkSaved fires the save hook for a document edited elsewhere.
func (h *DocumentHandler) MarkSaved(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.MarkSaved(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *DocumentHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) SetLinks(w http.ResponseWriter, r *http.Request) {
	var req SetLinksRequest
	if !api.Decode(w, r, &req) {
		return
	}

	if err := h.svc.SetLinks(r.Context(), chi.URLParam(r, "id"), req.Targets); err != nil {
		api.HandleError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
