package handlers

import (
	"context"
	"net/http"

	"github.com/cloo-solutions/recall/internal/api"
	"github.com/cloo-solutions/recall/internal/domain"
)

type SearchService interface {
	Search(ctx context.Context, query string) []domain.SearchResult
	RetrieveContext(ctx context.Context, query string, seedLimit int) []domain.ContextItem
	Capabilities(ctx context.Context) domain.Capabilities
}

type SearchHandler struct {
	svc SearchService
}

func NewSearchHandler(svc SearchService) *SearchHandler {
	return &SearchHandler{svc: svc}
}

type SearchRequest struct {
	Query string `json:"query"`
}

type ContextRequest struct {
	Query     string `json:"query"`
	SeedLimit int    `json:"seed_limit"`
}

type SearchResultResponse struct {
	DocumentID string  `json:"document_id"`
	Title      string  `json:"title"`
	Excerpt    *string `json:"excerpt"`
}

type SearchResponse struct {
	Results []SearchResultResponse `json:"results"`
}

type ContextItemResponse struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Excerpt    string `json:"excerpt"`
	Source     string `json:"source"`
}

type ContextResponse struct {
	Items []ContextItemResponse `json:"items"`
}

type CapabilitiesResponse struct {
	VectorIndexLoaded     bool `json:"vector_index_loaded"`
	EmbeddingCredentials  bool `json:"embedding_credentials"`
	CompletionCredentials bool `json:"completion_credentials"`
	ClusterTierPopulated  bool `json:"cluster_tier_populated"`
}

// ToSearchResponse converts ranked results; an empty excerpt becomes null.
func ToSearchResponse(results []domain.SearchResult) SearchResponse {
	resp := SearchResponse{Results: make([]SearchResultResponse, 0, len(results))}
	for _, r := range results {
		item := SearchResultResponse{DocumentID: r.DocumentID, Title: r.Title}
		if r.Excerpt != "" {
			excerpt := r.Excerpt
			item.Excerpt = &excerpt
		}
		resp.Results = append(resp.Results, item)
	}
	return resp
}

func ToContextResponse(items []domain.ContextItem) ContextResponse {
	resp := ContextResponse{Items: make([]ContextItemResponse, 0, len(items))}
	for _, it := range items {
		resp.Items = append(resp.Items, ContextItemResponse{
			DocumentID: it.DocumentID,
			Title:      it.Title,
			Excerpt:    it.Excerpt,
			Source:     string(it.Source),
		})
	}
	return resp
}

func ToCapabilitiesResponse(c domain.Capabilities) CapabilitiesResponse {
	return CapabilitiesResponse{
		VectorIndexLoaded:     c.VectorIndexLoaded,
		EmbeddingCredentials:  c.EmbeddingCredentials,
		CompletionCredentials: c.CompletionCredentials,
		ClusterTierPopulated:  c.ClusterTierPopulated,
	}
}

func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if !api.Decode(w, r, &req) {
		return
	}
	api.JSON(w, http.StatusOK, ToSearchResponse(h.svc.Search(r.Context(), req.Query)))
}

func (h *SearchHandler) Context(w http.ResponseWriter, r *http.Request) {
	var req ContextRequest
	if !api.Decode(w, r, &req) {
		return
	}
	if req.SeedLimit < 0 {
		api.Error(w, http.StatusBadRequest, "seed_limit must not be negative")
		return
	}
	api.JSON(w, http.StatusOK, ToContextResponse(h.svc.RetrieveContext(r.Context(), req.Query, req.SeedLimit)))
}

func (h *SearchHandler) Capabilities(w http.ResponseWriter, r *http.Request) {
	api.JSON(w, http.StatusOK, ToCapabilitiesResponse(h.svc.Capabilities(r.Context())))
}
