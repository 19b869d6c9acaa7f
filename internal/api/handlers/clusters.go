package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/cloo-solutions/recall/internal/api"
	"github.com/cloo-solutions/recall/internal/domain"
	"github.com/cloo-solutions/recall/internal/logging"
	"github.com/cloo-solutions/recall/internal/service"
)

type ClusterService interface {
	MaybeRun(ctx context.Context, force bool) (service.ClusterRun, error)
	ListThemes(ctx context.Context) ([]domain.ClusterTheme, error)
}

type ClusterHandler struct {
	svc ClusterService
}

func NewClusterHandler(svc ClusterService) *ClusterHandler {
	return &ClusterHandler{svc: svc}
}

type ClusterThemeResponse struct {
	Position  int      `json:"position"`
	Theme     string   `json:"theme"`
	MemberIDs []string `json:"member_ids"`
}

type ClusterListResponse struct {
	Clusters []ClusterThemeResponse `json:"clusters"`
}

type ClusterRunResponse struct {
	Ran            bool                   `json:"ran"`
	Reason         string                 `json:"reason,omitempty"`
	Documents      int                    `json:"documents,omitempty"`
	K              int                    `json:"k,omitempty"`
	FailedClusters int                    `json:"failed_clusters,omitempty"`
	ArchiveKey     string                 `json:"archive_key,omitempty"`
	Clusters       []ClusterThemeResponse `json:"clusters,omitempty"`
}

func themesToResponse(themes []domain.ClusterTheme) []ClusterThemeResponse {
	out := make([]ClusterThemeResponse, 0, len(themes))
	for _, t := range themes {
		members := t.MemberIDs
		if members == nil {
			members = []string{}
		}
		out = append(out, ClusterThemeResponse{Position: t.Position, Theme: t.Theme, MemberIDs: members})
	}
	return out
}

func (h *ClusterHandler) List(w http.ResponseWriter, r *http.Request) {
	themes, err := h.svc.ListThemes(r.Context())
	if err != nil {
		logging.FromContext(r.Context()).Error("list clusters failed", logging.Err(err))
		api.HandleError(w, err)
		return
	}
	api.JSON(w, http.StatusOK, ClusterListResponse{Clusters: themesToResponse(themes)})
}

// Rebuild runs the cluster builder synchronously. ?force=true bypasses only
// the minimum interval.
func (h *ClusterHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	force := false
	if raw := r.URL.Query().Get("force"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			api.Error(w, http.StatusBadRequest, "force must be a boolean")
			return
		}
		force = parsed
	}

	run, err := h.svc.MaybeRun(r.Context(), force)
	if errors.Is(err, service.ErrNoClustersStaged) {
		api.Error(w, http.StatusBadGateway, err.Error())
		return
	}
	if err != nil {
		logging.FromContext(r.Context()).Error("cluster rebuild failed", logging.Err(err))
		api.HandleError(w, err)
		return
	}

	resp := ClusterRunResponse{Ran: run.Ran, Reason: run.Reason, ArchiveKey: run.ArchiveKey}
	if run.Snapshot != nil {
		resp.Documents = run.Snapshot.Documents
		resp.K = run.Snapshot.K
		resp.FailedClusters = run.Snapshot.FailedClusters
		resp.Clusters = themesToResponse(run.Snapshot.Themes)
	}
	api.JSON(w, http.StatusOK, resp)
}
