package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/httputil"
	"github.com/ignite/engagement-tracker/internal/service/analytics"
)

// maxBodyBytes caps JSON request bodies on the API endpoints.
const maxBodyBytes = 64 << 10

// AnalyticsService is the aggregator surface the API exposes.
type AnalyticsService interface {
	Recompute(ctx context.Context, campaignID string) (*domain.CampaignAnalytics, error)
	Get(ctx context.Context, campaignID string) (*domain.CampaignAnalytics, error)
	Recipients(ctx context.Context, campaignID string, limit, offset int) ([]domain.RecipientState, int, error)
}

// AnalyticsHandlers serves the campaign analytics endpoints.
type AnalyticsHandlers struct {
	svc AnalyticsService
}

// NewAnalyticsHandlers creates the analytics handlers.
func NewAnalyticsHandlers(svc AnalyticsService) *AnalyticsHandlers {
	return &AnalyticsHandlers{svc: svc}
}

// RegisterRoutes mounts the analytics endpoints on r.
func (h *AnalyticsHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/analytics", func(r chi.Router) {
		r.Post("/refresh", h.HandleRefresh)
		r.Get("/{campaignID}", h.HandleGet)
		r.Get("/{campaignID}/recipients", h.HandleRecipients)
	})
}

type refreshRequest struct {
	CampaignID string `json:"campaign_id"`
}

// HandleRefresh recomputes a campaign's analytics and returns the stored row.
//
//	POST /analytics/refresh {"campaign_id": "..."}
func (h *AnalyticsHandlers) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.CampaignID) == "" {
		httputil.BadRequest(w, "campaign_id is required")
		return
	}

	row, err := h.svc.Recompute(r.Context(), req.CampaignID)
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	httputil.OK(w, row)
}

// HandleGet returns the stored analytics row without recomputing.
//
//	GET /analytics/{campaignID}
func (h *AnalyticsHandlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	row, err := h.svc.Get(r.Context(), chi.URLParam(r, "campaignID"))
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	httputil.OK(w, row)
}

type recipientsResponse struct {
	CampaignID string                  `json:"campaign_id"`
	Recipients []domain.RecipientState `json:"recipients"`
	Pagination PaginationMeta          `json:"pagination"`
}

// HandleRecipients pages through a campaign's recipient states.
//
//	GET /analytics/{campaignID}/recipients?limit=&offset=
func (h *AnalyticsHandlers) HandleRecipients(w http.ResponseWriter, r *http.Request) {
	p, err := ParsePagination(r, defaultPageLimit, maxPageLimit)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	campaignID := chi.URLParam(r, "campaignID")
	states, total, err := h.svc.Recipients(r.Context(), campaignID, p.Limit, p.Offset)
	if err != nil {
		writeAnalyticsError(w, err)
		return
	}
	if states == nil {
		states = []domain.RecipientState{}
	}
	httputil.OK(w, recipientsResponse{
		CampaignID: campaignID,
		Recipients: states,
		Pagination: NewPaginationMeta(p, total),
	})
}

func writeAnalyticsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, analytics.ErrMissingCampaignID):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, analytics.ErrCampaignNotFound):
		httputil.NotFound(w, "campaign not found")
	case errors.Is(err, analytics.ErrAnalyticsNotFound):
		httputil.NotFound(w, "analytics not computed for campaign")
	default:
		httputil.InternalError(w, err)
	}
}
