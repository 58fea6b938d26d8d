package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/engagement-tracker/internal/domain"
	"github.com/ignite/engagement-tracker/internal/pkg/httputil"
	"github.com/ignite/engagement-tracker/internal/service/engagement"
)

// EventApplier records a capture and reports why it could not be recorded.
type EventApplier interface {
	Apply(ctx context.Context, c domain.Capture) error
}

// EventsHandler ingests server-side engagement events: sends from the
// delivery pipeline and ESP webhooks for deliveries, bounces and complaints.
type EventsHandler struct {
	events EventApplier
	now    func() time.Time
}

// NewEventsHandler creates the ingest handler.
func NewEventsHandler(events EventApplier) *EventsHandler {
	return &EventsHandler{events: events, now: time.Now}
}

// RegisterRoutes mounts POST /events on r.
func (h *EventsHandler) RegisterRoutes(r chi.Router) {
	r.Post("/events", h.HandleIngest)
}

type ingestRequest struct {
	// ID lets producers retry safely; a repeated id is counted once.
	ID         string            `json:"id"`
	Token      string            `json:"token"`
	EventType  string            `json:"event_type"`
	Metadata   map[string]string `json:"metadata"`
	OccurredAt *time.Time        `json:"occurred_at"`
}

type ingestResponse struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// HandleIngest records one event synchronously.
//
//	POST /events {"token": "...", "event_type": "bounced", "metadata": {...}}
func (h *EventsHandler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	et, err := domain.ParseEventType(req.EventType)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Token == "" {
		httputil.BadRequest(w, "token is required")
		return
	}

	c := domain.Capture{
		ID:         req.ID,
		Token:      req.Token,
		EventType:  et,
		Metadata:   req.Metadata,
		ReceivedAt: h.now().UTC(),
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if req.OccurredAt != nil && !req.OccurredAt.IsZero() {
		c.ReceivedAt = req.OccurredAt.UTC()
	}

	err = h.events.Apply(r.Context(), c)
	switch {
	case err == nil:
		httputil.Accepted(w, ingestResponse{Status: "accepted", ID: c.ID})
	case errors.Is(err, engagement.ErrInvalidEventType):
		httputil.BadRequest(w, err.Error())
	case errors.Is(err, engagement.ErrTokenNotFound):
		httputil.NotFound(w, "tracking token not found")
	default:
		httputil.Unavailable(w, err)
	}
}
