package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"feedflow/internal/core"
	"feedflow/internal/features/ingest/models"
	"feedflow/internal/features/ingest/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// SourceRepository is the source storage the handlers read and write
type SourceRepository interface {
	ListSources(ctx context.Context) ([]models.Source, error)
	CreateSource(ctx context.Context, in *models.SourceCreate) (*models.Source, error)
}

// CycleRunner starts ingestion work
type CycleRunner interface {
	RunDue(ctx context.Context) (*models.IngestionResult, error)
	RefreshSource(ctx context.Context, id string) (*models.IngestionResult, error)
	ReadyForAttempt(src models.Source, now time.Time) bool
	InFlight(id string) bool
}

// Discoverer finds feeds for a site
type Discoverer interface {
	Discover(ctx context.Context, siteURL string) ([]string, error)
}

// Handlers contains all ingest feature HTTP handlers
type Handlers struct {
	logger    *core.Logger
	sources   SourceRepository
	scheduler CycleRunner
	discovery Discoverer
}

// NewHandlers creates a new handlers instance
func NewHandlers(logger *core.Logger, sources SourceRepository, scheduler CycleRunner, discovery Discoverer) *Handlers {
	return &Handlers{
		logger:    logger,
		sources:   sources,
		scheduler: scheduler,
		discovery: discovery,
	}
}

// CronStatusResponse summarizes source health for the cron endpoint
type CronStatusResponse struct {
	Sources  int                   `json:"sources"`
	Due      int                   `json:"due"`
	InFlight int                   `json:"in_flight"`
	ByStatus map[models.Status]int `json:"by_status"`
}

// DiscoverRequest is the body of POST /api/discover
type DiscoverRequest struct {
	URL string `json:"url"`
}

// DiscoverResponse lists the feeds found for a site
type DiscoverResponse struct {
	URL   string   `json:"url"`
	Feeds []string `json:"feeds"`
}

// TriggerCycle runs one ingestion cycle over the due sources. The cycle
// outlives a dropped client connection.
func (h *Handlers) TriggerCycle(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.WithContext(r.Context())

	result, err := h.scheduler.RunDue(context.WithoutCancel(r.Context()))
	if err != nil {
		logger.Error("Ingestion cycle failed", "error", err)
		core.HandleError(w, core.NewInternalError("Ingestion cycle failed", err))
		return
	}

	summary := result.Summary()
	logger.Info("Ingestion cycle triggered", "cycle_id", summary.CycleID, "processed", summary.Processed, "new_articles", summary.NewArticles)
	core.WriteJSON(w, http.StatusOK, summary)
}

// CronStatus reports how many sources are due without running anything
func (h *Handlers) CronStatus(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.ListSources(r.Context())
	if err != nil {
		core.HandleError(w, core.NewDatabaseError("Failed to list sources", err))
		return
	}

	now := time.Now().UTC()
	resp := CronStatusResponse{
		Sources:  len(sources),
		ByStatus: map[models.Status]int{},
	}
	for _, src := range sources {
		resp.ByStatus[src.State.Status()]++
		if h.scheduler.ReadyForAttempt(src, now) {
			resp.Due++
		}
		if h.scheduler.InFlight(src.ID) {
			resp.InFlight++
		}
	}
	core.WriteJSON(w, http.StatusOK, resp)
}

// ListSources returns every source with its health
func (h *Handlers) ListSources(w http.ResponseWriter, r *http.Request) {
	sources, err := h.sources.ListSources(r.Context())
	if err != nil {
		core.HandleError(w, core.NewDatabaseError("Failed to list sources", err))
		return
	}

	views := make([]models.SourceView, 0, len(sources))
	for i := range sources {
		views = append(views, sources[i].View())
	}
	core.WriteJSON(w, http.StatusOK, views)
}

// CreateSource registers a new feed or website
func (h *Handlers) CreateSource(w http.ResponseWriter, r *http.Request) {
	var in models.SourceCreate
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		core.HandleError(w, core.NewValidationError("Invalid JSON body", err))
		return
	}

	src, err := h.sources.CreateSource(r.Context(), &in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	core.WriteJSON(w, http.StatusCreated, src.View())
}

// RefreshSource ingests one source immediately
func (h *Handlers) RefreshSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.scheduler.RefreshSource(context.WithoutCancel(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, result.Summary())
}

// Discover finds the feeds a website advertises or serves
func (h *Handlers) Discover(w http.ResponseWriter, r *http.Request) {
	var req DiscoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		core.HandleError(w, core.NewValidationError("Invalid JSON body", err))
		return
	}

	feeds, err := h.discovery.Discover(r.Context(), req.URL)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	core.WriteJSON(w, http.StatusOK, DiscoverResponse{URL: req.URL, Feeds: feeds})
}

// writeError maps service errors onto API errors
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validation *services.ValidationError
		fetchErr   *services.FetchError
	)

	switch {
	case errors.As(err, &validation):
		core.HandleError(w, core.NewValidationError(validation.Error(), err))
	case errors.Is(err, services.ErrSourceNotFound):
		core.HandleError(w, core.NewNotFoundError("Source not found", err))
	case errors.Is(err, services.ErrSourceBusy):
		core.HandleError(w, core.NewConflictError("Source is already being ingested", err))
	case errors.As(err, &fetchErr):
		core.HandleError(w, core.NewUpstreamError(fetchErr.Error(), err))
	default:
		h.logger.Error("Request failed", "path", r.URL.Path, "request_id", middleware.GetReqID(r.Context()), "error", err)
		core.HandleError(w, core.NewInternalError("An unexpected error occurred", err))
	}
}
