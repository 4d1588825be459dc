package audit

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Handler exposes the audit timeline over HTTP.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers audit routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/audit/timeline", h.handleTimeline)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	rc, ok := shared.RequestContextFrom(r.Context())
	if !ok || !rc.Valid() {
		shared.RespondError(w, http.StatusUnauthorized, shared.ErrNoRequestContext.Error())
		return
	}
	f, err := parseFilters(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	entries, paging, err := h.service.Timeline(r.Context(), rc, f)
	if err != nil {
		if errors.Is(err, ErrInvalidRange) {
			shared.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("audit timeline failed", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, shared.UserSafeMessage(err))
		return
	}
	rows := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, map[string]any{
			"id":          e.ID,
			"actor_id":    e.ActorID,
			"action":      e.Action,
			"entity":      e.Entity,
			"entity_id":   e.EntityID,
			"meta":        e.Meta,
			"occurred_at": e.At,
		})
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{
		"entries": rows,
		"pagination": map[string]any{
			"page":        paging.Page,
			"per_page":    paging.PerPage,
			"total":       paging.Total,
			"total_pages": paging.TotalPages,
		},
	})
}

func parseFilters(r *http.Request) (Filters, error) {
	q := r.URL.Query()
	var f Filters
	var err error
	if v := q.Get("from"); v != "" {
		if f.From, err = time.Parse(time.RFC3339, v); err != nil {
			return Filters{}, errors.New("invalid from timestamp, want RFC3339")
		}
	}
	if v := q.Get("to"); v != "" {
		if f.To, err = time.Parse(time.RFC3339, v); err != nil {
			return Filters{}, errors.New("invalid to timestamp, want RFC3339")
		}
	}
	if v := q.Get("actor_id"); v != "" {
		if f.ActorID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return Filters{}, errors.New("invalid actor_id")
		}
	}
	f.Entity = q.Get("entity")
	f.Action = q.Get("action")
	if v := q.Get("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil {
			return Filters{}, errors.New("invalid page")
		}
	}
	if v := q.Get("per_page"); v != "" {
		if f.PerPage, err = strconv.Atoi(v); err != nil {
			return Filters{}, errors.New("invalid per_page")
		}
	}
	return f, nil
}
