package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Handler wires ledger endpoints: manual journals, the event queue, fiscal
// periods, and the chart of accounts.
type Handler struct {
	logger    *slog.Logger
	repo      *Repository
	engine    *Engine
	guard     *Guard
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, repo *Repository, engine *Engine, guard *Guard) *Handler {
	return &Handler{
		logger:    logger,
		repo:      repo,
		engine:    engine,
		guard:     guard,
		validator: validator.New(),
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/journals", h.handleManualJournal)
	r.Get("/accounts", h.handleListAccounts)
	r.Get("/ledger/events", h.handleListEvents)
	r.Post("/ledger/events/{id}/retry", h.handleRetryEvent)
	r.Post("/periods", h.handleOpenPeriod)
	r.Post("/periods/{id}/close", h.handleClosePeriod)
}

func requestIdentity(w http.ResponseWriter, r *http.Request) (shared.RequestContext, bool) {
	rc, ok := shared.RequestContextFrom(r.Context())
	if !ok || !rc.Valid() {
		shared.RespondError(w, http.StatusUnauthorized, shared.ErrNoRequestContext.Error())
		return shared.RequestContext{}, false
	}
	return rc, true
}

type manualJournalLineRequest struct {
	AccountID   int64           `json:"account_id" validate:"required,gt=0"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

type manualJournalRequest struct {
	Memo  string                     `json:"memo" validate:"required"`
	Lines []manualJournalLineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) handleManualJournal(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	var req manualJournalRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload := ManualJournalPayload{Memo: req.Memo, Lines: make([]ManualLine, 0, len(req.Lines))}
	lines := make([]LineInput, 0, len(req.Lines))
	for _, l := range req.Lines {
		payload.Lines = append(payload.Lines, ManualLine{
			AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Description: l.Description,
		})
		lines = append(lines, LineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit})
	}
	// Reject unbalanced journals before anything is persisted. An event that
	// can never post would otherwise sit failed and be retried by every drain.
	if err := CheckBalanced(lines); err != nil {
		shared.RespondError(w, http.StatusUnprocessableEntity, shared.UserSafeMessage(err))
		return
	}
	ev, err := NewEvent(rc.CompanyID, EventManualJournal, "manual", 0, payload)
	if err != nil {
		shared.RespondError(w, http.StatusInternalServerError, shared.UserSafeMessage(err))
		return
	}
	eventID, err := h.repo.CreateEvent(r.Context(), ev)
	if err != nil {
		h.logger.Error("create manual journal event", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not record journal")
		return
	}
	if err := h.engine.PostEvent(r.Context(), eventID); err != nil {
		shared.RespondError(w, postingStatus(err), shared.UserSafeMessage(err))
		return
	}
	shared.RespondJSON(w, http.StatusCreated, map[string]any{"event_id": eventID, "status": EventProcessed})
}

func postingStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnbalancedEntry), errors.Is(err, ErrTooFewLines), errors.Is(err, ErrAccountNotFound):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrNoOpenPeriod), errors.Is(err, ErrPeriodClosed), errors.Is(err, ErrMissingMapping):
		return http.StatusConflict
	case errors.Is(err, ErrEventNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type accountResponse struct {
	ID       int64           `json:"id"`
	Code     string          `json:"code"`
	Name     string          `json:"name"`
	Type     AccountType     `json:"type"`
	ParentID *int64          `json:"parent_id,omitempty"`
	Balance  decimal.Decimal `json:"balance"`
	IsSystem bool            `json:"is_system"`
	IsActive bool            `json:"is_active"`
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	accounts, err := h.repo.ListAccounts(r.Context(), rc.CompanyID)
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not list accounts")
		return
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{
			ID: a.ID, Code: a.Code, Name: a.Name, Type: a.Type, ParentID: a.ParentID,
			Balance: a.Balance, IsSystem: a.IsSystem, IsActive: a.IsActive,
		})
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"accounts": out})
}

type eventResponse struct {
	ID          int64       `json:"id"`
	EventType   EventType   `json:"event_type"`
	EntityType  string      `json:"entity_type"`
	EntityID    int64       `json:"entity_id"`
	SourceID    string      `json:"source_id"`
	Status      EventStatus `json:"status"`
	ErrorNote   string      `json:"error_note,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
}

func (h *Handler) handleListEvents(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	status := EventStatus(r.URL.Query().Get("status"))
	switch status {
	case "", EventPending, EventProcessed, EventFailed:
	default:
		shared.RespondError(w, http.StatusBadRequest, "unknown status filter")
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	events, err := h.repo.ListEvents(r.Context(), rc.CompanyID, status, limit)
	if err != nil {
		h.logger.Error("list journal events", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not list events")
		return
	}
	out := make([]eventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, eventResponse{
			ID: ev.ID, EventType: ev.EventType, EntityType: ev.EntityType, EntityID: ev.EntityID,
			SourceID: ev.SourceID.String(), Status: ev.Status, ErrorNote: ev.ErrorNote,
			CreatedAt: ev.CreatedAt, ProcessedAt: ev.ProcessedAt,
		})
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"events": out})
}

func (h *Handler) handleRetryEvent(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	eventID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || eventID <= 0 {
		shared.RespondError(w, http.StatusBadRequest, "invalid event id")
		return
	}
	if err := h.engine.RetryEvent(r.Context(), rc.CompanyID, eventID); err != nil {
		shared.RespondError(w, postingStatus(err), shared.UserSafeMessage(err))
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"event_id": eventID, "status": EventProcessed})
}

type openPeriodRequest struct {
	Name      string `json:"name" validate:"required"`
	StartDate string `json:"start_date" validate:"required"`
	EndDate   string `json:"end_date" validate:"required"`
}

func (h *Handler) handleOpenPeriod(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	var req openPeriodRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	start, err := time.Parse("2006-01-02", req.StartDate)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid start_date")
		return
	}
	end, err := time.Parse("2006-01-02", req.EndDate)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, "invalid end_date")
		return
	}
	period, err := h.guard.OpenPeriod(r.Context(), rc, OpenPeriodInput{Name: req.Name, StartDate: start, EndDate: end})
	if err != nil {
		h.logger.Error("open fiscal period", slog.Any("error", err))
		shared.RespondError(w, http.StatusUnprocessableEntity, shared.UserSafeMessage(err))
		return
	}
	shared.RespondJSON(w, http.StatusCreated, map[string]any{
		"id": period.ID, "name": period.Name,
		"start_date": period.StartDate.Format("2006-01-02"),
		"end_date":   period.EndDate.Format("2006-01-02"),
	})
}

func (h *Handler) handleClosePeriod(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	periodID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || periodID <= 0 {
		shared.RespondError(w, http.StatusBadRequest, "invalid period id")
		return
	}
	period, err := h.guard.ClosePeriod(r.Context(), rc, periodID)
	if err != nil {
		switch {
		case errors.Is(err, ErrPeriodNotFound):
			shared.RespondError(w, http.StatusNotFound, shared.UserSafeMessage(err))
		case errors.Is(err, ErrPeriodClosed):
			shared.RespondError(w, http.StatusConflict, shared.UserSafeMessage(err))
		default:
			h.logger.Error("close fiscal period", slog.Any("error", err))
			shared.RespondError(w, http.StatusInternalServerError, "could not close period")
		}
		return
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"id": period.ID, "closed": period.IsClosed})
}
