package reports

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Handler serves the financial report endpoints.
type Handler struct {
	logger  *slog.Logger
	reports *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, reportSvc *Service) *Handler {
	return &Handler{logger: logger, reports: reportSvc}
}

// MountRoutes registers report routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/reports/trial-balance", h.handleTrialBalance)
	r.Get("/reports/profit-loss", h.handleProfitLoss)
	r.Get("/reports/balance-sheet", h.handleBalanceSheet)
	r.Get("/reports/account-card", h.handleAccountCard)
}

func requestIdentity(w http.ResponseWriter, r *http.Request) (shared.RequestContext, bool) {
	rc, ok := shared.RequestContextFrom(r.Context())
	if !ok || !rc.Valid() {
		shared.RespondError(w, http.StatusUnauthorized, shared.ErrNoRequestContext.Error())
		return shared.RequestContext{}, false
	}
	return rc, true
}

// parseRange reads from/to query params, defaulting to the current month.
func (h *Handler) parseRange(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, -1)
	var err error
	if raw := r.URL.Query().Get("from"); raw != "" {
		if from, err = time.Parse("2006-01-02", raw); err != nil {
			return from, to, errors.New("invalid from date")
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if to, err = time.Parse("2006-01-02", raw); err != nil {
			return from, to, errors.New("invalid to date")
		}
	}
	if to.Before(from) {
		return from, to, errors.New("to precedes from")
	}
	return from, to, nil
}

func (h *Handler) handleTrialBalance(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	from, to, err := h.parseRange(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	tb, err := h.reports.TrialBalance(r.Context(), rc.CompanyID, from, to)
	if err != nil {
		h.logger.Error("build trial balance", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not build report")
		return
	}
	shared.RespondJSON(w, http.StatusOK, tb)
}

func (h *Handler) handleProfitLoss(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	from, to, err := h.parseRange(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	pl, err := h.reports.ProfitAndLoss(r.Context(), rc.CompanyID, from, to)
	if err != nil {
		h.logger.Error("build profit and loss", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not build report")
		return
	}
	shared.RespondJSON(w, http.StatusOK, pl)
}

func (h *Handler) handleBalanceSheet(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	asOf := time.Now().UTC()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := time.Parse("2006-01-02", raw)
		if err != nil {
			shared.RespondError(w, http.StatusBadRequest, "invalid as_of date")
			return
		}
		asOf = parsed
	}
	bs, err := h.reports.BalanceSheet(r.Context(), rc.CompanyID, asOf)
	if err != nil {
		h.logger.Error("build balance sheet", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not build report")
		return
	}
	shared.RespondJSON(w, http.StatusOK, bs)
}

func (h *Handler) handleAccountCard(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	accountID, err := strconv.ParseInt(r.URL.Query().Get("account_id"), 10, 64)
	if err != nil || accountID <= 0 {
		shared.RespondError(w, http.StatusBadRequest, "account_id required")
		return
	}
	from, to, err := h.parseRange(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	card, err := h.reports.AccountCard(r.Context(), rc.CompanyID, accountID, from, to)
	if err != nil {
		if errors.Is(err, ledger.ErrAccountNotFound) {
			shared.RespondError(w, http.StatusNotFound, "account not found")
			return
		}
		h.logger.Error("build account card", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not build report")
		return
	}
	shared.RespondJSON(w, http.StatusOK, card)
}
