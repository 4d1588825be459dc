package procurement

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/catalog"
	"github.com/tradewind-erp/tradewind/internal/inventory"
	"github.com/tradewind-erp/tradewind/internal/shared"
)

// IdempotencyPort guards replayed document submissions.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Handler wires purchase and supplier payment endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
	idem      IdempotencyPort
}

// NewHandler builds a Handler instance. idem may be nil, in which case the
// Idempotency-Key header is ignored.
func NewHandler(logger *slog.Logger, service *Service, idem IdempotencyPort) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New(), idem: idem}
}

// reserveIdempotencyKey claims the request's Idempotency-Key header, if any.
// A replayed key answers 409 without reaching the service.
func (h *Handler) reserveIdempotencyKey(w http.ResponseWriter, r *http.Request, module string) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" || h.idem == nil {
		return "", true
	}
	if err := h.idem.CheckAndInsert(r.Context(), key, module); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			shared.RespondError(w, http.StatusConflict, err.Error())
			return "", false
		}
		h.logger.Error("reserve idempotency key", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not reserve idempotency key")
		return "", false
	}
	return key, true
}

// releaseIdempotencyKey frees a claimed key after a failed submission so the
// client may retry with the same key.
func (h *Handler) releaseIdempotencyKey(ctx context.Context, key string) {
	if key == "" || h.idem == nil {
		return
	}
	if err := h.idem.Delete(ctx, key); err != nil {
		h.logger.Warn("release idempotency key", slog.Any("error", err))
	}
}

// MountRoutes registers procurement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/purchases", h.handlePurchase)
	r.Post("/purchases/{id}/payments", h.handlePayment)
	r.Get("/purchases/{id}", h.handleGetPurchase)
}

type purchaseLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	UnitID    string          `json:"unit_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
}

type purchaseRequest struct {
	SupplierID   int64                 `json:"supplier_id" validate:"required,gt=0"`
	WarehouseID  int64                 `json:"warehouse_id" validate:"required,gt=0"`
	Lines        []purchaseLineRequest `json:"lines" validate:"required,min=1,dive"`
	Paid         decimal.Decimal       `json:"paid"`
	Method       string                `json:"method" validate:"required"`
	Currency     string                `json:"currency"`
	ExchangeRate decimal.Decimal       `json:"exchange_rate"`
}

func requestIdentity(w http.ResponseWriter, r *http.Request) (shared.RequestContext, bool) {
	rc, ok := shared.RequestContextFrom(r.Context())
	if !ok || !rc.Valid() {
		shared.RespondError(w, http.StatusUnauthorized, shared.ErrNoRequestContext.Error())
		return shared.RequestContext{}, false
	}
	return rc, true
}

func purchaseStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrOverpayment):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrEmptyOrder),
		errors.Is(err, ErrInvalidPayment),
		errors.Is(err, ErrInvalidCost),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrUnitNotFound):
		return http.StatusBadRequest
	case errors.Is(err, ErrPurchaseNotFound),
		errors.Is(err, ErrSupplierNotFound),
		errors.Is(err, catalog.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrRetryable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handlePurchase(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	var req purchaseRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	idemKey, ok := h.reserveIdempotencyKey(w, r, "procurement")
	if !ok {
		return
	}
	input := PurchaseInput{
		SupplierID:   req.SupplierID,
		WarehouseID:  req.WarehouseID,
		Paid:         req.Paid,
		Method:       req.Method,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, PurchaseLine{ProductID: l.ProductID, UnitID: l.UnitID, Quantity: l.Quantity, UnitCost: l.UnitCost})
	}
	result, err := h.service.ProcessPurchase(r.Context(), rc, input)
	if err != nil {
		h.releaseIdempotencyKey(r.Context(), idemKey)
		status := purchaseStatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("process purchase", slog.Any("error", err))
			shared.RespondError(w, status, "could not process purchase")
			return
		}
		shared.RespondError(w, status, shared.UserSafeMessage(err))
		return
	}
	shared.RespondJSON(w, http.StatusCreated, map[string]any{
		"purchase_id":    result.PurchaseID,
		"invoice_number": result.InvoiceNumber,
		"status":         result.Status,
		"total":          result.Total,
		"paid":           result.Paid,
		"due":            result.Due,
	})
}

type paymentRequest struct {
	Amount       decimal.Decimal `json:"amount"`
	Method       string          `json:"method" validate:"required"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

func (h *Handler) handlePayment(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	purchaseID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || purchaseID <= 0 {
		shared.RespondError(w, http.StatusBadRequest, "invalid purchase id")
		return
	}
	var req paymentRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	purchase, err := h.service.RecordSupplierPayment(r.Context(), rc, purchaseID, PaymentInput{
		Amount:       req.Amount,
		Method:       req.Method,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
	})
	if err != nil {
		status := purchaseStatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("record supplier payment", slog.Any("error", err))
			shared.RespondError(w, status, "could not record payment")
			return
		}
		shared.RespondError(w, status, shared.UserSafeMessage(err))
		return
	}
	shared.RespondJSON(w, http.StatusOK, purchaseResponse(purchase, nil))
}

func (h *Handler) handleGetPurchase(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	purchaseID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || purchaseID <= 0 {
		shared.RespondError(w, http.StatusBadRequest, "invalid purchase id")
		return
	}
	purchase, items, err := h.service.GetPurchase(r.Context(), rc, purchaseID)
	if err != nil {
		if errors.Is(err, ErrPurchaseNotFound) {
			shared.RespondError(w, http.StatusNotFound, "purchase not found")
			return
		}
		h.logger.Error("get purchase", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not load purchase")
		return
	}
	shared.RespondJSON(w, http.StatusOK, purchaseResponse(purchase, items))
}

func purchaseResponse(p Purchase, items []PurchaseItem) map[string]any {
	out := map[string]any{
		"id":             p.ID,
		"invoice_number": p.InvoiceNumber,
		"supplier_id":    p.SupplierID,
		"warehouse_id":   p.WarehouseID,
		"total_amount":   p.TotalAmount,
		"amount_paid":    p.AmountPaid,
		"amount_due":     p.AmountDue,
		"status":         p.Status,
		"payment_method": p.PaymentMethod,
		"currency":       p.Currency,
		"exchange_rate":  p.ExchangeRate,
		"created_at":     p.CreatedAt,
	}
	if items != nil {
		lines := make([]map[string]any, 0, len(items))
		for _, it := range items {
			lines = append(lines, map[string]any{
				"product_id":     it.ProductID,
				"unit_id":        it.UnitID,
				"unit_name":      it.UnitName,
				"quantity":       it.Quantity,
				"base_quantity":  it.BaseQuantity,
				"unit_cost":      it.UnitCost,
				"base_unit_cost": it.BaseUnitCost,
				"total_cost":     it.TotalCost,
			})
		}
		out["items"] = lines
	}
	return out
}
