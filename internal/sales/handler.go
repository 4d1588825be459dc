package sales

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

// Handler wires sale, return, and payment endpoints.
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

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.handleSale)
	r.Post("/sales/returns", h.handleReturn)
	r.Post("/invoices/{id}/payments", h.handlePayment)
	r.Get("/invoices/{id}", h.handleGetInvoice)
}

type saleLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	UnitID    string          `json:"unit_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type saleRequest struct {
	WarehouseID  int64             `json:"warehouse_id" validate:"required,gt=0"`
	CustomerID   *int64            `json:"customer_id"`
	Lines        []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
	Tendered     decimal.Decimal   `json:"tendered"`
	Method       string            `json:"method" validate:"required"`
	Currency     string            `json:"currency"`
	ExchangeRate decimal.Decimal   `json:"exchange_rate"`
}

func requestIdentity(w http.ResponseWriter, r *http.Request) (shared.RequestContext, bool) {
	rc, ok := shared.RequestContextFrom(r.Context())
	if !ok || !rc.Valid() {
		shared.RespondError(w, http.StatusUnauthorized, shared.ErrNoRequestContext.Error())
		return shared.RequestContext{}, false
	}
	return rc, true
}

// saleStatusCode maps orchestration failures to HTTP codes. Business-rule
// rejections are 422, missing references 404, contention 409.
func saleStatusCode(err error) int {
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock),
		errors.Is(err, ErrReturnExceedsSold),
		errors.Is(err, ErrProductNotInSale),
		errors.Is(err, ErrNotReturnable),
		errors.Is(err, ErrOverpayment),
		errors.Is(err, ErrCustomerRequired):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrEmptyCart),
		errors.Is(err, ErrInvalidPayment),
		errors.Is(err, inventory.ErrInvalidQuantity),
		errors.Is(err, catalog.ErrUnitNotFound):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvoiceNotFound),
		errors.Is(err, ErrCustomerNotFound),
		errors.Is(err, catalog.ErrProductNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrRetryable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) handleSale(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	var req saleRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	idemKey, ok := h.reserveIdempotencyKey(w, r, "sales")
	if !ok {
		return
	}
	input := SaleInput{
		WarehouseID:  req.WarehouseID,
		CustomerID:   req.CustomerID,
		Tendered:     req.Tendered,
		Method:       req.Method,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
	}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, SaleLine{ProductID: l.ProductID, UnitID: l.UnitID, Quantity: l.Quantity})
	}
	result, err := h.service.ProcessSale(r.Context(), rc, input)
	if err != nil {
		h.releaseIdempotencyKey(r.Context(), idemKey)
		status := saleStatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("process sale", slog.Any("error", err))
			shared.RespondError(w, status, "could not process sale")
			return
		}
		shared.RespondError(w, status, shared.UserSafeMessage(err))
		return
	}
	shared.RespondJSON(w, http.StatusCreated, map[string]any{
		"invoice_id":     result.InvoiceID,
		"invoice_number": result.InvoiceNumber,
		"status":         result.Status,
		"total":          result.Total,
		"paid":           result.Paid,
		"change":         result.Change,
		"due":            result.Due,
	})
}

type returnLineRequest struct {
	ProductID int64           `json:"product_id" validate:"required,gt=0"`
	UnitID    string          `json:"unit_id" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
}

type returnRequest struct {
	OriginalInvoiceID int64               `json:"original_invoice_id" validate:"required,gt=0"`
	Lines             []returnLineRequest `json:"lines" validate:"required,min=1,dive"`
	Method            string              `json:"method" validate:"required"`
}

func (h *Handler) handleReturn(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	var req returnRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	input := ReturnInput{OriginalInvoiceID: req.OriginalInvoiceID, Method: req.Method}
	for _, l := range req.Lines {
		input.Lines = append(input.Lines, ReturnLine{ProductID: l.ProductID, UnitID: l.UnitID, Quantity: l.Quantity})
	}
	result, err := h.service.ProcessReturn(r.Context(), rc, input)
	if err != nil {
		status := saleStatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("process return", slog.Any("error", err))
			shared.RespondError(w, status, "could not process return")
			return
		}
		shared.RespondError(w, status, shared.UserSafeMessage(err))
		return
	}
	shared.RespondJSON(w, http.StatusCreated, map[string]any{
		"return_invoice_id":     result.ReturnInvoiceID,
		"return_invoice_number": result.ReturnInvoiceNumber,
		"subtotal":              result.Subtotal,
		"refund_from_ar":        result.RefundFromAR,
		"refund_from_cash":      result.RefundFromCash,
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
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || invoiceID <= 0 {
		shared.RespondError(w, http.StatusBadRequest, "invalid invoice id")
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
	invoice, err := h.service.RecordPayment(r.Context(), rc, invoiceID, PaymentInput{
		Amount:       req.Amount,
		Method:       req.Method,
		Currency:     req.Currency,
		ExchangeRate: req.ExchangeRate,
	})
	if err != nil {
		status := saleStatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("record payment", slog.Any("error", err))
			shared.RespondError(w, status, "could not record payment")
			return
		}
		shared.RespondError(w, status, shared.UserSafeMessage(err))
		return
	}
	shared.RespondJSON(w, http.StatusOK, invoiceResponse(invoice, nil))
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	invoiceID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || invoiceID <= 0 {
		shared.RespondError(w, http.StatusBadRequest, "invalid invoice id")
		return
	}
	invoice, items, err := h.service.GetInvoice(r.Context(), rc, invoiceID)
	if err != nil {
		if errors.Is(err, ErrInvoiceNotFound) {
			shared.RespondError(w, http.StatusNotFound, "invoice not found")
			return
		}
		h.logger.Error("get invoice", slog.Any("error", err))
		shared.RespondError(w, http.StatusInternalServerError, "could not load invoice")
		return
	}
	shared.RespondJSON(w, http.StatusOK, invoiceResponse(invoice, items))
}

func invoiceResponse(inv Invoice, items []InvoiceItem) map[string]any {
	out := map[string]any{
		"id":             inv.ID,
		"invoice_number": inv.InvoiceNumber,
		"sale_type":      inv.SaleType,
		"customer_id":    inv.CustomerID,
		"warehouse_id":   inv.WarehouseID,
		"total_amount":   inv.TotalAmount,
		"amount_paid":    inv.AmountPaid,
		"amount_due":     inv.AmountDue,
		"status":         inv.Status,
		"payment_method": inv.PaymentMethod,
		"currency":       inv.Currency,
		"created_at":     inv.CreatedAt,
	}
	if inv.OriginalSaleID != nil {
		out["original_sale_id"] = *inv.OriginalSaleID
	}
	if items != nil {
		lines := make([]map[string]any, 0, len(items))
		for _, it := range items {
			lines = append(lines, map[string]any{
				"product_id":    it.ProductID,
				"unit_id":       it.UnitID,
				"unit_name":     it.UnitName,
				"quantity":      it.Quantity,
				"base_quantity": it.BaseQuantity,
				"unit_price":    it.UnitPrice,
				"total_price":   it.TotalPrice,
			})
		}
		out["items"] = lines
	}
	return out
}
