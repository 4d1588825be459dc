package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

// Handler wires direct inventory endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/inventory/adjustments", h.handleAdjust)
	r.Post("/inventory/reservations", h.handleReserve)
	r.Delete("/inventory/reservations", h.handleRelease)
	r.Get("/inventory/items", h.handleGetItem)
	r.Get("/inventory/movements", h.handleMovements)
}

func requestIdentity(w http.ResponseWriter, r *http.Request) (shared.RequestContext, bool) {
	rc, ok := shared.RequestContextFrom(r.Context())
	if !ok || !rc.Valid() {
		shared.RespondError(w, http.StatusUnauthorized, shared.ErrNoRequestContext.Error())
		return shared.RequestContext{}, false
	}
	return rc, true
}

func inventoryStatusCode(err error) int {
	switch {
	case errors.Is(err, ErrInsufficientStock):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrInvalidQuantity):
		return http.StatusBadRequest
	case errors.Is(err, ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, shared.ErrRetryable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type adjustmentRequest struct {
	ProductID   int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Qty         decimal.Decimal `json:"qty"`
	Note        string          `json:"note"`
}

func (h *Handler) handleAdjust(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	var req adjustmentRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.service.Adjust(r.Context(), rc, AdjustmentInput{
		ProductID:   req.ProductID,
		WarehouseID: req.WarehouseID,
		Qty:         req.Qty,
		Note:        req.Note,
	})
	if err != nil {
		h.respondServiceError(w, "adjust stock", err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, itemResponse(item))
}

type reservationRequest struct {
	ProductID     int64           `json:"product_id" validate:"required,gt=0"`
	WarehouseID   int64           `json:"warehouse_id" validate:"required,gt=0"`
	Qty           decimal.Decimal `json:"qty"`
	ReferenceType string          `json:"reference_type"`
	ReferenceID   int64           `json:"reference_id"`
}

func (h *Handler) handleReserve(w http.ResponseWriter, r *http.Request) {
	h.mutateReservation(w, r, true)
}

func (h *Handler) handleRelease(w http.ResponseWriter, r *http.Request) {
	h.mutateReservation(w, r, false)
}

func (h *Handler) mutateReservation(w http.ResponseWriter, r *http.Request, reserve bool) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	var req reservationRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	key := Key{ProductID: req.ProductID, WarehouseID: req.WarehouseID}
	var item Item
	var err error
	if reserve {
		item, err = h.service.ReserveStock(r.Context(), rc, key, req.Qty, req.ReferenceType, req.ReferenceID)
	} else {
		item, err = h.service.ReleaseStock(r.Context(), rc, key, req.Qty, req.ReferenceType, req.ReferenceID)
	}
	if err != nil {
		h.respondServiceError(w, "mutate reservation", err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, itemResponse(item))
}

func queryKey(r *http.Request) (Key, error) {
	productID, err := strconv.ParseInt(r.URL.Query().Get("product_id"), 10, 64)
	if err != nil || productID <= 0 {
		return Key{}, errors.New("invalid product_id")
	}
	warehouseID, err := strconv.ParseInt(r.URL.Query().Get("warehouse_id"), 10, 64)
	if err != nil || warehouseID <= 0 {
		return Key{}, errors.New("invalid warehouse_id")
	}
	return Key{ProductID: productID, WarehouseID: warehouseID}, nil
}

func (h *Handler) handleGetItem(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	key, err := queryKey(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := h.service.GetItem(r.Context(), rc, key)
	if err != nil {
		h.respondServiceError(w, "get item", err)
		return
	}
	shared.RespondJSON(w, http.StatusOK, itemResponse(item))
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request) {
	rc, ok := requestIdentity(w, r)
	if !ok {
		return
	}
	key, err := queryKey(r)
	if err != nil {
		shared.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.GetMovements(r.Context(), rc, key, limit)
	if err != nil {
		h.respondServiceError(w, "list movements", err)
		return
	}
	out := make([]map[string]any, 0, len(movements))
	for _, m := range movements {
		out = append(out, map[string]any{
			"type":           m.Type,
			"qty":            m.Qty,
			"before_qty":     m.BeforeQty,
			"after_qty":      m.AfterQty,
			"reference_type": m.ReferenceType,
			"reference_id":   m.ReferenceID,
			"created_by":     m.CreatedBy,
			"created_at":     m.CreatedAt,
		})
	}
	shared.RespondJSON(w, http.StatusOK, map[string]any{"movements": out})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, op string, err error) {
	status := inventoryStatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op, slog.Any("error", err))
		shared.RespondError(w, status, "could not "+op)
		return
	}
	shared.RespondError(w, status, shared.UserSafeMessage(err))
}

func itemResponse(item Item) map[string]any {
	return map[string]any{
		"product_id":    item.ProductID,
		"warehouse_id":  item.WarehouseID,
		"stock_qty":     item.StockQty,
		"reserved_qty":  item.ReservedQty,
		"available_qty": item.AvailableQty,
		"reorder_level": item.ReorderLevel,
		"status":        item.Status,
		"updated_at":    item.UpdatedAt,
	}
}
