package inventory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetItem(ctx context.Context, companyID int64, key Key) (Item, error)
	ListMovements(ctx context.Context, companyID int64, key Key, limit int) ([]Movement, error)
}

// TxRepository exposes transactional inventory operations.
type TxRepository interface {
	GetForUpdate(ctx context.Context, companyID int64, key Key) (Item, error)
	GetForUpdateBatch(ctx context.Context, companyID int64, keys []Key) (map[Key]Item, error)
	UpsertItem(ctx context.Context, item Item) (Item, error)
	InsertMovement(ctx context.Context, m Movement) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates direct inventory operations (manual adjustments and
// reservations). Sale, return, and purchase flows mutate inventory through
// their own transactions using the same TxRepository contract.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	allowNeg bool
	now      func() time.Time
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, cfg ServiceConfig) *Service {
	return &Service{repo: repo, audit: audit, allowNeg: cfg.AllowNegativeStock, now: time.Now}
}

// AdjustmentInput describes a manual stock correction.
type AdjustmentInput struct {
	ProductID   int64
	WarehouseID int64
	Qty         decimal.Decimal // signed, in base units
	Note        string
}

// Adjust posts a manual stock adjustment and its movement audit row.
func (s *Service) Adjust(ctx context.Context, rc shared.RequestContext, input AdjustmentInput) (Item, error) {
	if !rc.Valid() {
		return Item{}, shared.ErrNoRequestContext
	}
	if input.ProductID == 0 || input.WarehouseID == 0 {
		return Item{}, errors.New("inventory: warehouse and product required")
	}
	if input.Qty.IsZero() {
		return Item{}, ErrInvalidQuantity
	}
	key := Key{ProductID: input.ProductID, WarehouseID: input.WarehouseID}
	var updated Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetForUpdate(ctx, rc.CompanyID, key)
		if err != nil && !errors.Is(err, ErrItemNotFound) {
			return err
		}
		if errors.Is(err, ErrItemNotFound) {
			item = Item{CompanyID: rc.CompanyID, ProductID: key.ProductID, WarehouseID: key.WarehouseID}
		}
		before := item.StockQty
		switch {
		case input.Qty.IsPositive():
			if err := item.ApplyInbound(input.Qty); err != nil {
				return err
			}
		case s.allowNeg:
			item.StockQty = item.StockQty.Add(input.Qty)
			item.AvailableQty = item.AvailableQty.Add(input.Qty)
			item.Status = DeriveStatus(item.AvailableQty, item.ReorderLevel)
		default:
			if err := item.ApplyOutbound(input.Qty.Neg()); err != nil {
				return err
			}
		}
		item, err = tx.UpsertItem(ctx, item)
		if err != nil {
			return err
		}
		if err := tx.InsertMovement(ctx, Movement{
			CompanyID:   rc.CompanyID,
			ProductID:   key.ProductID,
			WarehouseID: key.WarehouseID,
			Type:        MovementAdjustment,
			Qty:         input.Qty,
			BeforeQty:   before,
			AfterQty:    item.StockQty,
			Note:        input.Note,
			CreatedBy:   rc.UserID,
			CreatedAt:   s.now().UTC(),
		}); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return Item{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			CompanyID: rc.CompanyID,
			ActorID:   rc.UserID,
			Action:    "inventory.adjust",
			Entity:    "inventory_item",
			EntityID:  fmt.Sprintf("%d:%d", key.ProductID, key.WarehouseID),
			Meta: map[string]any{
				"qty":  input.Qty.String(),
				"note": input.Note,
			},
			At: s.now(),
		})
	}
	return updated, nil
}

// ReserveStock moves quantity from available to reserved for a draft order.
func (s *Service) ReserveStock(ctx context.Context, rc shared.RequestContext, key Key, qty decimal.Decimal, refType string, refID int64) (Item, error) {
	return s.mutateReservation(ctx, rc, key, qty, refType, refID, true)
}

// ReleaseStock returns reserved quantity to the sellable pool.
func (s *Service) ReleaseStock(ctx context.Context, rc shared.RequestContext, key Key, qty decimal.Decimal, refType string, refID int64) (Item, error) {
	return s.mutateReservation(ctx, rc, key, qty, refType, refID, false)
}

func (s *Service) mutateReservation(ctx context.Context, rc shared.RequestContext, key Key, qty decimal.Decimal, refType string, refID int64, reserve bool) (Item, error) {
	if !rc.Valid() {
		return Item{}, shared.ErrNoRequestContext
	}
	var updated Item
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.GetForUpdate(ctx, rc.CompanyID, key)
		if err != nil {
			return err
		}
		if reserve {
			err = item.Reserve(qty)
		} else {
			err = item.Release(qty)
		}
		if err != nil {
			return err
		}
		item, err = tx.UpsertItem(ctx, item)
		if err != nil {
			return err
		}
		signed := qty
		if reserve {
			signed = qty.Neg()
		}
		if err := tx.InsertMovement(ctx, Movement{
			CompanyID:     rc.CompanyID,
			ProductID:     key.ProductID,
			WarehouseID:   key.WarehouseID,
			Type:          MovementReservation,
			Qty:           signed,
			BeforeQty:     item.StockQty,
			AfterQty:      item.StockQty,
			ReferenceType: refType,
			ReferenceID:   refID,
			CreatedBy:     rc.UserID,
			CreatedAt:     s.now().UTC(),
		}); err != nil {
			return err
		}
		updated = item
		return nil
	})
	return updated, err
}

// GetItem returns one inventory row.
func (s *Service) GetItem(ctx context.Context, rc shared.RequestContext, key Key) (Item, error) {
	if !rc.Valid() {
		return Item{}, shared.ErrNoRequestContext
	}
	return s.repo.GetItem(ctx, rc.CompanyID, key)
}

// GetMovements lists recent stock movements for one row.
func (s *Service) GetMovements(ctx context.Context, rc shared.RequestContext, key Key, limit int) ([]Movement, error) {
	if !rc.Valid() {
		return nil, shared.ErrNoRequestContext
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListMovements(ctx, rc.CompanyID, key, limit)
}
