package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the derived stock state of an inventory row.
type Status string

const (
	StatusAvailable  Status = "available"
	StatusLow        Status = "low"
	StatusOutOfStock Status = "out_of_stock"
)

// MovementType tags stock movement audit rows.
type MovementType string

const (
	MovementOutgoingSale     MovementType = "outgoing_sale"
	MovementIncomingReturn   MovementType = "incoming_return"
	MovementIncomingPurchase MovementType = "incoming_purchase"
	MovementAdjustment       MovementType = "adjustment"
	MovementReservation      MovementType = "reservation"
)

// Key identifies an inventory row inside one company.
type Key struct {
	ProductID   int64
	WarehouseID int64
}

// Item is the per (company, product, warehouse) inventory ledger row.
// All quantities are in the product's base unit.
type Item struct {
	ID           int64
	CompanyID    int64
	ProductID    int64
	WarehouseID  int64
	StockQty     decimal.Decimal
	AvailableQty decimal.Decimal
	ReservedQty  decimal.Decimal
	ReorderLevel decimal.Decimal
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Movement is an immutable audit row recording one stock change with the
// quantities before and after it.
type Movement struct {
	ID            int64
	CompanyID     int64
	ProductID     int64
	WarehouseID   int64
	Type          MovementType
	Qty           decimal.Decimal
	BeforeQty     decimal.Decimal
	AfterQty      decimal.Decimal
	ReferenceType string
	ReferenceID   int64
	Note          string
	CreatedBy     int64
	CreatedAt     time.Time
}

var (
	// ErrInsufficientStock indicates an outbound movement would overdraw the row.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrItemNotFound indicates a missing inventory row.
	ErrItemNotFound = errors.New("inventory: item not found")
	// ErrInvalidQuantity indicates a zero or malformed quantity.
	ErrInvalidQuantity = errors.New("inventory: invalid quantity")
)

// DeriveStatus computes the stock status from available quantity and reorder
// level: out of stock at or below zero, low at or below the reorder level.
func DeriveStatus(available, reorderLevel decimal.Decimal) Status {
	switch {
	case available.LessThanOrEqual(decimal.Zero):
		return StatusOutOfStock
	case available.LessThanOrEqual(reorderLevel):
		return StatusLow
	default:
		return StatusAvailable
	}
}

// Key returns the row's identity inside its company.
func (it Item) Key() Key {
	return Key{ProductID: it.ProductID, WarehouseID: it.WarehouseID}
}

// ApplyOutbound removes qty base units of sellable stock. It fails before
// mutating anything when the row cannot cover the quantity.
func (it *Item) ApplyOutbound(qty decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidQuantity
	}
	if it.AvailableQty.LessThan(qty) {
		return fmt.Errorf("%w: product %d warehouse %d has %s available, need %s",
			ErrInsufficientStock, it.ProductID, it.WarehouseID, it.AvailableQty, qty)
	}
	it.StockQty = it.StockQty.Sub(qty)
	it.AvailableQty = it.AvailableQty.Sub(qty)
	it.Status = DeriveStatus(it.AvailableQty, it.ReorderLevel)
	return nil
}

// ApplyInbound adds qty base units of stock.
func (it *Item) ApplyInbound(qty decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidQuantity
	}
	it.StockQty = it.StockQty.Add(qty)
	it.AvailableQty = it.AvailableQty.Add(qty)
	it.Status = DeriveStatus(it.AvailableQty, it.ReorderLevel)
	return nil
}

// Reserve moves qty from available into reserved without touching physical stock.
func (it *Item) Reserve(qty decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidQuantity
	}
	if it.AvailableQty.LessThan(qty) {
		return fmt.Errorf("%w: product %d warehouse %d has %s available, need %s",
			ErrInsufficientStock, it.ProductID, it.WarehouseID, it.AvailableQty, qty)
	}
	it.ReservedQty = it.ReservedQty.Add(qty)
	it.AvailableQty = it.AvailableQty.Sub(qty)
	it.Status = DeriveStatus(it.AvailableQty, it.ReorderLevel)
	return nil
}

// Release returns previously reserved qty to the sellable pool.
func (it *Item) Release(qty decimal.Decimal) error {
	if qty.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidQuantity
	}
	if it.ReservedQty.LessThan(qty) {
		return fmt.Errorf("inventory: release %s exceeds reserved %s", qty, it.ReservedQty)
	}
	it.ReservedQty = it.ReservedQty.Sub(qty)
	it.AvailableQty = it.AvailableQty.Add(qty)
	it.Status = DeriveStatus(it.AvailableQty, it.ReorderLevel)
	return nil
}
