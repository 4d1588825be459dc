package procurement

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PurchaseType distinguishes the purchase invoice variants.
type PurchaseType string

const (
	TypePurchase PurchaseType = "PURCHASE"
)

// PaymentStatus is derived from amount paid vs total.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPartial PaymentStatus = "partial"
	StatusPending PaymentStatus = "pending"
)

// Purchase is a purchase invoice header. Amounts are in the company base
// currency; the transaction currency rides along for audit.
type Purchase struct {
	ID              int64
	CompanyID       int64
	InvoiceNumber   string
	SupplierID      int64
	WarehouseID     int64
	TotalAmount     decimal.Decimal
	AmountPaid      decimal.Decimal
	AmountDue       decimal.Decimal
	Status          PaymentStatus
	PaymentMethod   string
	Currency        string
	ExchangeRate    decimal.Decimal
	ForeignTendered decimal.Decimal
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PurchaseItem is one received line. Quantity is in the purchasing unit;
// BaseQuantity is the converted stock quantity. UnitCost is per purchasing
// unit, BaseUnitCost per base unit.
type PurchaseItem struct {
	ID           int64
	PurchaseID   int64
	ProductID    int64
	UnitID       string
	UnitName     string
	Quantity     decimal.Decimal
	BaseQuantity decimal.Decimal
	UnitCost     decimal.Decimal
	BaseUnitCost decimal.Decimal
	TotalCost    decimal.Decimal
}

// Supplier carries the running balances updated alongside purchases and
// payments. OutstandingBalance is what the business owes the supplier.
type Supplier struct {
	ID                 int64
	CompanyID          int64
	Name               string
	Phone              string
	Balance            decimal.Decimal
	OutstandingBalance decimal.Decimal
	IsActive           bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

var (
	// ErrEmptyOrder indicates a purchase with no lines.
	ErrEmptyOrder = errors.New("procurement: order is empty")
	// ErrPurchaseNotFound indicates a missing purchase invoice.
	ErrPurchaseNotFound = errors.New("procurement: purchase not found")
	// ErrSupplierNotFound indicates a missing supplier row.
	ErrSupplierNotFound = errors.New("procurement: supplier not found")
	// ErrOverpayment indicates a payment above the outstanding due.
	ErrOverpayment = errors.New("procurement: payment exceeds amount due")
	// ErrInvalidPayment indicates a zero or negative payment amount.
	ErrInvalidPayment = errors.New("procurement: payment amount must be positive")
	// ErrInvalidCost indicates a zero or negative unit cost.
	ErrInvalidCost = errors.New("procurement: unit cost must be positive")
)

// DeriveStatus computes the payment status from paid vs total.
func DeriveStatus(total, paid decimal.Decimal) PaymentStatus {
	switch {
	case paid.GreaterThanOrEqual(total):
		return StatusPaid
	case paid.IsPositive():
		return StatusPartial
	default:
		return StatusPending
	}
}

// AmountDueOf clamps total minus paid at zero.
func AmountDueOf(total, paid decimal.Decimal) decimal.Decimal {
	due := total.Sub(paid)
	if due.IsNegative() {
		return decimal.Zero
	}
	return due
}
