package sales

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// SaleType distinguishes the invoice variants sharing one table.
type SaleType string

const (
	TypeSale       SaleType = "SALE"
	TypeReturnSale SaleType = "RETURN_SALE"
)

// PaymentStatus is derived from amount paid vs total.
type PaymentStatus string

const (
	StatusPaid    PaymentStatus = "paid"
	StatusPartial PaymentStatus = "partial"
	StatusPending PaymentStatus = "pending"
	// StatusCompleted marks an invoice fully settled through returns or
	// later payments rather than at the point of sale.
	StatusCompleted PaymentStatus = "completed"
)

// Invoice is a sale or return header. All amounts are in the company base
// currency; Currency/ExchangeRate/ForeignTendered keep the transaction
// currency as audit metadata.
type Invoice struct {
	ID              int64
	CompanyID       int64
	InvoiceNumber   string
	SaleType        SaleType
	CustomerID      *int64
	WarehouseID     int64
	OriginalSaleID  *int64
	TotalAmount     decimal.Decimal
	AmountPaid      decimal.Decimal
	AmountDue       decimal.Decimal
	ChangeGiven     decimal.Decimal
	TotalCOGS       decimal.Decimal
	Status          PaymentStatus
	PaymentMethod   string
	Currency        string
	ExchangeRate    decimal.Decimal
	ForeignTendered decimal.Decimal
	CreatedBy       int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// InvoiceItem is one line of an invoice. Quantity is in the unit the customer
// transacted; BaseQuantity is the converted stock quantity.
type InvoiceItem struct {
	ID           int64
	InvoiceID    int64
	ProductID    int64
	UnitID       string
	UnitName     string
	Quantity     decimal.Decimal
	BaseQuantity decimal.Decimal
	UnitPrice    decimal.Decimal
	TotalPrice   decimal.Decimal
	UnitCost     decimal.Decimal
}

// Customer carries the running balances updated alongside every sale, return,
// and payment. Balance is credit the business owes the customer (overpayment);
// OutstandingBalance is what the customer still owes.
type Customer struct {
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
	// ErrEmptyCart indicates a sale with no lines.
	ErrEmptyCart = errors.New("sales: cart is empty")
	// ErrInvoiceNotFound indicates a missing invoice row.
	ErrInvoiceNotFound = errors.New("sales: invoice not found")
	// ErrCustomerNotFound indicates a missing customer row.
	ErrCustomerNotFound = errors.New("sales: customer not found")
	// ErrCustomerRequired indicates a credit sale without a customer.
	ErrCustomerRequired = errors.New("sales: unpaid sale requires a customer")
	// ErrProductNotInSale indicates a return line for a product the original
	// sale never contained.
	ErrProductNotInSale = errors.New("sales: product not in original sale")
	// ErrReturnExceedsSold indicates a return of more than remains returnable.
	ErrReturnExceedsSold = errors.New("sales: return exceeds quantity sold")
	// ErrNotReturnable indicates a return against a non-sale invoice.
	ErrNotReturnable = errors.New("sales: invoice is not a sale")
	// ErrOverpayment indicates a payment above the outstanding due.
	ErrOverpayment = errors.New("sales: payment exceeds amount due")
	// ErrInvalidPayment indicates a zero or negative payment amount.
	ErrInvalidPayment = errors.New("sales: payment amount must be positive")
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
