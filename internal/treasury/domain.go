package treasury

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// VoucherType distinguishes money in from money out.
type VoucherType string

const (
	VoucherReceipt VoucherType = "RECEIPT"
	VoucherPayment VoucherType = "PAYMENT"
)

// VoucherStatus tracks a voucher's lifecycle. Vouchers are written in the
// same transaction as the operation they settle, so they are posted on
// creation; void exists for manual correction flows.
type VoucherStatus string

const (
	VoucherPosted VoucherStatus = "posted"
	VoucherVoided VoucherStatus = "voided"
)

// Voucher is a numbered record of one cash or bank movement. Amount is in the
// company base currency; ForeignAmount and ExchangeRate keep the transaction
// currency for audit.
type Voucher struct {
	ID            int64
	CompanyID     int64
	Type          VoucherType
	VoucherNumber string
	Amount        decimal.Decimal
	Currency      string
	ExchangeRate  decimal.Decimal
	ForeignAmount decimal.Decimal
	Method        string
	InvoiceID     *int64
	CustomerID    *int64
	SupplierID    *int64
	Status        VoucherStatus
	Note          string
	CreatedBy     int64
	CreatedAt     time.Time
}

var (
	// ErrInvalidAmount indicates a zero or negative voucher amount.
	ErrInvalidAmount = errors.New("treasury: voucher amount must be positive")
	// ErrVoucherNotFound indicates a missing voucher row.
	ErrVoucherNotFound = errors.New("treasury: voucher not found")
)

// Validate checks the voucher before numbering and insert.
func (v Voucher) Validate() error {
	if v.CompanyID <= 0 {
		return errors.New("treasury: company required")
	}
	if v.Type != VoucherReceipt && v.Type != VoucherPayment {
		return errors.New("treasury: unknown voucher type")
	}
	if !v.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return nil
}
