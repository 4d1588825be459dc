// Package sequence issues per-company monotonically increasing document
// numbers. Serialization happens on a dedicated counter row per
// (company, kind, year) key via an atomic upsert, so different companies and
// different document kinds never block each other. Gaps only appear when the
// enclosing transaction aborts, which consumers must tolerate.
package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Document kinds with independent counters.
const (
	KindSaleInvoice     = "sale_invoice"
	KindReturnInvoice   = "return_invoice"
	KindPurchaseInvoice = "purchase_invoice"
	KindJournalEntry    = "journal_entry"
	KindReceiptVoucher  = "receipt_voucher"
	KindPaymentVoucher  = "payment_voucher"
)

// Querier is the subset of pgx needed to bump a counter. Both pgx.Tx and
// *pgxpool.Pool satisfy it; callers pass their open transaction so the number
// is only consumed when the surrounding work commits.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Generator allocates sequence numbers.
type Generator struct{}

// NewGenerator constructs Generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// Next returns the next number for (company, kind, year). The upsert takes a
// row lock on the counter, so concurrent callers on the same key serialize
// and each sees a distinct number.
func (g *Generator) Next(ctx context.Context, q Querier, companyID int64, kind string, year int) (int64, error) {
	if companyID == 0 || kind == "" {
		return 0, errors.New("sequence: company and kind required")
	}
	var n int64
	err := q.QueryRow(ctx, `INSERT INTO sequences (company_id, kind, year, last_number)
VALUES ($1, $2, $3, 1)
ON CONFLICT (company_id, kind, year)
DO UPDATE SET last_number = sequences.last_number + 1
RETURNING last_number`, companyID, kind, year).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sequence: next %s/%d: %w", kind, companyID, err)
	}
	return n, nil
}

// FormatInvoiceNumber renders a human-meaningful invoice number such as
// INV-2025-000123.
func FormatInvoiceNumber(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%d-%06d", prefix, year, n)
}

// FormatEntryNumber renders a journal entry number such as JE-2025-000123.
func FormatEntryNumber(year int, n int64) string {
	return FormatInvoiceNumber("JE", year, n)
}

// FormatLineNumber appends the per-line suffix inside one logical entry,
// e.g. JE-2025-000123-D1 for the first debit line.
func FormatLineNumber(entryNumber string, debit bool, ordinal int) string {
	side := "C"
	if debit {
		side = "D"
	}
	return fmt.Sprintf("%s-%s%d", entryNumber, side, ordinal)
}
