package ledger

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// Event payloads form a tagged union over EventType. Every amount is in the
// company base currency; the transaction currency and rate ride along as
// audit metadata only and are never reposted.

// SalePayload describes a committed sale. Paid is the portion applied to the
// invoice, Change the overpayment owed back to the customer.
type SalePayload struct {
	InvoiceID     int64           `json:"invoice_id"`
	InvoiceNumber string          `json:"invoice_number"`
	CustomerID    *int64          `json:"customer_id,omitempty"`
	Total         decimal.Decimal `json:"total"`
	Paid          decimal.Decimal `json:"paid"`
	Change        decimal.Decimal `json:"change"`
	COGS          decimal.Decimal `json:"cogs"`
	Method        string          `json:"method"`
	Currency      string          `json:"currency"`
	ExchangeRate  decimal.Decimal `json:"exchange_rate"`
	ForeignTotal  decimal.Decimal `json:"foreign_total"`
}

// ReturnPayload describes a committed sale return, carrying the COGS reversal
// and the refund split between receivable offset and cash paid out.
type ReturnPayload struct {
	ReturnInvoiceID   int64           `json:"return_invoice_id"`
	OriginalInvoiceID int64           `json:"original_invoice_id"`
	CustomerID        *int64          `json:"customer_id,omitempty"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	COGS              decimal.Decimal `json:"cogs"`
	RefundFromAR      decimal.Decimal `json:"refund_from_ar"`
	RefundFromCash    decimal.Decimal `json:"refund_from_cash"`
	Method            string          `json:"method"`
	Currency          string          `json:"currency"`
	ExchangeRate      decimal.Decimal `json:"exchange_rate"`
}

// PurchasePayload describes a committed purchase receipt.
type PurchasePayload struct {
	InvoiceID    int64           `json:"invoice_id"`
	SupplierID   int64           `json:"supplier_id"`
	Total        decimal.Decimal `json:"total"`
	Paid         decimal.Decimal `json:"paid"`
	Method       string          `json:"method"`
	Currency     string          `json:"currency"`
	ExchangeRate decimal.Decimal `json:"exchange_rate"`
}

// PaymentDirection distinguishes customer receipts from supplier payments.
type PaymentDirection string

const (
	PaymentReceivable PaymentDirection = "receivable"
	PaymentPayable    PaymentDirection = "payable"
)

// PaymentPayload describes a standalone settlement against an open invoice.
type PaymentPayload struct {
	InvoiceID      int64            `json:"invoice_id"`
	CounterpartyID int64            `json:"counterparty_id"`
	Direction      PaymentDirection `json:"direction"`
	Amount         decimal.Decimal  `json:"amount"`
	Method         string           `json:"method"`
	Currency       string           `json:"currency"`
	ExchangeRate   decimal.Decimal  `json:"exchange_rate"`
}

// ManualLine is one caller-supplied journal line.
type ManualLine struct {
	AccountID   int64           `json:"account_id"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Description string          `json:"description"`
}

// ManualJournalPayload carries a manual entry; the engine re-validates the
// balance invariant and account existence before posting.
type ManualJournalPayload struct {
	Memo  string       `json:"memo"`
	Lines []ManualLine `json:"lines"`
}

// NewEvent builds a pending journal event with a marshalled payload.
func NewEvent(companyID int64, eventType EventType, entityType string, entityID int64, payload any) (JournalEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return JournalEvent{}, fmt.Errorf("ledger: encode %s payload: %w", eventType, err)
	}
	return JournalEvent{
		CompanyID:  companyID,
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		SourceID:   uuid.New(),
		Status:     EventPending,
		Payload:    data,
	}, nil
}

func (e JournalEvent) decodePayload(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("ledger: decode %s payload of event %d: %w", e.EventType, e.ID, err)
	}
	return nil
}

// EventTxQueries appends journal events inside the caller's transaction so
// the event only exists when the operational change committed.
type EventTxQueries struct {
	tx pgx.Tx
}

// NewEventTxQueries wraps an open transaction.
func NewEventTxQueries(tx pgx.Tx) *EventTxQueries {
	return &EventTxQueries{tx: tx}
}

// InsertEvent appends one pending event and returns its id.
func (q *EventTxQueries) InsertEvent(ctx context.Context, ev JournalEvent) (int64, error) {
	var id int64
	err := q.tx.QueryRow(ctx, `INSERT INTO journal_events (company_id, event_type, entity_type, entity_id, source_id, status, payload)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		ev.CompanyID, ev.EventType, ev.EntityType, ev.EntityID, ev.SourceID, ev.Status, ev.Payload).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("ledger: insert %s event: %w", ev.EventType, err)
	}
	return id, nil
}
