package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates chart-of-accounts categories.
type AccountType string

const (
	AccountTypeAsset        AccountType = "ASSET"
	AccountTypeLiability    AccountType = "LIABILITY"
	AccountTypeEquity       AccountType = "EQUITY"
	AccountTypeRevenue      AccountType = "REVENUE"
	AccountTypeExpense      AccountType = "EXPENSE"
	AccountTypeCostOfGoods  AccountType = "COST_OF_GOODS"
)

// MappingType is a semantic ledger role resolved to a concrete account per company.
type MappingType string

const (
	MappingCash               MappingType = "cash"
	MappingBank               MappingType = "bank"
	MappingAccountsReceivable MappingType = "accounts_receivable"
	MappingAccountsPayable    MappingType = "accounts_payable"
	MappingSalesRevenue       MappingType = "sales_revenue"
	MappingInventory          MappingType = "inventory"
	MappingCOGS               MappingType = "cogs"
)

// Account models a chart of accounts node with an incrementally maintained
// running balance.
type Account struct {
	ID        int64
	CompanyID int64
	Code      string
	Name      string
	Type      AccountType
	ParentID  *int64
	Balance   decimal.Decimal
	IsSystem  bool
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FiscalPeriod is a bounded date range journal lines are tagged with.
// At most one period per company is open at a time.
type FiscalPeriod struct {
	ID        int64
	CompanyID int64
	Name      string
	StartDate time.Time
	EndDate   time.Time
	IsClosed  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Contains reports whether date falls inside the period window.
func (p FiscalPeriod) Contains(date time.Time) bool {
	d := date.Truncate(24 * time.Hour)
	return !d.Before(p.StartDate) && !d.After(p.EndDate)
}

// EventType enumerates the business facts the posting engine understands.
type EventType string

const (
	EventSale          EventType = "sale"
	EventReturn        EventType = "return"
	EventPurchase      EventType = "purchase"
	EventPayment       EventType = "payment"
	EventManualJournal EventType = "manual_journal"
)

// EventStatus tracks queue processing state.
type EventStatus string

const (
	EventPending   EventStatus = "pending"
	EventProcessed EventStatus = "processed"
	EventFailed    EventStatus = "failed"
)

// JournalEvent is one durable row in the append-only posting queue. It is
// created in the same transaction as the operational change it describes and
// consumed exactly once by the posting engine; the row doubles as the retry
// queue when posting fails.
type JournalEvent struct {
	ID          int64
	CompanyID   int64
	EventType   EventType
	EntityType  string
	EntityID    int64
	SourceID    uuid.UUID
	Status      EventStatus
	Payload     []byte
	ErrorNote   string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// JournalEntry is one balanced group of ledger lines derived from a single
// event (or supplied manually).
type JournalEntry struct {
	ID            int64
	CompanyID     int64
	EntryNumber   string
	EventID       *int64
	Memo          string
	EntryDate     time.Time
	FiscalPeriod  string
	ReferenceType string
	ReferenceID   int64
	IsPosted      bool
	IsAutomated   bool
	CreatedBy     int64
	CreatedAt     time.Time
	Lines         []JournalLine
}

// JournalLine carries a debit or a credit against one account. LineNumber
// extends the entry number with a per-line suffix such as JE-2025-000123-D1.
type JournalLine struct {
	ID          int64
	EntryID     int64
	CompanyID   int64
	LineNumber  string
	AccountID   int64
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	CreatedAt   time.Time
}

// LineInput is a journal line before numbering.
type LineInput struct {
	AccountID   int64
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

var (
	// ErrMissingMapping indicates no default account mapping exists for a required role.
	ErrMissingMapping = errors.New("ledger: account mapping not found")
	// ErrNoOpenPeriod indicates posting was attempted with no open fiscal period.
	ErrNoOpenPeriod = errors.New("ledger: no open fiscal period")
	// ErrPeriodClosed indicates the period cannot accept changes.
	ErrPeriodClosed = errors.New("ledger: fiscal period is closed")
	// ErrUnbalancedEntry indicates total debits do not equal total credits.
	ErrUnbalancedEntry = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates an entry with fewer than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrEventNotFound indicates a missing journal event.
	ErrEventNotFound = errors.New("ledger: journal event not found")
	// ErrAccountNotFound indicates a referenced account does not exist in the company.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrPeriodNotFound indicates a missing fiscal period.
	ErrPeriodNotFound = errors.New("ledger: fiscal period not found")
	// ErrSystemAccount indicates an attempt to modify a system account.
	ErrSystemAccount = errors.New("ledger: system account cannot be modified")
)

// balanceTolerance absorbs residual rounding when amounts originate from
// per-line rounding, per the 0.01 invariant.
var balanceTolerance = decimal.NewFromFloat(0.01)

// CheckBalanced verifies the Σdebit == Σcredit invariant over a line group.
func CheckBalanced(lines []LineInput) error {
	if len(lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit decimal.Decimal
	for _, l := range lines {
		if l.Debit.IsNegative() || l.Credit.IsNegative() {
			return ErrUnbalancedEntry
		}
		if l.Debit.IsPositive() && l.Credit.IsPositive() {
			return ErrUnbalancedEntry
		}
		debit = debit.Add(l.Debit)
		credit = credit.Add(l.Credit)
	}
	if debit.Sub(credit).Abs().GreaterThanOrEqual(balanceTolerance) {
		return ErrUnbalancedEntry
	}
	return nil
}
