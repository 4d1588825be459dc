package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/sequence"
)

// RepositoryPort abstracts posting-engine persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	MarkEventFailed(ctx context.Context, eventID int64, note string) error
	ListUnprocessedEvents(ctx context.Context, limit int) ([]JournalEvent, error)
	GetEvent(ctx context.Context, companyID, eventID int64) (JournalEvent, error)
}

// TxRepository exposes transactional posting operations.
type TxRepository interface {
	GetEventForUpdate(ctx context.Context, eventID int64) (JournalEvent, error)
	NextEntryNumber(ctx context.Context, companyID int64, year int) (int64, error)
	InsertEntry(ctx context.Context, e JournalEntry) (int64, error)
	InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error
	ApplyAccountBalance(ctx context.Context, companyID, accountID int64, delta decimal.Decimal) error
	CheckAccounts(ctx context.Context, companyID int64, accountIDs []int64) error
	MarkEventProcessed(ctx context.Context, eventID int64, at time.Time) error
}

// AccountResolverPort resolves semantic roles to account ids.
type AccountResolverPort interface {
	Resolve(ctx context.Context, companyID int64, mt MappingType) (int64, error)
}

// PeriodPort resolves the open fiscal period for tagging.
type PeriodPort interface {
	ActivePeriod(ctx context.Context, companyID int64) (FiscalPeriod, error)
}

// Engine translates journal events into balanced double-entry groups. It is
// idempotent per event: a processed event is a no-op, and a failed posting
// leaves the event marked failed with a note instead of being dropped.
type Engine struct {
	repo     RepositoryPort
	resolver AccountResolverPort
	periods  PeriodPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine constructs the posting engine.
func NewEngine(repo RepositoryPort, resolver AccountResolverPort, periods PeriodPort, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{repo: repo, resolver: resolver, periods: periods, logger: logger, now: time.Now}
}

// WithNow overrides the clock for testing.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// PostEvent consumes one journal event. Posting runs in its own transaction;
// on failure the event is marked failed outside that transaction so the note
// survives the rollback.
func (e *Engine) PostEvent(ctx context.Context, eventID int64) error {
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ev, err := tx.GetEventForUpdate(ctx, eventID)
		if err != nil {
			return err
		}
		if ev.Status == EventProcessed {
			return nil
		}
		memo, refType, lines, err := e.buildLines(ctx, ev)
		if err != nil {
			return err
		}
		if err := CheckBalanced(lines); err != nil {
			return err
		}
		accountIDs := make([]int64, 0, len(lines))
		for _, l := range lines {
			accountIDs = append(accountIDs, l.AccountID)
		}
		if err := tx.CheckAccounts(ctx, ev.CompanyID, accountIDs); err != nil {
			return err
		}
		period, err := e.periods.ActivePeriod(ctx, ev.CompanyID)
		if err != nil {
			return err
		}
		now := e.now().UTC()
		entryDate := now
		if !period.Contains(entryDate) {
			return fmt.Errorf("%w: %s not in period %s", ErrNoOpenPeriod, entryDate.Format("2006-01-02"), period.Name)
		}
		seq, err := tx.NextEntryNumber(ctx, ev.CompanyID, now.Year())
		if err != nil {
			return err
		}
		number := sequence.FormatEntryNumber(now.Year(), seq)
		entry := JournalEntry{
			CompanyID:     ev.CompanyID,
			EntryNumber:   number,
			EventID:       &ev.ID,
			Memo:          memo,
			EntryDate:     entryDate,
			FiscalPeriod:  period.Name,
			ReferenceType: refType,
			ReferenceID:   ev.EntityID,
			IsPosted:      true,
			IsAutomated:   ev.EventType != EventManualJournal,
			CreatedAt:     now,
		}
		entryID, err := tx.InsertEntry(ctx, entry)
		if err != nil {
			return err
		}
		numbered := numberLines(ev.CompanyID, entryID, number, lines, now)
		if err := tx.InsertLines(ctx, entryID, numbered); err != nil {
			return err
		}
		for _, l := range numbered {
			if err := tx.ApplyAccountBalance(ctx, ev.CompanyID, l.AccountID, l.Debit.Sub(l.Credit)); err != nil {
				return err
			}
		}
		return tx.MarkEventProcessed(ctx, ev.ID, now)
	})
	if err != nil {
		if markErr := e.repo.MarkEventFailed(ctx, eventID, err.Error()); markErr != nil {
			e.logger.Error("mark journal event failed",
				slog.Int64("event_id", eventID), slog.Any("error", markErr))
		}
		e.logger.Warn("journal event posting failed",
			slog.Int64("event_id", eventID), slog.Any("error", err))
		return err
	}
	return nil
}

// DrainUnprocessed re-attempts pending and failed events and reports how many
// posted. Individual failures are logged and skipped so one poisoned event
// cannot stall the queue.
func (e *Engine) DrainUnprocessed(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	events, err := e.repo.ListUnprocessedEvents(ctx, limit)
	if err != nil {
		return 0, err
	}
	posted := 0
	for _, ev := range events {
		if err := e.PostEvent(ctx, ev.ID); err != nil {
			continue
		}
		posted++
	}
	return posted, nil
}

func (e *Engine) buildLines(ctx context.Context, ev JournalEvent) (memo, refType string, lines []LineInput, err error) {
	switch ev.EventType {
	case EventSale:
		var p SalePayload
		if err := ev.decodePayload(&p); err != nil {
			return "", "", nil, err
		}
		lines, err = e.buildSaleLines(ctx, ev.CompanyID, p)
		return fmt.Sprintf("Sale %s", p.InvoiceNumber), "invoice", lines, err
	case EventReturn:
		var p ReturnPayload
		if err := ev.decodePayload(&p); err != nil {
			return "", "", nil, err
		}
		lines, err = e.buildReturnLines(ctx, ev.CompanyID, p)
		return fmt.Sprintf("Return of invoice %d", p.OriginalInvoiceID), "invoice", lines, err
	case EventPurchase:
		var p PurchasePayload
		if err := ev.decodePayload(&p); err != nil {
			return "", "", nil, err
		}
		lines, err = e.buildPurchaseLines(ctx, ev.CompanyID, p)
		return fmt.Sprintf("Purchase invoice %d", p.InvoiceID), "invoice", lines, err
	case EventPayment:
		var p PaymentPayload
		if err := ev.decodePayload(&p); err != nil {
			return "", "", nil, err
		}
		lines, err = e.buildPaymentLines(ctx, ev.CompanyID, p)
		return fmt.Sprintf("Payment on invoice %d", p.InvoiceID), "voucher", lines, err
	case EventManualJournal:
		var p ManualJournalPayload
		if err := ev.decodePayload(&p); err != nil {
			return "", "", nil, err
		}
		lines = make([]LineInput, 0, len(p.Lines))
		for _, l := range p.Lines {
			lines = append(lines, LineInput{AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Description: l.Description})
		}
		return p.Memo, "manual", lines, nil
	default:
		return "", "", nil, fmt.Errorf("ledger: unknown event type %q", ev.EventType)
	}
}

// settlementAccount picks cash or bank depending on the payment method.
func (e *Engine) settlementAccount(ctx context.Context, companyID int64, method string) (int64, error) {
	if method == "bank_transfer" || method == "card" {
		return e.resolver.Resolve(ctx, companyID, MappingBank)
	}
	return e.resolver.Resolve(ctx, companyID, MappingCash)
}

func (e *Engine) buildSaleLines(ctx context.Context, companyID int64, p SalePayload) ([]LineInput, error) {
	revenue, err := e.resolver.Resolve(ctx, companyID, MappingSalesRevenue)
	if err != nil {
		return nil, err
	}
	var lines []LineInput
	tendered := p.Paid.Add(p.Change)
	switch {
	case p.Paid.GreaterThanOrEqual(p.Total) && p.Change.IsPositive():
		// Overpayment: the change owed back is a payable until refunded.
		cash, err := e.settlementAccount(ctx, companyID, p.Method)
		if err != nil {
			return nil, err
		}
		payable, err := e.resolver.Resolve(ctx, companyID, MappingAccountsPayable)
		if err != nil {
			return nil, err
		}
		lines = append(lines,
			LineInput{AccountID: cash, Debit: tendered, Description: "Cash received"},
			LineInput{AccountID: revenue, Credit: p.Total, Description: "Sales revenue"},
			LineInput{AccountID: payable, Credit: p.Change, Description: "Change owed to customer"},
		)
	case p.Paid.GreaterThanOrEqual(p.Total):
		cash, err := e.settlementAccount(ctx, companyID, p.Method)
		if err != nil {
			return nil, err
		}
		lines = append(lines,
			LineInput{AccountID: cash, Debit: p.Total, Description: "Cash received"},
			LineInput{AccountID: revenue, Credit: p.Total, Description: "Sales revenue"},
		)
	default:
		// Partial or unpaid: the full invoice value goes through AR, and any
		// amount actually received settles part of it immediately.
		ar, err := e.resolver.Resolve(ctx, companyID, MappingAccountsReceivable)
		if err != nil {
			return nil, err
		}
		lines = append(lines,
			LineInput{AccountID: ar, Debit: p.Total, Description: "Accounts receivable"},
			LineInput{AccountID: revenue, Credit: p.Total, Description: "Sales revenue"},
		)
		if p.Paid.IsPositive() {
			cash, err := e.settlementAccount(ctx, companyID, p.Method)
			if err != nil {
				return nil, err
			}
			lines = append(lines,
				LineInput{AccountID: cash, Debit: p.Paid, Description: "Partial settlement"},
				LineInput{AccountID: ar, Credit: p.Paid, Description: "Partial settlement"},
			)
		}
	}
	if p.COGS.IsPositive() {
		cogsLines, err := e.cogsPair(ctx, companyID, p.COGS, false)
		if err != nil {
			return nil, err
		}
		lines = append(lines, cogsLines...)
	}
	return lines, nil
}

func (e *Engine) buildReturnLines(ctx context.Context, companyID int64, p ReturnPayload) ([]LineInput, error) {
	revenue, err := e.resolver.Resolve(ctx, companyID, MappingSalesRevenue)
	if err != nil {
		return nil, err
	}
	lines := []LineInput{
		{AccountID: revenue, Debit: p.Subtotal, Description: "Revenue reversal"},
	}
	if p.RefundFromAR.IsPositive() {
		ar, err := e.resolver.Resolve(ctx, companyID, MappingAccountsReceivable)
		if err != nil {
			return nil, err
		}
		lines = append(lines, LineInput{AccountID: ar, Credit: p.RefundFromAR, Description: "Receivable offset"})
	}
	if p.RefundFromCash.IsPositive() {
		cash, err := e.settlementAccount(ctx, companyID, p.Method)
		if err != nil {
			return nil, err
		}
		lines = append(lines, LineInput{AccountID: cash, Credit: p.RefundFromCash, Description: "Cash refund"})
	}
	if p.COGS.IsPositive() {
		cogsLines, err := e.cogsPair(ctx, companyID, p.COGS, true)
		if err != nil {
			return nil, err
		}
		lines = append(lines, cogsLines...)
	}
	return lines, nil
}

func (e *Engine) buildPurchaseLines(ctx context.Context, companyID int64, p PurchasePayload) ([]LineInput, error) {
	inv, err := e.resolver.Resolve(ctx, companyID, MappingInventory)
	if err != nil {
		return nil, err
	}
	payable, err := e.resolver.Resolve(ctx, companyID, MappingAccountsPayable)
	if err != nil {
		return nil, err
	}
	lines := []LineInput{
		{AccountID: inv, Debit: p.Total, Description: "Inventory received"},
		{AccountID: payable, Credit: p.Total, Description: "Accounts payable"},
	}
	if p.Paid.IsPositive() {
		cash, err := e.settlementAccount(ctx, companyID, p.Method)
		if err != nil {
			return nil, err
		}
		lines = append(lines,
			LineInput{AccountID: payable, Debit: p.Paid, Description: "Immediate payment"},
			LineInput{AccountID: cash, Credit: p.Paid, Description: "Immediate payment"},
		)
	}
	return lines, nil
}

func (e *Engine) buildPaymentLines(ctx context.Context, companyID int64, p PaymentPayload) ([]LineInput, error) {
	cash, err := e.settlementAccount(ctx, companyID, p.Method)
	if err != nil {
		return nil, err
	}
	switch p.Direction {
	case PaymentReceivable:
		ar, err := e.resolver.Resolve(ctx, companyID, MappingAccountsReceivable)
		if err != nil {
			return nil, err
		}
		return []LineInput{
			{AccountID: cash, Debit: p.Amount, Description: "Customer payment received"},
			{AccountID: ar, Credit: p.Amount, Description: "Receivable settled"},
		}, nil
	case PaymentPayable:
		payable, err := e.resolver.Resolve(ctx, companyID, MappingAccountsPayable)
		if err != nil {
			return nil, err
		}
		return []LineInput{
			{AccountID: payable, Debit: p.Amount, Description: "Payable settled"},
			{AccountID: cash, Credit: p.Amount, Description: "Supplier payment sent"},
		}, nil
	default:
		return nil, fmt.Errorf("ledger: unknown payment direction %q", p.Direction)
	}
}

func (e *Engine) cogsPair(ctx context.Context, companyID int64, amount decimal.Decimal, reversal bool) ([]LineInput, error) {
	cogs, err := e.resolver.Resolve(ctx, companyID, MappingCOGS)
	if err != nil {
		return nil, err
	}
	inv, err := e.resolver.Resolve(ctx, companyID, MappingInventory)
	if err != nil {
		return nil, err
	}
	if reversal {
		return []LineInput{
			{AccountID: inv, Debit: amount, Description: "Inventory restored"},
			{AccountID: cogs, Credit: amount, Description: "COGS reversal"},
		}, nil
	}
	return []LineInput{
		{AccountID: cogs, Debit: amount, Description: "Cost of goods sold"},
		{AccountID: inv, Credit: amount, Description: "Inventory relieved"},
	}, nil
}

func numberLines(companyID, entryID int64, entryNumber string, lines []LineInput, ts time.Time) []JournalLine {
	out := make([]JournalLine, 0, len(lines))
	debits, credits := 0, 0
	for _, l := range lines {
		isDebit := l.Debit.IsPositive()
		var ordinal int
		if isDebit {
			debits++
			ordinal = debits
		} else {
			credits++
			ordinal = credits
		}
		out = append(out, JournalLine{
			EntryID:     entryID,
			CompanyID:   companyID,
			LineNumber:  sequence.FormatLineNumber(entryNumber, isDebit, ordinal),
			AccountID:   l.AccountID,
			Description: l.Description,
			Debit:       l.Debit,
			Credit:      l.Credit,
			CreatedAt:   ts,
		})
	}
	return out
}

// RetryEvent re-posts one event on operator request, refusing events that are
// already processed.
func (e *Engine) RetryEvent(ctx context.Context, companyID, eventID int64) error {
	ev, err := e.repo.GetEvent(ctx, companyID, eventID)
	if err != nil {
		return err
	}
	if ev.Status == EventProcessed {
		return nil
	}
	return e.PostEvent(ctx, eventID)
}
