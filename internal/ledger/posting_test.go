package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// Account ids used by the fake resolver.
const (
	acctCash int64 = iota + 1
	acctBank
	acctAR
	acctAP
	acctRevenue
	acctInventory
	acctCOGS
)

type fakeResolver struct {
	missing map[MappingType]bool
}

func (f *fakeResolver) Resolve(_ context.Context, _ int64, mt MappingType) (int64, error) {
	if f.missing[mt] {
		return 0, ErrMissingMapping
	}
	switch mt {
	case MappingCash:
		return acctCash, nil
	case MappingBank:
		return acctBank, nil
	case MappingAccountsReceivable:
		return acctAR, nil
	case MappingAccountsPayable:
		return acctAP, nil
	case MappingSalesRevenue:
		return acctRevenue, nil
	case MappingInventory:
		return acctInventory, nil
	case MappingCOGS:
		return acctCOGS, nil
	}
	return 0, ErrMissingMapping
}

type fakePeriods struct {
	period FiscalPeriod
	err    error
}

func (f *fakePeriods) ActivePeriod(context.Context, int64) (FiscalPeriod, error) {
	if f.err != nil {
		return FiscalPeriod{}, f.err
	}
	return f.period, nil
}

type memoryLedger struct {
	events   map[int64]*JournalEvent
	entries  []JournalEntry
	lines    []JournalLine
	balances map[int64]decimal.Decimal
	entrySeq int64
	nextID   int64
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{events: make(map[int64]*JournalEvent), balances: make(map[int64]decimal.Decimal)}
}

func (m *memoryLedger) addEvent(ev JournalEvent) int64 {
	m.nextID++
	ev.ID = m.nextID
	m.events[ev.ID] = &ev
	return ev.ID
}

type memoryLedgerTx struct {
	m *memoryLedger
}

func (m *memoryLedger) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	// Snapshot for rollback on error.
	entries := len(m.entries)
	lines := len(m.lines)
	balances := make(map[int64]decimal.Decimal, len(m.balances))
	for k, v := range m.balances {
		balances[k] = v
	}
	statuses := make(map[int64]EventStatus, len(m.events))
	for id, ev := range m.events {
		statuses[id] = ev.Status
	}
	seq := m.entrySeq
	if err := fn(ctx, &memoryLedgerTx{m: m}); err != nil {
		m.entries = m.entries[:entries]
		m.lines = m.lines[:lines]
		m.balances = balances
		m.entrySeq = seq
		for id, st := range statuses {
			m.events[id].Status = st
		}
		return err
	}
	return nil
}

func (m *memoryLedger) MarkEventFailed(_ context.Context, eventID int64, note string) error {
	if ev, ok := m.events[eventID]; ok && ev.Status != EventProcessed {
		ev.Status = EventFailed
		ev.ErrorNote = note
	}
	return nil
}

func (m *memoryLedger) ListUnprocessedEvents(_ context.Context, limit int) ([]JournalEvent, error) {
	var out []JournalEvent
	for id := int64(1); id <= m.nextID && len(out) < limit; id++ {
		if ev, ok := m.events[id]; ok && ev.Status != EventProcessed {
			out = append(out, *ev)
		}
	}
	return out, nil
}

func (m *memoryLedger) GetEvent(_ context.Context, companyID, eventID int64) (JournalEvent, error) {
	if ev, ok := m.events[eventID]; ok && ev.CompanyID == companyID {
		return *ev, nil
	}
	return JournalEvent{}, ErrEventNotFound
}

func (tx *memoryLedgerTx) GetEventForUpdate(_ context.Context, eventID int64) (JournalEvent, error) {
	if ev, ok := tx.m.events[eventID]; ok {
		return *ev, nil
	}
	return JournalEvent{}, ErrEventNotFound
}

func (tx *memoryLedgerTx) NextEntryNumber(_ context.Context, _ int64, _ int) (int64, error) {
	tx.m.entrySeq++
	return tx.m.entrySeq, nil
}

func (tx *memoryLedgerTx) InsertEntry(_ context.Context, e JournalEntry) (int64, error) {
	e.ID = int64(len(tx.m.entries) + 1)
	tx.m.entries = append(tx.m.entries, e)
	return e.ID, nil
}

func (tx *memoryLedgerTx) InsertLines(_ context.Context, entryID int64, lines []JournalLine) error {
	for i := range lines {
		lines[i].EntryID = entryID
	}
	tx.m.lines = append(tx.m.lines, lines...)
	return nil
}

func (tx *memoryLedgerTx) ApplyAccountBalance(_ context.Context, _ int64, accountID int64, delta decimal.Decimal) error {
	tx.m.balances[accountID] = tx.m.balances[accountID].Add(delta)
	return nil
}

func (tx *memoryLedgerTx) CheckAccounts(context.Context, int64, []int64) error {
	return nil
}

func (tx *memoryLedgerTx) MarkEventProcessed(_ context.Context, eventID int64, at time.Time) error {
	ev, ok := tx.m.events[eventID]
	if !ok {
		return ErrEventNotFound
	}
	ev.Status = EventProcessed
	ev.ProcessedAt = &at
	return nil
}

func openPeriod() *fakePeriods {
	return &fakePeriods{period: FiscalPeriod{
		ID: 1, CompanyID: 1, Name: "FY2025-Q3",
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC),
	}}
}

func newTestEngine(m *memoryLedger) *Engine {
	e := NewEngine(m, &fakeResolver{}, openPeriod(), nil)
	e.WithNow(func() time.Time { return time.Date(2025, 8, 15, 10, 0, 0, 0, time.UTC) })
	return e
}

func mustEvent(t *testing.T, companyID int64, et EventType, entityID int64, payload any) JournalEvent {
	t.Helper()
	ev, err := NewEvent(companyID, et, "invoice", entityID, payload)
	require.NoError(t, err)
	return ev
}

func linesForEntry(m *memoryLedger, entryIdx int) []JournalLine {
	entryID := m.entries[entryIdx].ID
	var out []JournalLine
	for _, l := range m.lines {
		if l.EntryID == entryID {
			out = append(out, l)
		}
	}
	return out
}

func sumDebitsCredits(lines []JournalLine) (decimal.Decimal, decimal.Decimal) {
	var d, c decimal.Decimal
	for _, l := range lines {
		d = d.Add(l.Debit)
		c = c.Add(l.Credit)
	}
	return d, c
}

func findLine(lines []JournalLine, accountID int64, debit bool) (JournalLine, bool) {
	for _, l := range lines {
		if l.AccountID == accountID && l.Debit.IsPositive() == debit {
			return l, true
		}
	}
	return JournalLine{}, false
}

func TestPostSaleFullyPaid(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)

	// Scenario A: 2 cartons at 10 each, paid in full with 20 cash; COGS 12.
	id := m.addEvent(mustEvent(t, 1, EventSale, 100, SalePayload{
		InvoiceID: 100, InvoiceNumber: "INV-2025-000001",
		Total: decimal.NewFromInt(20), Paid: decimal.NewFromInt(20),
		COGS: decimal.NewFromInt(12), Method: "cash", Currency: "USD",
		ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(context.Background(), id))

	require.Equal(t, EventProcessed, m.events[id].Status)
	require.Len(t, m.entries, 1)
	entry := m.entries[0]
	require.Equal(t, "JE-2025-000001", entry.EntryNumber)
	require.Equal(t, "FY2025-Q3", entry.FiscalPeriod)
	require.True(t, entry.IsAutomated)

	lines := linesForEntry(m, 0)
	require.Len(t, lines, 4)
	d, c := sumDebitsCredits(lines)
	require.True(t, d.Equal(c), "debit %s credit %s", d, c)

	cash, ok := findLine(lines, acctCash, true)
	require.True(t, ok)
	require.True(t, cash.Debit.Equal(decimal.NewFromInt(20)))
	require.Equal(t, "JE-2025-000001-D1", cash.LineNumber)

	rev, ok := findLine(lines, acctRevenue, false)
	require.True(t, ok)
	require.True(t, rev.Credit.Equal(decimal.NewFromInt(20)))

	_, ok = findLine(lines, acctCOGS, true)
	require.True(t, ok)
	_, ok = findLine(lines, acctInventory, false)
	require.True(t, ok)

	require.True(t, m.balances[acctCash].Equal(decimal.NewFromInt(20)))
	require.True(t, m.balances[acctRevenue].Equal(decimal.NewFromInt(-20)))
	require.True(t, m.balances[acctCOGS].Equal(decimal.NewFromInt(12)))
	require.True(t, m.balances[acctInventory].Equal(decimal.NewFromInt(-12)))
}

func TestPostSalePartiallyPaid(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)

	// Scenario B: total 20, customer pays 12.
	id := m.addEvent(mustEvent(t, 1, EventSale, 101, SalePayload{
		InvoiceID: 101, InvoiceNumber: "INV-2025-000002",
		Total: decimal.NewFromInt(20), Paid: decimal.NewFromInt(12),
		Method: "cash", Currency: "USD", ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(context.Background(), id))

	lines := linesForEntry(m, 0)
	require.Len(t, lines, 4)
	d, c := sumDebitsCredits(lines)
	require.True(t, d.Equal(c))

	arDebit, ok := findLine(lines, acctAR, true)
	require.True(t, ok)
	require.True(t, arDebit.Debit.Equal(decimal.NewFromInt(20)))

	arCredit, ok := findLine(lines, acctAR, false)
	require.True(t, ok)
	require.True(t, arCredit.Credit.Equal(decimal.NewFromInt(12)))

	cash, ok := findLine(lines, acctCash, true)
	require.True(t, ok)
	require.True(t, cash.Debit.Equal(decimal.NewFromInt(12)))

	// Net AR balance reflects the 8 still due.
	require.True(t, m.balances[acctAR].Equal(decimal.NewFromInt(8)))
}

func TestPostSaleUnpaid(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)

	id := m.addEvent(mustEvent(t, 1, EventSale, 102, SalePayload{
		InvoiceID: 102, InvoiceNumber: "INV-2025-000003",
		Total: decimal.NewFromInt(50), Method: "cash", Currency: "USD",
		ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(context.Background(), id))

	lines := linesForEntry(m, 0)
	require.Len(t, lines, 2)
	require.True(t, m.balances[acctAR].Equal(decimal.NewFromInt(50)))
	require.True(t, m.balances[acctRevenue].Equal(decimal.NewFromInt(-50)))
}

func TestPostSaleOverpaid(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)

	// Customer tenders 25 for a 20 sale; 5 change owed back.
	id := m.addEvent(mustEvent(t, 1, EventSale, 103, SalePayload{
		InvoiceID: 103, InvoiceNumber: "INV-2025-000004",
		Total: decimal.NewFromInt(20), Paid: decimal.NewFromInt(20),
		Change: decimal.NewFromInt(5), Method: "cash", Currency: "USD",
		ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(context.Background(), id))

	lines := linesForEntry(m, 0)
	d, c := sumDebitsCredits(lines)
	require.True(t, d.Equal(c))

	cash, ok := findLine(lines, acctCash, true)
	require.True(t, ok)
	require.True(t, cash.Debit.Equal(decimal.NewFromInt(25)))

	change, ok := findLine(lines, acctAP, false)
	require.True(t, ok)
	require.True(t, change.Credit.Equal(decimal.NewFromInt(5)))
}

func TestPostReturnSplitsRefund(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)

	// Scenario D: return value 10, 6 offsets outstanding AR, 4 paid out in cash;
	// COGS reversal 6.
	id := m.addEvent(mustEvent(t, 1, EventReturn, 200, ReturnPayload{
		ReturnInvoiceID: 200, OriginalInvoiceID: 100,
		Subtotal: decimal.NewFromInt(10), COGS: decimal.NewFromInt(6),
		RefundFromAR: decimal.NewFromInt(6), RefundFromCash: decimal.NewFromInt(4),
		Method: "cash", Currency: "USD", ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(context.Background(), id))

	lines := linesForEntry(m, 0)
	require.Len(t, lines, 5)
	d, c := sumDebitsCredits(lines)
	require.True(t, d.Equal(c))

	rev, ok := findLine(lines, acctRevenue, true)
	require.True(t, ok)
	require.True(t, rev.Debit.Equal(decimal.NewFromInt(10)))

	ar, ok := findLine(lines, acctAR, false)
	require.True(t, ok)
	require.True(t, ar.Credit.Equal(decimal.NewFromInt(6)))

	cash, ok := findLine(lines, acctCash, false)
	require.True(t, ok)
	require.True(t, cash.Credit.Equal(decimal.NewFromInt(4)))

	inv, ok := findLine(lines, acctInventory, true)
	require.True(t, ok)
	require.True(t, inv.Debit.Equal(decimal.NewFromInt(6)))
}

func TestSaleThenFullReturnNetsToZero(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)
	ctx := context.Background()

	saleID := m.addEvent(mustEvent(t, 1, EventSale, 100, SalePayload{
		InvoiceID: 100, InvoiceNumber: "INV-2025-000001",
		Total: decimal.NewFromInt(20), Paid: decimal.NewFromInt(20),
		COGS: decimal.NewFromInt(12), Method: "cash", Currency: "USD",
		ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(ctx, saleID))

	returnID := m.addEvent(mustEvent(t, 1, EventReturn, 200, ReturnPayload{
		ReturnInvoiceID: 200, OriginalInvoiceID: 100,
		Subtotal: decimal.NewFromInt(20), COGS: decimal.NewFromInt(12),
		RefundFromCash: decimal.NewFromInt(20),
		Method:         "cash", Currency: "USD", ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(ctx, returnID))

	for _, acct := range []int64{acctCash, acctRevenue, acctCOGS, acctInventory} {
		require.True(t, m.balances[acct].IsZero(), "account %d balance %s", acct, m.balances[acct])
	}
}

func TestPostPurchase(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)

	id := m.addEvent(mustEvent(t, 1, EventPurchase, 300, PurchasePayload{
		InvoiceID: 300, SupplierID: 5,
		Total: decimal.NewFromInt(100), Paid: decimal.NewFromInt(40),
		Method: "bank_transfer", Currency: "USD", ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(context.Background(), id))

	lines := linesForEntry(m, 0)
	require.Len(t, lines, 4)
	d, c := sumDebitsCredits(lines)
	require.True(t, d.Equal(c))

	require.True(t, m.balances[acctInventory].Equal(decimal.NewFromInt(100)))
	require.True(t, m.balances[acctAP].Equal(decimal.NewFromInt(-60)))
	require.True(t, m.balances[acctBank].Equal(decimal.NewFromInt(-40)))
}

func TestPostPayments(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)
	ctx := context.Background()

	recvID := m.addEvent(mustEvent(t, 1, EventPayment, 400, PaymentPayload{
		InvoiceID: 101, CounterpartyID: 9, Direction: PaymentReceivable,
		Amount: decimal.NewFromInt(8), Method: "cash", Currency: "USD",
		ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(ctx, recvID))
	require.True(t, m.balances[acctCash].Equal(decimal.NewFromInt(8)))
	require.True(t, m.balances[acctAR].Equal(decimal.NewFromInt(-8)))

	payID := m.addEvent(mustEvent(t, 1, EventPayment, 401, PaymentPayload{
		InvoiceID: 300, CounterpartyID: 5, Direction: PaymentPayable,
		Amount: decimal.NewFromInt(60), Method: "bank_transfer", Currency: "USD",
		ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(ctx, payID))
	require.True(t, m.balances[acctAP].Equal(decimal.NewFromInt(60)))
	require.True(t, m.balances[acctBank].Equal(decimal.NewFromInt(-60)))
}

func TestPostManualJournal(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)

	id := m.addEvent(mustEvent(t, 1, EventManualJournal, 0, ManualJournalPayload{
		Memo: "Depreciation",
		Lines: []ManualLine{
			{AccountID: acctCOGS, Debit: decimal.NewFromInt(30)},
			{AccountID: acctInventory, Credit: decimal.NewFromInt(30)},
		},
	}))
	require.NoError(t, engine.PostEvent(context.Background(), id))
	require.False(t, m.entries[0].IsAutomated)
	require.Equal(t, "Depreciation", m.entries[0].Memo)
}

func TestPostManualJournalRejectsUnbalanced(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)

	id := m.addEvent(mustEvent(t, 1, EventManualJournal, 0, ManualJournalPayload{
		Lines: []ManualLine{
			{AccountID: acctCOGS, Debit: decimal.NewFromInt(30)},
			{AccountID: acctInventory, Credit: decimal.NewFromInt(20)},
		},
	}))
	require.ErrorIs(t, engine.PostEvent(context.Background(), id), ErrUnbalancedEntry)
	require.Equal(t, EventFailed, m.events[id].Status)
	require.NotEmpty(t, m.events[id].ErrorNote)
	require.Empty(t, m.entries)
}

func TestPostEventIdempotent(t *testing.T) {
	m := newMemoryLedger()
	engine := newTestEngine(m)
	ctx := context.Background()

	id := m.addEvent(mustEvent(t, 1, EventSale, 100, SalePayload{
		InvoiceID: 100, InvoiceNumber: "INV-2025-000001",
		Total: decimal.NewFromInt(20), Paid: decimal.NewFromInt(20),
		Method: "cash", Currency: "USD", ExchangeRate: decimal.NewFromInt(1),
	}))
	require.NoError(t, engine.PostEvent(ctx, id))
	require.NoError(t, engine.PostEvent(ctx, id))

	require.Len(t, m.entries, 1)
	require.True(t, m.balances[acctCash].Equal(decimal.NewFromInt(20)))
}

func TestMissingMappingMarksEventFailed(t *testing.T) {
	m := newMemoryLedger()
	engine := NewEngine(m, &fakeResolver{missing: map[MappingType]bool{MappingSalesRevenue: true}}, openPeriod(), nil)
	engine.WithNow(func() time.Time { return time.Date(2025, 8, 15, 10, 0, 0, 0, time.UTC) })

	id := m.addEvent(mustEvent(t, 1, EventSale, 100, SalePayload{
		InvoiceID: 100, Total: decimal.NewFromInt(20), Paid: decimal.NewFromInt(20),
		Method: "cash", Currency: "USD", ExchangeRate: decimal.NewFromInt(1),
	}))
	err := engine.PostEvent(context.Background(), id)
	require.ErrorIs(t, err, ErrMissingMapping)
	require.Equal(t, EventFailed, m.events[id].Status)
	require.Empty(t, m.entries)
	require.Empty(t, m.balances)
}

func TestNoOpenPeriodFailsClosed(t *testing.T) {
	m := newMemoryLedger()
	engine := NewEngine(m, &fakeResolver{}, &fakePeriods{err: ErrNoOpenPeriod}, nil)

	id := m.addEvent(mustEvent(t, 1, EventSale, 100, SalePayload{
		InvoiceID: 100, Total: decimal.NewFromInt(20), Paid: decimal.NewFromInt(20),
		Method: "cash", Currency: "USD", ExchangeRate: decimal.NewFromInt(1),
	}))
	require.ErrorIs(t, engine.PostEvent(context.Background(), id), ErrNoOpenPeriod)
	require.Equal(t, EventFailed, m.events[id].Status)
}

func TestDrainUnprocessedRetriesFailed(t *testing.T) {
	m := newMemoryLedger()
	periods := &fakePeriods{err: ErrNoOpenPeriod}
	engine := NewEngine(m, &fakeResolver{}, periods, nil)
	engine.WithNow(func() time.Time { return time.Date(2025, 8, 15, 10, 0, 0, 0, time.UTC) })
	ctx := context.Background()

	id := m.addEvent(mustEvent(t, 1, EventSale, 100, SalePayload{
		InvoiceID: 100, Total: decimal.NewFromInt(20), Paid: decimal.NewFromInt(20),
		Method: "cash", Currency: "USD", ExchangeRate: decimal.NewFromInt(1),
	}))
	require.Error(t, engine.PostEvent(ctx, id))
	require.Equal(t, EventFailed, m.events[id].Status)

	// Operator opens a period; the drain picks the failed event back up.
	periods.err = nil
	periods.period = openPeriod().period
	posted, err := engine.DrainUnprocessed(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, 1, posted)
	require.Equal(t, EventProcessed, m.events[id].Status)
	require.Len(t, m.entries, 1)
}
