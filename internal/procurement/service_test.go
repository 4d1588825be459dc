package procurement

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind/internal/catalog"
	"github.com/tradewind-erp/tradewind/internal/inventory"
	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/sequence"
	"github.com/tradewind-erp/tradewind/internal/shared"
	"github.com/tradewind-erp/tradewind/internal/treasury"
	_ "github.com/tradewind-erp/tradewind/testing"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

type fakeCatalog struct {
	products map[int64]catalog.Product
}

func (f *fakeCatalog) GetProducts(_ context.Context, _ int64, ids []int64) (map[int64]catalog.Product, error) {
	out := make(map[int64]catalog.Product, len(ids))
	for _, id := range ids {
		p, ok := f.products[id]
		if !ok {
			return nil, fmt.Errorf("%w: id %d", catalog.ErrProductNotFound, id)
		}
		out[id] = p
	}
	return out, nil
}

type capturePoster struct {
	mu     sync.Mutex
	posted []int64
}

func (p *capturePoster) PostEvent(_ context.Context, eventID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.posted = append(p.posted, eventID)
	return nil
}

type procureState struct {
	inventory map[inventory.Key]inventory.Item
	movements []inventory.Movement
	purchases map[int64]Purchase
	items     map[int64][]PurchaseItem
	suppliers map[int64]Supplier
	vouchers  []treasury.Voucher
	events    map[int64]ledger.JournalEvent
	counters  map[string]int64
	nextID    int64
}

func (s *procureState) clone() *procureState {
	c := &procureState{
		inventory: make(map[inventory.Key]inventory.Item, len(s.inventory)),
		movements: append([]inventory.Movement(nil), s.movements...),
		purchases: make(map[int64]Purchase, len(s.purchases)),
		items:     make(map[int64][]PurchaseItem, len(s.items)),
		suppliers: make(map[int64]Supplier, len(s.suppliers)),
		vouchers:  append([]treasury.Voucher(nil), s.vouchers...),
		events:    make(map[int64]ledger.JournalEvent, len(s.events)),
		counters:  make(map[string]int64, len(s.counters)),
		nextID:    s.nextID,
	}
	for k, v := range s.inventory {
		c.inventory[k] = v
	}
	for k, v := range s.purchases {
		c.purchases[k] = v
	}
	for k, v := range s.items {
		c.items[k] = append([]PurchaseItem(nil), v...)
	}
	for k, v := range s.suppliers {
		c.suppliers[k] = v
	}
	for k, v := range s.events {
		c.events[k] = v
	}
	for k, v := range s.counters {
		c.counters[k] = v
	}
	return c
}

type memoryRepo struct {
	mu    sync.Mutex
	state *procureState
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &procureState{
		inventory: make(map[inventory.Key]inventory.Item),
		purchases: make(map[int64]Purchase),
		items:     make(map[int64][]PurchaseItem),
		suppliers: make(map[int64]Supplier),
		events:    make(map[int64]ledger.JournalEvent),
		counters:  make(map[string]int64),
	}}
}

func (m *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	working := m.state.clone()
	if err := fn(ctx, &memoryTx{state: working}); err != nil {
		return err
	}
	m.state = working
	return nil
}

func (m *memoryRepo) GetPurchase(_ context.Context, companyID, purchaseID int64) (Purchase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.state.purchases[purchaseID]
	if !ok || p.CompanyID != companyID {
		return Purchase{}, ErrPurchaseNotFound
	}
	return p, nil
}

func (m *memoryRepo) GetPurchaseItems(_ context.Context, purchaseID int64) ([]PurchaseItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PurchaseItem(nil), m.state.items[purchaseID]...), nil
}

type memoryTx struct {
	state *procureState
}

func (t *memoryTx) LockInventory(_ context.Context, companyID int64, keys []inventory.Key) (map[inventory.Key]inventory.Item, error) {
	out := make(map[inventory.Key]inventory.Item, len(keys))
	for _, k := range keys {
		if it, ok := t.state.inventory[k]; ok && it.CompanyID == companyID {
			out[k] = it
		}
	}
	return out, nil
}

func (t *memoryTx) SaveInventory(_ context.Context, item inventory.Item) (inventory.Item, error) {
	t.state.inventory[item.Key()] = item
	return item, nil
}

func (t *memoryTx) InsertMovement(_ context.Context, m inventory.Movement) error {
	t.state.movements = append(t.state.movements, m)
	return nil
}

func (t *memoryTx) NextPurchaseNumber(_ context.Context, companyID int64, year int) (string, error) {
	key := fmt.Sprintf("%d/%s/%d", companyID, sequence.KindPurchaseInvoice, year)
	t.state.counters[key]++
	return sequence.FormatInvoiceNumber("PUR", year, t.state.counters[key]), nil
}

func (t *memoryTx) InsertPurchase(_ context.Context, p Purchase) (int64, error) {
	t.state.nextID++
	p.ID = t.state.nextID
	t.state.purchases[p.ID] = p
	return p.ID, nil
}

func (t *memoryTx) InsertItems(_ context.Context, purchaseID int64, items []PurchaseItem) error {
	for i := range items {
		items[i].PurchaseID = purchaseID
	}
	t.state.items[purchaseID] = append(t.state.items[purchaseID], items...)
	return nil
}

func (t *memoryTx) GetPurchaseForUpdate(_ context.Context, companyID, purchaseID int64) (Purchase, error) {
	p, ok := t.state.purchases[purchaseID]
	if !ok || p.CompanyID != companyID {
		return Purchase{}, ErrPurchaseNotFound
	}
	return p, nil
}

func (t *memoryTx) UpdatePurchasePayment(_ context.Context, purchaseID int64, paid, due decimal.Decimal, status PaymentStatus) error {
	p, ok := t.state.purchases[purchaseID]
	if !ok {
		return ErrPurchaseNotFound
	}
	p.AmountPaid = paid
	p.AmountDue = due
	p.Status = status
	t.state.purchases[purchaseID] = p
	return nil
}

func (t *memoryTx) GetSupplierForUpdate(_ context.Context, companyID, supplierID int64) (Supplier, error) {
	s, ok := t.state.suppliers[supplierID]
	if !ok || s.CompanyID != companyID {
		return Supplier{}, ErrSupplierNotFound
	}
	return s, nil
}

func (t *memoryTx) ApplySupplierBalances(_ context.Context, supplierID int64, balanceDelta, outstandingDelta decimal.Decimal) error {
	s, ok := t.state.suppliers[supplierID]
	if !ok {
		return ErrSupplierNotFound
	}
	s.Balance = s.Balance.Add(balanceDelta)
	s.OutstandingBalance = s.OutstandingBalance.Add(outstandingDelta)
	t.state.suppliers[supplierID] = s
	return nil
}

func (t *memoryTx) InsertVoucher(_ context.Context, v treasury.Voucher, at time.Time) (treasury.Voucher, error) {
	if err := v.Validate(); err != nil {
		return treasury.Voucher{}, err
	}
	t.state.nextID++
	v.ID = t.state.nextID
	v.Status = treasury.VoucherPosted
	v.CreatedAt = at
	t.state.vouchers = append(t.state.vouchers, v)
	return v, nil
}

func (t *memoryTx) AppendEvent(_ context.Context, ev ledger.JournalEvent) (int64, error) {
	t.state.nextID++
	ev.ID = t.state.nextID
	t.state.events[ev.ID] = ev
	return ev.ID, nil
}

func testProduct() catalog.Product {
	return catalog.Product{
		ID:        1,
		CompanyID: 1,
		SKU:       "CHOC-001",
		Name:      "Chocolate bar",
		CostPrice: decimal.NewFromFloat(0.5),
		SellingUnits: []catalog.SellingUnit{
			{ID: "piece", Name: "حبة", NameEn: "piece", UnitsPerParent: dec(1), Price: decimal.NewFromFloat(0.9), IsBase: true},
			{ID: "carton", Name: "كرتون", NameEn: "carton", UnitsPerParent: dec(12), Price: dec(10)},
		},
		IsActive: true,
	}
}

type fixture struct {
	repo    *memoryRepo
	poster  *capturePoster
	service *Service
}

func newFixture(t *testing.T, stock int64) *fixture {
	t.Helper()
	repo := newMemoryRepo()
	if stock > 0 {
		repo.state.inventory[inventory.Key{ProductID: 1, WarehouseID: 1}] = inventory.Item{
			ID: 1, CompanyID: 1, ProductID: 1, WarehouseID: 1,
			StockQty: dec(stock), AvailableQty: dec(stock),
			ReorderLevel: dec(10), Status: inventory.StatusAvailable,
		}
	}
	repo.state.suppliers[4] = Supplier{ID: 4, CompanyID: 1, Name: "Sweets wholesale", IsActive: true}
	poster := &capturePoster{}
	svc := NewService(repo, &fakeCatalog{products: map[int64]catalog.Product{1: testProduct()}}, poster, nil, nil, "USD")
	svc.WithNow(func() time.Time { return time.Date(2025, 8, 15, 10, 0, 0, 0, time.UTC) })
	return &fixture{repo: repo, poster: poster, service: svc}
}

func rc() shared.RequestContext {
	return shared.RequestContext{CompanyID: 1, UserID: 3, Role: "manager"}
}

func cartonPurchase(qty int64, unitCost, paid decimal.Decimal) PurchaseInput {
	return PurchaseInput{
		SupplierID:  4,
		WarehouseID: 1,
		Lines:       []PurchaseLine{{ProductID: 1, UnitID: "carton", Quantity: dec(qty), UnitCost: unitCost}},
		Paid:        paid,
		Method:      "cash",
	}
}

func TestProcessPurchaseFullyPaid(t *testing.T) {
	f := newFixture(t, 100)

	// 2 cartons at cost 6 each, 12 total, paid in full.
	result, err := f.service.ProcessPurchase(context.Background(), rc(), cartonPurchase(2, dec(6), dec(12)))
	require.NoError(t, err)
	require.Equal(t, StatusPaid, result.Status)
	require.Equal(t, "PUR-2025-000001", result.InvoiceNumber)
	require.True(t, result.Total.Equal(dec(12)))
	require.True(t, result.Due.IsZero())

	// 24 base units arrived on the shelf.
	item := f.repo.state.inventory[inventory.Key{ProductID: 1, WarehouseID: 1}]
	require.True(t, item.StockQty.Equal(dec(124)))

	require.Len(t, f.repo.state.movements, 1)
	mv := f.repo.state.movements[0]
	require.Equal(t, inventory.MovementIncomingPurchase, mv.Type)
	require.True(t, mv.BeforeQty.Equal(dec(100)))
	require.True(t, mv.AfterQty.Equal(dec(124)))

	// The full payment left as a payment voucher.
	require.Len(t, f.repo.state.vouchers, 1)
	v := f.repo.state.vouchers[0]
	require.Equal(t, treasury.VoucherPayment, v.Type)
	require.True(t, v.Amount.Equal(dec(12)))
	require.NotNil(t, v.SupplierID)
	require.Equal(t, int64(4), *v.SupplierID)

	// Supplier owes nothing, one purchase event posted inline.
	require.True(t, f.repo.state.suppliers[4].OutstandingBalance.IsZero())
	require.Len(t, f.repo.state.events, 1)
	require.Len(t, f.poster.posted, 1)

	items := f.repo.state.items[result.PurchaseID]
	require.Len(t, items, 1)
	require.True(t, items[0].BaseQuantity.Equal(dec(24)))
	require.True(t, items[0].BaseUnitCost.Equal(decimal.NewFromFloat(0.5)))
}

func TestProcessPurchasePartiallyPaid(t *testing.T) {
	f := newFixture(t, 100)

	result, err := f.service.ProcessPurchase(context.Background(), rc(), cartonPurchase(2, dec(6), dec(5)))
	require.NoError(t, err)
	require.Equal(t, StatusPartial, result.Status)
	require.True(t, result.Due.Equal(dec(7)))

	// The unpaid 7 sits on the supplier's outstanding balance.
	require.True(t, f.repo.state.suppliers[4].OutstandingBalance.Equal(dec(7)))
	require.Len(t, f.repo.state.vouchers, 1)
	require.True(t, f.repo.state.vouchers[0].Amount.Equal(dec(5)))
}

func TestProcessPurchaseUnpaid(t *testing.T) {
	f := newFixture(t, 100)

	result, err := f.service.ProcessPurchase(context.Background(), rc(), cartonPurchase(2, dec(6), dec(0)))
	require.NoError(t, err)
	require.Equal(t, StatusPending, result.Status)
	require.True(t, result.Due.Equal(dec(12)))

	// No money moved, so no voucher.
	require.Empty(t, f.repo.state.vouchers)
	require.True(t, f.repo.state.suppliers[4].OutstandingBalance.Equal(dec(12)))
}

func TestProcessPurchaseCreatesStockRow(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.service.ProcessPurchase(context.Background(), rc(), cartonPurchase(1, dec(6), dec(6)))
	require.NoError(t, err)

	item, ok := f.repo.state.inventory[inventory.Key{ProductID: 1, WarehouseID: 1}]
	require.True(t, ok)
	require.True(t, item.StockQty.Equal(dec(12)))
}

func TestProcessPurchaseOverpaymentRejected(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.service.ProcessPurchase(context.Background(), rc(), cartonPurchase(2, dec(6), dec(13)))
	require.ErrorIs(t, err, ErrOverpayment)

	// Nothing persisted.
	item := f.repo.state.inventory[inventory.Key{ProductID: 1, WarehouseID: 1}]
	require.True(t, item.StockQty.Equal(dec(100)))
	require.Empty(t, f.repo.state.purchases)
	require.Empty(t, f.repo.state.vouchers)
	require.Empty(t, f.repo.state.events)
}

func TestProcessPurchaseRejectsBadInput(t *testing.T) {
	f := newFixture(t, 100)

	_, err := f.service.ProcessPurchase(context.Background(), rc(), PurchaseInput{SupplierID: 4, WarehouseID: 1, Method: "cash"})
	require.ErrorIs(t, err, ErrEmptyOrder)

	input := cartonPurchase(2, dec(0), dec(0))
	_, err = f.service.ProcessPurchase(context.Background(), rc(), input)
	require.ErrorIs(t, err, ErrInvalidCost)

	input = cartonPurchase(2, dec(6), dec(0))
	input.Lines[0].Quantity = dec(-1)
	_, err = f.service.ProcessPurchase(context.Background(), rc(), input)
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)

	input = cartonPurchase(2, dec(6), dec(0))
	input.Lines[0].UnitID = "pallet"
	_, err = f.service.ProcessPurchase(context.Background(), rc(), input)
	require.ErrorIs(t, err, catalog.ErrUnitNotFound)
}

func TestProcessPurchaseUnknownSupplier(t *testing.T) {
	f := newFixture(t, 100)

	input := cartonPurchase(2, dec(6), dec(0))
	input.SupplierID = 99
	_, err := f.service.ProcessPurchase(context.Background(), rc(), input)
	require.ErrorIs(t, err, ErrSupplierNotFound)

	item := f.repo.state.inventory[inventory.Key{ProductID: 1, WarehouseID: 1}]
	require.True(t, item.StockQty.Equal(dec(100)))
	require.Empty(t, f.repo.state.purchases)
}

func TestRecordSupplierPayment(t *testing.T) {
	f := newFixture(t, 100)

	result, err := f.service.ProcessPurchase(context.Background(), rc(), cartonPurchase(2, dec(6), dec(5)))
	require.NoError(t, err)
	require.True(t, f.repo.state.suppliers[4].OutstandingBalance.Equal(dec(7)))

	updated, err := f.service.RecordSupplierPayment(context.Background(), rc(), result.PurchaseID, PaymentInput{
		Amount: dec(7), Method: "cash",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, updated.Status)
	require.True(t, updated.AmountDue.IsZero())

	// Outstanding balance clears, a second payment voucher leaves.
	require.True(t, f.repo.state.suppliers[4].OutstandingBalance.IsZero())
	require.Len(t, f.repo.state.vouchers, 2)
	require.Equal(t, treasury.VoucherPayment, f.repo.state.vouchers[1].Type)
	require.True(t, f.repo.state.vouchers[1].Amount.Equal(dec(7)))

	// Purchase event plus payable payment event, both posted inline.
	var paymentEvents int
	for _, ev := range f.repo.state.events {
		if ev.EventType == ledger.EventPayment {
			paymentEvents++
		}
	}
	require.Equal(t, 1, paymentEvents)
	require.Len(t, f.poster.posted, 2)
}

func TestRecordSupplierPaymentOverpaymentRejected(t *testing.T) {
	f := newFixture(t, 100)

	result, err := f.service.ProcessPurchase(context.Background(), rc(), cartonPurchase(2, dec(6), dec(5)))
	require.NoError(t, err)

	_, err = f.service.RecordSupplierPayment(context.Background(), rc(), result.PurchaseID, PaymentInput{Amount: dec(8), Method: "cash"})
	require.ErrorIs(t, err, ErrOverpayment)

	_, err = f.service.RecordSupplierPayment(context.Background(), rc(), result.PurchaseID, PaymentInput{Amount: dec(0), Method: "cash"})
	require.ErrorIs(t, err, ErrInvalidPayment)
}

func TestProcessPurchaseForeignCurrency(t *testing.T) {
	f := newFixture(t, 100)

	// 2 cartons at 3 EUR each, rate 2: 12 in base currency, fully paid.
	input := cartonPurchase(2, dec(3), dec(6))
	input.Currency = "EUR"
	input.ExchangeRate = dec(2)
	result, err := f.service.ProcessPurchase(context.Background(), rc(), input)
	require.NoError(t, err)
	require.Equal(t, StatusPaid, result.Status)
	require.True(t, result.Total.Equal(dec(12)))
	require.True(t, result.Paid.Equal(dec(12)))

	p := f.repo.state.purchases[result.PurchaseID]
	require.Equal(t, "EUR", p.Currency)
	require.True(t, p.ForeignTendered.Equal(dec(6)))

	// Missing rate for a foreign invoice is rejected.
	input.ExchangeRate = decimal.Zero
	_, err = f.service.ProcessPurchase(context.Background(), rc(), input)
	require.Error(t, err)
}

func TestGetPurchase(t *testing.T) {
	f := newFixture(t, 100)

	result, err := f.service.ProcessPurchase(context.Background(), rc(), cartonPurchase(2, dec(6), dec(12)))
	require.NoError(t, err)

	p, items, err := f.service.GetPurchase(context.Background(), rc(), result.PurchaseID)
	require.NoError(t, err)
	require.Equal(t, result.InvoiceNumber, p.InvoiceNumber)
	require.Len(t, items, 1)

	_, _, err = f.service.GetPurchase(context.Background(), rc(), 999)
	require.ErrorIs(t, err, ErrPurchaseNotFound)
}
