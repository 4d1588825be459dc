package inventory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/tradewind-erp/tradewind/internal/shared"
)

type memoryRepo struct {
	items     map[Key]Item
	movements []Movement
	nextID    int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{items: make(map[Key]Item)}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) GetItem(_ context.Context, _ int64, key Key) (Item, error) {
	if it, ok := r.items[key]; ok {
		return it, nil
	}
	return Item{}, ErrItemNotFound
}

func (r *memoryRepo) ListMovements(_ context.Context, _ int64, key Key, limit int) ([]Movement, error) {
	var out []Movement
	for _, m := range r.movements {
		if (Key{ProductID: m.ProductID, WarehouseID: m.WarehouseID}) == key {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, companyID int64, key Key) (Item, error) {
	return tx.repo.GetItem(ctx, companyID, key)
}

func (tx *memoryTx) GetForUpdateBatch(ctx context.Context, companyID int64, keys []Key) (map[Key]Item, error) {
	out := make(map[Key]Item)
	for _, k := range keys {
		if it, ok := tx.repo.items[k]; ok {
			out[k] = it
		}
	}
	return out, nil
}

func (tx *memoryTx) UpsertItem(_ context.Context, item Item) (Item, error) {
	if item.ID == 0 {
		tx.repo.nextID++
		item.ID = tx.repo.nextID
	}
	tx.repo.items[item.Key()] = item
	return item, nil
}

func (tx *memoryTx) InsertMovement(_ context.Context, m Movement) error {
	tx.repo.movements = append(tx.repo.movements, m)
	return nil
}

var testRC = shared.RequestContext{CompanyID: 1, UserID: 7, Role: "manager"}

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestDeriveStatus(t *testing.T) {
	require.Equal(t, StatusOutOfStock, DeriveStatus(d(0), d(5)))
	require.Equal(t, StatusOutOfStock, DeriveStatus(d(-1), d(5)))
	require.Equal(t, StatusLow, DeriveStatus(d(5), d(5)))
	require.Equal(t, StatusLow, DeriveStatus(d(3), d(5)))
	require.Equal(t, StatusAvailable, DeriveStatus(d(6), d(5)))
}

func TestAdjustInboundAndOutbound(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	item, err := svc.Adjust(ctx, testRC, AdjustmentInput{ProductID: 1, WarehouseID: 1, Qty: d(50), Note: "opening stock"})
	require.NoError(t, err)
	require.True(t, item.StockQty.Equal(d(50)))
	require.True(t, item.AvailableQty.Equal(d(50)))
	require.Equal(t, StatusAvailable, item.Status)

	item, err = svc.Adjust(ctx, testRC, AdjustmentInput{ProductID: 1, WarehouseID: 1, Qty: d(-50), Note: "write-off"})
	require.NoError(t, err)
	require.True(t, item.StockQty.IsZero())
	require.Equal(t, StatusOutOfStock, item.Status)

	require.Len(t, repo.movements, 2)
	require.True(t, repo.movements[1].BeforeQty.Equal(d(50)))
	require.True(t, repo.movements[1].AfterQty.IsZero())
}

func TestAdjustRejectsOverdraw(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()

	_, err := svc.Adjust(ctx, testRC, AdjustmentInput{ProductID: 1, WarehouseID: 1, Qty: d(10)})
	require.NoError(t, err)

	_, err = svc.Adjust(ctx, testRC, AdjustmentInput{ProductID: 1, WarehouseID: 1, Qty: d(-11)})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Nothing was written for the failed adjustment.
	item, err := svc.GetItem(ctx, testRC, Key{ProductID: 1, WarehouseID: 1})
	require.NoError(t, err)
	require.True(t, item.StockQty.Equal(d(10)))
	require.Len(t, repo.movements, 1)
}

func TestAdjustAllowNegativeStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{AllowNegativeStock: true})

	item, err := svc.Adjust(context.Background(), testRC, AdjustmentInput{ProductID: 1, WarehouseID: 1, Qty: d(-3)})
	require.NoError(t, err)
	require.True(t, item.StockQty.Equal(d(-3)))
	require.Equal(t, StatusOutOfStock, item.Status)
}

func TestReserveAndRelease(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, ServiceConfig{})
	ctx := context.Background()
	key := Key{ProductID: 2, WarehouseID: 1}

	_, err := svc.Adjust(ctx, testRC, AdjustmentInput{ProductID: 2, WarehouseID: 1, Qty: d(20)})
	require.NoError(t, err)

	item, err := svc.ReserveStock(ctx, testRC, key, d(15), "sales_order", 99)
	require.NoError(t, err)
	require.True(t, item.AvailableQty.Equal(d(5)))
	require.True(t, item.ReservedQty.Equal(d(15)))
	require.True(t, item.StockQty.Equal(d(20)))

	_, err = svc.ReserveStock(ctx, testRC, key, d(6), "sales_order", 100)
	require.ErrorIs(t, err, ErrInsufficientStock)

	item, err = svc.ReleaseStock(ctx, testRC, key, d(15), "sales_order", 99)
	require.NoError(t, err)
	require.True(t, item.AvailableQty.Equal(d(20)))
	require.True(t, item.ReservedQty.IsZero())
}
