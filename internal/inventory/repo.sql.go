package inventory

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind/internal/platform/db"
)

// Repository persists inventory rows and movements.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewTxQueries(tx))
	})
}

const itemColumns = `id, company_id, product_id, warehouse_id, stock_qty, available_qty, reserved_qty, reorder_level, status, created_at, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var it Item
	err := row.Scan(&it.ID, &it.CompanyID, &it.ProductID, &it.WarehouseID, &it.StockQty, &it.AvailableQty, &it.ReservedQty, &it.ReorderLevel, &it.Status, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	return it, nil
}

// GetItem reads one inventory row without locking.
func (r *Repository) GetItem(ctx context.Context, companyID int64, key Key) (Item, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items WHERE company_id=$1 AND product_id=$2 AND warehouse_id=$3`,
		companyID, key.ProductID, key.WarehouseID)
	return scanItem(row)
}

// ListMovements returns recent movements for one row, newest first.
func (r *Repository) ListMovements(ctx context.Context, companyID int64, key Key, limit int) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, company_id, product_id, warehouse_id, movement_type, qty, before_qty, after_qty, reference_type, reference_id, note, created_by, created_at
FROM stock_movements WHERE company_id=$1 AND product_id=$2 AND warehouse_id=$3 ORDER BY id DESC LIMIT $4`,
		companyID, key.ProductID, key.WarehouseID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Movement
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.ProductID, &m.WarehouseID, &m.Type, &m.Qty, &m.BeforeQty, &m.AfterQty, &m.ReferenceType, &m.ReferenceID, &m.Note, &m.CreatedBy, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// TxQueries implements TxRepository against an open pgx transaction. The
// sale, return, and purchase orchestrators embed it in their own transactions
// so inventory mutations commit or roll back together with the invoice.
type TxQueries struct {
	tx pgx.Tx
}

// NewTxQueries wraps an open transaction.
func NewTxQueries(tx pgx.Tx) *TxQueries {
	return &TxQueries{tx: tx}
}

// GetForUpdate locks and returns one inventory row.
func (q *TxQueries) GetForUpdate(ctx context.Context, companyID int64, key Key) (Item, error) {
	row := q.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE company_id=$1 AND product_id=$2 AND warehouse_id=$3 FOR UPDATE`,
		companyID, key.ProductID, key.WarehouseID)
	return scanItem(row)
}

// GetForUpdateBatch locks all requested rows in one statement. Rows are
// ordered by (product_id, warehouse_id) so concurrent multi-line carts take
// locks in a stable order and cannot deadlock each other.
func (q *TxQueries) GetForUpdateBatch(ctx context.Context, companyID int64, keys []Key) (map[Key]Item, error) {
	productIDs := make([]int64, 0, len(keys))
	warehouseIDs := make([]int64, 0, len(keys))
	for _, k := range keys {
		productIDs = append(productIDs, k.ProductID)
		warehouseIDs = append(warehouseIDs, k.WarehouseID)
	}
	rows, err := q.tx.Query(ctx, `SELECT `+itemColumns+` FROM inventory_items
WHERE company_id=$1 AND (product_id, warehouse_id) IN (SELECT unnest($2::bigint[]), unnest($3::bigint[]))
ORDER BY product_id, warehouse_id FOR UPDATE`, companyID, productIDs, warehouseIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[Key]Item, len(keys))
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.Key()] = it
	}
	return out, rows.Err()
}

// UpsertItem writes the row back, creating it when first touched.
func (q *TxQueries) UpsertItem(ctx context.Context, item Item) (Item, error) {
	row := q.tx.QueryRow(ctx, `INSERT INTO inventory_items (company_id, product_id, warehouse_id, stock_qty, available_qty, reserved_qty, reorder_level, status)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (company_id, product_id, warehouse_id)
DO UPDATE SET stock_qty=EXCLUDED.stock_qty, available_qty=EXCLUDED.available_qty, reserved_qty=EXCLUDED.reserved_qty, status=EXCLUDED.status, updated_at=NOW()
RETURNING `+itemColumns,
		item.CompanyID, item.ProductID, item.WarehouseID, item.StockQty, item.AvailableQty, item.ReservedQty, item.ReorderLevel, item.Status)
	return scanItem(row)
}

// InsertMovement appends a stock movement audit row.
func (q *TxQueries) InsertMovement(ctx context.Context, m Movement) error {
	_, err := q.tx.Exec(ctx, `INSERT INTO stock_movements (company_id, product_id, warehouse_id, movement_type, qty, before_qty, after_qty, reference_type, reference_id, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		m.CompanyID, m.ProductID, m.WarehouseID, m.Type, m.Qty, m.BeforeQty, m.AfterQty, m.ReferenceType, m.ReferenceID, m.Note, m.CreatedBy, m.CreatedAt)
	return err
}
