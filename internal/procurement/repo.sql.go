package procurement

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/inventory"
	"github.com/tradewind-erp/tradewind/internal/ledger"
	"github.com/tradewind-erp/tradewind/internal/platform/db"
	"github.com/tradewind-erp/tradewind/internal/sequence"
	"github.com/tradewind-erp/tradewind/internal/treasury"
)

// Repository persists procurement entities. Inside a transaction it composes
// the inventory, treasury, and ledger tx helpers the same way the sales side
// does.
type Repository struct {
	pool *pgxpool.Pool
	seq  *sequence.Generator
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, seq: sequence.NewGenerator()}
}

type txRepository struct {
	tx        pgx.Tx
	seq       *sequence.Generator
	inventory *inventory.TxQueries
	vouchers  *treasury.TxQueries
	events    *ledger.EventTxQueries
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			tx:        tx,
			seq:       r.seq,
			inventory: inventory.NewTxQueries(tx),
			vouchers:  treasury.NewTxQueries(tx),
			events:    ledger.NewEventTxQueries(tx),
		})
	})
}

func (r *txRepository) LockInventory(ctx context.Context, companyID int64, keys []inventory.Key) (map[inventory.Key]inventory.Item, error) {
	return r.inventory.GetForUpdateBatch(ctx, companyID, keys)
}

func (r *txRepository) SaveInventory(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	return r.inventory.UpsertItem(ctx, item)
}

func (r *txRepository) InsertMovement(ctx context.Context, m inventory.Movement) error {
	return r.inventory.InsertMovement(ctx, m)
}

func (r *txRepository) NextPurchaseNumber(ctx context.Context, companyID int64, year int) (string, error) {
	n, err := r.seq.Next(ctx, r.tx, companyID, sequence.KindPurchaseInvoice, year)
	if err != nil {
		return "", err
	}
	return sequence.FormatInvoiceNumber("PUR", year, n), nil
}

const purchaseColumns = `id, company_id, invoice_number, supplier_id, warehouse_id, total_amount, amount_paid, amount_due, status, payment_method, currency, exchange_rate, foreign_tendered, created_by, created_at, updated_at`

func scanPurchase(row pgx.Row) (Purchase, error) {
	var p Purchase
	err := row.Scan(&p.ID, &p.CompanyID, &p.InvoiceNumber, &p.SupplierID, &p.WarehouseID,
		&p.TotalAmount, &p.AmountPaid, &p.AmountDue, &p.Status, &p.PaymentMethod,
		&p.Currency, &p.ExchangeRate, &p.ForeignTendered, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrPurchaseNotFound
		}
		return Purchase{}, err
	}
	return p, nil
}

func (r *txRepository) InsertPurchase(ctx context.Context, p Purchase) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO purchases (company_id, invoice_number, supplier_id, warehouse_id, total_amount, amount_paid, amount_due, status, payment_method, currency, exchange_rate, foreign_tendered, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14) RETURNING id`,
		p.CompanyID, p.InvoiceNumber, p.SupplierID, p.WarehouseID, p.TotalAmount, p.AmountPaid, p.AmountDue,
		p.Status, p.PaymentMethod, p.Currency, p.ExchangeRate, p.ForeignTendered, p.CreatedBy, p.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItems(ctx context.Context, purchaseID int64, items []PurchaseItem) error {
	for _, it := range items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO purchase_items (purchase_id, product_id, unit_id, unit_name, quantity, base_quantity, unit_cost, base_unit_cost, total_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			purchaseID, it.ProductID, it.UnitID, it.UnitName, it.Quantity, it.BaseQuantity, it.UnitCost, it.BaseUnitCost, it.TotalCost); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetPurchaseForUpdate(ctx context.Context, companyID, purchaseID int64) (Purchase, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, purchaseID)
	return scanPurchase(row)
}

func (r *txRepository) UpdatePurchasePayment(ctx context.Context, purchaseID int64, paid, due decimal.Decimal, status PaymentStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE purchases SET amount_paid=$2, amount_due=$3, status=$4, updated_at=NOW() WHERE id=$1`,
		purchaseID, paid, due, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrPurchaseNotFound
	}
	return nil
}

const supplierColumns = `id, company_id, name, phone, balance, outstanding_balance, is_active, created_at, updated_at`

func scanSupplier(row pgx.Row) (Supplier, error) {
	var sp Supplier
	err := row.Scan(&sp.ID, &sp.CompanyID, &sp.Name, &sp.Phone, &sp.Balance, &sp.OutstandingBalance, &sp.IsActive, &sp.CreatedAt, &sp.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Supplier{}, ErrSupplierNotFound
		}
		return Supplier{}, err
	}
	return sp, nil
}

func (r *txRepository) GetSupplierForUpdate(ctx context.Context, companyID, supplierID int64) (Supplier, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, supplierID)
	return scanSupplier(row)
}

func (r *txRepository) ApplySupplierBalances(ctx context.Context, supplierID int64, balanceDelta, outstandingDelta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE suppliers SET balance = balance + $2, outstanding_balance = outstanding_balance + $3, updated_at=NOW() WHERE id=$1`,
		supplierID, balanceDelta, outstandingDelta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrSupplierNotFound
	}
	return nil
}

func (r *txRepository) InsertVoucher(ctx context.Context, v treasury.Voucher, at time.Time) (treasury.Voucher, error) {
	return r.vouchers.InsertVoucher(ctx, v, at)
}

func (r *txRepository) AppendEvent(ctx context.Context, ev ledger.JournalEvent) (int64, error) {
	return r.events.InsertEvent(ctx, ev)
}

// GetPurchase returns one purchase outside any transaction.
func (r *Repository) GetPurchase(ctx context.Context, companyID, purchaseID int64) (Purchase, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+purchaseColumns+` FROM purchases WHERE company_id=$1 AND id=$2`, companyID, purchaseID)
	return scanPurchase(row)
}

const purchaseItemColumns = `id, purchase_id, product_id, unit_id, unit_name, quantity, base_quantity, unit_cost, base_unit_cost, total_cost`

// GetPurchaseItems returns a purchase's lines.
func (r *Repository) GetPurchaseItems(ctx context.Context, purchaseID int64) ([]PurchaseItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+purchaseItemColumns+` FROM purchase_items WHERE purchase_id=$1 ORDER BY id`, purchaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []PurchaseItem
	for rows.Next() {
		var it PurchaseItem
		if err := rows.Scan(&it.ID, &it.PurchaseID, &it.ProductID, &it.UnitID, &it.UnitName, &it.Quantity,
			&it.BaseQuantity, &it.UnitCost, &it.BaseUnitCost, &it.TotalCost); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// GetSupplier returns one supplier outside any transaction.
func (r *Repository) GetSupplier(ctx context.Context, companyID, supplierID int64) (Supplier, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+supplierColumns+` FROM suppliers WHERE company_id=$1 AND id=$2`, companyID, supplierID)
	return scanSupplier(row)
}
