package sales

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

// Repository persists sales entities. Inside a transaction it composes the
// inventory, treasury, and ledger tx helpers so one commit covers the whole
// orchestration.
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

func (r *txRepository) NextInvoiceNumber(ctx context.Context, companyID int64, kind string, year int) (string, error) {
	n, err := r.seq.Next(ctx, r.tx, companyID, kind, year)
	if err != nil {
		return "", err
	}
	prefix := "INV"
	if kind == sequence.KindReturnInvoice {
		prefix = "RET"
	}
	return sequence.FormatInvoiceNumber(prefix, year, n), nil
}

const invoiceColumns = `id, company_id, invoice_number, sale_type, customer_id, warehouse_id, original_sale_id, total_amount, amount_paid, amount_due, change_given, total_cogs, status, payment_method, currency, exchange_rate, foreign_tendered, created_by, created_at, updated_at`

func scanInvoice(row pgx.Row) (Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.CompanyID, &inv.InvoiceNumber, &inv.SaleType, &inv.CustomerID, &inv.WarehouseID,
		&inv.OriginalSaleID, &inv.TotalAmount, &inv.AmountPaid, &inv.AmountDue, &inv.ChangeGiven, &inv.TotalCOGS,
		&inv.Status, &inv.PaymentMethod, &inv.Currency, &inv.ExchangeRate, &inv.ForeignTendered,
		&inv.CreatedBy, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, ErrInvoiceNotFound
		}
		return Invoice{}, err
	}
	return inv, nil
}

func (r *txRepository) InsertInvoice(ctx context.Context, inv Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (company_id, invoice_number, sale_type, customer_id, warehouse_id, original_sale_id, total_amount, amount_paid, amount_due, change_given, total_cogs, status, payment_method, currency, exchange_rate, foreign_tendered, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18) RETURNING id`,
		inv.CompanyID, inv.InvoiceNumber, inv.SaleType, inv.CustomerID, inv.WarehouseID, inv.OriginalSaleID,
		inv.TotalAmount, inv.AmountPaid, inv.AmountDue, inv.ChangeGiven, inv.TotalCOGS, inv.Status,
		inv.PaymentMethod, inv.Currency, inv.ExchangeRate, inv.ForeignTendered, inv.CreatedBy, inv.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) InsertItems(ctx context.Context, invoiceID int64, items []InvoiceItem) error {
	for _, it := range items {
		if _, err := r.tx.Exec(ctx, `INSERT INTO invoice_items (invoice_id, product_id, unit_id, unit_name, quantity, base_quantity, unit_price, total_price, unit_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			invoiceID, it.ProductID, it.UnitID, it.UnitName, it.Quantity, it.BaseQuantity, it.UnitPrice, it.TotalPrice, it.UnitCost); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetInvoiceForUpdate(ctx context.Context, companyID, invoiceID int64) (Invoice, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, invoiceID)
	return scanInvoice(row)
}

const itemColumns = `id, invoice_id, product_id, unit_id, unit_name, quantity, base_quantity, unit_price, total_price, unit_cost`

func collectItems(rows pgx.Rows) ([]InvoiceItem, error) {
	defer rows.Close()
	var out []InvoiceItem
	for rows.Next() {
		var it InvoiceItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.ProductID, &it.UnitID, &it.UnitName, &it.Quantity,
			&it.BaseQuantity, &it.UnitPrice, &it.TotalPrice, &it.UnitCost); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *txRepository) InvoiceItemsOf(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// ReturnedBaseQuantities sums, per product, the base quantity already returned
// against one sale, so a later return cannot exceed what remains.
func (r *txRepository) ReturnedBaseQuantities(ctx context.Context, originalSaleID int64) (map[int64]decimal.Decimal, error) {
	rows, err := r.tx.Query(ctx, `SELECT it.product_id, COALESCE(SUM(it.base_quantity),0)
FROM invoice_items it
JOIN invoices inv ON inv.id = it.invoice_id
WHERE inv.original_sale_id=$1 AND inv.sale_type=$2
GROUP BY it.product_id`, originalSaleID, TypeReturnSale)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var productID int64
		var qty decimal.Decimal
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		out[productID] = qty
	}
	return out, rows.Err()
}

func (r *txRepository) UpdateInvoicePayment(ctx context.Context, invoiceID int64, paid, due decimal.Decimal, status PaymentStatus) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE invoices SET amount_paid=$2, amount_due=$3, status=$4, updated_at=NOW() WHERE id=$1`,
		invoiceID, paid, due, status)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

const customerColumns = `id, company_id, name, phone, balance, outstanding_balance, is_active, created_at, updated_at`

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.CompanyID, &c.Name, &c.Phone, &c.Balance, &c.OutstandingBalance, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrCustomerNotFound
		}
		return Customer{}, err
	}
	return c, nil
}

func (r *txRepository) GetCustomerForUpdate(ctx context.Context, companyID, customerID int64) (Customer, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, customerID)
	return scanCustomer(row)
}

func (r *txRepository) ApplyCustomerBalances(ctx context.Context, customerID int64, balanceDelta, outstandingDelta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE customers SET balance = balance + $2, outstanding_balance = outstanding_balance + $3, updated_at=NOW() WHERE id=$1`,
		customerID, balanceDelta, outstandingDelta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrCustomerNotFound
	}
	return nil
}

func (r *txRepository) InsertVoucher(ctx context.Context, v treasury.Voucher, at time.Time) (treasury.Voucher, error) {
	return r.vouchers.InsertVoucher(ctx, v, at)
}

func (r *txRepository) AppendEvent(ctx context.Context, ev ledger.JournalEvent) (int64, error) {
	return r.events.InsertEvent(ctx, ev)
}

// GetInvoice returns one invoice outside any transaction.
func (r *Repository) GetInvoice(ctx context.Context, companyID, invoiceID int64) (Invoice, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE company_id=$1 AND id=$2`, companyID, invoiceID)
	return scanInvoice(row)
}

// GetInvoiceItems returns an invoice's lines.
func (r *Repository) GetInvoiceItems(ctx context.Context, invoiceID int64) ([]InvoiceItem, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM invoice_items WHERE invoice_id=$1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// GetCustomer returns one customer outside any transaction.
func (r *Repository) GetCustomer(ctx context.Context, companyID, customerID int64) (Customer, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE company_id=$1 AND id=$2`, companyID, customerID)
	return scanCustomer(row)
}
