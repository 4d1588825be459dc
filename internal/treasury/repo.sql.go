package treasury

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tradewind-erp/tradewind/internal/sequence"
)

// TxQueries numbers and inserts vouchers inside the caller's transaction so
// the voucher number is only consumed when the surrounding operation commits.
type TxQueries struct {
	tx  pgx.Tx
	seq *sequence.Generator
}

// NewTxQueries wraps an open transaction.
func NewTxQueries(tx pgx.Tx) *TxQueries {
	return &TxQueries{tx: tx, seq: sequence.NewGenerator()}
}

func sequenceKind(t VoucherType) string {
	if t == VoucherPayment {
		return sequence.KindPaymentVoucher
	}
	return sequence.KindReceiptVoucher
}

func numberPrefix(t VoucherType) string {
	if t == VoucherPayment {
		return "PV"
	}
	return "RV"
}

// InsertVoucher validates, numbers, and persists one voucher, returning it
// with id and voucher number filled in.
func (q *TxQueries) InsertVoucher(ctx context.Context, v Voucher, at time.Time) (Voucher, error) {
	if err := v.Validate(); err != nil {
		return Voucher{}, err
	}
	year := at.Year()
	n, err := q.seq.Next(ctx, q.tx, v.CompanyID, sequenceKind(v.Type), year)
	if err != nil {
		return Voucher{}, err
	}
	v.VoucherNumber = sequence.FormatInvoiceNumber(numberPrefix(v.Type), year, n)
	v.Status = VoucherPosted
	v.CreatedAt = at
	err = q.tx.QueryRow(ctx, `INSERT INTO vouchers (company_id, voucher_type, voucher_number, amount, currency, exchange_rate, foreign_amount, method, invoice_id, customer_id, supplier_id, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING id`,
		v.CompanyID, v.Type, v.VoucherNumber, v.Amount, v.Currency, v.ExchangeRate, v.ForeignAmount,
		v.Method, v.InvoiceID, v.CustomerID, v.SupplierID, v.Status, v.Note, v.CreatedBy, v.CreatedAt).Scan(&v.ID)
	if err != nil {
		return Voucher{}, err
	}
	return v, nil
}

// Repository reads vouchers outside any transaction.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const voucherColumns = `id, company_id, voucher_type, voucher_number, amount, currency, exchange_rate, foreign_amount, method, invoice_id, customer_id, supplier_id, status, note, created_by, created_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.CompanyID, &v.Type, &v.VoucherNumber, &v.Amount, &v.Currency, &v.ExchangeRate,
		&v.ForeignAmount, &v.Method, &v.InvoiceID, &v.CustomerID, &v.SupplierID, &v.Status, &v.Note, &v.CreatedBy, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, err
	}
	return v, nil
}

// GetVoucher returns one voucher.
func (r *Repository) GetVoucher(ctx context.Context, companyID, voucherID int64) (Voucher, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE company_id=$1 AND id=$2`, companyID, voucherID)
	return scanVoucher(row)
}

// ListVouchers returns a company's vouchers newest first.
func (r *Repository) ListVouchers(ctx context.Context, companyID int64, voucherType VoucherType, limit int) ([]Voucher, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var rows pgx.Rows
	var err error
	if voucherType == "" {
		rows, err = r.pool.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE company_id=$1 ORDER BY id DESC LIMIT $2`, companyID, limit)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE company_id=$1 AND voucher_type=$2 ORDER BY id DESC LIMIT $3`, companyID, voucherType, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Voucher
	for rows.Next() {
		v, err := scanVoucher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
