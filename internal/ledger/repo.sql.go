package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/platform/db"
	"github.com/tradewind-erp/tradewind/internal/sequence"
)

// Repository persists ledger entities.
type Repository struct {
	pool *pgxpool.Pool
	seq  *sequence.Generator
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, seq: sequence.NewGenerator()}
}

type txRepository struct {
	tx  pgx.Tx
	seq *sequence.Generator
}

// WithTx executes fn within a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx, seq: r.seq})
	})
}

const eventColumns = `id, company_id, event_type, entity_type, entity_id, source_id, status, payload, error_note, created_at, processed_at`

func scanEvent(row pgx.Row) (JournalEvent, error) {
	var ev JournalEvent
	err := row.Scan(&ev.ID, &ev.CompanyID, &ev.EventType, &ev.EntityType, &ev.EntityID, &ev.SourceID, &ev.Status, &ev.Payload, &ev.ErrorNote, &ev.CreatedAt, &ev.ProcessedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEvent{}, ErrEventNotFound
		}
		return JournalEvent{}, err
	}
	return ev, nil
}

func (r *txRepository) GetEventForUpdate(ctx context.Context, eventID int64) (JournalEvent, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+eventColumns+` FROM journal_events WHERE id=$1 FOR UPDATE`, eventID)
	return scanEvent(row)
}

func (r *txRepository) NextEntryNumber(ctx context.Context, companyID int64, year int) (int64, error) {
	return r.seq.Next(ctx, r.tx, companyID, sequence.KindJournalEntry, year)
}

func (r *txRepository) InsertEntry(ctx context.Context, e JournalEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (company_id, entry_number, event_id, memo, entry_date, fiscal_period, reference_type, reference_id, is_posted, is_automated, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		e.CompanyID, e.EntryNumber, e.EventID, e.Memo, e.EntryDate, e.FiscalPeriod, e.ReferenceType, e.ReferenceID, e.IsPosted, e.IsAutomated, nullInt(e.CreatedBy)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []JournalLine) error {
	for _, l := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_lines (entry_id, company_id, line_number, account_id, description, debit, credit, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			entryID, l.CompanyID, l.LineNumber, l.AccountID, l.Description, l.Debit, l.Credit, l.CreatedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) ApplyAccountBalance(ctx context.Context, companyID, accountID int64, delta decimal.Decimal) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET balance = balance + $3, updated_at = NOW() WHERE company_id=$1 AND id=$2`, companyID, accountID, delta)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) CheckAccounts(ctx context.Context, companyID int64, accountIDs []int64) error {
	var count int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(DISTINCT id) FROM accounts WHERE company_id=$1 AND is_active AND id = ANY($2)`, companyID, accountIDs).Scan(&count)
	if err != nil {
		return err
	}
	distinct := make(map[int64]struct{}, len(accountIDs))
	for _, id := range accountIDs {
		distinct[id] = struct{}{}
	}
	if count != len(distinct) {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) MarkEventProcessed(ctx context.Context, eventID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_events SET status=$2, processed_at=$3, error_note='' WHERE id=$1`, eventID, EventProcessed, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrEventNotFound
	}
	return nil
}

// CreateEvent appends one pending event outside any caller transaction; used
// for operator-submitted manual journals.
func (r *Repository) CreateEvent(ctx context.Context, ev JournalEvent) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO journal_events (company_id, event_type, entity_type, entity_id, source_id, status, payload)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		ev.CompanyID, ev.EventType, ev.EntityType, ev.EntityID, ev.SourceID, ev.Status, ev.Payload).Scan(&id)
	return id, err
}

// MarkEventFailed records a posting failure note outside the failed
// transaction so it survives rollback. Already-processed events are left alone.
func (r *Repository) MarkEventFailed(ctx context.Context, eventID int64, note string) error {
	if len(note) > 2000 {
		note = note[:2000]
	}
	_, err := r.pool.Exec(ctx, `UPDATE journal_events SET status=$2, error_note=$3 WHERE id=$1 AND status <> $4`,
		eventID, EventFailed, note, EventProcessed)
	return err
}

// ListUnprocessedEvents returns pending and failed events oldest first.
func (r *Repository) ListUnprocessedEvents(ctx context.Context, limit int) ([]JournalEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+eventColumns+` FROM journal_events WHERE status <> $1 ORDER BY id ASC LIMIT $2`, EventProcessed, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// ListEvents returns a company's events newest first for reconciliation.
func (r *Repository) ListEvents(ctx context.Context, companyID int64, status EventStatus, limit int) ([]JournalEvent, error) {
	var rows pgx.Rows
	var err error
	if status == "" {
		rows, err = r.pool.Query(ctx, `SELECT `+eventColumns+` FROM journal_events WHERE company_id=$1 ORDER BY id DESC LIMIT $2`, companyID, limit)
	} else {
		rows, err = r.pool.Query(ctx, `SELECT `+eventColumns+` FROM journal_events WHERE company_id=$1 AND status=$2 ORDER BY id DESC LIMIT $3`, companyID, status, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

func collectEvents(rows pgx.Rows) ([]JournalEvent, error) {
	var out []JournalEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetEvent fetches one event scoped by company.
func (r *Repository) GetEvent(ctx context.Context, companyID, eventID int64) (JournalEvent, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM journal_events WHERE company_id=$1 AND id=$2`, companyID, eventID)
	return scanEvent(row)
}

// GetDefaultMapping resolves the default account for a mapping type.
func (r *Repository) GetDefaultMapping(ctx context.Context, companyID int64, mappingType MappingType) (int64, error) {
	var accountID int64
	err := r.pool.QueryRow(ctx, `SELECT account_id FROM account_mappings WHERE company_id=$1 AND mapping_type=$2 AND is_default`, companyID, mappingType).Scan(&accountID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrMissingMapping
		}
		return 0, err
	}
	return accountID, nil
}

const periodColumns = `id, company_id, period_name, start_date, end_date, is_closed, created_at, updated_at`

func scanPeriod(row pgx.Row) (FiscalPeriod, error) {
	var p FiscalPeriod
	err := row.Scan(&p.ID, &p.CompanyID, &p.Name, &p.StartDate, &p.EndDate, &p.IsClosed, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FiscalPeriod{}, ErrPeriodNotFound
		}
		return FiscalPeriod{}, err
	}
	return p, nil
}

// FindOpenPeriod returns the single open period for a company.
func (r *Repository) FindOpenPeriod(ctx context.Context, companyID int64) (FiscalPeriod, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE company_id=$1 AND NOT is_closed ORDER BY start_date DESC LIMIT 1`, companyID)
	return scanPeriod(row)
}

type periodTxRepository struct {
	tx pgx.Tx
}

// WithPeriodTx executes fn within a transaction over fiscal periods.
func (r *Repository) WithPeriodTx(ctx context.Context, fn func(context.Context, PeriodTxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, &periodTxRepository{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (r *periodTxRepository) CloseOpenPeriods(ctx context.Context, companyID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE fiscal_periods SET is_closed=TRUE, updated_at=NOW() WHERE company_id=$1 AND NOT is_closed`, companyID)
	return err
}

func (r *periodTxRepository) InsertPeriod(ctx context.Context, p FiscalPeriod) (FiscalPeriod, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO fiscal_periods (company_id, period_name, start_date, end_date, is_closed)
VALUES ($1,$2,$3,$4,FALSE) RETURNING `+periodColumns,
		p.CompanyID, p.Name, p.StartDate, p.EndDate)
	return scanPeriod(row)
}

func (r *periodTxRepository) GetPeriodForUpdate(ctx context.Context, companyID, periodID int64) (FiscalPeriod, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM fiscal_periods WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, periodID)
	return scanPeriod(row)
}

func (r *periodTxRepository) SetPeriodClosed(ctx context.Context, periodID int64, closed bool) error {
	_, err := r.tx.Exec(ctx, `UPDATE fiscal_periods SET is_closed=$2, updated_at=NOW() WHERE id=$1`, periodID, closed)
	return err
}

const accountColumns = `id, company_id, code, name, account_type, parent_id, balance, is_system, is_active, created_at, updated_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.CompanyID, &a.Code, &a.Name, &a.Type, &a.ParentID, &a.Balance, &a.IsSystem, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	return a, nil
}

// ListAccounts returns a company's chart of accounts ordered by code.
func (r *Repository) ListAccounts(ctx context.Context, companyID int64) ([]Account, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 ORDER BY code`, companyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// GetAccount fetches one account scoped by company.
func (r *Repository) GetAccount(ctx context.Context, companyID, accountID int64) (Account, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE company_id=$1 AND id=$2`, companyID, accountID)
	return scanAccount(row)
}

// AccountActivity is one account's aggregated debits and credits in a range.
type AccountActivity struct {
	AccountID int64
	Code      string
	Name      string
	Type      AccountType
	Debit     decimal.Decimal
	Credit    decimal.Decimal
}

// AccountActivityRange aggregates posted journal lines per account over a
// date range; read side of the trial balance and financial statements.
func (r *Repository) AccountActivityRange(ctx context.Context, companyID int64, from, to time.Time) ([]AccountActivity, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.code, a.name, a.account_type, COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM accounts a
LEFT JOIN journal_lines l ON l.account_id = a.id
LEFT JOIN journal_entries e ON e.id = l.entry_id AND e.is_posted AND e.entry_date BETWEEN $2 AND $3
WHERE a.company_id = $1
GROUP BY a.id, a.code, a.name, a.account_type
ORDER BY a.code`, companyID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AccountActivity
	for rows.Next() {
		var row AccountActivity
		if err := rows.Scan(&row.AccountID, &row.Code, &row.Name, &row.Type, &row.Debit, &row.Credit); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// LedgerLine is one journal line joined with its entry for the account card.
type LedgerLine struct {
	EntryNumber string
	LineNumber  string
	EntryDate   time.Time
	Memo        string
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
}

// AccountLedgerRange returns an account's posted lines in chronological order.
func (r *Repository) AccountLedgerRange(ctx context.Context, companyID, accountID int64, from, to time.Time) ([]LedgerLine, error) {
	rows, err := r.pool.Query(ctx, `SELECT e.entry_number, l.line_number, e.entry_date, e.memo, l.description, l.debit, l.credit
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE l.company_id=$1 AND l.account_id=$2 AND e.is_posted AND e.entry_date BETWEEN $3 AND $4
ORDER BY e.entry_date, e.id, l.id`, companyID, accountID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerLine
	for rows.Next() {
		var l LedgerLine
		if err := rows.Scan(&l.EntryNumber, &l.LineNumber, &l.EntryDate, &l.Memo, &l.Description, &l.Debit, &l.Credit); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// OpeningBalance sums an account's posted activity strictly before a date.
func (r *Repository) OpeningBalance(ctx context.Context, companyID, accountID int64, before time.Time) (decimal.Decimal, error) {
	var opening decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit - l.credit),0)
FROM journal_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE l.company_id=$1 AND l.account_id=$2 AND e.is_posted AND e.entry_date < $3`, companyID, accountID, before).Scan(&opening)
	return opening, err
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}
