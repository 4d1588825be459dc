package reports

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/ledger"
)

// ReaderPort is the read-side query surface the report builders consume.
type ReaderPort interface {
	AccountActivityRange(ctx context.Context, companyID int64, from, to time.Time) ([]ledger.AccountActivity, error)
	AccountLedgerRange(ctx context.Context, companyID, accountID int64, from, to time.Time) ([]ledger.LedgerLine, error)
	OpeningBalance(ctx context.Context, companyID, accountID int64, before time.Time) (decimal.Decimal, error)
	GetAccount(ctx context.Context, companyID, accountID int64) (ledger.Account, error)
}

// Service assembles financial reports from posted journal lines.
type Service struct {
	reader ReaderPort
}

// NewService constructs the report service.
func NewService(reader ReaderPort) *Service {
	return &Service{reader: reader}
}

// balancesForRange loads opening activity and in-range activity and merges
// them into one AccountBalance row per account.
func (s *Service) balancesForRange(ctx context.Context, companyID int64, from, to time.Time) ([]AccountBalance, error) {
	current, err := s.reader.AccountActivityRange(ctx, companyID, from, to)
	if err != nil {
		return nil, err
	}
	prior, err := s.reader.AccountActivityRange(ctx, companyID, time.Time{}, from.AddDate(0, 0, -1))
	if err != nil {
		return nil, err
	}
	openings := make(map[int64]decimal.Decimal, len(prior))
	for _, p := range prior {
		openings[p.AccountID] = p.Debit.Sub(p.Credit)
	}
	out := make([]AccountBalance, 0, len(current))
	for _, c := range current {
		out = append(out, AccountBalance{
			AccountID: c.AccountID,
			Code:      c.Code,
			Name:      c.Name,
			Type:      c.Type,
			Opening:   openings[c.AccountID],
			Debit:     c.Debit,
			Credit:    c.Credit,
		})
	}
	return out, nil
}

// TrialBalance builds the grouped trial balance for a date range.
func (s *Service) TrialBalance(ctx context.Context, companyID int64, from, to time.Time) (TrialBalance, error) {
	balances, err := s.balancesForRange(ctx, companyID, from, to)
	if err != nil {
		return TrialBalance{}, err
	}
	return BuildTrialBalance(balances), nil
}

// ProfitAndLoss builds the income statement for a date range. Only in-range
// activity counts; openings are ignored for flow accounts.
func (s *Service) ProfitAndLoss(ctx context.Context, companyID int64, from, to time.Time) (ProfitAndLoss, error) {
	activity, err := s.reader.AccountActivityRange(ctx, companyID, from, to)
	if err != nil {
		return ProfitAndLoss{}, err
	}
	balances := make([]AccountBalance, 0, len(activity))
	for _, a := range activity {
		balances = append(balances, AccountBalance{
			AccountID: a.AccountID, Code: a.Code, Name: a.Name, Type: a.Type,
			Debit: a.Debit, Credit: a.Credit,
		})
	}
	return BuildProfitAndLoss(balances), nil
}

// BalanceSheet builds the statement of financial position as of a date.
func (s *Service) BalanceSheet(ctx context.Context, companyID int64, asOf time.Time) (BalanceSheet, error) {
	activity, err := s.reader.AccountActivityRange(ctx, companyID, time.Time{}, asOf)
	if err != nil {
		return BalanceSheet{}, err
	}
	balances := make([]AccountBalance, 0, len(activity))
	for _, a := range activity {
		balances = append(balances, AccountBalance{
			AccountID: a.AccountID, Code: a.Code, Name: a.Name, Type: a.Type,
			Debit: a.Debit, Credit: a.Credit,
		})
	}
	return BuildBalanceSheet(balances), nil
}

// AccountCard builds the movement card for one account over a date range.
func (s *Service) AccountCard(ctx context.Context, companyID, accountID int64, from, to time.Time) (LedgerCard, error) {
	account, err := s.reader.GetAccount(ctx, companyID, accountID)
	if err != nil {
		return LedgerCard{}, err
	}
	opening, err := s.reader.OpeningBalance(ctx, companyID, accountID, from)
	if err != nil {
		return LedgerCard{}, err
	}
	lines, err := s.reader.AccountLedgerRange(ctx, companyID, accountID, from, to)
	if err != nil {
		return LedgerCard{}, err
	}
	return BuildLedgerCard(account, from, to, opening, lines), nil
}
