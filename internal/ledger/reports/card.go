package reports

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/ledger"
)

// LedgerCardRow is one movement on the account card with a running balance.
type LedgerCardRow struct {
	EntryNumber string
	LineNumber  string
	EntryDate   time.Time
	Memo        string
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Balance     decimal.Decimal
}

// LedgerCard is the movement history of one account over a date range.
type LedgerCard struct {
	AccountCode    string
	AccountName    string
	From           time.Time
	To             time.Time
	OpeningBalance decimal.Decimal
	Rows           []LedgerCardRow
	TotalDebit     decimal.Decimal
	TotalCredit    decimal.Decimal
	ClosingBalance decimal.Decimal
}

// BuildLedgerCard threads a running balance through the account's lines,
// starting from the opening balance carried into the range.
func BuildLedgerCard(account ledger.Account, from, to time.Time, opening decimal.Decimal, lines []ledger.LedgerLine) LedgerCard {
	card := LedgerCard{
		AccountCode:    account.Code,
		AccountName:    account.Name,
		From:           from,
		To:             to,
		OpeningBalance: opening,
		ClosingBalance: opening,
	}
	for _, l := range lines {
		card.ClosingBalance = card.ClosingBalance.Add(l.Debit).Sub(l.Credit)
		card.TotalDebit = card.TotalDebit.Add(l.Debit)
		card.TotalCredit = card.TotalCredit.Add(l.Credit)
		card.Rows = append(card.Rows, LedgerCardRow{
			EntryNumber: l.EntryNumber,
			LineNumber:  l.LineNumber,
			EntryDate:   l.EntryDate,
			Memo:        l.Memo,
			Description: l.Description,
			Debit:       l.Debit,
			Credit:      l.Credit,
			Balance:     card.ClosingBalance,
		})
	}
	return card
}
