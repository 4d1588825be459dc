package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/ledger"
)

// BalanceSheetAccount summarises an account for assets, liabilities, or equity.
type BalanceSheetAccount struct {
	Code    string
	Name    string
	Balance decimal.Decimal
}

// BalanceSheetSection contains the accounts and totals for a classification.
type BalanceSheetSection struct {
	Label    string
	Accounts []BalanceSheetAccount
	Total    decimal.Decimal
}

// BalanceSheet is the structured response for the balance sheet report.
// RetainedEarnings carries the cumulative profit and loss so the statement
// ties out even before a year-end closing entry exists.
type BalanceSheet struct {
	Assets                    BalanceSheetSection
	Liabilities               BalanceSheetSection
	Equity                    BalanceSheetSection
	RetainedEarnings          decimal.Decimal
	TotalLiabilitiesAndEquity decimal.Decimal
}

// BuildBalanceSheet aggregates closing balances into assets, liabilities, and
// equity. Liability and equity accounts are presented credit-normal.
func BuildBalanceSheet(accounts []AccountBalance) BalanceSheet {
	assets := BalanceSheetSection{Label: "Assets"}
	liabilities := BalanceSheetSection{Label: "Liabilities"}
	equity := BalanceSheetSection{Label: "Equity"}
	var retained decimal.Decimal

	for _, acc := range accounts {
		closing := acc.Closing()
		switch acc.Type {
		case ledger.AccountTypeAsset:
			row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: closing}
			assets.Accounts = append(assets.Accounts, row)
			assets.Total = assets.Total.Add(row.Balance)
		case ledger.AccountTypeLiability:
			row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: closing.Neg()}
			liabilities.Accounts = append(liabilities.Accounts, row)
			liabilities.Total = liabilities.Total.Add(row.Balance)
		case ledger.AccountTypeEquity:
			row := BalanceSheetAccount{Code: acc.Code, Name: acc.Name, Balance: closing.Neg()}
			equity.Accounts = append(equity.Accounts, row)
			equity.Total = equity.Total.Add(row.Balance)
		case ledger.AccountTypeRevenue, ledger.AccountTypeExpense, ledger.AccountTypeCostOfGoods:
			retained = retained.Sub(closing)
		}
	}

	for _, section := range []*BalanceSheetSection{&assets, &liabilities, &equity} {
		accs := section.Accounts
		sort.Slice(accs, func(i, j int) bool { return accs[i].Code < accs[j].Code })
	}

	return BalanceSheet{
		Assets:                    assets,
		Liabilities:               liabilities,
		Equity:                    equity,
		RetainedEarnings:          retained,
		TotalLiabilitiesAndEquity: liabilities.Total.Add(equity.Total).Add(retained),
	}
}
