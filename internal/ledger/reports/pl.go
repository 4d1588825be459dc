package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/tradewind-erp/tradewind/internal/ledger"
)

// ProfitAndLossAccount represents a revenue or expense account summary.
type ProfitAndLossAccount struct {
	Code   string
	Name   string
	Amount decimal.Decimal
}

// ProfitAndLossSection groups accounts by nature.
type ProfitAndLossSection struct {
	Label    string
	Accounts []ProfitAndLossAccount
	Total    decimal.Decimal
}

// ProfitAndLoss contains the structured output for the report. Cost of goods
// is broken out of other expenses so gross profit is visible.
type ProfitAndLoss struct {
	Revenue     ProfitAndLossSection
	CostOfGoods ProfitAndLossSection
	Expense     ProfitAndLossSection
	GrossProfit decimal.Decimal
	NetIncome   decimal.Decimal
}

// BuildProfitAndLoss aggregates period activity into revenue, cost of goods,
// and expense sections.
func BuildProfitAndLoss(accounts []AccountBalance) ProfitAndLoss {
	revenue := ProfitAndLossSection{Label: "Revenue"}
	cogs := ProfitAndLossSection{Label: "Cost of Goods Sold"}
	expense := ProfitAndLossSection{Label: "Expenses"}

	for _, acc := range accounts {
		net := acc.Debit.Sub(acc.Credit)
		row := ProfitAndLossAccount{Code: acc.Code, Name: acc.Name, Amount: net}
		switch acc.Type {
		case ledger.AccountTypeRevenue:
			row.Amount = net.Neg()
			revenue.Accounts = append(revenue.Accounts, row)
			revenue.Total = revenue.Total.Add(row.Amount)
		case ledger.AccountTypeCostOfGoods:
			cogs.Accounts = append(cogs.Accounts, row)
			cogs.Total = cogs.Total.Add(row.Amount)
		case ledger.AccountTypeExpense:
			expense.Accounts = append(expense.Accounts, row)
			expense.Total = expense.Total.Add(row.Amount)
		}
	}

	for _, section := range []*ProfitAndLossSection{&revenue, &cogs, &expense} {
		accs := section.Accounts
		sort.Slice(accs, func(i, j int) bool { return accs[i].Code < accs[j].Code })
	}

	gross := revenue.Total.Sub(cogs.Total)
	return ProfitAndLoss{
		Revenue:     revenue,
		CostOfGoods: cogs,
		Expense:     expense,
		GrossProfit: gross,
		NetIncome:   gross.Sub(expense.Total),
	}
}
