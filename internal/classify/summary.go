package classify

import "github.com/shopspring/decimal"

const (
	StatusSurplus  = "흑자"
	StatusDeficit  = "적자"
	StatusBalanced = "수지균형"
)

type Summary struct {
	TotalIncome  int64   `json:"total_income"`
	TotalExpense int64   `json:"total_expense"`
	Surplus      int64   `json:"surplus"`
	SurplusRatio float64 `json:"surplus_ratio"`
	Status       string  `json:"status"`
}

// Summarize derives the surplus figures. The ratio is the surplus as a
// percentage of income rounded to two decimals, and zero without income.
func Summarize(income, expense *Categorized) Summary {
	var s Summary
	if income != nil {
		s.TotalIncome = income.Total
	}
	if expense != nil {
		s.TotalExpense = expense.Total
	}
	s.Surplus = s.TotalIncome - s.TotalExpense

	if s.TotalIncome > 0 {
		ratio := decimal.NewFromInt(s.Surplus).
			Mul(decimal.NewFromInt(100)).
			Div(decimal.NewFromInt(s.TotalIncome)).
			Round(2)
		s.SurplusRatio = ratio.InexactFloat64()
	}

	switch {
	case s.Surplus > 0:
		s.Status = StatusSurplus
	case s.Surplus < 0:
		s.Status = StatusDeficit
	default:
		s.Status = StatusBalanced
	}
	return s
}

// ChartData is the category breakdown used for visualisation.
type ChartData struct {
	IncomeByCategory      map[string]int64 `json:"income_by_category"`
	ExpenseByMainCategory map[string]int64 `json:"expense_by_main_category"`
	ExpenseDetail         *Categorized     `json:"expense_detail"`
}

// Result is the combined income/expense view of a session.
type Result struct {
	Summary   Summary      `json:"summary"`
	Income    *Categorized `json:"income"`
	Expense   *Categorized `json:"expense"`
	ChartData ChartData    `json:"chart_data"`
	// Moved lists income labels that were reclassified as expense.
	Moved []string `json:"reclassified,omitempty"`
}

// Combine reclassifies, categorizes and summarizes raw income and expense items.
func (c *Classifier) Combine(income, expense map[string]string) *Result {
	income, expense, moved := c.Reclassify(income, expense)
	inc := c.Categorize(KindIncome, income)
	exp := c.Categorize(KindExpense, expense)
	return &Result{
		Summary: Summarize(inc, exp),
		Income:  inc,
		Expense: exp,
		ChartData: ChartData{
			IncomeByCategory:      inc.Subtotals,
			ExpenseByMainCategory: exp.Subtotals,
			ExpenseDetail:         exp,
		},
		Moved: moved,
	}
}
