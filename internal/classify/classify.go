package classify

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/taxledger/internal/apperr"
)

// JSON keys of a Categorized view.
const (
	SubtotalsKey = "카테고리별 합계"
	DetailsKey   = "항목"
)

// Kind is the side of the ledger a document type feeds.
type Kind int

const (
	KindOther Kind = iota
	KindIncome
	KindExpense
)

func (k Kind) String() string {
	switch k {
	case KindIncome:
		return "income"
	case KindExpense:
		return "expense"
	default:
		return "other"
	}
}

// TotalKey is the human-readable grand total key.
func (k Kind) TotalKey() string {
	switch k {
	case KindIncome:
		return "총소득"
	case KindExpense:
		return "총지출"
	default:
		return "합계"
	}
}

// TotalAlias is the machine-readable grand total key.
func (k Kind) TotalAlias() string {
	switch k {
	case KindIncome:
		return "total_income"
	case KindExpense:
		return "total_expense"
	default:
		return "total"
	}
}

// Classifier applies a fixed rule set. It is immutable and safe for
// concurrent use.
type Classifier struct {
	rules *Rules
}

func New(rules *Rules) *Classifier {
	return &Classifier{rules: rules}
}

// Kind routes a free-text document type. Income keywords are checked first.
func (c *Classifier) Kind(documentType string) Kind {
	lower := strings.ToLower(documentType)
	if containsAny(documentType, c.rules.DocumentTypes.Income) || containsAny(lower, c.rules.DocumentTypes.Income) {
		return KindIncome
	}
	if containsAny(documentType, c.rules.DocumentTypes.Expense) || containsAny(lower, c.rules.DocumentTypes.Expense) {
		return KindExpense
	}
	return KindOther
}

// IsIncome and IsExpense adapt Kind to predicate form.
func (c *Classifier) IsIncome(documentType string) bool  { return c.Kind(documentType) == KindIncome }
func (c *Classifier) IsExpense(documentType string) bool { return c.Kind(documentType) == KindExpense }

// Reclassify moves income items matching a reclassify rule into expense.
// Inputs are not modified. Running it again on its own output moves nothing.
func (c *Classifier) Reclassify(income, expense map[string]string) (outIncome, outExpense map[string]string, moved []string) {
	outIncome = make(map[string]string, len(income))
	outExpense = make(map[string]string, len(expense))
	for k, v := range expense {
		outExpense[k] = v
	}

	for field, amount := range income {
		if c.shouldMove(field) {
			outExpense[field] = amount
			moved = append(moved, field)
			continue
		}
		outIncome[field] = amount
	}
	sort.Strings(moved)
	return outIncome, outExpense, moved
}

func (c *Classifier) shouldMove(field string) bool {
	for _, r := range c.rules.Reclassify {
		if r.Matches(field) {
			return true
		}
	}
	return false
}

// Unparsed records an item whose amount could not be coerced to an integer.
type Unparsed struct {
	Field  string `json:"field"`
	Amount string `json:"amount"`
	Error  string `json:"error"`
}

// Categorized is the per-category view of one side of the ledger.
type Categorized struct {
	Kind Kind
	// Subtotals maps category to the sum of its parsed amounts.
	Subtotals map[string]int64
	// Details maps category to field→amount.
	Details  map[string]map[string]int64
	Total    int64
	Unparsed []Unparsed
}

// MarshalJSON exposes the total under both the human-readable key and the
// machine alias.
func (c *Categorized) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		SubtotalsKey: c.Subtotals,
		DetailsKey:   c.Details,
	}
	out[c.Kind.TotalKey()] = c.Total
	out[c.Kind.TotalAlias()] = c.Total
	if len(c.Unparsed) > 0 {
		out["unparsed"] = c.Unparsed
	}
	return json.Marshal(out)
}

// Categorize buckets items by the taxonomy for kind. Amounts that do not parse
// as integers are left out of the total and listed in Unparsed.
func (c *Classifier) Categorize(kind Kind, items map[string]string) *Categorized {
	tax := c.taxonomy(kind)
	out := &Categorized{
		Kind:      kind,
		Subtotals: make(map[string]int64),
		Details:   make(map[string]map[string]int64),
	}

	fields := make([]string, 0, len(items))
	for f := range items {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	for _, field := range fields {
		raw := items[field]
		amount, err := ParseAmount(raw)
		if err != nil {
			out.Unparsed = append(out.Unparsed, Unparsed{Field: field, Amount: raw, Error: err.Error()})
			continue
		}
		cat := tax.Category(field)
		if out.Details[cat] == nil {
			out.Details[cat] = make(map[string]int64)
		}
		out.Details[cat][field] = amount
		out.Subtotals[cat] += amount
		out.Total += amount
	}
	return out
}

func (c *Classifier) taxonomy(kind Kind) Taxonomy {
	if kind == KindExpense {
		return c.rules.Expense
	}
	if kind == KindIncome {
		return c.rules.Income
	}
	return Taxonomy{Other: "기타"}
}

// ParseAmount coerces a stored amount to an integer. Grouping commas are
// tolerated; fractions are rejected.
func ParseAmount(s string) (int64, error) {
	clean := strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", apperr.ErrMalformedAmount, s)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%w: %q is not an integer", apperr.ErrMalformedAmount, s)
	}
	if !d.Equal(decimal.NewFromInt(d.IntPart())) {
		return 0, fmt.Errorf("%w: %q overflows", apperr.ErrMalformedAmount, s)
	}
	return d.IntPart(), nil
}
