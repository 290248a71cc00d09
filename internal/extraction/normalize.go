// Package extraction turns the oracle's freeform "label: amount" answer into
// ordered, deduplicated line items.
package extraction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dvloznov/taxledger/internal/apperr"
)

var (
	// Labels are runs of letters (any script), marks, numbers, underscores and spaces.
	linePattern       = regexp.MustCompile(`([\p{L}\p{M}\p{N}_\s]+)\s*:\s*([\d,]+)`)
	annotationPattern = regexp.MustCompile(`※.*`)
	rulePattern       = regexp.MustCompile(`(?s)---.*`)
)

// AggregateKeywords mark labels that report a total of other lines. An item
// sharing its amount with an accepted item is dropped when either label
// carries one of these.
var AggregateKeywords = []string{"총급여", "총소득", "합계", "총합", "총액"}

// Item is one extracted (label, amount) pair. Amount holds digits only.
type Item struct {
	Field  string
	Amount string
}

// Items preserves first-seen order of labels.
type Items struct {
	list  []Item
	index map[string]int
}

func newItems() *Items {
	return &Items{index: make(map[string]int)}
}

// Len returns the number of distinct labels.
func (it *Items) Len() int { return len(it.list) }

// List returns the items in insertion order.
func (it *Items) List() []Item {
	out := make([]Item, len(it.list))
	copy(out, it.list)
	return out
}

// Map returns label→amount.
func (it *Items) Map() map[string]string {
	out := make(map[string]string, len(it.list))
	for _, i := range it.list {
		out[i.Field] = i.Amount
	}
	return out
}

// Get returns the amount for field.
func (it *Items) Get(field string) (string, bool) {
	i, ok := it.index[field]
	if !ok {
		return "", false
	}
	return it.list[i].Amount, true
}

// set overwrites an existing label in place or appends a new one.
func (it *Items) set(field, amount string) {
	if i, ok := it.index[field]; ok {
		it.list[i].Amount = amount
		return
	}
	it.index[field] = len(it.list)
	it.list = append(it.list, Item{Field: field, Amount: amount})
}

// isDuplicate reports whether (field, amount) restates an accepted item.
// Two unrelated lines that happen to share an amount with an aggregate label
// are also treated as duplicates, which can drop a genuine item.
func (it *Items) isDuplicate(field, amount string) (string, bool) {
	for _, existing := range it.list {
		if existing.Field == field || existing.Amount != amount {
			continue
		}
		if hasAggregateKeyword(field) || hasAggregateKeyword(existing.Field) {
			return existing.Field, true
		}
	}
	return "", false
}

func hasAggregateKeyword(label string) bool {
	for _, k := range AggregateKeywords {
		if strings.Contains(label, k) {
			return true
		}
	}
	return false
}

// Clean strips markdown emphasis, ※ annotations and everything after a ---
// rule from an oracle answer.
func Clean(text string) string {
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "*", "")
	text = annotationPattern.ReplaceAllString(text, "")
	text = rulePattern.ReplaceAllString(text, "")
	return text
}

// Normalize extracts label/amount pairs from text. Commas are stripped from
// amounts and labels are trimmed. A repeated label keeps its first position
// and takes the last amount. Zero matches yields apperr.ErrExtractionEmpty.
func Normalize(text string) (*Items, error) {
	matches := linePattern.FindAllStringSubmatch(text, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("Normalize: %w", apperr.ErrExtractionEmpty)
	}

	items := newItems()
	for _, m := range matches {
		field := strings.TrimSpace(m[1])
		amount := strings.ReplaceAll(m[2], ",", "")
		if field == "" || amount == "" {
			continue
		}
		if _, dup := items.isDuplicate(field, amount); dup {
			continue
		}
		items.set(field, amount)
	}

	if items.Len() == 0 {
		return nil, fmt.Errorf("Normalize: %w", apperr.ErrExtractionEmpty)
	}
	return items, nil
}

// CleanAndNormalize applies Clean then Normalize.
func CleanAndNormalize(text string) (*Items, error) {
	return Normalize(Clean(text))
}

// FromForm normalizes manually entered label→amount pairs the same way oracle
// output is normalized, without deduplication. Entries are processed in the
// order of fields.
func FromForm(fields []string, values map[string]string) (*Items, error) {
	items := newItems()
	for _, f := range fields {
		field := strings.TrimSpace(f)
		amount := strings.TrimSpace(strings.ReplaceAll(values[f], ",", ""))
		if field == "" || amount == "" {
			continue
		}
		items.set(field, amount)
	}
	if items.Len() == 0 {
		return nil, fmt.Errorf("FromForm: %w", apperr.ErrExtractionEmpty)
	}
	return items, nil
}
