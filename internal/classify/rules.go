// Package classify holds the keyword rule tables that route document types,
// move deduction-like income items into expense and bucket labels into
// categories.
package classify

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule matches a label containing any keyword and none of the exclusions.
type Rule struct {
	Name       string   `yaml:"name"`
	Keywords   []string `yaml:"keywords"`
	Exclusions []string `yaml:"exclusions"`
}

// Matches reports whether label satisfies the rule.
func (r Rule) Matches(label string) bool {
	if !containsAny(label, r.Keywords) {
		return false
	}
	return !containsAny(label, r.Exclusions)
}

// Taxonomy is an ordered category list plus the bucket for unmatched labels.
type Taxonomy struct {
	Other      string `yaml:"other"`
	Categories []Rule `yaml:"categories"`
}

// Category returns the first category whose rule matches label, or Other.
func (t Taxonomy) Category(label string) string {
	for _, c := range t.Categories {
		if c.Matches(label) {
			return c.Name
		}
	}
	return t.Other
}

type DocumentTypes struct {
	Income  []string `yaml:"income"`
	Expense []string `yaml:"expense"`
}

type Rules struct {
	DocumentTypes DocumentTypes `yaml:"document_types"`
	Reclassify    []Rule        `yaml:"reclassify"`
	Income        Taxonomy      `yaml:"income"`
	Expense       Taxonomy      `yaml:"expense"`
}

// DefaultRules returns the built-in tables.
func DefaultRules() (*Rules, error) {
	return ParseRules(defaultRules)
}

// LoadRules reads tables from a YAML file. An empty path selects the defaults.
func LoadRules(path string) (*Rules, error) {
	if path == "" {
		return DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadRules: read %s: %w", path, err)
	}
	return ParseRules(data)
}

func ParseRules(data []byte) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("ParseRules: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, fmt.Errorf("ParseRules: %w", err)
	}
	return &r, nil
}

func (r *Rules) validate() error {
	if len(r.DocumentTypes.Income) == 0 || len(r.DocumentTypes.Expense) == 0 {
		return fmt.Errorf("document_types needs income and expense keywords")
	}
	for _, rule := range r.Reclassify {
		if len(rule.Keywords) == 0 {
			return fmt.Errorf("reclassify rule %q has no keywords", rule.Name)
		}
	}
	if r.Income.Other == "" {
		r.Income.Other = "기타"
	}
	if r.Expense.Other == "" {
		r.Expense.Other = "기타"
	}
	return nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if sub != "" && strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
