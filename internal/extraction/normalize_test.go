package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/taxledger/internal/apperr"
)

func TestClean(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "bold and italic", in: "**급여**: 3000000\n*상여*: 1", want: "급여: 3000000\n상여: 1"},
		{name: "annotation", in: "급여: 3000000 ※ 세전 금액\n상여: 1", want: "급여: 3000000 \n상여: 1"},
		{name: "rule drops the tail", in: "급여: 1\n---\n참고: 999\n합계: 1", want: "급여: 1\n"},
		{name: "untouched", in: "식대: 200000", want: "식대: 200000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Clean(tt.in))
		})
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []Item
	}{
		{
			name: "one per line with separators",
			in:   "급여: 3,000,000\n식대: 200,000\n상여: 500000",
			want: []Item{{"급여", "3000000"}, {"식대", "200000"}, {"상여", "500000"}},
		},
		{
			name: "inline pairs",
			in:   "급여: 1000, 상여: 2000",
			want: []Item{{"급여", "1000"}, {"상여", "2000"}},
		},
		{
			name: "ascii labels",
			in:   "salary: 1000\nbonus : 20",
			want: []Item{{"salary", "1000"}, {"bonus", "20"}},
		},
		{
			name: "hanja label",
			in:   "本俸: 3,000,000",
			want: []Item{{"本俸", "3000000"}},
		},
		{
			name: "accented latin labels",
			in:   "Prämie: 100\nCafé: 200",
			want: []Item{{"Prämie", "100"}, {"Café", "200"}},
		},
		{
			name: "mixed script label with digits",
			in:   "2024년 賞与_bonus: 50",
			want: []Item{{"2024년 賞与_bonus", "50"}},
		},
		{
			name: "repeated label keeps first position and last amount",
			in:   "급여: 1000\n상여: 2000\n급여: 1500",
			want: []Item{{"급여", "1500"}, {"상여", "2000"}},
		},
		{
			name: "aggregate after detail is dropped",
			in:   "급여: 3000000\n총급여: 3000000",
			want: []Item{{"급여", "3000000"}},
		},
		{
			name: "detail after aggregate is dropped",
			in:   "총급여: 3000000\n급여: 3000000\n상여: 500000",
			want: []Item{{"총급여", "3000000"}, {"상여", "500000"}},
		},
		{
			name: "same amount without aggregate keyword is kept",
			in:   "식대: 200000\n교통비: 200000",
			want: []Item{{"식대", "200000"}, {"교통비", "200000"}},
		},
		{
			name: "unrelated item sharing an aggregate amount is dropped",
			in:   "합계: 500000\n상여: 500000",
			want: []Item{{"합계", "500000"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, err := Normalize(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, items.List())
		})
	}
}

func TestNormalize_DedupLaw(t *testing.T) {
	for _, keyword := range AggregateKeywords {
		t.Run(keyword, func(t *testing.T) {
			items, err := Normalize("A: 1000\n" + keyword + "A: 1000")
			require.NoError(t, err)
			assert.Equal(t, 1, items.Len())
		})
	}
}

func TestNormalize_LabelsAreUnique(t *testing.T) {
	in := "급여: 1\n급여: 2\n 급여 : 3\n상여: 4\n상여: 5"
	items, err := Normalize(in)
	require.NoError(t, err)

	seen := map[string]bool{}
	for _, it := range items.List() {
		assert.False(t, seen[it.Field], "label %q emitted twice", it.Field)
		seen[it.Field] = true
	}
	assert.Equal(t, map[string]string{"급여": "3", "상여": "5"}, items.Map())
}

func TestNormalize_Empty(t *testing.T) {
	for _, in := range []string{"", "no amounts here", "급여: 없음"} {
		_, err := Normalize(in)
		assert.ErrorIs(t, err, apperr.ErrExtractionEmpty, "input %q", in)
	}
}

func TestCleanAndNormalize(t *testing.T) {
	answer := "**급여**: 3,000,000\n※ 참고용\n식대: 200,000\n---\n메모: 1"
	items, err := CleanAndNormalize(answer)
	require.NoError(t, err)

	amount, ok := items.Get("급여")
	assert.True(t, ok)
	assert.Equal(t, "3000000", amount)
	assert.Equal(t, 2, items.Len())
}

func TestFromForm(t *testing.T) {
	items, err := FromForm(
		[]string{"급여", " 식대 ", "빈칸"},
		map[string]string{"급여": "3,000,000", " 식대 ": " 200000 ", "빈칸": ""},
	)
	require.NoError(t, err)
	assert.Equal(t, []Item{{"급여", "3000000"}, {"식대", "200000"}}, items.List())

	_, err = FromForm(nil, nil)
	assert.ErrorIs(t, err, apperr.ErrExtractionEmpty)
}
