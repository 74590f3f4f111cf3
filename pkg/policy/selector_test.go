package policy

import (
	"strconv"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestExpandRange(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "mixed literals and range",
			raw:  "104,204,311-318",
			want: []string{"104", "204", "311", "312", "313", "314", "315", "316", "317", "318"},
		},
		{
			name: "single literal",
			raw:  "42",
			want: []string{"42"},
		},
		{
			name: "non-numeric range segments are skipped without throwing",
			raw:  "1/1-1/4",
			want: nil,
		},
		{
			name: "malformed token skipped, rest kept",
			raw:  "10,abc-def,20-22",
			want: []string{"10", "20", "21", "22"},
		},
		{
			name: "reversed range expands to nothing",
			raw:  "9-5",
			want: nil,
		},
		{
			name: "whitespace and empty tokens ignored",
			raw:  " 1 , ,2-3 ",
			want: []string{"1", "2", "3"},
		},
		{
			name: "empty input",
			raw:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExpandRange(tt.raw))
		})
	}
}

func TestExpandRange_PropertyInclusiveCount(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("a-b expands to b-a+1 ordered entries", prop.ForAll(
		func(lo, span int) bool {
			hi := lo + span
			got := ExpandRange(strconv.Itoa(lo) + "-" + strconv.Itoa(hi))
			if len(got) != span+1 {
				return false
			}
			for i, v := range got {
				if v != strconv.Itoa(lo+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 5000),
		gen.IntRange(0, 200),
	))

	properties.Property("arbitrary input never panics", prop.ForAll(
		func(raw string) bool {
			_ = ExpandRange(raw)
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestTargetCount(t *testing.T) {
	assert.Equal(t, 2, TargetCount(Selector{Mode: SelectorList, Value: "vm-1, vm-2"}))
	assert.Equal(t, 10, TargetCount(Selector{Mode: SelectorRange, Value: "104,204,311-318"}))
	assert.Equal(t, -1, TargetCount(Selector{Mode: SelectorQuery, Value: "tag:critical"}))
	assert.Equal(t, 0, TargetCount(Selector{Mode: SelectorList, Value: ""}))
}
