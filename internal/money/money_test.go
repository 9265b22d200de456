package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want bool
	}{
		{"identical", 14.99, 14.99, true},
		{"one cent up", 14.99, 15.00, true},
		{"one cent down", 15.00, 14.99, true},
		{"two cents", 14.99, 15.01, false},
		{"float noise", 0.1 + 0.2, 0.3, true},
		{"sign matters", -10, 10, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
		})
	}
}

func TestDiff_ExactCents(t *testing.T) {
	d := Diff(57.82, 47.82)
	assert.True(t, d.Equal(decimal.NewFromInt(10)), "got %s", d)
	assert.Equal(t, "$10.00", Format(d))
}

func TestRatio(t *testing.T) {
	assert.True(t, Ratio(decimal.NewFromInt(5), decimal.NewFromInt(100)).Equal(Threshold(0.05)))
	assert.True(t, Ratio(decimal.NewFromInt(7), decimal.NewFromInt(10)).Equal(Threshold(0.70)))
	assert.True(t, Ratio(decimal.NewFromInt(1), decimal.Zero).IsZero())
}

func TestPercentChange(t *testing.T) {
	change := PercentChange(decimal.NewFromInt(480), decimal.NewFromInt(360))
	assert.True(t, change.GreaterThan(Threshold(0.30)))
	assert.True(t, change.LessThan(Threshold(0.34)))
}

func TestSumAndFormat(t *testing.T) {
	assert.Equal(t, "$0.30", Format(Sum(0.1, 0.2)))
	assert.Equal(t, "-$5.25", Format(FromFloat(-5.25)))
	assert.InDelta(t, 44.97, Float(Sum(14.99, 14.99, 14.99)), 0.0001)
}
