// Package pattern decides whether a transaction series is a recurring
// subscription and keeps the Subscription entity in step with it.
package pattern

import (
	"math"
	"sort"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/money"
	"github.com/shopspring/decimal"
)

// Stats are the regularity measurements of a series of charges.
type Stats struct {
	AmountVariance      decimal.Decimal // max |amount - median| / median
	IntervalConsistency decimal.Decimal // Fraction of gaps near the modal gap
	MedianAmount        decimal.Decimal
	Frequency           model.Frequency // Empty when the cadence fits no period
	Gaps                []int
	Count               int
	ModalGap            int
	MedianGap           float64
}

// frequencyBands bounds the median gap, in days, accepted for each period.
var frequencyBands = map[model.Frequency][2]float64{
	model.FrequencyWeekly:    {4, 11},
	model.FrequencyMonthly:   {20, 45},
	model.FrequencyQuarterly: {60, 120},
	model.FrequencyYearly:    {300, 430},
}

// ComputeStats measures charges, which must be sorted by date.
func ComputeStats(charges []model.Transaction) Stats {
	st := Stats{Count: len(charges)}
	if len(charges) == 0 {
		return st
	}

	amounts := make([]decimal.Decimal, len(charges))
	for i, c := range charges {
		amounts[i] = money.Abs(c.Amount)
	}
	st.MedianAmount = medianDecimal(amounts)
	maxDeviation := decimal.Zero
	for _, a := range amounts {
		if dev := a.Sub(st.MedianAmount).Abs(); dev.GreaterThan(maxDeviation) {
			maxDeviation = dev
		}
	}
	st.AmountVariance = money.Ratio(maxDeviation, st.MedianAmount)

	if len(charges) < 2 {
		return st
	}

	st.Gaps = make([]int, len(charges)-1)
	for i := 1; i < len(charges); i++ {
		st.Gaps[i-1] = DaysBetween(charges[i-1].Date, charges[i].Date)
	}

	st.ModalGap = modalGap(st.Gaps)
	within := 0
	for _, g := range st.Gaps {
		if withinTolerance(g, st.ModalGap) {
			within++
		}
	}
	st.IntervalConsistency = money.Ratio(decimal.NewFromInt(int64(within)), decimal.NewFromInt(int64(len(st.Gaps))))

	st.MedianGap = medianInt(st.Gaps)
	st.Frequency = InferFrequency(st.MedianGap)
	return st
}

// InferFrequency buckets a median gap to the nearest period, preferring the
// shorter period on a tie. Gaps outside that period's band fit nothing.
func InferFrequency(medianGap float64) model.Frequency {
	var (
		best     model.Frequency
		bestDist = math.Inf(1)
	)
	for _, f := range model.Frequencies() {
		dist := math.Abs(medianGap - float64(f.Days()))
		if dist < bestDist {
			best, bestDist = f, dist
		}
	}

	band := frequencyBands[best]
	if medianGap < band[0] || medianGap > band[1] {
		return ""
	}
	return best
}

// tolerance is how far a gap may sit from the modal gap and still count as
// consistent: 15% of the modal gap, never less than two days.
func tolerance(modal int) float64 {
	return math.Max(2, 0.15*float64(modal))
}

func withinTolerance(gap, modal int) bool {
	return math.Abs(float64(gap-modal)) <= tolerance(modal)
}

// modalGap picks the gap with the most other gaps within tolerance of it.
// Ties resolve to the shorter gap.
func modalGap(gaps []int) int {
	sorted := append([]int(nil), gaps...)
	sort.Ints(sorted)

	best, bestCount := sorted[0], -1
	for _, candidate := range sorted {
		count := 0
		for _, g := range gaps {
			if withinTolerance(g, candidate) {
				count++
			}
		}
		if count > bestCount {
			best, bestCount = candidate, count
		}
	}
	return best
}

// DaysBetween counts calendar days from a to b, ignoring time of day.
func DaysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	start := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	end := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(math.Round(end.Sub(start).Hours() / 24))
}

func medianDecimal(values []decimal.Decimal) decimal.Decimal {
	sorted := append([]decimal.Decimal(nil), values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

func medianInt(values []int) float64 {
	sorted := append([]int(nil), values...)
	sort.Ints(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return float64(sorted[mid])
	}
	return float64(sorted[mid-1]+sorted[mid]) / 2
}
