package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/money"
	"github.com/shopspring/decimal"
)

// lookbackSlack widens the price lookback so a charge landing a few days
// late still counts as "three months ago".
const lookbackSlack = 7

// highIncrease is the relative increase at which a price alert becomes high
// severity.
var highIncrease = decimal.NewFromFloat(0.20)

// PriceIncrease compares the latest charge of each subscription with the
// charge from the lookback window.
type PriceIncrease struct{}

// Kind implements Detector.
func (PriceIncrease) Kind() Kind { return KindPriceIncrease }

// Detect implements Detector.
func (PriceIncrease) Detect(ctx context.Context, in *Input) ([]Finding, []Failure) {
	c := &collector{kind: KindPriceIncrease}
	subscriptionLoop(ctx, in, c, func(sub *model.Subscription) (*Finding, error) {
		if sub.Status != model.SubscriptionActive || !in.candidate(sub) {
			return nil, nil
		}
		s, ok := in.seriesFor(sub)
		if !ok {
			return nil, nil
		}
		charges := s.Charges()
		if len(charges) < 2 {
			return nil, nil
		}

		latest := charges[len(charges)-1]
		ref, ok := referenceCharge(charges, sub.Frequency, in.Config.PriceLookbackMonths)
		if !ok {
			return nil, nil
		}

		oldAmount := money.Abs(ref.Amount)
		newAmount := money.Abs(latest.Amount)
		increase := newAmount.Sub(oldAmount)
		if increase.LessThanOrEqual(money.Tolerance) {
			return nil, nil
		}
		percent := money.Ratio(increase, oldAmount)
		if !increase.GreaterThan(money.FromFloat(in.Config.PriceIncreaseMinAmount)) ||
			!percent.GreaterThan(money.Threshold(in.Config.PriceIncreasePercent)) {
			return nil, nil
		}

		severity := model.SeverityMedium
		if percent.GreaterThanOrEqual(highIncrease) {
			severity = model.SeverityHigh
		}

		txnID := latest.ID
		return &Finding{
			Type:           model.AlertPriceIncrease,
			Subject:        model.SubscriptionSubject(sub.ID),
			SubscriptionID: subscriptionID(sub),
			TransactionID:  &txnID,
			Severity:       severity,
			Message: fmt.Sprintf("%s increased from %s to %s (+%s%%)",
				sub.Merchant, money.Format(oldAmount), money.Format(newAmount), percent.Shift(2).StringFixed(1)),
			Fingerprint: oldAmount.StringFixed(2) + "->" + newAmount.StringFixed(2),
			Metadata: map[string]any{
				"merchant":       sub.Merchant,
				"old_amount":     money.Float(oldAmount),
				"new_amount":     money.Float(newAmount),
				"increase":       money.Float(increase),
				"percent":        money.Float(percent.Round(4)),
				"reference_date": dateString(ref.Date),
				"charge_date":    dateString(latest.Date),
				"transaction_id": latest.ID,
			},
		}, nil
	})
	return c.results()
}

// referenceCharge picks the most recent charge at least lookbackMonths
// (less the slack) before the latest one. Quarterly and yearly plans with no
// such charge fall back to the previous charge.
func referenceCharge(charges []model.Transaction, freq model.Frequency, lookbackMonths int) (model.Transaction, bool) {
	latest := charges[len(charges)-1]
	cutoff := latest.Date.AddDate(0, -lookbackMonths, lookbackSlack)

	for i := len(charges) - 2; i >= 0; i-- {
		if !charges[i].Date.After(cutoff) {
			return charges[i], true
		}
	}

	if freq == model.FrequencyQuarterly || freq == model.FrequencyYearly {
		return charges[len(charges)-2], true
	}
	return model.Transaction{}, false
}

// monthsBetween counts whole calendar months from a to b.
func monthsBetween(a, b time.Time) int {
	months := (b.Year()-a.Year())*12 + int(b.Month()-a.Month())
	if b.Day() < a.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
