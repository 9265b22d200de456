package detect

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/money"
	"github.com/shopspring/decimal"
)

// Anomaly compares each account's category spending in a month with the
// average of the months before it. It works from raw transactions and does
// not depend on subscription detection.
//
// A month still in progress is only checked for increases: its partial total
// would read as a drop against any full-month baseline. Decreases are judged
// once a month is complete, which is the month before AsOf unless AsOf is the
// last day of its month.
type Anomaly struct{}

// Kind implements Detector.
func (Anomaly) Kind() Kind { return KindAnomaly }

type spendKey struct {
	account  string
	category string
}

// Detect implements Detector.
func (Anomaly) Detect(ctx context.Context, in *Input) ([]Finding, []Failure) {
	c := &collector{kind: KindAnomaly}

	baselineMonths := in.Config.AnomalyBaselineMonths
	current := monthStart(in.AsOf)
	earliest := current.AddDate(0, -(baselineMonths + 1), 0)

	// spend[key][i]: i == 0 is the current month, i months back otherwise.
	spend := make(map[spendKey][]decimal.Decimal)
	for _, txn := range in.Transactions {
		if !txn.IsDebit() || txn.Category == "" || txn.Date.Before(earliest) || txn.Date.After(in.AsOf) {
			continue
		}
		idx := monthsBetween(monthStart(txn.Date), current)
		if idx > baselineMonths+1 {
			continue
		}
		key := spendKey{account: txn.AccountID, category: txn.Category}
		buckets, ok := spend[key]
		if !ok {
			buckets = make([]decimal.Decimal, baselineMonths+2)
			spend[key] = buckets
		}
		buckets[idx] = buckets[idx].Add(money.Abs(txn.Amount))
	}

	keys := make([]spendKey, 0, len(spend))
	for key := range spend {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].account != keys[j].account {
			return keys[i].account < keys[j].account
		}
		return keys[i].category < keys[j].category
	})

	complete := monthComplete(in.AsOf)
	for _, key := range keys {
		if ctx.Err() != nil {
			c.failures = append(c.failures, Failure{Kind: KindAnomaly, Subject: "run", Err: ctx.Err()})
			break
		}
		months := spend[key]

		checks := []anomalyCheck{{offset: 0, increase: true, decrease: complete}}
		if !complete {
			checks = append(checks, anomalyCheck{offset: 1, decrease: true})
		}
		for _, check := range checks {
			month := current.AddDate(0, -check.offset, 0).Format("2006-01")
			subject := fmt.Sprintf("cat:%s:%s:%s", key.account, key.category, month)
			window := months[check.offset : check.offset+baselineMonths+1]
			c.evaluate(subject, func() (*Finding, error) {
				return anomalyFinding(key, month, subject, window, check, in)
			})
		}
	}

	return c.results()
}

// anomalyCheck selects the month to judge, as an offset back from AsOf's
// month, and the directions that may fire for it.
type anomalyCheck struct {
	offset   int
	increase bool
	decrease bool
}

func anomalyFinding(key spendKey, month, subject string, months []decimal.Decimal, check anomalyCheck, in *Input) (*Finding, error) {
	baselineMonths := len(months) - 1
	if baselineMonths <= 0 {
		return nil, fmt.Errorf("anomaly baseline needs at least one month, got %d", baselineMonths)
	}

	total := decimal.Zero
	for _, m := range months[1:] {
		total = total.Add(m)
	}
	baseline := total.DivRound(decimal.NewFromInt(int64(baselineMonths)), 2)
	if baseline.LessThan(money.FromFloat(in.Config.AnomalyMinBaseline)) || baseline.IsZero() {
		return nil, nil
	}

	currentSpend := months[0]
	change := money.PercentChange(currentSpend, baseline)

	var direction string
	switch {
	case check.increase && change.GreaterThan(money.Threshold(in.Config.AnomalyIncreasePercent)):
		direction = "increase"
	case check.decrease && change.Neg().GreaterThan(money.Threshold(in.Config.AnomalyDecreasePercent)):
		direction = "decrease"
	default:
		return nil, nil
	}

	severity := model.SeverityMedium
	if change.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		severity = model.SeverityHigh
	} else if direction == "decrease" {
		severity = model.SeverityLow
	}

	return &Finding{
		Type:     model.AlertSpendingAnomaly,
		Subject:  subject,
		Severity: severity,
		Message: fmt.Sprintf("%s spending in %s is %s against a %d-month average of %s (%s%s%%)",
			key.category, month, money.Format(currentSpend), baselineMonths, money.Format(baseline),
			sign(change), change.Shift(2).StringFixed(1)),
		Fingerprint: direction,
		Metadata: map[string]any{
			"account_id":      key.account,
			"category":        key.category,
			"month":           month,
			"current":         money.Float(currentSpend),
			"baseline":        money.Float(baseline),
			"baseline_months": baselineMonths,
			"percent_change":  money.Float(change.Round(4)),
			"direction":       direction,
		},
	}, nil
}

func monthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// monthComplete reports whether t falls on the last day of its month.
func monthComplete(t time.Time) bool {
	return t.AddDate(0, 0, 1).Month() != t.Month()
}

func sign(d decimal.Decimal) string {
	if d.IsPositive() {
		return "+"
	}
	return ""
}
