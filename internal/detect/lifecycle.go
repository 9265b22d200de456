package detect

import (
	"context"
	"fmt"

	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/money"
	"github.com/Veraticus/spice-sentinel/internal/pattern"
)

// AutoCancel flags acknowledged subscriptions whose next charge is overdue
// by more than the grace period. The engine cancels them via the lifecycle
// tracker before emitting the alert.
type AutoCancel struct{}

// Kind implements Detector.
func (AutoCancel) Kind() Kind { return KindAutoCancel }

// Detect implements Detector.
func (AutoCancel) Detect(ctx context.Context, in *Input) ([]Finding, []Failure) {
	c := &collector{kind: KindAutoCancel}
	subscriptionLoop(ctx, in, c, func(sub *model.Subscription) (*Finding, error) {
		if sub.Status != model.SubscriptionActive || !sub.UserAcknowledged {
			return nil, nil
		}
		cycle := sub.Frequency.Days()
		if cycle == 0 {
			return nil, fmt.Errorf("subscription %d has unknown frequency %q", sub.ID, sub.Frequency)
		}

		last := sub.LastTransactionDate
		if s, ok := in.seriesFor(sub); ok {
			if charge, ok := s.LastCharge(); ok && charge.Date.After(last) {
				last = charge.Date
			}
		}
		if last.IsZero() {
			return nil, nil
		}

		grace := in.Config.GraceDays(sub.Frequency)
		elapsed := pattern.DaysBetween(last, in.AsOf)
		if elapsed < cycle+grace {
			return nil, nil
		}

		expected := last.AddDate(0, 0, cycle)
		return &Finding{
			Type:           model.AlertAutoCancellation,
			Subject:        model.SubscriptionSubject(sub.ID),
			SubscriptionID: subscriptionID(sub),
			Severity:       model.SeverityLow,
			Message: fmt.Sprintf("%s appears cancelled: no %s charge since %s (%d days)",
				sub.Merchant, sub.Frequency, dateString(last), elapsed),
			Fingerprint: dateString(last),
			At:          in.AsOf,
			Metadata: map[string]any{
				"merchant":     sub.Merchant,
				"last_charge":  dateString(last),
				"expected_by":  dateString(expected),
				"grace_days":   grace,
				"days_since":   elapsed,
				"amount":       sub.Amount,
				"frequency":    string(sub.Frequency),
				"cancelled_at": dateString(in.AsOf),
			},
		}, nil
	})
	return c.results()
}

// Resume flags cancelled subscriptions that charged again after their
// cancellation. The engine reactivates them before emitting the alert.
type Resume struct{}

// Kind implements Detector.
func (Resume) Kind() Kind { return KindResume }

// Detect implements Detector.
func (Resume) Detect(ctx context.Context, in *Input) ([]Finding, []Failure) {
	c := &collector{kind: KindResume}
	subscriptionLoop(ctx, in, c, func(sub *model.Subscription) (*Finding, error) {
		if sub.Status != model.SubscriptionCancelled {
			return nil, nil
		}
		s, ok := in.seriesFor(sub)
		if !ok {
			return nil, nil
		}

		since := sub.LastTransactionDate
		if sub.CancelledAt != nil {
			since = *sub.CancelledAt
		}
		after := s.ChargesAfter(since)
		if len(after) == 0 {
			return nil, nil
		}
		charge := after[len(after)-1]
		amount := money.Abs(charge.Amount)

		txnID := charge.ID
		return &Finding{
			Type:           model.AlertResume,
			Subject:        model.SubscriptionSubject(sub.ID),
			SubscriptionID: subscriptionID(sub),
			TransactionID:  &txnID,
			Severity:       model.SeverityMedium,
			Message: fmt.Sprintf("%s charged %s on %s after being cancelled",
				sub.Merchant, money.Format(amount), dateString(charge.Date)),
			Fingerprint: charge.ID,
			At:          in.AsOf,
			Metadata: map[string]any{
				"merchant":       sub.Merchant,
				"cancelled_at":   dateString(since),
				"resumed_on":     dateString(charge.Date),
				"amount":         money.Float(amount),
				"transaction_id": charge.ID,
				"new_charges":    len(after),
			},
		}, nil
	})
	return c.results()
}
