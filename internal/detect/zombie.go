package detect

import (
	"context"
	"fmt"

	"github.com/Veraticus/spice-sentinel/internal/lifecycle"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/money"
)

// zombieFingerprint is constant: a zombie alert only re-opens after
// dismissal through acknowledgment staleness.
const zombieFingerprint = "unacknowledged"

// Zombie flags active subscriptions that have been charging for months
// without a current acknowledgment.
type Zombie struct{}

// Kind implements Detector.
func (Zombie) Kind() Kind { return KindZombie }

// Detect implements Detector.
func (Zombie) Detect(ctx context.Context, in *Input) ([]Finding, []Failure) {
	c := &collector{kind: KindZombie}
	subscriptionLoop(ctx, in, c, func(sub *model.Subscription) (*Finding, error) {
		if sub.Status != model.SubscriptionActive || !in.candidate(sub) {
			return nil, nil
		}
		if lifecycle.EffectiveAcknowledged(sub, in.AsOf, in.Config) {
			return nil, nil
		}

		first := sub.DetectedAt
		if s, ok := in.seriesFor(sub); ok {
			if charges := s.Charges(); len(charges) > 0 && (first.IsZero() || charges[0].Date.Before(first)) {
				first = charges[0].Date
			}
		}
		if first.IsZero() || first.After(in.AsOf.AddDate(0, -in.Config.ZombieMinMonths, 0)) {
			return nil, nil
		}

		months := monthsBetween(first, in.AsOf)
		stale := lifecycle.IsStale(sub, in.AsOf, in.Config)
		amount := money.FromFloat(sub.Amount)

		message := fmt.Sprintf("%s has charged %s %s for %d months without acknowledgment",
			sub.Merchant, money.Format(amount), sub.Frequency, months)
		if stale {
			message = fmt.Sprintf("%s has charged %s %s; last acknowledged %s",
				sub.Merchant, money.Format(amount), sub.Frequency, dateString(*sub.AcknowledgedAt))
		}

		severity := model.SeverityMedium
		if months >= 12 {
			severity = model.SeverityHigh
		}

		metadata := map[string]any{
			"merchant":      sub.Merchant,
			"amount":        money.Float(amount),
			"frequency":     string(sub.Frequency),
			"first_charge":  dateString(first),
			"last_charge":   dateString(sub.LastTransactionDate),
			"months_active": months,
			"stale":         stale,
		}
		if sub.AcknowledgedAt != nil {
			metadata["acknowledged_at"] = dateString(*sub.AcknowledgedAt)
		}

		return &Finding{
			Type:           model.AlertZombie,
			Subject:        model.SubscriptionSubject(sub.ID),
			SubscriptionID: subscriptionID(sub),
			Severity:       severity,
			Message:        message,
			Fingerprint:    zombieFingerprint,
			Metadata:       metadata,
		}, nil
	})
	return c.results()
}
