package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
)

// Tracker applies status changes to stored subscriptions. It is the only
// writer of lifecycle columns.
type Tracker struct {
	subs   service.SubscriptionStore
	alerts service.AlertStore
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker.
func NewTracker(subs service.SubscriptionStore, alerts service.AlertStore, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{subs: subs, alerts: alerts, logger: logger, now: time.Now}
}

// AutoCancel moves an active subscription to cancelled as of at.
func (t *Tracker) AutoCancel(ctx context.Context, sub *model.Subscription, at time.Time) error {
	if err := Transition(sub.Status, model.SubscriptionCancelled, ActorSystem); err != nil {
		return err
	}
	updated := *sub
	updated.Status = model.SubscriptionCancelled
	updated.CancelledAt = &at
	if err := t.save(ctx, &updated); err != nil {
		return err
	}
	*sub = updated
	t.logger.Info("subscription auto-cancelled", "subscription_id", sub.ID, "merchant", sub.Merchant)
	return nil
}

// Resume reactivates a cancelled subscription that charged again. The
// subscription is marked acknowledged as of at so the same run does not also
// flag it as a zombie.
func (t *Tracker) Resume(ctx context.Context, sub *model.Subscription, at time.Time) error {
	if err := Transition(sub.Status, model.SubscriptionActive, ActorSystem); err != nil {
		return err
	}
	updated := *sub
	updated.Status = model.SubscriptionActive
	updated.CancelledAt = nil
	updated.UserAcknowledged = true
	updated.AcknowledgedAt = &at
	if err := t.save(ctx, &updated); err != nil {
		return err
	}
	*sub = updated
	t.logger.Info("subscription resumed", "subscription_id", sub.ID, "merchant", sub.Merchant)
	return nil
}

// Acknowledge records that the user knows about a subscription, restarting
// the staleness window. An open zombie alert for it is dismissed as of the
// acknowledgment so it re-opens only once the acknowledgment goes stale.
func (t *Tracker) Acknowledge(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, err := t.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	now := t.now()
	sub.UserAcknowledged = true
	sub.AcknowledgedAt = &now
	if err := t.save(ctx, sub); err != nil {
		return nil, err
	}
	if err := t.dismissZombie(ctx, id, now); err != nil {
		return nil, err
	}
	return sub, nil
}

func (t *Tracker) dismissZombie(ctx context.Context, id int64, at time.Time) error {
	key := model.DedupKey(model.AlertZombie, model.SubscriptionSubject(id))
	a, err := t.alerts.GetAlertByDedupKey(ctx, key)
	if errors.Is(err, common.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up zombie alert of subscription %d: %w", id, err)
	}
	if a.Status != model.AlertOpen {
		return nil
	}
	a.Status = model.AlertDismissed
	a.DismissedAt = &at
	a.UpdatedAt = at
	if err := t.alerts.UpdateAlert(ctx, a); err != nil {
		return fmt.Errorf("failed to dismiss zombie alert %s: %w", a.ID, err)
	}
	t.logger.Info("zombie alert dismissed on acknowledgment", "subscription_id", id, "alert_id", a.ID)
	return nil
}

// Cancel marks a subscription cancelled on the user's behalf.
func (t *Tracker) Cancel(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, err := t.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Transition(sub.Status, model.SubscriptionCancelled, ActorUser); err != nil {
		return nil, err
	}
	now := t.now()
	sub.Status = model.SubscriptionCancelled
	sub.CancelledAt = &now
	if err := t.save(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Exclude removes a subscription from detection. Its open alerts move to
// excluded and no new findings are emitted until it is unexcluded.
func (t *Tracker) Exclude(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, err := t.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Transition(sub.Status, model.SubscriptionExcluded, ActorUser); err != nil {
		return nil, err
	}
	sub.Status = model.SubscriptionExcluded
	if err := t.save(ctx, sub); err != nil {
		return nil, err
	}

	open, err := t.alerts.ListAlerts(ctx, service.AlertFilter{SubscriptionID: &id, Status: model.AlertOpen})
	if err != nil {
		return nil, fmt.Errorf("failed to list alerts of subscription %d: %w", id, err)
	}
	now := t.now()
	for i := range open {
		open[i].Status = model.AlertExcluded
		open[i].UpdatedAt = now
		if err := t.alerts.UpdateAlert(ctx, &open[i]); err != nil {
			return nil, fmt.Errorf("failed to exclude alert %s: %w", open[i].ID, err)
		}
	}

	t.logger.Info("subscription excluded", "subscription_id", id, "alerts_excluded", len(open))
	return sub, nil
}

// Unexclude returns an excluded subscription to active. Its excluded alerts
// re-open on the next run that still finds their condition.
func (t *Tracker) Unexclude(ctx context.Context, id int64) (*model.Subscription, error) {
	sub, err := t.subs.GetSubscription(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Transition(sub.Status, model.SubscriptionActive, ActorUser); err != nil {
		return nil, err
	}
	sub.Status = model.SubscriptionActive
	sub.CancelledAt = nil
	if err := t.save(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

func (t *Tracker) save(ctx context.Context, sub *model.Subscription) error {
	if err := t.subs.UpdateSubscriptionState(ctx, sub); err != nil {
		return fmt.Errorf("failed to update subscription %d: %w", sub.ID, err)
	}
	return nil
}
