// Package lifecycle owns the subscription status machine and the rules that
// decide when a dismissed alert may re-open. Everything except Tracker is a
// pure function of its arguments.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/pattern"
)

// Actor is who requested a status change.
type Actor string

// Actor constants.
const (
	ActorSystem Actor = "system" // Auto-cancellation and resume detection
	ActorUser   Actor = "user"
)

type edge struct {
	from, to model.SubscriptionStatus
}

// transitions maps each legal edge to the actors allowed to take it.
var transitions = map[edge][]Actor{
	{model.SubscriptionActive, model.SubscriptionCancelled}:   {ActorSystem, ActorUser},
	{model.SubscriptionCancelled, model.SubscriptionActive}:   {ActorSystem, ActorUser},
	{model.SubscriptionActive, model.SubscriptionExcluded}:    {ActorUser},
	{model.SubscriptionCancelled, model.SubscriptionExcluded}: {ActorUser},
	{model.SubscriptionExcluded, model.SubscriptionActive}:    {ActorUser},
}

// Transition validates a status change requested by actor.
func Transition(from, to model.SubscriptionStatus, actor Actor) error {
	allowed, ok := transitions[edge{from, to}]
	if !ok {
		return fmt.Errorf("%w: %s -> %s", common.ErrInvalidTransition, from, to)
	}
	for _, a := range allowed {
		if a == actor {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s requires a user action", common.ErrInvalidTransition, from, to)
}

// IsStale reports whether an acknowledgment is more than
// AcknowledgmentStaleDays calendar days old. Acknowledgments without a
// timestamp are never stale.
func IsStale(sub *model.Subscription, now time.Time, cfg config.Detection) bool {
	if !sub.UserAcknowledged || sub.AcknowledgedAt == nil {
		return false
	}
	return pattern.DaysBetween(*sub.AcknowledgedAt, now) > cfg.AcknowledgmentStaleDays
}

// StaleFrom is the first instant at which IsStale holds for ack: the start of
// the day after the window ends.
func StaleFrom(ack time.Time, cfg config.Detection) time.Time {
	y, m, d := ack.Date()
	return time.Date(y, m, d+cfg.AcknowledgmentStaleDays+1, 0, 0, 0, 0, ack.Location())
}

// EffectiveAcknowledged is the acknowledgment the detectors see for this run.
// Stored state is not changed.
func EffectiveAcknowledged(sub *model.Subscription, now time.Time, cfg config.Detection) bool {
	return sub.UserAcknowledged && !IsStale(sub, now, cfg)
}

// EligibleToReopen decides whether a closed alert should re-open for a new
// finding with the given fingerprint. sub may be nil for alerts that are not
// subscription scoped.
//
// Dismissed alerts re-open when the finding's fingerprint differs from the
// one stored on the alert, or when a zombie alert's subscription
// acknowledgment went stale after the alert was dismissed. Excluded alerts
// re-open once their subscription is no longer excluded.
func EligibleToReopen(alert *model.Alert, sub *model.Subscription, fingerprint string, now time.Time, cfg config.Detection) bool {
	if sub != nil && sub.Status == model.SubscriptionExcluded {
		return false
	}

	switch alert.Status {
	case model.AlertExcluded:
		return true
	case model.AlertDismissed:
		if fingerprint != alert.Fingerprint {
			return true
		}
		if alert.Type != model.AlertZombie || sub == nil || !IsStale(sub, now, cfg) {
			return false
		}
		staleAt := StaleFrom(*sub.AcknowledgedAt, cfg)
		return alert.DismissedAt == nil || alert.DismissedAt.Before(staleAt)
	default:
		return false
	}
}
