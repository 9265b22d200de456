package pattern

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/spice-sentinel/internal/classification"
	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/money"
	"github.com/Veraticus/spice-sentinel/internal/series"
	"github.com/Veraticus/spice-sentinel/internal/service"
)

// Thresholds are the acceptance limits of one profile.
type Thresholds struct {
	MinTransactions     int
	AmountVariance      float64
	IntervalConsistency float64
}

// ThresholdsFor returns the limits of profile p.
func ThresholdsFor(p model.Profile, cfg config.Detection) Thresholds {
	if p == model.ProfileSmart {
		return Thresholds{
			MinTransactions:     cfg.SmartMinTransactions,
			AmountVariance:      cfg.SmartAmountVariance,
			IntervalConsistency: cfg.SmartIntervalConsistency,
		}
	}
	return Thresholds{
		MinTransactions:     cfg.StrictMinTransactions,
		AmountVariance:      cfg.StrictAmountVariance,
		IntervalConsistency: cfg.StrictIntervalConsistency,
	}
}

// Accepts reports whether st satisfies t. Both ratio limits are inclusive.
func (t Thresholds) Accepts(st Stats) bool {
	if st.Count < t.MinTransactions || st.Frequency == "" {
		return false
	}
	if st.AmountVariance.GreaterThan(money.Threshold(t.AmountVariance)) {
		return false
	}
	return st.IntervalConsistency.GreaterThanOrEqual(money.Threshold(t.IntervalConsistency))
}

// Result is the matcher's verdict on one series.
type Result struct {
	Reason    error // Why the series is not recurring; nil when it is
	Profile   model.Profile
	Stats     Stats
	Recurring bool
}

// Matcher fits series against the strict and smart profiles.
type Matcher struct {
	store  service.SubscriptionStore
	logger *slog.Logger
	cfg    config.Detection
}

// NewMatcher creates a matcher that persists subscriptions to store.
func NewMatcher(store service.SubscriptionStore, cfg config.Detection, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Matcher{store: store, cfg: cfg, logger: logger}
}

// Evaluate decides whether s is recurring. Strict is always tried first;
// smart only when the classification decision allows it. The profile that
// accepted the series is recorded.
func (m *Matcher) Evaluate(s *series.Series, decision classification.Decision) Result {
	if !decision.Candidate {
		return Result{Reason: fmt.Errorf("%s classified as retail", s.Key)}
	}
	if s.Insufficient {
		return Result{Reason: fmt.Errorf("%s: %w", s.Key, common.ErrSeriesInsufficientData)}
	}

	st := ComputeStats(s.Charges())

	profiles := []model.Profile{model.ProfileStrict}
	if decision.Profile == model.ProfileSmart {
		profiles = append(profiles, model.ProfileSmart)
	}

	for _, p := range profiles {
		if ThresholdsFor(p, m.cfg).Accepts(st) {
			return Result{Recurring: true, Profile: p, Stats: st}
		}
	}

	return Result{
		Stats: st,
		Reason: fmt.Errorf("%s not recurring: %d charges, variance %s, consistency %s, median gap %.1fd",
			s.Key, st.Count, st.AmountVariance.StringFixed(4), st.IntervalConsistency.StringFixed(4), st.MedianGap),
	}
}

// Upsert creates or refreshes the Subscription for a recurring series.
// Lifecycle fields of an existing subscription are preserved.
func (m *Matcher) Upsert(ctx context.Context, s *series.Series, r Result) (*model.Subscription, error) {
	if !r.Recurring {
		return nil, fmt.Errorf("series %s is not recurring", s.Key)
	}

	last, ok := s.LastCharge()
	if !ok {
		return nil, fmt.Errorf("%s: %w", s.Key, common.ErrSeriesInsufficientData)
	}

	sub := &model.Subscription{
		AccountID:           s.Key.AccountID,
		Merchant:            s.Name,
		MerchantKey:         s.Key.Merchant,
		Amount:              money.Float(money.Abs(last.Amount)),
		Frequency:           r.Stats.Frequency,
		Profile:             r.Profile,
		TransactionCount:    r.Stats.Count,
		LastTransactionDate: last.Date,
	}
	if err := m.store.UpsertSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to upsert subscription for %s: %w", s.Key, err)
	}

	m.logger.Debug("subscription matched",
		"subscription_id", sub.ID,
		"merchant", sub.Merchant,
		"frequency", sub.Frequency,
		"profile", sub.Profile,
		"amount", sub.Amount)
	return sub, nil
}
