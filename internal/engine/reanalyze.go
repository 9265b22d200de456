package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/detect"
	"github.com/Veraticus/spice-sentinel/internal/model"
)

// Target names the entity to re-analyze. Exactly one field is set.
type Target struct {
	AlertID        string
	SubscriptionID int64
}

// kindFor maps an alert type to the detector that produces it.
var kindFor = map[model.AlertType]detect.Kind{
	model.AlertZombie:           detect.KindZombie,
	model.AlertPriceIncrease:    detect.KindPriceIncrease,
	model.AlertDuplicate:        detect.KindDuplicate,
	model.AlertAutoCancellation: detect.KindAutoCancel,
	model.AlertResume:           detect.KindResume,
	model.AlertSpendingAnomaly:  detect.KindAnomaly,
	model.AlertTipDiscrepancy:   detect.KindTip,
	model.AlertReconciliation:   detect.KindTip,
}

// subscriptionKinds are the detectors that look at stored subscriptions.
var subscriptionKinds = []detect.Kind{
	detect.KindAutoCancel,
	detect.KindResume,
	detect.KindZombie,
	detect.KindPriceIncrease,
	detect.KindDuplicate,
}

// Reanalyze re-runs the detectors relevant to one alert or subscription with
// the current configuration. Merchant classifications are re-queried from
// the oracle instead of trusting the cache, so a different model or prompt
// takes effect. It returns the alert the re-run produced, or an error
// wrapping common.ErrNoFinding when the condition no longer holds.
func (e *Engine) Reanalyze(ctx context.Context, target Target) (*model.Alert, error) {
	cfg, err := config.Load(ctx, e.store, e.fallback)
	if err != nil {
		return nil, err
	}

	var (
		kinds = make(detect.KindSet)
		sc    = scope{refresh: true}
		asOf  = e.now()
		keep  func(detect.Finding) bool
	)

	switch {
	case target.AlertID != "":
		a, err := e.store.GetAlert(ctx, target.AlertID)
		if err != nil {
			return nil, fmt.Errorf("failed to load alert %s: %w", target.AlertID, err)
		}
		kind, ok := kindFor[a.Type]
		if !ok {
			return nil, fmt.Errorf("alert %s has unknown type %q", a.ID, a.Type)
		}
		kinds[kind] = true
		keep = func(f detect.Finding) bool { return f.DedupKey() == a.DedupKey }

		switch kind {
		case detect.KindTip:
			if a.TransactionID == nil {
				return nil, fmt.Errorf("alert %s has no transaction", a.ID)
			}
			sc.receiptTxnID = *a.TransactionID
		case detect.KindAnomaly:
			end, err := anomalyMonthEnd(a)
			if err != nil {
				return nil, err
			}
			if end.Before(asOf) {
				asOf = end
			}
			sc.accountID, _ = a.Metadata["account_id"].(string)
		default:
			if a.SubscriptionID == nil {
				return nil, fmt.Errorf("alert %s has no subscription", a.ID)
			}
			sub, err := e.store.GetSubscription(ctx, *a.SubscriptionID)
			if err != nil {
				return nil, fmt.Errorf("failed to load subscription %d: %w", *a.SubscriptionID, err)
			}
			sc.accountID = sub.AccountID
			sc.merchantKey = sub.MerchantKey
		}

	case target.SubscriptionID != 0:
		sub, err := e.store.GetSubscription(ctx, target.SubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("failed to load subscription %d: %w", target.SubscriptionID, err)
		}
		for _, k := range subscriptionKinds {
			kinds[k] = true
		}
		sc.accountID = sub.AccountID
		sc.merchantKey = sub.MerchantKey
		keep = func(f detect.Finding) bool { return concerns(f, sub.ID) }

	default:
		return nil, common.NewUserError("reanalyze needs an alert or subscription", nil)
	}

	p := e.newPass(cfg, kinds, asOf, nil)
	common.LogInfo(e.logger, "re-analyzing", common.Fields{
		"run_id":          p.results.RunID,
		"alert_id":        target.AlertID,
		"subscription_id": target.SubscriptionID,
		"kinds":           kinds.Sorted(),
	})

	in, err := p.prepare(ctx, sc)
	if err != nil {
		return nil, err
	}
	p.execute(ctx, in, keep)

	if len(p.results.Failures) > 0 {
		return nil, fmt.Errorf("re-analysis failed: %w", p.results.Failures[0])
	}
	if len(p.results.Warnings) > 0 {
		return nil, fmt.Errorf("re-analysis could not write its alert: %w", p.results.Warnings[0])
	}
	if len(p.emitted) == 0 {
		return nil, fmt.Errorf("nothing to report for %s: %w", describeTarget(target), common.ErrNoFinding)
	}
	return firstByKind(p.emitted), nil
}

// concerns reports whether a finding is about the subscription. Duplicate
// findings name every member in their fingerprint.
func concerns(f detect.Finding, id int64) bool {
	if f.SubscriptionID != nil && *f.SubscriptionID == id {
		return true
	}
	if f.Type == model.AlertDuplicate {
		for _, member := range strings.Split(f.Fingerprint, ",") {
			if member == strconv.FormatInt(id, 10) {
				return true
			}
		}
	}
	return false
}

// firstByKind picks the alert from the earliest detector in run order, so
// results do not depend on goroutine scheduling.
func firstByKind(alerts []*model.Alert) *model.Alert {
	rank := make(map[detect.Kind]int)
	for i, k := range detect.Kinds() {
		rank[k] = i
	}
	best := alerts[0]
	for _, a := range alerts[1:] {
		if rank[kindFor[a.Type]] < rank[kindFor[best.Type]] {
			best = a
		}
	}
	return best
}

func anomalyMonthEnd(a *model.Alert) (time.Time, error) {
	raw, _ := a.Metadata["month"].(string)
	month, err := time.Parse("2006-01", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("alert %s has no usable month: %w", a.ID, err)
	}
	return endOfDay(month.AddDate(0, 1, -1)), nil
}

func describeTarget(t Target) string {
	if t.AlertID != "" {
		return "alert " + t.AlertID
	}
	return fmt.Sprintf("subscription %d", t.SubscriptionID)
}
