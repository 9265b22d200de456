// Package classification decides whether merchants are subscription-like
// and assigns them to duplicate-detection buckets.
package classification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/llm"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/series"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"golang.org/x/sync/errgroup"
)

// Verdict is the closed set of classification outcomes:
// Subscription, Retail or Unavailable.
type Verdict interface {
	isVerdict()
}

// Subscription means the merchant bills on a recurring plan.
type Subscription struct {
	Confidence float64
}

// Retail means the merchant sells one-off purchases.
type Retail struct {
	Confidence float64
}

// Unavailable means no classification could be obtained.
type Unavailable struct {
	Reason error
}

func (Subscription) isVerdict() {}
func (Retail) isVerdict()       {}
func (Unavailable) isVerdict()  {}

// Decision is the gate's output for one merchant.
type Decision struct {
	Verdict Verdict
	Source  model.ClassificationSource // Empty when Unavailable
	Profile model.Profile
	// Candidate is false for confidently retail merchants, which are
	// removed from subscription detection.
	Candidate bool
}

// Decide maps a verdict to a threshold profile and candidacy.
func Decide(v Verdict, source model.ClassificationSource, cfg config.Detection) Decision {
	d := Decision{Verdict: v, Source: source, Profile: model.ProfileStrict, Candidate: true}

	switch verdict := v.(type) {
	case Subscription:
		if verdict.Confidence >= cfg.OllamaConfidenceThreshold {
			d.Profile = model.ProfileSmart
		}
	case Retail:
		if verdict.Confidence >= cfg.OllamaConfidenceThreshold {
			d.Candidate = false
		}
	case Unavailable:
		d.Source = ""
	}
	return d
}

// Gate consults the persistent merchant cache and, on a miss, the oracle.
type Gate struct {
	cache  service.ClassificationCache
	oracle llm.Oracle
	logger *slog.Logger
	now    func() time.Time
	cfg    config.Detection
}

// NewGate creates a gate. A nil oracle leaves uncached merchants Unavailable.
func NewGate(cache service.ClassificationCache, oracle llm.Oracle, cfg config.Detection, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		cache:  cache,
		oracle: oracle,
		logger: logger,
		now:    time.Now,
		cfg:    cfg,
	}
}

// Classify returns the decision for one merchant key. It never fails: every
// problem degrades to Unavailable, which selects the strict profile.
func (g *Gate) Classify(ctx context.Context, merchantKey, displayName, categoryHint string) Decision {
	return g.classify(ctx, merchantKey, displayName, categoryHint, false)
}

// Refresh is Classify that ignores cached oracle answers. User overrides
// still win.
func (g *Gate) Refresh(ctx context.Context, merchantKey, displayName, categoryHint string) Decision {
	return g.classify(ctx, merchantKey, displayName, categoryHint, true)
}

func (g *Gate) classify(ctx context.Context, merchantKey, displayName, categoryHint string, skipOracleCache bool) Decision {
	if g.cache != nil {
		entry, err := g.cache.GetMerchantClassification(ctx, merchantKey)
		switch {
		case err == nil && entry.IsOverride():
			return Decide(verdictFor(entry.Classification, entry.Confidence), model.SourceUserOverride, g.cfg)
		case err == nil && !skipOracleCache:
			return Decide(verdictFor(entry.Classification, entry.Confidence), entry.Source, g.cfg)
		case err != nil && !errors.Is(err, common.ErrNotFound):
			g.logger.Warn("merchant cache lookup failed", "merchant", merchantKey, "error", err)
		}
	}

	if g.oracle == nil {
		return Decide(Unavailable{Reason: fmt.Errorf("%w: not configured", common.ErrOracleUnavailable)}, "", g.cfg)
	}

	timeout := g.cfg.OracleTimeout
	if timeout <= 0 {
		timeout = config.DefaultDetection().OracleTimeout
	}
	oracleCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	answer, err := g.oracle.Classify(oracleCtx, displayName, categoryHint)
	if err != nil {
		g.logger.Info("classification unavailable, using strict profile",
			"merchant", merchantKey,
			"error", err)
		return Decide(Unavailable{Reason: err}, "", g.cfg)
	}

	if g.cache != nil {
		entry := &model.MerchantClassification{
			Merchant:       merchantKey,
			Classification: answer.Label,
			Confidence:     answer.Confidence,
			Source:         model.SourceOllama,
			UpdatedAt:      g.now(),
		}
		if err := g.cache.SaveMerchantClassification(ctx, entry); err != nil {
			g.logger.Warn("failed to cache merchant classification", "merchant", merchantKey, "error", err)
		}
	}

	return Decide(verdictFor(answer.Label, answer.Confidence), model.SourceOllama, g.cfg)
}

// ClassifyAll classifies the merchant of every series, at most workers at a
// time. Series sharing a merchant key across accounts share one lookup.
func (g *Gate) ClassifyAll(ctx context.Context, all []*series.Series, workers int) map[string]Decision {
	type request struct {
		display  string
		category string
	}
	requests := make(map[string]request)
	for _, s := range all {
		if _, ok := requests[s.Key.Merchant]; !ok {
			requests[s.Key.Merchant] = request{display: s.Name, category: s.Category()}
		}
	}

	keys := make([]string, 0, len(requests))
	for key := range requests {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	if workers <= 0 {
		workers = 1
	}

	var (
		mu        sync.Mutex
		decisions = make(map[string]Decision, len(keys))
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for _, key := range keys {
		req := requests[key]
		eg.Go(func() error {
			d := g.Classify(egCtx, key, req.display, req.category)
			mu.Lock()
			decisions[key] = d
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()

	return decisions
}

func verdictFor(label model.MerchantLabel, confidence float64) Verdict {
	switch label {
	case model.LabelSubscription:
		return Subscription{Confidence: confidence}
	case model.LabelRetail:
		return Retail{Confidence: confidence}
	default:
		return Unavailable{Reason: fmt.Errorf("unknown cached label %q", label)}
	}
}

// Describe renders a verdict for logs and CLI output.
func Describe(v Verdict) string {
	switch verdict := v.(type) {
	case Subscription:
		return fmt.Sprintf("subscription (%.0f%%)", verdict.Confidence*100)
	case Retail:
		return fmt.Sprintf("retail (%.0f%%)", verdict.Confidence*100)
	case Unavailable:
		return "unknown"
	default:
		return "unknown"
	}
}
