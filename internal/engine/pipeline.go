package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/classification"
	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/detect"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/pattern"
	"github.com/Veraticus/spice-sentinel/internal/series"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"golang.org/x/sync/errgroup"
)

// KindMatch labels failures of the pattern matching stage.
const KindMatch detect.Kind = "match"

// scope narrows what a pass loads and matches.
type scope struct {
	since        *time.Time
	accountID    string
	merchantKey  string // Only classify and match this merchant
	receiptTxnID string // Only check this receipt's transaction
	refresh      bool   // Re-query the oracle instead of trusting cached answers
}

// prepare loads the ledger and builds the detector input. Subscriptions are
// matched and upserted here when any subscription detector was requested.
func (p *pass) prepare(ctx context.Context, sc scope) (*detect.Input, error) {
	store := p.engine.store

	end := endOfDay(p.asOf)
	txns, err := store.GetTransactions(ctx, service.TransactionFilter{
		AccountID: sc.accountID,
		StartDate: sc.since,
		EndDate:   &end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}

	groups := series.NewBuilder(p.cfg.MinTransactions()).Build(txns)
	p.results.SeriesAnalyzed = len(groups)

	in := &detect.Input{
		AsOf:         p.asOf,
		Config:       p.cfg,
		Series:       groups,
		Decisions:    make(map[string]classification.Decision),
		Buckets:      classification.MustDefaultBucketMatcher(),
		Transactions: txns,
	}

	if p.needsSubscriptions() {
		candidates := make([]*series.Series, 0, len(groups))
		for _, s := range groups.Sorted() {
			if s.Insufficient || (sc.merchantKey != "" && s.Key.Merchant != sc.merchantKey) {
				continue
			}
			candidates = append(candidates, s)
		}

		in.Decisions = p.classify(ctx, candidates, sc.refresh)
		p.match(ctx, candidates, in.Decisions)

		subs, err := store.GetSubscriptions(ctx, service.SubscriptionFilter{AccountID: sc.accountID})
		if err != nil {
			return nil, fmt.Errorf("failed to load subscriptions: %w", err)
		}
		in.Subscriptions = subs
	}

	if p.kinds.Has(detect.KindTip) {
		in.Receipts, err = p.receipts(ctx, txns, sc)
		if err != nil {
			return nil, err
		}
	}

	return in, nil
}

func (p *pass) needsSubscriptions() bool {
	for _, k := range []detect.Kind{detect.KindAutoCancel, detect.KindResume, detect.KindZombie, detect.KindPriceIncrease, detect.KindDuplicate} {
		if p.kinds.Has(k) {
			return true
		}
	}
	return false
}

func (p *pass) classify(ctx context.Context, candidates []*series.Series, refresh bool) map[string]classification.Decision {
	gate := classification.NewGate(p.engine.store, p.engine.oracle, p.cfg, p.engine.logger)
	p.report("classify", 0, len(candidates))

	if !refresh {
		decisions := gate.ClassifyAll(ctx, candidates, p.cfg.Workers)
		p.report("classify", len(candidates), len(candidates))
		return decisions
	}

	decisions := make(map[string]classification.Decision, len(candidates))
	for i, s := range candidates {
		if _, ok := decisions[s.Key.Merchant]; !ok {
			decisions[s.Key.Merchant] = gate.Refresh(ctx, s.Key.Merchant, s.Name, s.Category())
		}
		p.report("classify", i+1, len(candidates))
	}
	return decisions
}

// match fits every candidate in parallel, then upserts the recurring ones.
// Upserts run sequentially because the store has a single writer.
func (p *pass) match(ctx context.Context, candidates []*series.Series, decisions map[string]classification.Decision) {
	matcher := pattern.NewMatcher(p.engine.store, p.cfg, p.engine.logger)
	results := make([]pattern.Result, len(candidates))
	evalErrs := make([]error, len(candidates))

	var eg errgroup.Group
	eg.SetLimit(max(p.cfg.Workers, 1))
	for i, s := range candidates {
		eg.Go(func() error {
			d, ok := decisions[s.Key.Merchant]
			if !ok {
				d = classification.Decide(classification.Unavailable{Reason: common.ErrOracleUnavailable}, "", p.cfg)
			}
			results[i], evalErrs[i] = safeEvaluate(matcher, s, d)
			return nil
		})
	}
	_ = eg.Wait()

	for i, s := range candidates {
		p.report("match", i+1, len(candidates))
		if evalErrs[i] != nil {
			p.fail(KindMatch, s.Key.String(), evalErrs[i])
			continue
		}
		r := results[i]
		if !r.Recurring {
			if r.Reason != nil && !errors.Is(r.Reason, common.ErrSeriesInsufficientData) {
				common.LogDebug(p.engine.logger, "series not recurring", common.Fields{
					"series": s.Key.String(),
					"reason": r.Reason.Error(),
				})
			}
			continue
		}
		if _, err := matcher.Upsert(ctx, s, r); err != nil {
			p.fail(KindMatch, s.Key.String(), err)
			continue
		}
		p.results.SubscriptionsMatched++
	}
}

func safeEvaluate(m *pattern.Matcher, s *series.Series, d classification.Decision) (r pattern.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v\n%s", rec, debug.Stack())
		}
	}()
	return m.Evaluate(s, d), nil
}

// receipts pairs every receipt link with its bank transaction. Links whose
// transaction belongs to another account are skipped when the run is scoped
// to one account.
func (p *pass) receipts(ctx context.Context, window []model.Transaction, sc scope) ([]detect.ReceiptPair, error) {
	store := p.engine.store
	links, err := store.GetReceiptLinks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load receipt links: %w", err)
	}

	byID := make(map[string]int, len(window))
	for i := range window {
		byID[window[i].ID] = i
	}

	pairs := make([]detect.ReceiptPair, 0, len(links))
	for _, link := range links {
		if sc.receiptTxnID != "" && link.TransactionID != sc.receiptTxnID {
			continue
		}

		pair := detect.ReceiptPair{Link: link}
		if i, ok := byID[link.TransactionID]; ok {
			txn := window[i]
			pair.Transaction = &txn
		} else {
			txn, err := store.GetTransactionByID(ctx, link.TransactionID)
			switch {
			case err == nil:
				pair.Transaction = txn
			case !errors.Is(err, common.ErrNotFound):
				p.fail(detect.KindTip, "txn:"+link.TransactionID, err)
				continue
			}
		}

		if sc.accountID != "" && pair.Transaction != nil && pair.Transaction.AccountID != sc.accountID {
			continue
		}
		pairs = append(pairs, pair)
	}
	return pairs, nil
}

func endOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 23, 59, 59, 999999999, t.Location())
}
