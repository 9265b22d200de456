// Package engine runs detection passes: it builds series, classifies and
// matches them, applies lifecycle transitions and emits alerts.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/alert"
	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/detect"
	"github.com/Veraticus/spice-sentinel/internal/lifecycle"
	"github.com/Veraticus/spice-sentinel/internal/llm"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Store is everything a detection pass reads and writes.
type Store interface {
	service.TransactionStore
	service.ReceiptStore
	service.SubscriptionStore
	service.AlertStore
	service.ClassificationCache
	config.Store
}

// Engine runs detection passes against a store.
type Engine struct {
	store    Store
	oracle   llm.Oracle
	notifier alert.Notifier
	logger   *slog.Logger
	now      func() time.Time
	fallback config.Detection
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier publishes created and re-opened alerts.
func WithNotifier(n alert.Notifier) Option {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New creates an engine. oracle may be nil, in which case every uncached
// merchant is matched under the strict profile. fallback is the
// configuration used when the store holds none.
func New(store Store, oracle llm.Oracle, fallback config.Detection, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		oracle:   oracle,
		fallback: fallback,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProgressEvent reports how far a run has come through one stage.
type ProgressEvent struct {
	Stage string
	Done  int
	Total int
}

// Options selects what a run analyzes.
type Options struct {
	AsOf      time.Time // Zero means now
	Since     *time.Time
	Kinds     detect.KindSet // Empty means every kind
	Progress  func(ProgressEvent)
	AccountID string
}

// Run executes one detection pass. It is safe to repeat: an unchanged
// ledger yields no new alerts and no state changes. An invalid configuration
// fails the run before anything is written; every other problem is reported
// in the results.
func (e *Engine) Run(ctx context.Context, opts Options) (*DetectionResults, error) {
	cfg, err := config.Load(ctx, e.store, e.fallback)
	if err != nil {
		return nil, err
	}

	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds, _ = detect.ParseKinds(nil)
	}
	asOf := opts.AsOf
	if asOf.IsZero() {
		asOf = e.now()
	}

	p := e.newPass(cfg, kinds, asOf, opts.Progress)
	e.logger.Info("starting detection run",
		"run_id", p.results.RunID,
		"account_id", opts.AccountID,
		"kinds", kinds.Sorted(),
		"as_of", asOf.Format(time.DateOnly))

	in, err := p.prepare(ctx, scope{accountID: opts.AccountID, since: opts.Since})
	if err != nil {
		return nil, err
	}
	p.execute(ctx, in, nil)

	p.results.FinishedAt = e.now()
	e.logger.Info("detection run finished",
		"run_id", p.results.RunID,
		"alerts", len(p.results.AlertIDs),
		"failures", len(p.results.Failures),
		"warnings", len(p.results.Warnings),
		"duration", p.results.FinishedAt.Sub(p.results.StartedAt))
	return p.results, nil
}

// pass is the state of one run.
type pass struct {
	engine   *Engine
	emitter  *alert.Emitter
	tracker  *lifecycle.Tracker
	results  *DetectionResults
	progress func(ProgressEvent)
	kinds    detect.KindSet
	asOf     time.Time
	emitted  []*model.Alert
	cfg      config.Detection
	mu       sync.Mutex
}

func (e *Engine) newPass(cfg config.Detection, kinds detect.KindSet, asOf time.Time, progress func(ProgressEvent)) *pass {
	opts := []alert.Option{alert.WithClock(e.now)}
	if e.notifier != nil {
		opts = append(opts, alert.WithNotifier(e.notifier))
	}

	results := &DetectionResults{
		RunID:     uuid.NewString(),
		StartedAt: e.now(),
		AsOf:      asOf,
		Kinds:     make(map[detect.Kind]*KindResult),
	}
	for _, k := range kinds.Sorted() {
		results.Kinds[k] = &KindResult{}
	}

	return &pass{
		engine:   e,
		emitter:  alert.NewEmitter(e.store, cfg, e.logger, opts...),
		tracker:  lifecycle.NewTracker(e.store, e.store, e.logger),
		results:  results,
		progress: progress,
		kinds:    kinds,
		asOf:     asOf,
		cfg:      cfg,
	}
}

// execute runs the requested detectors. Auto-cancellation and resume run
// first, one after the other, so the remaining detectors see their status
// changes. The rest run concurrently. keep, when set, filters which findings
// are materialized.
func (p *pass) execute(ctx context.Context, in *detect.Input, keep func(detect.Finding) bool) {
	detectors := detect.All()
	requested := p.kinds.Sorted()
	done := 0
	total := len(requested)

	for _, kind := range []detect.Kind{detect.KindAutoCancel, detect.KindResume} {
		if !p.kinds.Has(kind) {
			continue
		}
		findings, failures := detectors[kind].Detect(ctx, in)
		p.recordDetection(kind, findings, failures)

		for _, f := range findings {
			if keep != nil && !keep(f) {
				continue
			}
			sub := subscriptionFor(in, f)
			if sub == nil {
				p.fail(kind, f.Subject, fmt.Errorf("finding references unknown subscription"))
				continue
			}

			var err error
			if kind == detect.KindAutoCancel {
				err = p.tracker.AutoCancel(ctx, sub, f.At)
			} else {
				err = p.tracker.Resume(ctx, sub, f.At)
			}
			if err != nil {
				p.fail(kind, f.Subject, err)
				continue
			}
			p.emit(ctx, kind, f, sub)
		}

		done++
		p.report("detect", done, total)
	}

	var eg errgroup.Group
	for _, kind := range requested {
		if kind == detect.KindAutoCancel || kind == detect.KindResume {
			continue
		}
		d := detectors[kind]
		eg.Go(func() error {
			findings, failures := d.Detect(ctx, in)
			p.recordDetection(kind, findings, failures)
			for _, f := range findings {
				if keep != nil && !keep(f) {
					continue
				}
				p.emit(ctx, kind, f, subscriptionFor(in, f))
			}

			p.mu.Lock()
			defer p.mu.Unlock()
			done++
			p.report("detect", done, total)
			return nil
		})
	}
	_ = eg.Wait()

	sort.Strings(p.results.AlertIDs)
}

func (p *pass) emit(ctx context.Context, kind detect.Kind, f detect.Finding, sub *model.Subscription) {
	outcome, stored, err := p.emitter.Emit(ctx, f, sub)
	if err != nil {
		p.warn(kind, f.Subject, err)
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	counts := p.results.Kinds[kind]
	switch outcome {
	case alert.OutcomeCreated:
		counts.Created++
	case alert.OutcomeUpdated:
		counts.Updated++
	case alert.OutcomeReopened:
		counts.Reopened++
	case alert.OutcomeUnchanged:
		counts.Unchanged++
	case alert.OutcomeSuppressed:
		counts.Suppressed++
	}
	if stored != nil {
		if outcome == alert.OutcomeCreated || outcome == alert.OutcomeUpdated || outcome == alert.OutcomeReopened {
			p.results.AlertIDs = append(p.results.AlertIDs, stored.ID)
		}
		p.emitted = append(p.emitted, stored)
	}
}

func (p *pass) recordDetection(kind detect.Kind, findings []detect.Finding, failures []detect.Failure) {
	p.mu.Lock()
	defer p.mu.Unlock()
	counts := p.results.Kinds[kind]
	counts.Findings += len(findings)
	counts.Failed += len(failures)
	p.results.Failures = append(p.results.Failures, failures...)

	for _, f := range failures {
		common.LogError(p.engine.logger, f.Err, "detector failed", common.Fields{
			"run_id":  p.results.RunID,
			"kind":    f.Kind,
			"subject": f.Subject,
		})
	}
}

func (p *pass) fail(kind detect.Kind, subject string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if counts, ok := p.results.Kinds[kind]; ok {
		counts.Failed++
	}
	p.results.Failures = append(p.results.Failures, detect.Failure{Kind: kind, Subject: subject, Err: err})
	common.LogError(p.engine.logger, err, "detection step failed", common.Fields{
		"run_id":  p.results.RunID,
		"kind":    kind,
		"subject": subject,
	})
}

func (p *pass) warn(kind detect.Kind, subject string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results.Warnings = append(p.results.Warnings, detect.Failure{Kind: kind, Subject: subject, Err: err})
	common.LogWarn(p.engine.logger, "alert not written", common.Fields{
		"run_id":  p.results.RunID,
		"kind":    kind,
		"subject": subject,
		"error":   err.Error(),
	})
}

func (p *pass) report(stage string, done, total int) {
	if p.progress != nil {
		p.progress(ProgressEvent{Stage: stage, Done: done, Total: total})
	}
}

// subscriptionFor returns the input's copy of the finding's subscription.
func subscriptionFor(in *detect.Input, f detect.Finding) *model.Subscription {
	if f.SubscriptionID == nil {
		return nil
	}
	for i := range in.Subscriptions {
		if in.Subscriptions[i].ID == *f.SubscriptionID {
			return &in.Subscriptions[i]
		}
	}
	return nil
}
