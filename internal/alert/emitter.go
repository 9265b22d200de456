// Package alert materializes detector findings as stored alerts. It owns
// deduplication, the re-open rules for closed alerts and the user's
// dismiss/restore actions.
package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/detect"
	"github.com/Veraticus/spice-sentinel/internal/lifecycle"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"github.com/google/uuid"
)

// Outcome describes what emitting one finding did.
type Outcome string

// Outcome constants.
const (
	OutcomeCreated    Outcome = "created"
	OutcomeUpdated    Outcome = "updated"
	OutcomeReopened   Outcome = "reopened"
	OutcomeUnchanged  Outcome = "unchanged"  // Closed alert whose condition has not materially changed
	OutcomeSuppressed Outcome = "suppressed" // Subscription is excluded
)

// Event names a notification sent for an alert.
type Event string

// Event constants.
const (
	EventCreated  Event = "created"
	EventReopened Event = "reopened"
)

// Notifier receives alerts that were created or re-opened.
type Notifier interface {
	Notify(ctx context.Context, event Event, alert model.Alert) error
}

// Emitter writes findings to the alert store. Writes for the same dedup key
// are serialized.
type Emitter struct {
	store    service.AlertStore
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	locks    keyedMutex
	cfg      config.Detection
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithNotifier publishes created and re-opened alerts to n.
func WithNotifier(n Notifier) Option {
	return func(e *Emitter) {
		e.notifier = n
	}
}

// WithClock overrides the emitter's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Emitter) {
		e.now = now
	}
}

// NewEmitter creates an emitter.
func NewEmitter(store service.AlertStore, cfg config.Detection, logger *slog.Logger, opts ...Option) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Emitter{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Emit stores one finding. sub is the finding's subscription, or nil for
// findings that are not subscription scoped. A persistence conflict is
// retried once.
func (e *Emitter) Emit(ctx context.Context, f detect.Finding, sub *model.Subscription) (Outcome, *model.Alert, error) {
	key := f.DedupKey()
	unlock := e.locks.lock(key)
	defer unlock()

	var (
		outcome Outcome
		stored  *model.Alert
	)
	err := common.WithRetry(ctx, func() error {
		var emitErr error
		outcome, stored, emitErr = e.emit(ctx, f, sub)
		return emitErr
	}, service.RetryOptions{
		MaxAttempts: 2,
		ShouldRetry: func(err error) bool { return errors.Is(err, common.ErrPersistenceConflict) },
		OnRetry: func(int, time.Duration, error) {
			e.logger.Debug("alert write conflicted, retrying", "dedup_key", key)
		},
	})
	if err != nil {
		return "", nil, fmt.Errorf("failed to emit %s: %w", key, err)
	}

	if e.notifier != nil && (outcome == OutcomeCreated || outcome == OutcomeReopened) {
		event := EventCreated
		if outcome == OutcomeReopened {
			event = EventReopened
		}
		if err := e.notifier.Notify(ctx, event, *stored); err != nil {
			e.logger.Warn("alert notification failed", "alert_id", stored.ID, "error", err)
		}
	}
	return outcome, stored, nil
}

func (e *Emitter) emit(ctx context.Context, f detect.Finding, sub *model.Subscription) (Outcome, *model.Alert, error) {
	key := f.DedupKey()
	now := e.now()

	existing, err := e.store.GetAlertByDedupKey(ctx, key)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return "", nil, err
	}

	if sub != nil && sub.Status == model.SubscriptionExcluded {
		return OutcomeSuppressed, existing, nil
	}

	if existing == nil {
		a := &model.Alert{
			ID:        uuid.NewString(),
			DedupKey:  key,
			Status:    model.AlertOpen,
			CreatedAt: now,
		}
		apply(a, f, now)
		if err := e.store.CreateAlert(ctx, a); err != nil {
			return "", nil, err
		}
		e.logger.Info("alert created", "alert_id", a.ID, "type", a.Type, "dedup_key", key)
		return OutcomeCreated, a, nil
	}

	switch existing.Status {
	case model.AlertOpen:
		apply(existing, f, now)
		if err := e.store.UpdateAlert(ctx, existing); err != nil {
			return "", nil, err
		}
		return OutcomeUpdated, existing, nil
	default:
		if !lifecycle.EligibleToReopen(existing, sub, f.Fingerprint, now, e.cfg) {
			return OutcomeUnchanged, existing, nil
		}
		existing.Status = model.AlertOpen
		existing.DismissedAt = nil
		apply(existing, f, now)
		if err := e.store.UpdateAlert(ctx, existing); err != nil {
			return "", nil, err
		}
		e.logger.Info("alert reopened", "alert_id", existing.ID, "type", existing.Type, "dedup_key", key)
		return OutcomeReopened, existing, nil
	}
}

// Dismiss closes an open alert. Re-detection of the same condition will not
// re-open it.
func (e *Emitter) Dismiss(ctx context.Context, id string) (*model.Alert, error) {
	a, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.lock(a.DedupKey)
	defer unlock()

	if a.Status != model.AlertOpen {
		return nil, fmt.Errorf("alert %s is %s, only open alerts can be dismissed", id, a.Status)
	}
	now := e.now()
	a.Status = model.AlertDismissed
	a.DismissedAt = &now
	a.UpdatedAt = now
	if err := e.store.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to dismiss alert %s: %w", id, err)
	}
	return a, nil
}

// Restore re-opens a dismissed alert.
func (e *Emitter) Restore(ctx context.Context, id string) (*model.Alert, error) {
	a, err := e.store.GetAlert(ctx, id)
	if err != nil {
		return nil, err
	}
	unlock := e.locks.lock(a.DedupKey)
	defer unlock()

	if a.Status != model.AlertDismissed {
		return nil, fmt.Errorf("alert %s is %s, only dismissed alerts can be restored", id, a.Status)
	}
	a.Status = model.AlertOpen
	a.DismissedAt = nil
	a.UpdatedAt = e.now()
	if err := e.store.UpdateAlert(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to restore alert %s: %w", id, err)
	}
	return a, nil
}

func apply(a *model.Alert, f detect.Finding, now time.Time) {
	a.Type = f.Type
	a.SubscriptionID = f.SubscriptionID
	a.TransactionID = f.TransactionID
	a.Severity = f.Severity
	a.Message = f.Message
	a.Fingerprint = f.Fingerprint
	a.Metadata = f.Metadata
	a.UpdatedAt = now
}

// keyedMutex hands out one mutex per key.
type keyedMutex struct {
	locks map[string]*keyLock
	mu    sync.Mutex
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
