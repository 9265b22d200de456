package alert

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/detect"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"github.com/Veraticus/spice-sentinel/internal/storage"
	"github.com/Veraticus/spice-sentinel/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	events []Event
	err    error
	mu     sync.Mutex
}

func (n *recordingNotifier) Notify(_ context.Context, event Event, _ model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func setup(t *testing.T) (*testutil.TestDB, *model.Subscription, *testutil.Clock) {
	t.Helper()
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{})
	sub := &model.Subscription{
		AccountID:           "acc1",
		Merchant:            "NETFLIX",
		MerchantKey:         "netflix",
		Amount:              15.99,
		Frequency:           model.FrequencyMonthly,
		TransactionCount:    4,
		LastTransactionDate: testutil.Day(2024, 5, 15),
	}
	require.NoError(t, db.Storage.UpsertSubscription(context.Background(), sub))
	return db, sub, testutil.NewClock(testutil.Day(2024, 6, 1))
}

func priceFinding(sub *model.Subscription, from, to string) detect.Finding {
	id := sub.ID
	return detect.Finding{
		Type:           model.AlertPriceIncrease,
		Subject:        model.SubscriptionSubject(sub.ID),
		SubscriptionID: &id,
		Severity:       model.SeverityMedium,
		Message:        fmt.Sprintf("NETFLIX increased from $%s to $%s", from, to),
		Fingerprint:    from + "->" + to,
		Metadata:       map[string]any{"old_amount": from, "new_amount": to},
	}
}

func TestEmitter_CreateThenUpdateInPlace(t *testing.T) {
	ctx := context.Background()
	db, sub, clock := setup(t)
	notifier := &recordingNotifier{}
	e := NewEmitter(db.Storage, config.DefaultDetection(), nil, WithClock(clock.Now), WithNotifier(notifier))

	outcome, created, err := e.Emit(ctx, priceFinding(sub, "15.99", "17.99"), sub)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "price_increase:sub:"+fmt.Sprint(sub.ID), created.DedupKey)

	clock.Advance(24 * time.Hour)
	outcome, updated, err := e.Emit(ctx, priceFinding(sub, "15.99", "18.99"), sub)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome)
	assert.Equal(t, created.ID, updated.ID)

	alerts, err := db.Storage.ListAlerts(ctx, service.AlertFilter{})
	require.NoError(t, err)
	require.Len(t, alerts, 1, "no duplicate rows")
	assert.Equal(t, "15.99->18.99", alerts[0].Fingerprint)
	assert.Equal(t, "18.99", alerts[0].Metadata["new_amount"])

	assert.Equal(t, []Event{EventCreated}, notifier.events)
}

func TestEmitter_DismissedStaysDismissedUntilMaterialChange(t *testing.T) {
	ctx := context.Background()
	db, sub, clock := setup(t)
	notifier := &recordingNotifier{}
	e := NewEmitter(db.Storage, config.DefaultDetection(), nil, WithClock(clock.Now), WithNotifier(notifier))

	_, created, err := e.Emit(ctx, priceFinding(sub, "15.99", "17.99"), sub)
	require.NoError(t, err)

	dismissed, err := e.Dismiss(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertDismissed, dismissed.Status)
	require.NotNil(t, dismissed.DismissedAt)

	_, err = e.Dismiss(ctx, created.ID)
	require.Error(t, err)

	outcome, _, err := e.Emit(ctx, priceFinding(sub, "15.99", "17.99"), sub)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)

	stored, err := db.Storage.GetAlert(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertDismissed, stored.Status)

	outcome, reopened, err := e.Emit(ctx, priceFinding(sub, "17.99", "19.99"), sub)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReopened, outcome)
	assert.Equal(t, created.ID, reopened.ID)
	assert.Equal(t, model.AlertOpen, reopened.Status)
	assert.Nil(t, reopened.DismissedAt)

	assert.Equal(t, []Event{EventCreated, EventReopened}, notifier.events)
}

func TestEmitter_ExcludedSubscriptionSuppresses(t *testing.T) {
	ctx := context.Background()
	db, sub, clock := setup(t)
	e := NewEmitter(db.Storage, config.DefaultDetection(), nil, WithClock(clock.Now))

	excluded := *sub
	excluded.Status = model.SubscriptionExcluded
	outcome, _, err := e.Emit(ctx, priceFinding(sub, "15.99", "17.99"), &excluded)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuppressed, outcome)
	assert.Empty(t, db.OpenAlerts(model.AlertPriceIncrease))
}

func TestEmitter_Restore(t *testing.T) {
	ctx := context.Background()
	db, sub, clock := setup(t)
	e := NewEmitter(db.Storage, config.DefaultDetection(), nil, WithClock(clock.Now))

	_, created, err := e.Emit(ctx, priceFinding(sub, "15.99", "17.99"), sub)
	require.NoError(t, err)

	_, err = e.Restore(ctx, created.ID)
	require.Error(t, err, "open alerts cannot be restored")

	_, err = e.Dismiss(ctx, created.ID)
	require.NoError(t, err)

	restored, err := e.Restore(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AlertOpen, restored.Status)
	assert.Nil(t, restored.DismissedAt)

	_, err = e.Dismiss(ctx, "missing")
	require.ErrorIs(t, err, common.ErrNotFound)
}

func TestEmitter_NotifierFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	db, sub, clock := setup(t)
	notifier := &recordingNotifier{err: fmt.Errorf("broker down")}
	e := NewEmitter(db.Storage, config.DefaultDetection(), nil, WithClock(clock.Now), WithNotifier(notifier))

	outcome, _, err := e.Emit(ctx, priceFinding(sub, "15.99", "17.99"), sub)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Len(t, notifier.events, 1)
}

// conflictingStore fails the first N creates with a persistence conflict,
// inserting the row anyway to mimic a concurrent writer.
type conflictingStore struct {
	*storage.SQLiteStorage
	failures int
}

func (s *conflictingStore) CreateAlert(ctx context.Context, a *model.Alert) error {
	if s.failures > 0 {
		s.failures--
		racer := *a
		racer.ID = "racer-" + a.ID
		if err := s.SQLiteStorage.CreateAlert(ctx, &racer); err != nil {
			return err
		}
		return fmt.Errorf("insert alert: %w", common.ErrPersistenceConflict)
	}
	return s.SQLiteStorage.CreateAlert(ctx, a)
}

func TestEmitter_RetriesConflictOnce(t *testing.T) {
	ctx := context.Background()
	db, sub, clock := setup(t)
	store := &conflictingStore{SQLiteStorage: db.Storage, failures: 1}
	e := NewEmitter(store, config.DefaultDetection(), nil, WithClock(clock.Now))

	outcome, stored, err := e.Emit(ctx, priceFinding(sub, "15.99", "17.99"), sub)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, outcome, "second attempt finds the racer's row")
	assert.Contains(t, stored.ID, "racer-")

	alerts, err := db.Storage.ListAlerts(ctx, service.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}

func TestEmitter_ConcurrentEmitsShareOneRow(t *testing.T) {
	ctx := context.Background()
	db, sub, clock := setup(t)
	e := NewEmitter(db.Storage, config.DefaultDetection(), nil, WithClock(clock.Now))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := e.Emit(ctx, priceFinding(sub, "15.99", "17.99"), sub)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	alerts, err := db.Storage.ListAlerts(ctx, service.AlertFilter{})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
	assert.Empty(t, e.locks.locks, "locks are released")
}
