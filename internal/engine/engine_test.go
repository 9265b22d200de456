package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
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

func newEngine(store Store, clock *testutil.Clock) *Engine {
	return New(store, nil, config.DefaultDetection(), WithClock(clock.Now))
}

func kinds(t *testing.T, names ...string) detect.KindSet {
	t.Helper()
	set, err := detect.ParseKinds(names)
	require.NoError(t, err)
	return set
}

func allAlerts(t *testing.T, db *testutil.TestDB) []model.Alert {
	t.Helper()
	alerts, err := db.Storage.ListAlerts(context.Background(), service.AlertFilter{})
	require.NoError(t, err)
	return alerts
}

// acknowledge marks the stored subscription as acknowledged at the given time.
func acknowledge(t *testing.T, db *testutil.TestDB, sub model.Subscription, at time.Time) model.Subscription {
	t.Helper()
	sub.UserAcknowledged = true
	sub.AcknowledgedAt = &at
	require.NoError(t, db.Storage.UpdateSubscriptionState(context.Background(), &sub))
	return sub
}

func TestRun_Idempotent(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Transactions: testutil.NewLedger("acc1").
			Monthly("NETFLIX.COM", 15.99, testutil.Day(2024, 1, 15), 6).
			Build(),
	})
	clock := testutil.NewClock(testutil.Day(2024, 6, 20))
	e := newEngine(db.Storage, clock)

	first, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, first.Succeeded())
	assert.Equal(t, 1, first.SubscriptionsMatched)
	assert.Equal(t, 1, first.Kinds[detect.KindZombie].Created)
	require.Len(t, first.AlertIDs, 1)

	sub := db.MustSubscription("acc1", "netflix")
	assert.Equal(t, model.FrequencyMonthly, sub.Frequency)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	before := allAlerts(t, db)

	second, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, second.Totals().Created)
	assert.Equal(t, 1, second.Kinds[detect.KindZombie].Updated)
	assert.NotEqual(t, first.RunID, second.RunID)

	after := allAlerts(t, db)
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].ID, after[i].ID)
		assert.Equal(t, before[i].Status, after[i].Status)
		assert.Equal(t, before[i].Fingerprint, after[i].Fingerprint)
	}

	again := db.MustSubscription("acc1", "netflix")
	assert.Equal(t, sub.ID, again.ID)
	assert.Equal(t, sub.Status, again.Status)
	assert.Equal(t, sub.UserAcknowledged, again.UserAcknowledged)
}

func TestRun_DismissedZombieStaysDismissed(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Transactions: testutil.NewLedger("acc1").
			Monthly("NETFLIX.COM", 15.99, testutil.Day(2024, 1, 15), 6).
			Build(),
	})
	clock := testutil.NewClock(testutil.Day(2024, 6, 20))
	e := newEngine(db.Storage, clock)

	_, err := e.Run(ctx, Options{Kinds: kinds(t, "zombies")})
	require.NoError(t, err)
	zombies := db.OpenAlerts(model.AlertZombie)
	require.Len(t, zombies, 1)

	a := zombies[0]
	now := clock.Now()
	a.Status = model.AlertDismissed
	a.DismissedAt = &now
	require.NoError(t, db.Storage.UpdateAlert(ctx, &a))

	results, err := e.Run(ctx, Options{Kinds: kinds(t, "zombies")})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Kinds[detect.KindZombie].Unchanged)
	assert.Empty(t, db.OpenAlerts(model.AlertZombie))
}

func TestRun_DismissedDuplicateStaysDismissedUnderAccountFilter(t *testing.T) {
	ctx := context.Background()
	txns := testutil.NewLedger("acc1").
		Monthly("NETFLIX.COM", 15.99, testutil.Day(2024, 1, 15), 6).
		Monthly("HULU", 7.99, testutil.Day(2024, 1, 8), 6).
		Build()
	txns = append(txns, testutil.NewLedger("acc2").
		Monthly("DISNEY PLUS", 13.99, testutil.Day(2024, 1, 10), 6).
		Build()...)
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{Transactions: txns})
	clock := testutil.NewClock(testutil.Day(2024, 6, 20))
	e := newEngine(db.Storage, clock)

	_, err := e.Run(ctx, Options{Kinds: kinds(t, "duplicates")})
	require.NoError(t, err)
	duplicates := db.OpenAlerts(model.AlertDuplicate)
	require.Len(t, duplicates, 1)

	netflix := db.MustSubscription("acc1", "netflix")
	hulu := db.MustSubscription("acc1", "hulu")
	a := duplicates[0]
	assert.Equal(t, "duplicate:bucket:acc1:streaming_video", a.DedupKey)
	assert.ElementsMatch(t,
		[]string{fmt.Sprint(netflix.ID), fmt.Sprint(hulu.ID)},
		strings.Split(a.Fingerprint, ","))

	now := clock.Now()
	a.Status = model.AlertDismissed
	a.DismissedAt = &now
	require.NoError(t, db.Storage.UpdateAlert(ctx, &a))

	for _, opts := range []Options{
		{Kinds: kinds(t, "duplicates"), AccountID: "acc1"},
		{Kinds: kinds(t, "duplicates")},
	} {
		results, err := e.Run(ctx, opts)
		require.NoError(t, err)
		counts := results.Kinds[detect.KindDuplicate]
		assert.Zero(t, counts.Reopened, "account filter %q", opts.AccountID)
		assert.Zero(t, counts.Created, "account filter %q", opts.AccountID)
		assert.Equal(t, 1, counts.Unchanged, "account filter %q", opts.AccountID)
		assert.Empty(t, db.OpenAlerts(model.AlertDuplicate))
	}
}

func TestRun_AutoCancelAfterGrace(t *testing.T) {
	ctx := context.Background()
	last := testutil.Day(2024, 4, 14)
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Transactions: testutil.NewLedger("acc1").
			Monthly("GYM", 40, testutil.Day(2024, 1, 14), 4).
			Build(),
	})
	clock := testutil.NewClock(testutil.Day(2024, 4, 20))
	e := newEngine(db.Storage, clock)

	_, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	acknowledge(t, db, db.MustSubscription("acc1", "gym"), clock.Now())

	clock.Set(last.AddDate(0, 0, 36))
	results, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, results.Kinds[detect.KindAutoCancel].Findings, "inside the grace period")
	assert.Equal(t, model.SubscriptionActive, db.MustSubscription("acc1", "gym").Status)

	clock.Set(last.AddDate(0, 0, 37))
	results, err = e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Kinds[detect.KindAutoCancel].Created)

	sub := db.MustSubscription("acc1", "gym")
	assert.Equal(t, model.SubscriptionCancelled, sub.Status)
	require.NotNil(t, sub.CancelledAt)
	assert.True(t, sub.CancelledAt.Equal(clock.Now()))

	alerts := db.OpenAlerts(model.AlertAutoCancellation)
	require.Len(t, alerts, 1)
	assert.Equal(t, "2024-04-14", alerts[0].Fingerprint)

	results, err = e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, results.Kinds[detect.KindAutoCancel].Findings, "cancelled subscriptions are not re-cancelled")
}

func TestRun_ResumeReactivatesWithoutZombie(t *testing.T) {
	ctx := context.Background()
	cancelledAt := testutil.Day(2024, 5, 1)
	ledger := testutil.NewLedger("acc1").
		Monthly("HULU", 7.99, testutil.Day(2024, 1, 2), 4).
		Charge("HULU", 7.99, testutil.Day(2024, 6, 2))
	resumed := ledger.Last()

	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Transactions: ledger.Build(),
		CustomSetup: func(ctx context.Context, s *storage.SQLiteStorage) error {
			sub := &model.Subscription{
				AccountID:           "acc1",
				Merchant:            "HULU",
				MerchantKey:         "hulu",
				Amount:              7.99,
				Frequency:           model.FrequencyMonthly,
				TransactionCount:    4,
				LastTransactionDate: testutil.Day(2024, 4, 2),
			}
			if err := s.UpsertSubscription(ctx, sub); err != nil {
				return err
			}
			sub.Status = model.SubscriptionCancelled
			sub.CancelledAt = &cancelledAt
			return s.UpdateSubscriptionState(ctx, sub)
		},
	})
	clock := testutil.NewClock(testutil.Day(2024, 6, 5))
	e := newEngine(db.Storage, clock)

	results, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	assert.True(t, results.Succeeded())
	assert.Equal(t, 1, results.Kinds[detect.KindResume].Created)

	sub := db.MustSubscription("acc1", "hulu")
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.Nil(t, sub.CancelledAt)
	assert.True(t, sub.UserAcknowledged)
	require.NotNil(t, sub.AcknowledgedAt)
	assert.True(t, sub.AcknowledgedAt.Equal(clock.Now()))

	alerts := db.OpenAlerts(model.AlertResume)
	require.Len(t, alerts, 1)
	require.NotNil(t, alerts[0].TransactionID)
	assert.Equal(t, resumed.ID, *alerts[0].TransactionID)
	assert.Empty(t, db.OpenAlerts(model.AlertZombie), "resumed subscriptions count as acknowledged")
}

func TestRun_InvalidConfigWritesNothing(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Transactions: testutil.NewLedger("acc1").
			Monthly("NETFLIX.COM", 15.99, testutil.Day(2024, 1, 15), 6).
			Build(),
	})
	bad := config.DefaultDetection()
	bad.StrictAmountVariance = 1.5
	e := New(db.Storage, nil, bad, WithClock(testutil.NewClock(testutil.Day(2024, 6, 20)).Now))

	results, err := e.Run(ctx, Options{})
	require.ErrorIs(t, err, common.ErrConfigInvalid)
	assert.Nil(t, results)

	subs, err := db.Storage.GetSubscriptions(ctx, service.SubscriptionFilter{})
	require.NoError(t, err)
	assert.Empty(t, subs)
	assert.Empty(t, allAlerts(t, db))
}

func TestRun_StoredConfigWinsOverFallback(t *testing.T) {
	ctx := context.Background()
	stored := config.DefaultDetection()
	stored.ZombieMinMonths = 12
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Detection: &stored,
		Transactions: testutil.NewLedger("acc1").
			Monthly("NETFLIX.COM", 15.99, testutil.Day(2024, 1, 15), 6).
			Build(),
	})
	e := newEngine(db.Storage, testutil.NewClock(testutil.Day(2024, 6, 20)))

	results, err := e.Run(ctx, Options{Kinds: kinds(t, "zombies")})
	require.NoError(t, err)
	assert.Zero(t, results.Kinds[detect.KindZombie].Findings)
}

func TestRun_TipDiscrepancy(t *testing.T) {
	ctx := context.Background()
	ledger := testutil.NewLedger("acc1").Charge("BLUE BOTTLE", 57.82, testutil.Day(2024, 6, 1))
	txn := ledger.Last()
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Transactions: ledger.Build(),
		Receipts: []model.ReceiptLink{{
			ReceiptID:      "r1",
			TransactionID:  txn.ID,
			Merchant:       "Blue Bottle",
			ExpectedAmount: 47.82,
			CapturedAt:     testutil.Day(2024, 6, 1),
		}},
	})
	e := newEngine(db.Storage, testutil.NewClock(testutil.Day(2024, 6, 20)))

	results, err := e.Run(ctx, Options{Kinds: kinds(t, "tip")})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Kinds[detect.KindTip].Created)
	assert.Zero(t, results.SubscriptionsMatched, "tip-only runs skip matching")

	alerts := db.OpenAlerts(model.AlertTipDiscrepancy)
	require.Len(t, alerts, 1)
	assert.Equal(t, "10.00", alerts[0].Fingerprint)
	assert.Equal(t, "tip_discrepancy:txn:"+txn.ID, alerts[0].DedupKey)

	reanalyzed, err := e.Reanalyze(ctx, Target{AlertID: alerts[0].ID})
	require.NoError(t, err)
	assert.Equal(t, alerts[0].ID, reanalyzed.ID)
}

func TestRun_TipReceiptOutsideWindow(t *testing.T) {
	ctx := context.Background()
	ledger := testutil.NewLedger("acc1").Charge("BLUE BOTTLE", 57.82, testutil.Day(2023, 12, 1))
	txn := ledger.Last()
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Transactions: ledger.Build(),
		Receipts:     []model.ReceiptLink{{ReceiptID: "r1", TransactionID: txn.ID, ExpectedAmount: 47.82}},
	})
	e := newEngine(db.Storage, testutil.NewClock(testutil.Day(2024, 6, 20)))

	since := testutil.Day(2024, 1, 1)
	results, err := e.Run(ctx, Options{Kinds: kinds(t, "tip"), Since: &since})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Kinds[detect.KindTip].Created, "linked transaction is loaded by id")
	assert.Empty(t, db.OpenAlerts(model.AlertReconciliation))
}

func TestRun_SpendingAnomaly(t *testing.T) {
	ctx := context.Background()
	l := testutil.NewLedger("acc1").Category("Dining")
	for _, month := range []time.Month{time.March, time.April, time.May} {
		l.Charge("RESTAURANT", 180, testutil.Day(2024, month, 3))
		l.Charge("CAFE", 180, testutil.Day(2024, month, 17))
	}
	l.Charge("RESTAURANT", 480, testutil.Day(2024, time.June, 10))
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{Transactions: l.Build()})
	clock := testutil.NewClock(testutil.Day(2024, 6, 20))
	e := newEngine(db.Storage, clock)

	results, err := e.Run(ctx, Options{Kinds: kinds(t, "anomaly")})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Kinds[detect.KindAnomaly].Created)

	alerts := db.OpenAlerts(model.AlertSpendingAnomaly)
	require.Len(t, alerts, 1)
	assert.Equal(t, "spending_anomaly:cat:acc1:Dining:2024-06", alerts[0].DedupKey)

	// A month later the alert is re-analyzed against its own month.
	clock.Set(testutil.Day(2024, 7, 20))
	reanalyzed, err := e.Reanalyze(ctx, Target{AlertID: alerts[0].ID})
	require.NoError(t, err)
	assert.Equal(t, alerts[0].ID, reanalyzed.ID)
}

// brokenStateStore fails every lifecycle write.
type brokenStateStore struct {
	*storage.SQLiteStorage
}

func (s *brokenStateStore) UpdateSubscriptionState(context.Context, *model.Subscription) error {
	return errors.New("disk full")
}

func TestRun_PartialFailure(t *testing.T) {
	ctx := context.Background()
	ledger := testutil.NewLedger("acc1").
		Monthly("GYM", 40, testutil.Day(2024, 1, 14), 4).
		Charge("BLUE BOTTLE", 57.82, testutil.Day(2024, 6, 1))
	tipTxn := ledger.Last()
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Transactions: ledger.Build(),
		Receipts:     []model.ReceiptLink{{ReceiptID: "r1", TransactionID: tipTxn.ID, ExpectedAmount: 47.82}},
	})
	clock := testutil.NewClock(testutil.Day(2024, 4, 20))
	_, err := newEngine(db.Storage, clock).Run(ctx, Options{Kinds: kinds(t, "zombies")})
	require.NoError(t, err)
	acknowledge(t, db, db.MustSubscription("acc1", "gym"), clock.Now())

	clock.Set(testutil.Day(2024, 6, 20))
	e := newEngine(&brokenStateStore{SQLiteStorage: db.Storage}, clock)
	results, err := e.Run(ctx, Options{})
	require.NoError(t, err, "detector failures never fail the run")

	assert.False(t, results.Succeeded())
	assert.Equal(t, []detect.Kind{detect.KindAutoCancel}, results.FailedKinds())
	assert.Equal(t, 1, results.Kinds[detect.KindAutoCancel].Failed)
	assert.Equal(t, 1, results.Kinds[detect.KindTip].Created)

	assert.Empty(t, db.OpenAlerts(model.AlertAutoCancellation), "no alert without the state change")
	assert.Equal(t, model.SubscriptionActive, db.MustSubscription("acc1", "gym").Status)
}

func TestRun_ProgressAndAccountFilter(t *testing.T) {
	ctx := context.Background()
	txns := append(
		testutil.NewLedger("acc1").Monthly("NETFLIX.COM", 15.99, testutil.Day(2024, 1, 15), 6).Build(),
		testutil.NewLedger("acc2").Monthly("SPOTIFY", 10.99, testutil.Day(2024, 1, 3), 6).Build()...,
	)
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{Transactions: txns})
	e := newEngine(db.Storage, testutil.NewClock(testutil.Day(2024, 6, 20)))

	var stages []string
	results, err := e.Run(ctx, Options{
		AccountID: "acc2",
		Progress: func(ev ProgressEvent) {
			if len(stages) == 0 || stages[len(stages)-1] != ev.Stage {
				stages = append(stages, ev.Stage)
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, results.SubscriptionsMatched)
	assert.Equal(t, []string{"classify", "match", "detect"}, stages)

	subs, err := db.Storage.GetSubscriptions(ctx, service.SubscriptionFilter{})
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, "spotify", subs[0].MerchantKey)
}

func TestReanalyze_Subscription(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
		Transactions: testutil.NewLedger("acc1").
			Monthly("NETFLIX.COM", 15.99, testutil.Day(2024, 1, 15), 6).
			Build(),
	})
	clock := testutil.NewClock(testutil.Day(2024, 6, 20))
	e := newEngine(db.Storage, clock)

	_, err := e.Run(ctx, Options{})
	require.NoError(t, err)
	sub := db.MustSubscription("acc1", "netflix")

	a, err := e.Reanalyze(ctx, Target{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Equal(t, model.AlertZombie, a.Type)

	acknowledge(t, db, sub, clock.Now())
	_, err = e.Reanalyze(ctx, Target{SubscriptionID: sub.ID})
	require.ErrorIs(t, err, common.ErrNoFinding)

	_, err = e.Reanalyze(ctx, Target{AlertID: "missing"})
	require.ErrorIs(t, err, common.ErrNotFound)

	_, err = e.Reanalyze(ctx, Target{})
	require.Error(t, err)
}

func TestConcerns(t *testing.T) {
	id := int64(3)
	tests := []struct {
		name    string
		finding detect.Finding
		want    bool
	}{
		{name: "own subscription", finding: detect.Finding{Type: model.AlertZombie, SubscriptionID: &id}, want: true},
		{name: "duplicate member", finding: detect.Finding{Type: model.AlertDuplicate, Fingerprint: "1,3"}, want: true},
		{name: "duplicate non-member", finding: detect.Finding{Type: model.AlertDuplicate, Fingerprint: "1,33"}},
		{name: "unrelated", finding: detect.Finding{Type: model.AlertTipDiscrepancy}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, concerns(tt.finding, id), fmt.Sprint(tt.finding))
		})
	}
}
