// Package testutil provides shared fixtures for detection tests: a migrated
// in-memory database, a fluent transaction ledger builder and a fixed clock.
package testutil

import (
	"context"
	"testing"

	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"github.com/Veraticus/spice-sentinel/internal/storage"
)

// TestDB is a migrated database scoped to one test.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// TestDBOptions seeds a test database.
type TestDBOptions struct {
	Detection    *config.Detection
	CustomSetup  func(context.Context, *storage.SQLiteStorage) error
	Transactions []model.Transaction
	Receipts     []model.ReceiptLink
}

// SetupTestDB creates a new in-memory database and registers its cleanup.
//
// Example:
//
//	db := testutil.SetupTestDB(t, testutil.TestDBOptions{
//		Transactions: testutil.NewLedger("acc1").
//			Monthly("NETFLIX.COM", 15.99, start, 4).
//			Build(),
//	})
func SetupTestDB(t *testing.T, opts TestDBOptions) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})

	ctx := context.Background()
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	if len(opts.Transactions) > 0 {
		if err := store.SaveTransactions(ctx, opts.Transactions); err != nil {
			t.Fatalf("failed to seed transactions: %v", err)
		}
	}
	for i := range opts.Receipts {
		if err := store.SaveReceiptLink(ctx, &opts.Receipts[i]); err != nil {
			t.Fatalf("failed to seed receipt %q: %v", opts.Receipts[i].ReceiptID, err)
		}
	}
	if opts.Detection != nil {
		if err := store.SaveDetectionConfig(ctx, *opts.Detection); err != nil {
			t.Fatalf("failed to seed detection config: %v", err)
		}
	}
	if opts.CustomSetup != nil {
		if err := opts.CustomSetup(ctx, store); err != nil {
			t.Fatalf("custom setup failed: %v", err)
		}
	}

	return &TestDB{Storage: store, t: t}
}

// MustSubscription returns the subscription for (account, merchantKey) or
// fails the test.
func (db *TestDB) MustSubscription(accountID, merchantKey string) model.Subscription {
	db.t.Helper()

	subs, err := db.Storage.GetSubscriptions(context.Background(), service.SubscriptionFilter{AccountID: accountID})
	if err != nil {
		db.t.Fatalf("failed to list subscriptions: %v", err)
	}
	for _, sub := range subs {
		if sub.MerchantKey == merchantKey {
			return sub
		}
	}
	db.t.Fatalf("no subscription for %s/%s", accountID, merchantKey)
	return model.Subscription{}
}

// OpenAlerts returns every open alert of the given type.
func (db *TestDB) OpenAlerts(alertType model.AlertType) []model.Alert {
	db.t.Helper()

	alerts, err := db.Storage.ListAlerts(context.Background(), service.AlertFilter{Type: alertType, Status: model.AlertOpen})
	if err != nil {
		db.t.Fatalf("failed to list alerts: %v", err)
	}
	return alerts
}
