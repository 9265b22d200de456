// Package service defines the interfaces for all application services.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/model"
)

// TransactionFilter defines filtering options for transaction queries.
type TransactionFilter struct {
	StartDate *time.Time
	EndDate   *time.Time
	AccountID string
}

// SubscriptionFilter narrows subscription listings.
type SubscriptionFilter struct {
	AccountID string
	Status    model.SubscriptionStatus
}

// AlertFilter narrows alert listings.
type AlertFilter struct {
	SubscriptionID *int64
	Type           model.AlertType
	Status         model.AlertStatus
}

// TransactionStore is the read side of the imported transaction ledger.
type TransactionStore interface {
	GetTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, error)
	GetTransactionByID(ctx context.Context, id string) (*model.Transaction, error)
}

// ReceiptStore returns receipts linked to bank transactions.
type ReceiptStore interface {
	GetReceiptLinks(ctx context.Context) ([]model.ReceiptLink, error)
}

// SubscriptionStore persists detected subscriptions.
type SubscriptionStore interface {
	// UpsertSubscription inserts or refreshes the detection fields of the
	// subscription for (AccountID, MerchantKey). Status and acknowledgment
	// columns of an existing row are left alone.
	UpsertSubscription(ctx context.Context, sub *model.Subscription) error
	GetSubscription(ctx context.Context, id int64) (*model.Subscription, error)
	GetSubscriptions(ctx context.Context, filter SubscriptionFilter) ([]model.Subscription, error)
	// UpdateSubscriptionState writes lifecycle columns: status,
	// acknowledgment and cancellation timestamps.
	UpdateSubscriptionState(ctx context.Context, sub *model.Subscription) error
}

// AlertStore persists alerts keyed by their dedup key.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *model.Alert) error
	UpdateAlert(ctx context.Context, alert *model.Alert) error
	GetAlert(ctx context.Context, id string) (*model.Alert, error)
	GetAlertByDedupKey(ctx context.Context, key string) (*model.Alert, error)
	ListAlerts(ctx context.Context, filter AlertFilter) ([]model.Alert, error)
}

// ClassificationCache is the persistent merchant subscription cache.
type ClassificationCache interface {
	GetMerchantClassification(ctx context.Context, merchant string) (*model.MerchantClassification, error)
	// SaveMerchantClassification stores an entry. An oracle result never
	// replaces an existing user override.
	SaveMerchantClassification(ctx context.Context, entry *model.MerchantClassification) error
	DeleteMerchantClassification(ctx context.Context, merchant string) error
	ListMerchantClassifications(ctx context.Context) ([]model.MerchantClassification, error)
}

// Storage is the complete persistence contract.
type Storage interface {
	TransactionStore
	ReceiptStore
	SubscriptionStore
	AlertStore
	ClassificationCache

	Migrate(ctx context.Context) error
	Close() error
}

// RetryOptions configures common.WithRetry.
type RetryOptions struct {
	// ShouldRetry reports whether a failure is transient. Nil retries every
	// error not marked final.
	ShouldRetry func(err error) bool
	// OnRetry is called before each wait.
	OnRetry      func(attempt int, delay time.Duration, err error)
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}
