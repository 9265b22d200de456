package storage

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAlert(id string, subID int64) *model.Alert {
	now := time.Now().UTC()
	return &model.Alert{
		ID:             id,
		DedupKey:       model.DedupKey(model.AlertZombie, model.SubscriptionSubject(subID)),
		Type:           model.AlertZombie,
		SubscriptionID: &subID,
		Severity:       model.SeverityMedium,
		Message:        "NETFLIX has been charging $15.99 monthly without acknowledgment",
		Metadata:       map[string]any{"amount": 15.99, "months": float64(4)},
		Fingerprint:    "netflix",
		Status:         model.AlertOpen,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestSQLiteStorage_AlertLifecycle(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sub := newTestSubscription("netflix")
	require.NoError(t, store.UpsertSubscription(ctx, sub))

	alert := newTestAlert("a1", sub.ID)
	require.NoError(t, store.CreateAlert(ctx, alert))

	got, err := store.GetAlertByDedupKey(ctx, "zombie:sub:1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	require.NotNil(t, got.SubscriptionID)
	assert.Equal(t, sub.ID, *got.SubscriptionID)
	assert.Nil(t, got.TransactionID)
	assert.InDelta(t, 15.99, got.Metadata["amount"], 0.0001)

	dismissedAt := time.Now().UTC()
	got.Status = model.AlertDismissed
	got.DismissedAt = &dismissedAt
	got.UpdatedAt = dismissedAt
	require.NoError(t, store.UpdateAlert(ctx, got))

	reread, err := store.GetAlert(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, model.AlertDismissed, reread.Status)
	require.NotNil(t, reread.DismissedAt)

	dismissed, err := store.ListAlerts(ctx, service.AlertFilter{Status: model.AlertDismissed})
	require.NoError(t, err)
	assert.Len(t, dismissed, 1)

	open, err := store.ListAlerts(ctx, service.AlertFilter{Status: model.AlertOpen})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSQLiteStorage_CreateAlert_DedupConflict(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sub := newTestSubscription("netflix")
	require.NoError(t, store.UpsertSubscription(ctx, sub))

	require.NoError(t, store.CreateAlert(ctx, newTestAlert("a1", sub.ID)))

	err := store.CreateAlert(ctx, newTestAlert("a2", sub.ID))
	require.ErrorIs(t, err, common.ErrPersistenceConflict)
}

func TestSQLiteStorage_TransactionAlert(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	txnID := "t-42"
	now := time.Now().UTC()
	alert := &model.Alert{
		ID:            "tip-1",
		DedupKey:      model.DedupKey(model.AlertTipDiscrepancy, model.TransactionSubject(txnID)),
		Type:          model.AlertTipDiscrepancy,
		TransactionID: &txnID,
		Severity:      model.SeverityMedium,
		Message:       "charged $10.00 more than the receipt",
		Status:        model.AlertOpen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	require.NoError(t, store.CreateAlert(ctx, alert))

	listed, err := store.ListAlerts(ctx, service.AlertFilter{Type: model.AlertTipDiscrepancy})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.NotNil(t, listed[0].TransactionID)
	assert.Equal(t, txnID, *listed[0].TransactionID)
	assert.Nil(t, listed[0].SubscriptionID)
	assert.Nil(t, listed[0].Metadata)
}

func TestSQLiteStorage_AlertErrors(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.GetAlert(ctx, "nope")
	require.ErrorIs(t, err, common.ErrNotFound)

	missing := newTestAlert("nope", 1)
	missing.SubscriptionID = nil
	require.ErrorIs(t, store.UpdateAlert(ctx, missing), common.ErrNotFound)

	invalid := newTestAlert("bad", 1)
	invalid.Type = "mystery"
	require.ErrorIs(t, store.CreateAlert(ctx, invalid), ErrInvalidAlert)
}
