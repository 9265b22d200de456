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

func newTestSubscription(merchantKey string) *model.Subscription {
	return &model.Subscription{
		AccountID:           "acc1",
		Merchant:            "NETFLIX",
		MerchantKey:         merchantKey,
		Amount:              15.99,
		Frequency:           model.FrequencyMonthly,
		Profile:             model.ProfileStrict,
		TransactionCount:    4,
		LastTransactionDate: day(2024, 4, 15),
	}
}

func TestSQLiteStorage_UpsertSubscription(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sub := newTestSubscription("netflix")
	require.NoError(t, store.UpsertSubscription(ctx, sub))
	require.NotZero(t, sub.ID)
	assert.Equal(t, model.SubscriptionActive, sub.Status)
	assert.False(t, sub.UserAcknowledged)
	firstID := sub.ID
	detectedAt := sub.DetectedAt

	// User acknowledges, then a later run refreshes detection fields.
	ackAt := day(2024, 4, 20)
	sub.UserAcknowledged = true
	sub.AcknowledgedAt = &ackAt
	require.NoError(t, store.UpdateSubscriptionState(ctx, sub))

	refresh := newTestSubscription("netflix")
	refresh.Amount = 17.99
	refresh.TransactionCount = 5
	refresh.LastTransactionDate = day(2024, 5, 15)
	refresh.Profile = model.ProfileSmart
	require.NoError(t, store.UpsertSubscription(ctx, refresh))

	assert.Equal(t, firstID, refresh.ID)
	assert.True(t, refresh.UserAcknowledged, "upsert must not clear acknowledgment")
	require.NotNil(t, refresh.AcknowledgedAt)
	assert.True(t, refresh.AcknowledgedAt.Equal(ackAt))
	assert.InDelta(t, 17.99, refresh.Amount, 0.0001)
	assert.Equal(t, 5, refresh.TransactionCount)
	assert.Equal(t, model.ProfileSmart, refresh.Profile)
	assert.True(t, refresh.DetectedAt.Equal(detectedAt))

	subs, err := store.GetSubscriptions(ctx, service.SubscriptionFilter{})
	require.NoError(t, err)
	assert.Len(t, subs, 1)
}

func TestSQLiteStorage_UpsertPreservesCancelledStatus(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	sub := newTestSubscription("hulu")
	require.NoError(t, store.UpsertSubscription(ctx, sub))

	cancelledAt := day(2024, 6, 1)
	sub.Status = model.SubscriptionCancelled
	sub.CancelledAt = &cancelledAt
	require.NoError(t, store.UpdateSubscriptionState(ctx, sub))

	again := newTestSubscription("hulu")
	require.NoError(t, store.UpsertSubscription(ctx, again))
	assert.Equal(t, model.SubscriptionCancelled, again.Status)
	require.NotNil(t, again.CancelledAt)

	got, err := store.GetSubscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionCancelled, got.Status)
}

func TestSQLiteStorage_GetSubscriptions_Filter(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	a := newTestSubscription("netflix")
	b := newTestSubscription("spotify")
	b.AccountID = "acc2"
	require.NoError(t, store.UpsertSubscription(ctx, a))
	require.NoError(t, store.UpsertSubscription(ctx, b))

	b.Status = model.SubscriptionExcluded
	require.NoError(t, store.UpdateSubscriptionState(ctx, b))

	byAccount, err := store.GetSubscriptions(ctx, service.SubscriptionFilter{AccountID: "acc1"})
	require.NoError(t, err)
	require.Len(t, byAccount, 1)
	assert.Equal(t, "netflix", byAccount[0].MerchantKey)

	excluded, err := store.GetSubscriptions(ctx, service.SubscriptionFilter{Status: model.SubscriptionExcluded})
	require.NoError(t, err)
	require.Len(t, excluded, 1)
	assert.Equal(t, "spotify", excluded[0].MerchantKey)
}

func TestSQLiteStorage_SubscriptionErrors(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.GetSubscription(ctx, 999)
	require.ErrorIs(t, err, common.ErrNotFound)

	missing := newTestSubscription("ghost")
	missing.ID = 999
	missing.Status = model.SubscriptionActive
	require.ErrorIs(t, store.UpdateSubscriptionState(ctx, missing), common.ErrNotFound)

	bad := newTestSubscription("bad")
	bad.Frequency = "fortnightly"
	require.ErrorIs(t, store.UpsertSubscription(ctx, bad), ErrInvalidSubscription)

	noDate := newTestSubscription("nodate")
	noDate.LastTransactionDate = time.Time{}
	require.ErrorIs(t, store.UpsertSubscription(ctx, noDate), ErrInvalidSubscription)
}
