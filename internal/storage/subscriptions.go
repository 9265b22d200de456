package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
)

const subscriptionColumns = `id, account_id, merchant, merchant_key, amount, frequency, profile, status,
	user_acknowledged, acknowledged_at, cancelled_at, transaction_count,
	last_transaction_date, detected_at, updated_at`

// UpsertSubscription inserts a subscription or refreshes the detection fields
// of the existing row for the same account and merchant key. The row's
// lifecycle columns are read back into sub.
func (s *SQLiteStorage) UpsertSubscription(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateSubscription(sub); err != nil {
		return err
	}

	now := time.Now()
	if sub.DetectedAt.IsZero() {
		sub.DetectedAt = now
	}
	sub.UpdatedAt = now

	status := sub.Status
	if status == "" {
		status = model.SubscriptionActive
	}
	profile := sub.Profile
	if profile == "" {
		profile = model.ProfileStrict
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO subscriptions (
			account_id, merchant, merchant_key, amount, frequency, profile, status,
			user_acknowledged, acknowledged_at, cancelled_at, transaction_count,
			last_transaction_date, detected_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, merchant_key) DO UPDATE SET
			merchant = excluded.merchant,
			amount = excluded.amount,
			frequency = excluded.frequency,
			profile = excluded.profile,
			transaction_count = excluded.transaction_count,
			last_transaction_date = excluded.last_transaction_date,
			updated_at = excluded.updated_at
		RETURNING `+subscriptionColumns,
		sub.AccountID,
		sub.Merchant,
		sub.MerchantKey,
		sub.Amount,
		string(sub.Frequency),
		string(profile),
		string(status),
		sub.UserAcknowledged,
		formatNullTime(sub.AcknowledgedAt),
		formatNullTime(sub.CancelledAt),
		sub.TransactionCount,
		formatTime(sub.LastTransactionDate),
		formatTime(sub.DetectedAt),
		formatTime(sub.UpdatedAt),
	)

	stored, err := scanSubscription(row)
	if err != nil {
		return conflictError("failed to upsert subscription", err)
	}
	*sub = *stored
	return nil
}

// GetSubscription retrieves a subscription by ID.
func (s *SQLiteStorage) GetSubscription(ctx context.Context, id int64) (*model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("subscription %d: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// GetSubscriptions lists subscriptions matching the filter, ordered by ID.
func (s *SQLiteStorage) GetSubscriptions(ctx context.Context, filter service.SubscriptionFilter) ([]model.Subscription, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	defer closeRows(rows)

	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate subscriptions: %w", err)
	}
	return subs, nil
}

// UpdateSubscriptionState writes the lifecycle columns of an existing subscription.
func (s *SQLiteStorage) UpdateSubscriptionState(ctx context.Context, sub *model.Subscription) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if sub == nil {
		return fmt.Errorf("%w: subscription", ErrNilParameter)
	}
	if !sub.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSubscription, sub.Status)
	}

	sub.UpdatedAt = time.Now()
	result, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET status = ?, user_acknowledged = ?, acknowledged_at = ?, cancelled_at = ?, updated_at = ?
		WHERE id = ?
	`,
		string(sub.Status),
		sub.UserAcknowledged,
		formatNullTime(sub.AcknowledgedAt),
		formatNullTime(sub.CancelledAt),
		formatTime(sub.UpdatedAt),
		sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription %d: %w", sub.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("subscription %d: %w", sub.ID, common.ErrNotFound)
	}
	return nil
}

func scanSubscription(row rowScanner) (*model.Subscription, error) {
	var (
		sub            model.Subscription
		frequency      string
		profile        string
		status         string
		acknowledgedAt sql.NullString
		cancelledAt    sql.NullString
		lastTxn        string
		detectedAt     string
		updatedAt      string
	)
	err := row.Scan(
		&sub.ID, &sub.AccountID, &sub.Merchant, &sub.MerchantKey, &sub.Amount,
		&frequency, &profile, &status,
		&sub.UserAcknowledged, &acknowledgedAt, &cancelledAt, &sub.TransactionCount,
		&lastTxn, &detectedAt, &updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}

	if sub.Frequency, err = model.ParseFrequency(frequency); err != nil {
		return nil, err
	}
	sub.Profile = model.Profile(profile)
	sub.Status = model.SubscriptionStatus(status)

	if sub.AcknowledgedAt, err = parseNullTime(acknowledgedAt); err != nil {
		return nil, err
	}
	if sub.CancelledAt, err = parseNullTime(cancelledAt); err != nil {
		return nil, err
	}
	if sub.LastTransactionDate, err = parseTime(lastTxn); err != nil {
		return nil, err
	}
	if sub.DetectedAt, err = parseTime(detectedAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}
