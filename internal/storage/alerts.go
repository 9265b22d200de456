package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
)

const alertColumns = `id, dedup_key, alert_type, subscription_id, transaction_id, severity,
	message, metadata, fingerprint, status, created_at, updated_at, dismissed_at`

// CreateAlert inserts a new alert. A second alert with the same dedup key
// fails with common.ErrPersistenceConflict.
func (s *SQLiteStorage) CreateAlert(ctx context.Context, alert *model.Alert) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAlert(alert); err != nil {
		return err
	}

	metadata, err := encodeMetadata(alert.Metadata)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		alert.ID,
		alert.DedupKey,
		string(alert.Type),
		nullInt64(alert.SubscriptionID),
		nullString(alert.TransactionID),
		string(alert.Severity),
		alert.Message,
		metadata,
		alert.Fingerprint,
		string(alert.Status),
		formatTime(alert.CreatedAt),
		formatTime(alert.UpdatedAt),
		formatNullTime(alert.DismissedAt),
	)
	if err != nil {
		return conflictError(fmt.Sprintf("failed to create alert %s", alert.DedupKey), err)
	}
	return nil
}

// UpdateAlert rewrites the mutable fields of an existing alert.
func (s *SQLiteStorage) UpdateAlert(ctx context.Context, alert *model.Alert) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateAlert(alert); err != nil {
		return err
	}

	metadata, err := encodeMetadata(alert.Metadata)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET severity = ?, message = ?, metadata = ?, fingerprint = ?, status = ?,
			subscription_id = ?, transaction_id = ?, updated_at = ?, dismissed_at = ?
		WHERE id = ?
	`,
		string(alert.Severity),
		alert.Message,
		metadata,
		alert.Fingerprint,
		string(alert.Status),
		nullInt64(alert.SubscriptionID),
		nullString(alert.TransactionID),
		formatTime(alert.UpdatedAt),
		formatNullTime(alert.DismissedAt),
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert %s: %w", alert.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("alert %s: %w", alert.ID, common.ErrNotFound)
	}
	return nil
}

// GetAlert retrieves an alert by ID.
func (s *SQLiteStorage) GetAlert(ctx context.Context, id string) (*model.Alert, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getAlertWhere(ctx, "id = ?", id)
}

// GetAlertByDedupKey retrieves the alert for a dedup key.
func (s *SQLiteStorage) GetAlertByDedupKey(ctx context.Context, key string) (*model.Alert, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(key, "key"); err != nil {
		return nil, err
	}
	return s.getAlertWhere(ctx, "dedup_key = ?", key)
}

func (s *SQLiteStorage) getAlertWhere(ctx context.Context, clause string, arg any) (*model.Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE `+clause, arg)
	alert, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("alert %v: %w", arg, common.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return alert, nil
}

// ListAlerts returns alerts matching the filter, newest first.
func (s *SQLiteStorage) ListAlerts(ctx context.Context, filter service.AlertFilter) ([]model.Alert, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	if filter.SubscriptionID != nil {
		where = append(where, "subscription_id = ?")
		args = append(args, *filter.SubscriptionID)
	}
	if filter.Type != "" {
		where = append(where, "alert_type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + alertColumns + ` FROM alerts`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, dedup_key ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer closeRows(rows)

	var alerts []model.Alert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alerts: %w", err)
	}
	return alerts, nil
}

func scanAlert(row rowScanner) (*model.Alert, error) {
	var (
		alert          model.Alert
		alertType      string
		severity       string
		status         string
		subscriptionID sql.NullInt64
		transactionID  sql.NullString
		metadata       sql.NullString
		fingerprint    sql.NullString
		createdAt      string
		updatedAt      string
		dismissedAt    sql.NullString
	)
	err := row.Scan(
		&alert.ID, &alert.DedupKey, &alertType, &subscriptionID, &transactionID, &severity,
		&alert.Message, &metadata, &fingerprint, &status, &createdAt, &updatedAt, &dismissedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}

	alert.Type = model.AlertType(alertType)
	alert.Severity = model.Severity(severity)
	alert.Status = model.AlertStatus(status)
	alert.Fingerprint = fingerprint.String
	if subscriptionID.Valid {
		id := subscriptionID.Int64
		alert.SubscriptionID = &id
	}
	if transactionID.Valid {
		id := transactionID.String
		alert.TransactionID = &id
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &alert.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode alert metadata: %w", err)
		}
	}

	if alert.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if alert.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if alert.DismissedAt, err = parseNullTime(dismissedAt); err != nil {
		return nil, err
	}
	return &alert, nil
}

func encodeMetadata(metadata map[string]any) (sql.NullString, error) {
	if len(metadata) == 0 {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode alert metadata: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}
