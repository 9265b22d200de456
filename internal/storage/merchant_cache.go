package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/model"
)

// GetMerchantClassification returns the cached verdict for a merchant key.
func (s *SQLiteStorage) GetMerchantClassification(ctx context.Context, merchant string) (*model.MerchantClassification, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(merchant, "merchant"); err != nil {
		return nil, err
	}

	var (
		entry          model.MerchantClassification
		classification string
		source         string
		updatedAt      string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT merchant, classification, confidence, source, updated_at
		FROM merchant_subscription_cache
		WHERE merchant = ?
	`, merchant).Scan(&entry.Merchant, &classification, &entry.Confidence, &source, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("merchant %s: %w", merchant, common.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get merchant classification: %w", err)
	}

	entry.Classification = model.MerchantLabel(classification)
	entry.Source = model.ClassificationSource(source)
	if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &entry, nil
}

// SaveMerchantClassification upserts a cache entry. Oracle results leave an
// existing user override untouched.
func (s *SQLiteStorage) SaveMerchantClassification(ctx context.Context, entry *model.MerchantClassification) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateCacheEntry(entry); err != nil {
		return err
	}

	if entry.UpdatedAt.IsZero() {
		entry.UpdatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO merchant_subscription_cache (merchant, classification, confidence, source, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(merchant) DO UPDATE SET
			classification = excluded.classification,
			confidence = excluded.confidence,
			source = excluded.source,
			updated_at = excluded.updated_at
		WHERE excluded.source = ? OR merchant_subscription_cache.source != ?
	`,
		entry.Merchant,
		string(entry.Classification),
		entry.Confidence,
		string(entry.Source),
		formatTime(entry.UpdatedAt),
		string(model.SourceUserOverride),
		string(model.SourceUserOverride),
	)
	if err != nil {
		return fmt.Errorf("failed to save merchant classification %s: %w", entry.Merchant, err)
	}
	return nil
}

// DeleteMerchantClassification removes a merchant from the cache.
func (s *SQLiteStorage) DeleteMerchantClassification(ctx context.Context, merchant string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(merchant, "merchant"); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM merchant_subscription_cache WHERE merchant = ?`, merchant)
	if err != nil {
		return fmt.Errorf("failed to delete merchant classification: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("merchant %s: %w", merchant, common.ErrNotFound)
	}
	return nil
}

// ListMerchantClassifications returns every cache entry ordered by merchant.
func (s *SQLiteStorage) ListMerchantClassifications(ctx context.Context) ([]model.MerchantClassification, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT merchant, classification, confidence, source, updated_at
		FROM merchant_subscription_cache
		ORDER BY merchant ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query merchant classifications: %w", err)
	}
	defer closeRows(rows)

	var entries []model.MerchantClassification
	for rows.Next() {
		var (
			entry          model.MerchantClassification
			classification string
			source         string
			updatedAt      string
		)
		if err := rows.Scan(&entry.Merchant, &classification, &entry.Confidence, &source, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan merchant classification: %w", err)
		}
		entry.Classification = model.MerchantLabel(classification)
		entry.Source = model.ClassificationSource(source)
		if entry.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate merchant classifications: %w", err)
	}
	return entries, nil
}
