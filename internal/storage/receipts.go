package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Veraticus/spice-sentinel/internal/model"
)

// SaveReceiptLink records that a receipt was matched to a bank transaction.
func (s *SQLiteStorage) SaveReceiptLink(ctx context.Context, link *model.ReceiptLink) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if link == nil {
		return fmt.Errorf("%w: receipt link", ErrNilParameter)
	}
	if err := validateString(link.ReceiptID, "receiptID"); err != nil {
		return err
	}
	if err := validateString(link.TransactionID, "transactionID"); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO receipt_links (receipt_id, transaction_id, merchant, expected_amount, captured_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(receipt_id) DO UPDATE SET
			transaction_id = excluded.transaction_id,
			merchant = excluded.merchant,
			expected_amount = excluded.expected_amount,
			captured_at = excluded.captured_at
	`, link.ReceiptID, link.TransactionID, link.Merchant, link.ExpectedAmount, formatTime(link.CapturedAt))
	if err != nil {
		return fmt.Errorf("failed to save receipt link %s: %w", link.ReceiptID, err)
	}
	return nil
}

// GetReceiptLinks returns every linked receipt, oldest capture first.
func (s *SQLiteStorage) GetReceiptLinks(ctx context.Context) ([]model.ReceiptLink, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT receipt_id, transaction_id, merchant, expected_amount, captured_at
		FROM receipt_links
		ORDER BY captured_at ASC, receipt_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipt links: %w", err)
	}
	defer closeRows(rows)

	var links []model.ReceiptLink
	for rows.Next() {
		var (
			link       model.ReceiptLink
			merchant   sql.NullString
			capturedAt string
		)
		if err := rows.Scan(&link.ReceiptID, &link.TransactionID, &merchant, &link.ExpectedAmount, &capturedAt); err != nil {
			return nil, fmt.Errorf("failed to scan receipt link: %w", err)
		}
		if link.CapturedAt, err = parseTime(capturedAt); err != nil {
			return nil, err
		}
		link.Merchant = merchant.String
		links = append(links, link)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate receipt links: %w", err)
	}
	return links, nil
}
