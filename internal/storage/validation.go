// Package storage provides the data persistence layer for the detection engine.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/spice-sentinel/internal/model"
)

// Validation errors.
var (
	ErrNilContext          = errors.New("context cannot be nil")
	ErrEmptyString         = errors.New("string parameter cannot be empty")
	ErrNilParameter        = errors.New("parameter cannot be nil")
	ErrEmptySlice          = errors.New("slice cannot be empty")
	ErrInvalidDateRange    = errors.New("start date must be before end date")
	ErrInvalidTransaction  = errors.New("invalid transaction")
	ErrInvalidSubscription = errors.New("invalid subscription")
	ErrInvalidAlert        = errors.New("invalid alert")
	ErrInvalidCacheEntry   = errors.New("invalid merchant classification")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

// validateTransactions validates a slice of transactions.
func validateTransactions(transactions []model.Transaction) error {
	if transactions == nil {
		return fmt.Errorf("%w: transactions", ErrNilParameter)
	}
	if len(transactions) == 0 {
		return fmt.Errorf("%w: transactions", ErrEmptySlice)
	}

	for i, txn := range transactions {
		if err := validateTransaction(&txn); err != nil {
			return fmt.Errorf("transaction at index %d: %w", i, err)
		}
	}
	return nil
}

// validateTransaction validates a single transaction.
func validateTransaction(txn *model.Transaction) error {
	if txn == nil {
		return fmt.Errorf("%w: transaction", ErrNilParameter)
	}
	if txn.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidTransaction)
	}
	if txn.Date.IsZero() {
		return fmt.Errorf("%w: missing date", ErrInvalidTransaction)
	}
	if txn.Name == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTransaction)
	}
	if txn.AccountID == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidTransaction)
	}
	return nil
}

// validateSubscription validates the detection fields of a subscription.
func validateSubscription(sub *model.Subscription) error {
	if sub == nil {
		return fmt.Errorf("%w: subscription", ErrNilParameter)
	}
	if strings.TrimSpace(sub.AccountID) == "" {
		return fmt.Errorf("%w: missing account ID", ErrInvalidSubscription)
	}
	if strings.TrimSpace(sub.MerchantKey) == "" {
		return fmt.Errorf("%w: missing merchant key", ErrInvalidSubscription)
	}
	if sub.Frequency.Days() == 0 {
		return fmt.Errorf("%w: unknown frequency %q", ErrInvalidSubscription, sub.Frequency)
	}
	if sub.Status != "" && !sub.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSubscription, sub.Status)
	}
	if sub.LastTransactionDate.IsZero() {
		return fmt.Errorf("%w: missing last transaction date", ErrInvalidSubscription)
	}
	return nil
}

// validateAlert validates an alert before it is written.
func validateAlert(alert *model.Alert) error {
	if alert == nil {
		return fmt.Errorf("%w: alert", ErrNilParameter)
	}
	if alert.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidAlert)
	}
	if alert.DedupKey == "" {
		return fmt.Errorf("%w: missing dedup key", ErrInvalidAlert)
	}
	if !alert.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidAlert, alert.Type)
	}
	switch alert.Status {
	case model.AlertOpen, model.AlertDismissed, model.AlertExcluded:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidAlert, alert.Status)
	}
	return nil
}

// validateCacheEntry validates a merchant cache row.
func validateCacheEntry(entry *model.MerchantClassification) error {
	if entry == nil {
		return fmt.Errorf("%w: cache entry", ErrNilParameter)
	}
	if strings.TrimSpace(entry.Merchant) == "" {
		return fmt.Errorf("%w: missing merchant", ErrInvalidCacheEntry)
	}
	if !entry.Classification.Valid() {
		return fmt.Errorf("%w: unknown classification %q", ErrInvalidCacheEntry, entry.Classification)
	}
	if entry.Source != model.SourceOllama && entry.Source != model.SourceUserOverride {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidCacheEntry, entry.Source)
	}
	if entry.Confidence < 0 || entry.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidCacheEntry)
	}
	return nil
}
