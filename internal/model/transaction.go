// Package model defines the core domain models used throughout the application.
package model

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// Transaction represents a single imported bank transaction.
// Detection never mutates transactions.
type Transaction struct {
	Date         time.Time
	ID           string
	Name         string // Raw merchant description as it appeared on the statement
	MerchantName string // Normalized merchant, optional
	AccountID    string
	Hash         string
	Category     string // Category assigned by the tagging layer, optional
	Amount       float64 // Signed: negative values are debits
}

// IsDebit reports whether the transaction moved money out of the account.
func (t *Transaction) IsDebit() bool {
	return t.Amount < 0
}

// Merchant returns the best available merchant label.
func (t *Transaction) Merchant() string {
	if t.MerchantName != "" {
		return t.MerchantName
	}
	return t.Name
}

// GenerateHash creates a unique hash for duplicate detection.
func (t *Transaction) GenerateHash() string {
	data := fmt.Sprintf("%s:%.2f:%s:%s",
		t.Date.Format("2006-01-02"),
		t.Amount,
		t.Name,
		t.AccountID)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// ReceiptLink pairs a captured receipt with the bank transaction it was matched to.
type ReceiptLink struct {
	CapturedAt     time.Time
	ReceiptID      string
	TransactionID  string
	Merchant       string
	ExpectedAmount float64 // Receipt total before any tip was added
}
