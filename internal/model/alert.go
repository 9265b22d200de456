package model

import (
	"fmt"
	"time"
)

// AlertType identifies which detector produced an alert.
type AlertType string

// Alert type constants.
const (
	AlertZombie           AlertType = "zombie"
	AlertPriceIncrease    AlertType = "price_increase"
	AlertDuplicate        AlertType = "duplicate"
	AlertAutoCancellation AlertType = "auto_cancellation"
	AlertResume           AlertType = "resume"
	AlertSpendingAnomaly  AlertType = "spending_anomaly"
	AlertTipDiscrepancy   AlertType = "tip_discrepancy"
	AlertReconciliation   AlertType = "reconciliation"
)

// Valid reports whether t is a known alert type.
func (t AlertType) Valid() bool {
	switch t {
	case AlertZombie, AlertPriceIncrease, AlertDuplicate, AlertAutoCancellation,
		AlertResume, AlertSpendingAnomaly, AlertTipDiscrepancy, AlertReconciliation:
		return true
	}
	return false
}

// AlertStatus is the user-facing state of an alert.
type AlertStatus string

// Alert status constants.
const (
	AlertOpen      AlertStatus = "open"
	AlertDismissed AlertStatus = "dismissed"
	AlertExcluded  AlertStatus = "excluded"
)

// Severity ranks how urgently an alert deserves attention.
type Severity string

// Severity constants.
const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Alert is a persisted detection finding.
type Alert struct {
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DismissedAt    *time.Time
	SubscriptionID *int64
	TransactionID  *string
	Metadata       map[string]any
	ID             string
	DedupKey       string
	Type           AlertType
	Severity       Severity
	Message        string
	Fingerprint    string // Signature of the condition that raised the alert
	Status         AlertStatus
}

// DedupKey builds the identity used to match findings to existing alerts.
func DedupKey(alertType AlertType, subject string) string {
	return fmt.Sprintf("%s:%s", alertType, subject)
}

// SubscriptionSubject is the dedup subject for subscription-scoped findings.
func SubscriptionSubject(id int64) string {
	return fmt.Sprintf("sub:%d", id)
}

// TransactionSubject is the dedup subject for transaction-scoped findings.
func TransactionSubject(id string) string {
	return "txn:" + id
}
