package model

import (
	"fmt"
	"time"
)

// SubscriptionStatus is the lifecycle state of a detected subscription.
type SubscriptionStatus string

// Subscription status constants.
const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionExcluded  SubscriptionStatus = "excluded"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionCancelled, SubscriptionExcluded:
		return true
	}
	return false
}

// Frequency is the inferred billing cadence of a subscription.
type Frequency string

// Frequency constants.
const (
	FrequencyWeekly    Frequency = "weekly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
)

// Days returns the nominal cycle length in days.
func (f Frequency) Days() int {
	switch f {
	case FrequencyWeekly:
		return 7
	case FrequencyMonthly:
		return 30
	case FrequencyQuarterly:
		return 91
	case FrequencyYearly:
		return 365
	}
	return 0
}

// Frequencies lists every frequency from shortest to longest period.
func Frequencies() []Frequency {
	return []Frequency{FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly}
}

// ParseFrequency converts a stored value back into a Frequency.
func ParseFrequency(s string) (Frequency, error) {
	f := Frequency(s)
	if f.Days() == 0 {
		return "", fmt.Errorf("unknown frequency %q", s)
	}
	return f, nil
}

// Profile names the threshold profile a subscription was matched under.
type Profile string

// Profile constants.
const (
	ProfileStrict Profile = "strict"
	ProfileSmart  Profile = "smart"
)

// Subscription is a recurring charge detected for one (account, merchant) pair.
// Alerts reference subscriptions by ID; the subscription never holds its alerts.
type Subscription struct {
	DetectedAt          time.Time
	LastTransactionDate time.Time
	UpdatedAt           time.Time
	AcknowledgedAt      *time.Time
	CancelledAt         *time.Time
	AccountID           string
	Merchant            string // Canonical merchant name
	MerchantKey         string // Normalized grouping key
	Frequency           Frequency
	Status              SubscriptionStatus
	Profile             Profile
	ID                  int64
	Amount              float64 // Last observed charge, positive
	TransactionCount    int
	UserAcknowledged    bool
}
