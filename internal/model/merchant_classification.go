package model

import "time"

// MerchantLabel is the subscription/retail verdict stored for a merchant.
type MerchantLabel string

// Merchant label constants.
const (
	LabelSubscription MerchantLabel = "SUBSCRIPTION"
	LabelRetail       MerchantLabel = "RETAIL"
)

// Valid reports whether l is a known label.
func (l MerchantLabel) Valid() bool {
	return l == LabelSubscription || l == LabelRetail
}

// ClassificationSource records who produced a cached merchant classification.
type ClassificationSource string

// Classification source constants.
const (
	SourceOllama       ClassificationSource = "ollama"
	SourceUserOverride ClassificationSource = "user_override"
)

// MerchantClassification is one row of the merchant subscription cache.
// Entries never expire; user overrides take precedence over the oracle forever.
type MerchantClassification struct {
	UpdatedAt      time.Time
	Merchant       string
	Classification MerchantLabel
	Source         ClassificationSource
	Confidence     float64
}

// IsOverride reports whether the entry was set by the user.
func (m *MerchantClassification) IsOverride() bool {
	return m.Source == SourceUserOverride
}
