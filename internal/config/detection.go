// Package config holds the detection thresholds and the application paths.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/model"
)

// Detection holds every tunable threshold of a detection run.
// It is loaded once per run and passed explicitly to each component.
type Detection struct {
	StrictMinTransactions     int     `mapstructure:"strict_min_transactions" json:"strict_min_transactions" yaml:"strict_min_transactions"`
	StrictAmountVariance      float64 `mapstructure:"strict_amount_variance" json:"strict_amount_variance" yaml:"strict_amount_variance"`
	StrictIntervalConsistency float64 `mapstructure:"strict_interval_consistency" json:"strict_interval_consistency" yaml:"strict_interval_consistency"`

	SmartMinTransactions     int     `mapstructure:"smart_min_transactions" json:"smart_min_transactions" yaml:"smart_min_transactions"`
	SmartAmountVariance      float64 `mapstructure:"smart_amount_variance" json:"smart_amount_variance" yaml:"smart_amount_variance"`
	SmartIntervalConsistency float64 `mapstructure:"smart_interval_consistency" json:"smart_interval_consistency" yaml:"smart_interval_consistency"`

	OllamaConfidenceThreshold float64       `mapstructure:"ollama_confidence_threshold" json:"ollama_confidence_threshold" yaml:"ollama_confidence_threshold"`
	OracleTimeout             time.Duration `mapstructure:"oracle_timeout" json:"oracle_timeout" yaml:"oracle_timeout"`

	AcknowledgmentStaleDays int `mapstructure:"acknowledgment_stale_days" json:"acknowledgment_stale_days" yaml:"acknowledgment_stale_days"`
	ZombieMinMonths         int `mapstructure:"zombie_min_months" json:"zombie_min_months" yaml:"zombie_min_months"`

	PriceIncreasePercent   float64 `mapstructure:"price_increase_percent" json:"price_increase_percent" yaml:"price_increase_percent"`
	PriceIncreaseMinAmount float64 `mapstructure:"price_increase_min_amount" json:"price_increase_min_amount" yaml:"price_increase_min_amount"`
	PriceLookbackMonths    int     `mapstructure:"price_lookback_months" json:"price_lookback_months" yaml:"price_lookback_months"`

	GraceWeeklyDays    int `mapstructure:"grace_weekly_days" json:"grace_weekly_days" yaml:"grace_weekly_days"`
	GraceMonthlyDays   int `mapstructure:"grace_monthly_days" json:"grace_monthly_days" yaml:"grace_monthly_days"`
	GraceQuarterlyDays int `mapstructure:"grace_quarterly_days" json:"grace_quarterly_days" yaml:"grace_quarterly_days"`
	GraceYearlyDays    int `mapstructure:"grace_yearly_days" json:"grace_yearly_days" yaml:"grace_yearly_days"`

	AnomalyBaselineMonths  int     `mapstructure:"anomaly_baseline_months" json:"anomaly_baseline_months" yaml:"anomaly_baseline_months"`
	AnomalyMinBaseline     float64 `mapstructure:"anomaly_min_baseline" json:"anomaly_min_baseline" yaml:"anomaly_min_baseline"`
	AnomalyIncreasePercent float64 `mapstructure:"anomaly_increase_percent" json:"anomaly_increase_percent" yaml:"anomaly_increase_percent"`
	AnomalyDecreasePercent float64 `mapstructure:"anomaly_decrease_percent" json:"anomaly_decrease_percent" yaml:"anomaly_decrease_percent"`

	TipDiscrepancyThreshold float64 `mapstructure:"tip_discrepancy_threshold" json:"tip_discrepancy_threshold" yaml:"tip_discrepancy_threshold"`

	Workers int `mapstructure:"workers" json:"workers" yaml:"workers"`
}

// DefaultDetection returns the stock thresholds.
func DefaultDetection() Detection {
	return Detection{
		StrictMinTransactions:     3,
		StrictAmountVariance:      0.05,
		StrictIntervalConsistency: 0.70,

		SmartMinTransactions:     2,
		SmartAmountVariance:      0.50,
		SmartIntervalConsistency: 0.50,

		OllamaConfidenceThreshold: 0.70,
		OracleTimeout:             10 * time.Second,

		AcknowledgmentStaleDays: 90,
		ZombieMinMonths:         3,

		PriceIncreasePercent:   0.05,
		PriceIncreaseMinAmount: 1.00,
		PriceLookbackMonths:    3,

		GraceWeeklyDays:    3,
		GraceMonthlyDays:   7,
		GraceQuarterlyDays: 7,
		GraceYearlyDays:    30,

		AnomalyBaselineMonths:  3,
		AnomalyMinBaseline:     50,
		AnomalyIncreasePercent: 0.30,
		AnomalyDecreasePercent: 0.40,

		TipDiscrepancyThreshold: 0.50,

		Workers: 4,
	}
}

// GraceDays returns the grace period applied after an expected charge date.
// Quarterly subscriptions share the monthly grace unless configured otherwise.
func (d Detection) GraceDays(f model.Frequency) int {
	switch f {
	case model.FrequencyWeekly:
		return d.GraceWeeklyDays
	case model.FrequencyMonthly:
		return d.GraceMonthlyDays
	case model.FrequencyQuarterly:
		if d.GraceQuarterlyDays > 0 {
			return d.GraceQuarterlyDays
		}
		return d.GraceMonthlyDays
	case model.FrequencyYearly:
		return d.GraceYearlyDays
	}
	return d.GraceMonthlyDays
}

// MinTransactions returns the smallest series length any profile accepts.
func (d Detection) MinTransactions() int {
	if d.SmartMinTransactions < d.StrictMinTransactions {
		return d.SmartMinTransactions
	}
	return d.StrictMinTransactions
}

// Validate checks every threshold and reports all problems at once.
// The returned error wraps common.ErrConfigInvalid.
func (d Detection) Validate() error {
	var errs []error

	fraction := func(name string, v float64) {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("%s must be between 0 and 1, got %v", name, v))
		}
	}
	positive := func(name string, v float64) {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %v", name, v))
		}
	}

	if d.StrictMinTransactions < 2 {
		errs = append(errs, fmt.Errorf("strict_min_transactions must be at least 2, got %d", d.StrictMinTransactions))
	}
	if d.SmartMinTransactions < 2 {
		errs = append(errs, fmt.Errorf("smart_min_transactions must be at least 2, got %d", d.SmartMinTransactions))
	}
	fraction("strict_amount_variance", d.StrictAmountVariance)
	fraction("strict_interval_consistency", d.StrictIntervalConsistency)
	fraction("smart_amount_variance", d.SmartAmountVariance)
	fraction("smart_interval_consistency", d.SmartIntervalConsistency)
	fraction("ollama_confidence_threshold", d.OllamaConfidenceThreshold)
	fraction("price_increase_percent", d.PriceIncreasePercent)
	fraction("anomaly_decrease_percent", d.AnomalyDecreasePercent)

	positive("acknowledgment_stale_days", float64(d.AcknowledgmentStaleDays))
	positive("zombie_min_months", float64(d.ZombieMinMonths))
	positive("price_lookback_months", float64(d.PriceLookbackMonths))
	positive("anomaly_baseline_months", float64(d.AnomalyBaselineMonths))
	positive("anomaly_increase_percent", d.AnomalyIncreasePercent)
	positive("tip_discrepancy_threshold", d.TipDiscrepancyThreshold)
	positive("oracle_timeout", float64(d.OracleTimeout))
	positive("workers", float64(d.Workers))

	if d.PriceIncreaseMinAmount < 0 {
		errs = append(errs, fmt.Errorf("price_increase_min_amount cannot be negative, got %v", d.PriceIncreaseMinAmount))
	}
	if d.AnomalyMinBaseline < 0 {
		errs = append(errs, fmt.Errorf("anomaly_min_baseline cannot be negative, got %v", d.AnomalyMinBaseline))
	}
	for _, g := range []struct {
		name string
		days int
	}{
		{"grace_weekly_days", d.GraceWeeklyDays},
		{"grace_monthly_days", d.GraceMonthlyDays},
		{"grace_quarterly_days", d.GraceQuarterlyDays},
		{"grace_yearly_days", d.GraceYearlyDays},
	} {
		if g.days < 0 {
			errs = append(errs, fmt.Errorf("%s cannot be negative, got %d", g.name, g.days))
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", common.ErrConfigInvalid, errors.Join(errs...))
}
