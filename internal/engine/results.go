package engine

import (
	"time"

	"github.com/Veraticus/spice-sentinel/internal/detect"
)

// KindResult counts what one detector did during a run.
type KindResult struct {
	Findings   int `json:"findings"`
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Reopened   int `json:"reopened"`
	Unchanged  int `json:"unchanged"`
	Suppressed int `json:"suppressed"`
	Failed     int `json:"failed"`
}

// DetectionResults summarizes a run.
type DetectionResults struct {
	StartedAt  time.Time
	FinishedAt time.Time
	AsOf       time.Time
	Kinds      map[detect.Kind]*KindResult
	RunID      string
	AlertIDs   []string // Alerts created, updated or re-opened, sorted
	// Failures are detector or matcher errors. The subjects they name were
	// skipped; everything else was still analyzed.
	Failures []detect.Failure
	// Warnings are findings that could not be written.
	Warnings             []detect.Failure
	SeriesAnalyzed       int
	SubscriptionsMatched int
}

// Succeeded reports whether every requested detector finished without
// failures or unwritten findings.
func (r *DetectionResults) Succeeded() bool {
	return len(r.Failures) == 0 && len(r.Warnings) == 0
}

// FailedKinds lists the kinds that recorded at least one failure, in run
// order.
func (r *DetectionResults) FailedKinds() []detect.Kind {
	seen := make(map[detect.Kind]bool)
	for _, f := range r.Failures {
		seen[f.Kind] = true
	}
	var kinds []detect.Kind
	for _, k := range append(detect.Kinds(), KindMatch) {
		if seen[k] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Totals sums the per-kind counts.
func (r *DetectionResults) Totals() KindResult {
	var total KindResult
	for _, k := range r.Kinds {
		total.Findings += k.Findings
		total.Created += k.Created
		total.Updated += k.Updated
		total.Reopened += k.Reopened
		total.Unchanged += k.Unchanged
		total.Suppressed += k.Suppressed
		total.Failed += k.Failed
	}
	return total
}
