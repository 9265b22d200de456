package cli

import (
	"errors"
	"testing"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/detect"
	"github.com/Veraticus/spice-sentinel/internal/engine"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestRenderTable_PadsColumns(t *testing.T) {
	out := RenderTable([]string{"A", "B"}, [][]string{{"long value", "x"}, {"y", "z"}})
	assert.Contains(t, out, "long value")
	assert.Contains(t, out, "A")
}

func TestRenderResults_ShowsFailures(t *testing.T) {
	r := &engine.DetectionResults{
		RunID: "run-1",
		AsOf:  time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC),
		Kinds: map[detect.Kind]*engine.KindResult{
			detect.KindZombie:     {Findings: 2, Created: 1, Updated: 1},
			detect.KindAutoCancel: {Failed: 1},
		},
		Failures: []detect.Failure{{Kind: detect.KindAutoCancel, Subject: "sub:7", Err: errors.New("disk full")}},
	}

	out := RenderResults(r)
	assert.Contains(t, out, "Detection Finished With Problems")
	assert.Contains(t, out, "zombies")
	assert.Contains(t, out, "auto_cancel sub:7: disk full")
	assert.NotContains(t, out, "increases", "kinds that did not run are omitted")
}

func TestRenderSubscriptions_MarksStale(t *testing.T) {
	now := time.Date(2024, 6, 20, 0, 0, 0, 0, time.UTC)
	acked := now.AddDate(0, 0, -91)
	subs := []model.Subscription{{
		ID:                  1,
		Merchant:            "NETFLIX",
		Amount:              15.99,
		Frequency:           model.FrequencyMonthly,
		Status:              model.SubscriptionActive,
		UserAcknowledged:    true,
		AcknowledgedAt:      &acked,
		LastTransactionDate: now,
	}}

	out := RenderSubscriptions(subs, func(s *model.Subscription) bool { return s.ID == 1 })
	assert.Contains(t, out, "$15.99")
	assert.Contains(t, out, "(stale)")
}

func TestRenderAlerts_Empty(t *testing.T) {
	assert.Contains(t, RenderAlerts(nil), "No alerts")
}

func TestRenderAlerts_TitledList(t *testing.T) {
	alerts := []model.Alert{
		{ID: "a1", Type: model.AlertZombie, Severity: model.SeverityHigh, Status: model.AlertOpen, Message: "NETFLIX looks unused"},
		{ID: "a2", Type: model.AlertDuplicate, Severity: model.SeverityLow, Status: model.AlertOpen, Message: "2 streaming services"},
	}

	out := RenderAlerts(alerts)
	assert.Contains(t, out, SpiceIcon+" 2 alerts")
	assert.Contains(t, out, "NETFLIX looks unused")
	assert.Contains(t, RenderAlerts(alerts[:1]), SpiceIcon+" 1 alert")
}
