package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/detect"
	"github.com/Veraticus/spice-sentinel/internal/engine"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/charmbracelet/lipgloss"
)

// RenderTable lays out rows under a bold header, padding each column to its
// widest cell.
func RenderTable(headers []string, rows [][]string) string {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = lipgloss.Width(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && lipgloss.Width(cell) > widths[i] {
				widths[i] = lipgloss.Width(cell)
			}
		}
	}

	line := func(cells []string, style lipgloss.Style) string {
		rendered := make([]string, len(cells))
		for i, cell := range cells {
			rendered[i] = TableCellStyle.Width(widths[i] + 2).Render(cell)
		}
		return style.Render(lipgloss.JoinHorizontal(lipgloss.Top, rendered...))
	}

	var b strings.Builder
	b.WriteString(line(headers, TableHeaderStyle))
	b.WriteString("\n")
	for _, row := range rows {
		b.WriteString(line(row, lipgloss.NewStyle()))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderResults summarizes a detection run. Failed kinds are listed
// separately so partial success is visible.
func RenderResults(r *engine.DetectionResults) string {
	var rows [][]string
	for _, kind := range detect.Kinds() {
		k, ok := r.Kinds[kind]
		if !ok {
			continue
		}
		status := SuccessStyle.Render(SuccessIcon)
		if k.Failed > 0 {
			status = ErrorStyle.Render(fmt.Sprintf("%s %d failed", ErrorIcon, k.Failed))
		}
		rows = append(rows, []string{
			string(kind),
			fmt.Sprint(k.Findings),
			fmt.Sprint(k.Created),
			fmt.Sprint(k.Updated),
			fmt.Sprint(k.Reopened),
			fmt.Sprint(k.Unchanged + k.Suppressed),
			status,
		})
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Run %s as of %s\n", r.RunID, r.AsOf.Format(time.DateOnly))
	fmt.Fprintf(&b, "%d series analyzed, %d subscriptions matched\n\n", r.SeriesAnalyzed, r.SubscriptionsMatched)
	b.WriteString(RenderTable([]string{"Detector", "Findings", "New", "Updated", "Re-opened", "Quiet", "Status"}, rows))

	if len(r.Failures) > 0 {
		b.WriteString("\n" + FormatError(fmt.Sprintf("%d failures:", len(r.Failures))) + "\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&b, "  • %s %s: %v\n", f.Kind, f.Subject, f.Err)
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\n" + FormatWarning(fmt.Sprintf("%d alerts could not be written:", len(r.Warnings))) + "\n")
		for _, f := range r.Warnings {
			fmt.Fprintf(&b, "  • %s %s: %v\n", f.Kind, f.Subject, f.Err)
		}
	}

	title := "Detection Complete"
	if !r.Succeeded() {
		title = "Detection Finished With Problems"
	}
	return RenderBox(title, b.String())
}

// RenderAlerts lists alerts, newest first as given.
func RenderAlerts(alerts []model.Alert) string {
	if len(alerts) == 0 {
		return FormatInfo("No alerts")
	}
	rows := make([][]string, len(alerts))
	for i, a := range alerts {
		rows[i] = []string{
			shortID(a.ID),
			AlertIcon(a.Type) + " " + string(a.Type),
			StyleSeverity(a.Severity),
			string(a.Status),
			a.UpdatedAt.Format(time.DateOnly),
			a.Message,
		}
	}
	title := FormatTitle(fmt.Sprintf("%d alerts", len(alerts)))
	if len(alerts) == 1 {
		title = FormatTitle("1 alert")
	}
	return title + "\n" + RenderTable([]string{"ID", "Type", "Severity", "Status", "Updated", "Message"}, rows)
}

// RenderAlert shows one alert in full.
func RenderAlert(a *model.Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n\n", a.Message)
	fmt.Fprintf(&b, "ID:        %s\n", a.ID)
	fmt.Fprintf(&b, "Severity:  %s\n", StyleSeverity(a.Severity))
	fmt.Fprintf(&b, "Status:    %s\n", a.Status)
	fmt.Fprintf(&b, "Key:       %s\n", SubtleStyle.Render(a.DedupKey))
	return RenderBox(AlertIcon(a.Type)+" "+string(a.Type), b.String())
}

// RenderSubscriptions lists subscriptions. stale marks acknowledgments that
// no longer suppress zombie alerts.
func RenderSubscriptions(subs []model.Subscription, stale func(*model.Subscription) bool) string {
	if len(subs) == 0 {
		return FormatInfo("No subscriptions detected yet")
	}
	rows := make([][]string, len(subs))
	for i, s := range subs {
		ack := SubtleStyle.Render("no")
		if s.UserAcknowledged {
			ack = "yes"
			if s.AcknowledgedAt != nil {
				ack = s.AcknowledgedAt.Format(time.DateOnly)
				if stale != nil && stale(&s) {
					ack = WarningStyle.Render(ack + " (stale)")
				}
			}
		}
		rows[i] = []string{
			fmt.Sprint(s.ID),
			s.Merchant,
			fmt.Sprintf("$%.2f", s.Amount),
			string(s.Frequency),
			string(s.Status),
			ack,
			s.LastTransactionDate.Format(time.DateOnly),
			string(s.Profile),
		}
	}
	return RenderTable([]string{"ID", "Merchant", "Amount", "Frequency", "Status", "Acknowledged", "Last Charge", "Profile"}, rows)
}

// RenderClassifications lists the merchant subscription cache.
func RenderClassifications(entries []model.MerchantClassification) string {
	if len(entries) == 0 {
		return FormatInfo("No merchant classifications cached")
	}
	rows := make([][]string, len(entries))
	for i, e := range entries {
		source := string(e.Source)
		if e.IsOverride() {
			source = BoldStyle.Render(source)
		}
		rows[i] = []string{
			e.Merchant,
			string(e.Classification),
			fmt.Sprintf("%.0f%%", e.Confidence*100),
			source,
			e.UpdatedAt.Format(time.DateOnly),
		}
	}
	return RenderTable([]string{"Merchant", "Label", "Confidence", "Source", "Updated"}, rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
