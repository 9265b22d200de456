package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/Veraticus/spice-sentinel/internal/cli"
	"github.com/Veraticus/spice-sentinel/internal/detect"
	"github.com/Veraticus/spice-sentinel/internal/engine"
	"github.com/spf13/cobra"
)

func detectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "detect",
		Short: "Scan transactions for wasted money",
		Long: `Run the waste detectors over your imported transactions.

Recurring charges are grouped by merchant, classified as subscription or
retail, and matched into subscriptions. The detectors then look for:
- auto_cancel: acknowledged subscriptions that stopped charging
- resume:      cancelled subscriptions that started charging again
- zombies:     subscriptions charging for months without acknowledgment
- increases:   price increases against an earlier charge
- duplicates:  several subscriptions serving the same purpose
- anomaly:     category spending far from its recent average
- tip:         bank charges that do not match the linked receipt

Running detect again on unchanged data creates no new alerts.

Examples:
  # Run every detector
  spice detect

  # Only look for zombies and price increases
  spice detect --kinds zombies,increases

  # Evaluate as of an earlier date
  spice detect --as-of 2024-06-30`,
		RunE: runDetect,
	}

	cmd.Flags().StringSlice("kinds", []string{"all"}, "Detectors to run ("+kindNames()+")")
	cmd.Flags().String("as-of", "", "Evaluate as of this date (YYYY-MM-DD, default today)")
	cmd.Flags().String("since", "", "Ignore transactions before this date (YYYY-MM-DD)")
	cmd.Flags().String("account", "", "Only analyze this account")
	cmd.Flags().String("output", "summary", "Output format (summary, json)")
	cmd.Flags().Bool("no-progress", false, "Do not draw progress bars")

	return cmd
}

func kindNames() string {
	names := []string{string(detect.KindAll)}
	for _, k := range detect.Kinds() {
		names = append(names, string(k))
	}
	return strings.Join(names, ", ")
}

func runDetect(cmd *cobra.Command, _ []string) error {
	kindFlags, _ := cmd.Flags().GetStringSlice("kinds")
	asOfStr, _ := cmd.Flags().GetString("as-of")
	sinceStr, _ := cmd.Flags().GetString("since")
	accountID, _ := cmd.Flags().GetString("account")
	outputFormat, _ := cmd.Flags().GetString("output")
	noProgress, _ := cmd.Flags().GetBool("no-progress")

	if outputFormat != "summary" && outputFormat != "json" {
		return fmt.Errorf("invalid output format: %s", outputFormat)
	}

	kinds, err := detect.ParseKinds(kindFlags)
	if err != nil {
		return err
	}
	asOf, err := parseDate(asOfStr)
	if err != nil {
		return err
	}
	if !asOf.IsZero() {
		asOf = asOf.AddDate(0, 0, 1).Add(-1) // End of the requested day
	}
	opts := engine.Options{AsOf: asOf, Kinds: kinds, AccountID: accountID}
	if sinceStr != "" {
		since, err := parseDate(sinceStr)
		if err != nil {
			return err
		}
		opts.Since = &since
	}

	interrupts := cli.NewInterruptHandler(cmd.ErrOrStderr(), "spice detect")
	ctx := interrupts.HandleInterrupts(cmd.Context())

	eng, _, cleanup, err := initEngine(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var progress *cli.StageProgress
	if !noProgress && outputFormat == "summary" {
		progress = cli.NewStageProgress(cmd.ErrOrStderr())
		opts.Progress = func(ev engine.ProgressEvent) {
			progress.Update(ev.Stage, ev.Done, ev.Total)
		}
	}

	results, err := eng.Run(ctx, opts)
	if progress != nil {
		progress.Finish()
	}
	if err != nil {
		if errors.Is(err, ctx.Err()) && interrupts.WasInterrupted() {
			return nil
		}
		return fmt.Errorf("detection failed: %w", err)
	}

	if outputFormat == "json" {
		return exportResultsJSON(results)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderResults(results))
	if len(results.AlertIDs) > 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "\nReview them with: spice alerts list")
	}
	if failed := results.FailedKinds(); len(failed) > 0 {
		slog.Warn("Some detectors did not complete", "kinds", failed)
	}
	return nil
}

type jsonFailure struct {
	Kind    detect.Kind `json:"kind"`
	Subject string      `json:"subject"`
	Error   string      `json:"error"`
}

// exportResultsJSON writes the run summary as JSON to stdout.
func exportResultsJSON(r *engine.DetectionResults) error {
	failures := func(in []detect.Failure) []jsonFailure {
		out := make([]jsonFailure, len(in))
		for i, f := range in {
			out[i] = jsonFailure{Kind: f.Kind, Subject: f.Subject, Error: f.Err.Error()}
		}
		return out
	}

	payload := map[string]any{
		"run_id":                r.RunID,
		"as_of":                 r.AsOf,
		"started_at":            r.StartedAt,
		"finished_at":           r.FinishedAt,
		"kinds":                 r.Kinds,
		"alert_ids":             r.AlertIDs,
		"failures":              failures(r.Failures),
		"warnings":              failures(r.Warnings),
		"failed_kinds":          r.FailedKinds(),
		"series_analyzed":       r.SeriesAnalyzed,
		"subscriptions_matched": r.SubscriptionsMatched,
		"succeeded":             r.Succeeded(),
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("failed to encode results as JSON: %w", err)
	}
	return nil
}
