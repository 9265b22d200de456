package main

import (
	"errors"
	"fmt"

	"github.com/Veraticus/spice-sentinel/internal/cli"
	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/Veraticus/spice-sentinel/internal/engine"
	"github.com/spf13/cobra"
)

func reanalyzeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reanalyze",
		Short: "Re-run detection for one alert or subscription",
		Long: `Re-run the relevant detectors for a single alert or subscription using the
current configuration and oracle. Cached merchant classifications are
refreshed from the oracle, which makes this the way to try a different model.

Examples:
  spice reanalyze --alert 3f2a9c1e-...
  spice reanalyze --subscription 12`,
		Args: cobra.NoArgs,
		RunE: runReanalyze,
	}

	cmd.Flags().String("alert", "", "Alert ID to re-analyze")
	cmd.Flags().Int64("subscription", 0, "Subscription ID to re-analyze")
	cmd.MarkFlagsMutuallyExclusive("alert", "subscription")
	cmd.MarkFlagsOneRequired("alert", "subscription")

	return cmd
}

func runReanalyze(cmd *cobra.Command, _ []string) error {
	alertID, _ := cmd.Flags().GetString("alert")
	subscriptionID, _ := cmd.Flags().GetInt64("subscription")

	eng, _, cleanup, err := initEngine(cmd.Context())
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := eng.Reanalyze(cmd.Context(), engine.Target{AlertID: alertID, SubscriptionID: subscriptionID})
	if errors.Is(err, common.ErrNoFinding) {
		fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Nothing to report: the condition no longer holds"))
		return nil
	}
	if err != nil {
		return fmt.Errorf("re-analysis failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), cli.RenderAlert(a))
	return nil
}
