package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Veraticus/spice-sentinel/internal/alert"
	"github.com/Veraticus/spice-sentinel/internal/cli"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"github.com/spf13/cobra"
)

func alertsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Review, dismiss and restore alerts",
	}

	cmd.AddCommand(alertsListCmd())
	cmd.AddCommand(alertActionCmd("dismiss <id>", "Dismiss an alert until its condition materially changes", "Dismissed", (*alert.Emitter).Dismiss))
	cmd.AddCommand(alertActionCmd("restore <id>", "Re-open a dismissed alert", "Restored", (*alert.Emitter).Restore))
	return cmd
}

func alertsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			status, _ := cmd.Flags().GetString("status")
			alertType, _ := cmd.Flags().GetString("type")
			subscriptionID, _ := cmd.Flags().GetInt64("subscription")

			filter := service.AlertFilter{Status: model.AlertStatus(status), Type: model.AlertType(alertType)}
			if alertType != "" && !filter.Type.Valid() {
				return fmt.Errorf("invalid alert type %q", alertType)
			}
			if status == "all" {
				filter.Status = ""
			}
			if subscriptionID > 0 {
				filter.SubscriptionID = &subscriptionID
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			alerts, err := store.ListAlerts(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list alerts: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), cli.RenderAlerts(alerts))
			return nil
		},
	}

	cmd.Flags().String("status", string(model.AlertOpen), "Only show alerts with this status (open, dismissed, excluded, all)")
	cmd.Flags().String("type", "", "Only show alerts of this type")
	cmd.Flags().Int64("subscription", 0, "Only show alerts of this subscription")
	return cmd
}

func alertActionCmd(use, short, verb string, action func(*alert.Emitter, context.Context, string) (*model.Alert, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			cfg, err := detectionConfig(ctx, store)
			if err != nil {
				return err
			}
			emitter := alert.NewEmitter(store, cfg, slog.Default())
			a, err := action(emitter, ctx, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s: %s", verb, a.Message)))
			return nil
		},
	}
}
