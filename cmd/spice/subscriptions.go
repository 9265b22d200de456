package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/cli"
	"github.com/Veraticus/spice-sentinel/internal/config"
	"github.com/Veraticus/spice-sentinel/internal/lifecycle"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/service"
	"github.com/spf13/cobra"
)

func subscriptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "subscriptions",
		Aliases: []string{"subs"},
		Short:   "List and manage detected subscriptions",
	}

	cmd.AddCommand(subscriptionsListCmd())
	cmd.AddCommand(subscriptionActionCmd("ack <id>", "Acknowledge a subscription so it is not flagged as a zombie",
		"Acknowledged", (*lifecycle.Tracker).Acknowledge))
	cmd.AddCommand(subscriptionActionCmd("cancel <id>", "Mark a subscription as cancelled",
		"Cancelled", (*lifecycle.Tracker).Cancel))
	cmd.AddCommand(subscriptionActionCmd("exclude <id>", "Stop all alerts for a subscription",
		"Excluded", (*lifecycle.Tracker).Exclude))
	cmd.AddCommand(subscriptionActionCmd("unexclude <id>", "Resume alerts for an excluded subscription",
		"Unexcluded", (*lifecycle.Tracker).Unexclude))

	return cmd
}

func subscriptionsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List detected subscriptions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			status, _ := cmd.Flags().GetString("status")
			account, _ := cmd.Flags().GetString("account")

			filter := service.SubscriptionFilter{AccountID: account, Status: model.SubscriptionStatus(status)}
			if status != "" && !filter.Status.Valid() {
				return fmt.Errorf("invalid status %q (active, cancelled, excluded)", status)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			subs, err := store.GetSubscriptions(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to list subscriptions: %w", err)
			}

			cfg, err := detectionConfig(ctx, store)
			if err != nil {
				return err
			}
			now := time.Now()
			stale := func(s *model.Subscription) bool { return lifecycle.IsStale(s, now, cfg) }
			fmt.Fprint(cmd.OutOrStdout(), cli.RenderSubscriptions(subs, stale))
			return nil
		},
	}

	cmd.Flags().String("status", "", "Only show subscriptions with this status")
	cmd.Flags().String("account", "", "Only show subscriptions of this account")
	return cmd
}

type subscriptionAction func(*lifecycle.Tracker, context.Context, int64) (*model.Subscription, error)

func subscriptionActionCmd(use, short, verb string, action subscriptionAction) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			tracker := lifecycle.NewTracker(store, store, slog.Default())
			sub, err := action(tracker, ctx, id)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s %s (now %s)", verb, sub.Merchant, sub.Status)))
			return nil
		},
	}
}

// detectionConfig returns the configuration detection runs would use.
func detectionConfig(ctx context.Context, store config.Store) (config.Detection, error) {
	fallback, err := fallbackDetection()
	if err != nil {
		return config.Detection{}, err
	}
	return config.Load(ctx, store, fallback)
}
