package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/Veraticus/spice-sentinel/internal/cli"
	"github.com/Veraticus/spice-sentinel/internal/model"
	"github.com/Veraticus/spice-sentinel/internal/series"
	"github.com/spf13/cobra"
)

func merchantsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merchants",
		Short: "Inspect and override merchant classifications",
		Long: `Each merchant is classified once as SUBSCRIPTION or RETAIL and the answer is
cached. Overrides you set here are permanent and always win over the oracle.`,
	}

	cmd.AddCommand(merchantsListCmd())
	cmd.AddCommand(merchantsOverrideCmd())
	cmd.AddCommand(merchantsClearCmd())
	return cmd
}

func merchantsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached merchant classifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.ListMerchantClassifications(ctx)
			if err != nil {
				return fmt.Errorf("failed to list merchant classifications: %w", err)
			}
			fmt.Fprint(cmd.OutOrStdout(), cli.RenderClassifications(entries))
			return nil
		},
	}
}

func merchantsOverrideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "override <merchant> <subscription|retail>",
		Short: "Permanently classify a merchant",
		Example: `  spice merchants override "COSTCO WHOLESALE" retail
  spice merchants override "SQ *LOCAL GYM" subscription`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			label := model.MerchantLabel(strings.ToUpper(args[1]))
			if !label.Valid() {
				return fmt.Errorf("invalid classification %q (subscription or retail)", args[1])
			}
			key := series.Key(args[0])

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entry := &model.MerchantClassification{
				Merchant:       key,
				Classification: label,
				Source:         model.SourceUserOverride,
				Confidence:     1,
				UpdatedAt:      time.Now(),
			}
			if err := store.SaveMerchantClassification(ctx, entry); err != nil {
				return fmt.Errorf("failed to save override: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s is now always %s", key, label)))
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Run `spice detect` to apply it"))
			return nil
		},
	}
}

func merchantsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear <merchant>",
		Short: "Forget a merchant's cached classification or override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			key := series.Key(args[0])

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.DeleteMerchantClassification(ctx, key); err != nil {
				return fmt.Errorf("failed to clear %s: %w", key, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Cleared %s; it will be re-classified on the next run", key)))
			return nil
		},
	}
}
