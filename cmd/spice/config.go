package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/spice-sentinel/internal/cli"
	"github.com/Veraticus/spice-sentinel/internal/common"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show and persist detection thresholds",
		Long: `Detection thresholds come from the database when a configuration has been
saved there, otherwise from the detection section of the config file and
SPICE_ environment variables, on top of the built-in defaults.`,
	}

	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configInitCmd())
	cmd.AddCommand(configSetCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the configuration detection runs will use",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			source := "database"
			if _, err := store.GetDetectionConfig(ctx); errors.Is(err, common.ErrNotFound) {
				source = "config file and defaults"
			}

			cfg, err := detectionConfig(ctx, store)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render("# source: "+source))
			fmt.Fprint(cmd.OutOrStdout(), out)
			return nil
		},
	}
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Save the effective configuration to the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			force, _ := cmd.Flags().GetBool("force")

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			_, err = store.GetDetectionConfig(ctx)
			switch {
			case err == nil && !force:
				return common.NewUserError("a configuration is already saved; use --force to replace it with the file and defaults", nil)
			case err != nil && !errors.Is(err, common.ErrNotFound):
				return err
			}

			cfg, err := fallbackDetection()
			if err != nil {
				return err
			}
			if err := store.SaveDetectionConfig(ctx, cfg); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Detection configuration saved"))
			return nil
		},
	}
	cmd.Flags().Bool("force", false, "Replace an already saved configuration")
	return cmd
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change one saved threshold",
		Example: `  spice config set acknowledgment_stale_days 60
  spice config set oracle_timeout 20s`,
		Args: cobra.ExactArgs(2),
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
			updated, err := cfg.With(args[0], args[1])
			if err != nil {
				if keys, keysErr := cfg.Keys(); keysErr == nil && errors.Is(err, common.ErrConfigInvalid) {
					return fmt.Errorf("%w\nvalid keys: %s", err, strings.Join(keys, ", "))
				}
				return err
			}
			if err := store.SaveDetectionConfig(ctx, updated); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s = %s", args[0], args[1])))
			return nil
		},
	}
}
