package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pdavies/carpetloyalty/internal/loyalty/clock"
	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/loadtest"
	"github.com/pdavies/carpetloyalty/internal/loyalty/metadata"
	"github.com/pdavies/carpetloyalty/internal/loyalty/remote"
	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Run concurrent scans against a scratch database",
	Long: `Hammer barcode scanning from many goroutines and verify that every
counter still adds up afterwards.

The run uses a temporary database, never the configured one.

Examples:
  loyalty loadtest
  loyalty loadtest --workers 50 --scans 100 --barcodes 20
  loyalty loadtest --json`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers, _ := cmd.Flags().GetInt("workers")
		scans, _ := cmd.Flags().GetInt("scans")
		barcodes, _ := cmd.Flags().GetInt("barcodes")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		dir, err := os.MkdirTemp("", "loyalty-loadtest-")
		if err != nil {
			return fmt.Errorf("failed to create scratch directory: %w", err)
		}
		defer os.RemoveAll(dir)

		database, err := db.Open(filepath.Join(dir, "loadtest.db"))
		if err != nil {
			return err
		}
		defer database.Close()
		if err := database.InitSchema(); err != nil {
			return err
		}

		clk := clock.New()
		meta := metadata.New(database, remote.NewMemoryStore(), clk, logs.For("metadata"))
		r := repo.New(database, meta, clk, cfg.Repository(), logs.For("repo"))

		if !jsonOutput {
			fmt.Printf("%s %d workers x %d scans over %d barcodes...\n",
				renderAccent("⏱"), workers, scans, barcodes)
		}

		result, err := loadtest.Run(context.Background(), r, loadtest.Options{
			Workers:        workers,
			ScansPerWorker: scans,
			Barcodes:       barcodes,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			if err := printJSON(result); err != nil {
				return err
			}
		} else {
			result.Stats.PrintStats(os.Stdout)
			fmt.Printf("  Duration:      %v\n", result.Duration)
			fmt.Printf("  Discounts:     %d\n", result.Discounts)
			for _, v := range result.Violations {
				fmt.Printf("%s %s\n", renderFail("✗"), v)
			}
		}

		if !result.OK() {
			return fmt.Errorf("load test failed: %d errors, %d violations", result.Stats.Errors, len(result.Violations))
		}
		if !jsonOutput {
			fmt.Printf("%s All invariants hold\n", renderPass("✓"))
		}
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Inspect configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Print the effective configuration after defaults, the config file and
LOYALTY_ environment variables are applied. Secrets are masked.

The output is a valid config file:
  loyalty config show --format toml > loyalty.toml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")

		source := cfg.File
		if source == "" {
			source = "defaults and environment"
		}
		fmt.Println(renderMuted("# source: " + source))
		return cfg.Redacted().Encode(os.Stdout, format)
	},
}

func init() {
	defaults := loadtest.DefaultOptions()
	loadtestCmd.Flags().Int("workers", defaults.Workers, "Number of concurrent workers")
	loadtestCmd.Flags().Int("scans", defaults.ScansPerWorker, "Scans per worker")
	loadtestCmd.Flags().Int("barcodes", defaults.Barcodes, "Number of barcodes to scan")
	loadtestCmd.Flags().Bool("json", false, "Output results as JSON")

	configShowCmd.Flags().String("format", "yaml", "Output format: yaml or toml")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(loadtestCmd, configCmd)
}
