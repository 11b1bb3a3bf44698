// Command loyalty tracks carpet-cleaning loyalty barcodes.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdavies/carpetloyalty/internal/config"
	"github.com/pdavies/carpetloyalty/internal/logging"
)

// Version is set at build time.
var Version = "1.0.0"

var (
	configFile string
	verbose    bool

	cfg  *config.Config
	logs *logging.Logs
)

var rootCmd = &cobra.Command{
	Use:   "loyalty",
	Short: "Carpet-cleaning loyalty tracker",
	Long: `Track carpet-cleaning loyalty barcodes.

Barcodes are generated in batches, handed to clients and scanned at every
cleaning. Every 10th scan of a barcode earns a 50% discount. Data lives in
a local SQLite database and is synced with a shared remote store so several
devices can work on the same client list.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configFile)
		if err != nil {
			return err
		}

		logs, err = logging.New(logging.Options{
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
			Compress:   cfg.Log.Compress,
			Quiet:      !verbose,
		})
		if err != nil {
			return fmt.Errorf("failed to set up logging: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logs != nil {
			return logs.Close()
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ./loyalty.yaml or ~/.config/loyalty/loyalty.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log component activity to stderr")

	rootCmd.AddGroup(
		&cobra.Group{ID: "data", Title: "Loyalty Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)
	rootCmd.Version = Version
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", renderFail("Error:"), err)
		os.Exit(1)
	}
}
