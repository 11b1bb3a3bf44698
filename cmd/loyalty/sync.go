package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdavies/carpetloyalty/internal/loyalty/migrate"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Pull from and push to the remote store",
	Long: `Run a full bidirectional sync with the remote store.

Metadata is pulled first, then clients, barcodes and cleaning history are
reconciled record by record: the copy with the newer update time wins and
the other side is overwritten. Local changed metadata is pushed last.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := withTimeout(cmd.Context())
		defer cancel()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		fmt.Printf("%s Syncing with %s remote...\n", renderAccent("🔄"), cfg.Remote.Backend)
		res := e.app.PullFromCloud(ctx)
		if !res.OK {
			return fmt.Errorf("%s", res.Message)
		}

		rep := res.Value
		fmt.Printf("%s %s (%v)\n", renderPass("✓"), res.Message, rep.Duration.Round(time.Millisecond))
		for _, c := range rep.Collections {
			fmt.Printf("   %-20s %s\n", c.Collection, renderMuted(c.String()))
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show local store and sync status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		ctx := cmd.Context()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		stats, err := e.repo.Stats(ctx)
		if err != nil {
			return err
		}
		generated, err := e.meta.GeneratedBarcodesCount(ctx)
		if err != nil {
			return err
		}
		lastSync, err := e.meta.LastSyncTime(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]any{
				"database":           cfg.DB.Path,
				"remote":             cfg.Remote.Backend,
				"stats":              stats,
				"generated_barcodes": generated,
				"last_sync":          lastSync,
			})
		}

		last := renderWarn("never")
		if !lastSync.IsZero() {
			last = lastSync.Local().Format("2006-01-02 15:04:05")
		}

		fmt.Println(renderTitle("Loyalty Status"))
		fmt.Println(renderRows([][2]string{
			{"Database", cfg.DB.Path},
			{"Remote", cfg.Remote.Backend},
			{"Last sync", last},
			{"Clients", strconv.Itoa(stats.Clients)},
			{"Loyal clients", strconv.Itoa(stats.LoyalClients)},
			{"Barcodes", fmt.Sprintf("%d (%d unassigned)", stats.Barcodes, stats.Unassigned)},
			{"Generated", strconv.Itoa(generated)},
			{"Cleanings", strconv.Itoa(stats.Cleanings)},
			{"Discounts", strconv.Itoa(stats.Discounts)},
		}))
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:     "export FILE",
	GroupID: "sync",
	Short:   "Export the local store as JSONL",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := migrate.ExportFile(cmd.Context(), e.db, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("%s Exported %d records to %s\n", renderPass("✓"), res.Total(), args[0])
		fmt.Printf("   Clients: %d\n   Barcodes: %d\n   History: %d\n   Metadata: %d\n",
			res.Clients, res.Barcodes, res.History, res.Metadata)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:     "import FILE",
	GroupID: "sync",
	Short:   "Merge a JSONL export into the local store",
	Long: `Merge a JSONL export into the local store.

Records are merged by update time: missing records are inserted, older
local records are overwritten and newer local records are kept. Run
'loyalty sync' afterwards to publish the result.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		e, err := openEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer e.Close()

		res, err := migrate.ImportFile(cmd.Context(), e.db, args[0], migrate.ImportOptions{DryRun: dryRun})
		if err != nil {
			return err
		}

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}
		fmt.Printf("%s %s %d records from %s\n", renderPass("✓"), verb, res.Records, args[0])
		fmt.Printf("   Inserted: %d\n   Updated: %d\n   Unchanged: %d\n   Skipped: %d\n",
			res.Inserted, res.Updated, res.Unchanged, res.Skipped)
		for _, msg := range res.Errors {
			fmt.Fprintf(os.Stderr, "   %s %s\n", renderWarn("⚠"), msg)
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "Output as JSON")
	importCmd.Flags().Bool("dry-run", false, "Count changes without writing")

	rootCmd.AddCommand(syncCmd, statusCmd, exportCmd, importCmd)
}
