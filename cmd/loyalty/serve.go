package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdavies/carpetloyalty/internal/loyalty/api"
	"github.com/pdavies/carpetloyalty/internal/loyalty/daemon"
	"github.com/pdavies/carpetloyalty/internal/loyalty/dashboard"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "sync",
	Short:   "Run the HTTP API, live dashboard and background sync",
	Long: `Run the loyalty service in the foreground.

Starts:
  - the JSON HTTP API (api.port)
  - the WebSocket dashboard streaming clients, barcodes and state (dashboard.port)
  - the sync daemon, pulling from the remote store every sync.interval and
    importing JSONL files dropped into sync.spool_dir

Press Ctrl+C to stop.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if port, _ := cmd.Flags().GetInt("api-port"); cmd.Flags().Changed("api-port") {
			cfg.API.Port = port
		}
		if port, _ := cmd.Flags().GetInt("dashboard-port"); cmd.Flags().Changed("dashboard-port") {
			cfg.Dashboard.Port = port
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		e, err := openEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		dash := dashboard.NewServer(&dashboard.Config{
			Port:   cfg.Dashboard.Port,
			Logger: logs.For("dashboard"),
		})
		handler := dashboard.NewHandler(dash, e.app, logs.For("dashboard"))
		e.syncer.OnComplete(handler.OnSyncComplete)
		if err := dash.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}
		defer dash.Stop()
		go handler.Run(ctx)

		apiServer := api.NewServer(e.app, &api.Config{
			Port:   cfg.API.Port,
			Logger: logs.For("api"),
		})
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API: %w", err)
		}
		defer apiServer.Stop()

		d, err := daemon.New(e.app, e.db, &daemon.Config{
			SyncInterval:     cfg.Sync.Interval,
			DebounceInterval: cfg.Sync.Debounce,
			SpoolDir:         cfg.Sync.SpoolDir,
			Logger:           logs.For("daemon"),
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Loyalty service started\n", renderAccent("🚀"))
		fmt.Printf("   API: http://localhost:%d\n", cfg.API.Port)
		fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", cfg.Dashboard.Port)
		fmt.Printf("   Remote: %s (every %v)\n", cfg.Remote.Backend, cfg.Sync.Interval)
		if cfg.Sync.SpoolDir != "" {
			fmt.Printf("   Spool: %s\n", cfg.Sync.SpoolDir)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		if err := d.Start(ctx); err != nil {
			return fmt.Errorf("daemon stopped with error: %w", err)
		}
		fmt.Println("\nShutting down...")
		return nil
	},
}

func init() {
	serveCmd.Flags().Int("api-port", 0, "Override api.port")
	serveCmd.Flags().Int("dashboard-port", 0, "Override dashboard.port")
	rootCmd.AddCommand(serveCmd)
}
