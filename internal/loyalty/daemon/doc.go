// Package daemon runs the loyalty tracker's background work.
//
// The daemon:
//  1. Runs the app startup sequence (metadata setup and a full sync)
//  2. Pulls from the cloud on a fixed interval
//  3. Watches a spool directory for *.jsonl exports dropped by other
//     devices, imports them and moves them to done/ (or failed/)
//  4. Handles graceful shutdown
//
// Spool files are debounced: a file is imported only after it has seen no
// write events for DebounceInterval, so a copy in progress is never read
// half written.
//
// Usage:
//
//	cfg := daemon.DefaultConfig()
//	cfg.SpoolDir = ".loyalty/spool"
//	d, err := daemon.New(application, database, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
package daemon
