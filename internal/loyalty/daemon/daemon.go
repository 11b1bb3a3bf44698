package daemon

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pdavies/carpetloyalty/internal/loyalty/app"
	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/migrate"
)

// Spool subdirectories for processed files.
const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// Config holds configuration for the daemon.
type Config struct {
	// SyncInterval is how often to pull from the cloud.
	SyncInterval time.Duration

	// DebounceInterval is how long a spool file must be quiet before it
	// is imported.
	DebounceInterval time.Duration

	// SpoolDir is watched for *.jsonl files. Empty disables the watcher.
	SpoolDir string

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval:     5 * time.Minute,
		DebounceInterval: 500 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon orchestrates periodic sync and spool imports.
type Daemon struct {
	app    *app.App
	db     *db.DB
	config *Config

	watcher       *fsnotify.Watcher
	changeQueue   map[string]time.Time // filepath -> last event
	changeQueueMu sync.Mutex

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a new Daemon instance.
//
// Use Start() to begin syncing and watching.
func New(a *app.App, database *db.DB, config *Config) (*Daemon, error) {
	if a == nil {
		return nil, fmt.Errorf("app cannot be nil")
	}
	if database == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.SyncInterval <= 0 {
		config.SyncInterval = defaults.SyncInterval
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	d := &Daemon{
		app:         a,
		db:          database,
		config:      config,
		changeQueue: make(map[string]time.Time),
	}

	if config.SpoolDir != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return nil, fmt.Errorf("failed to create watcher: %w", err)
		}
		d.watcher = watcher
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	return d, nil
}

// Start begins the daemon's operation.
//
// The daemon will:
// 1. Run the app startup sequence
// 2. Queue spool files already present
// 3. Start watching the spool directory
// 4. Pull from the cloud every SyncInterval
//
// This blocks until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Println("Starting daemon")

	d.app.Start(ctx)

	if d.watcher != nil {
		for _, dir := range []string{d.config.SpoolDir, d.spoolPath(DoneDir), d.spoolPath(FailedDir)} {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("failed to create spool directory: %w", err)
			}
		}
		if err := d.watcher.Add(d.config.SpoolDir); err != nil {
			return fmt.Errorf("failed to watch spool directory: %w", err)
		}
		if err := d.queueExisting(); err != nil {
			return err
		}
		d.config.Logger.Printf("Watching: %s", d.config.SpoolDir)

		d.wg.Add(2)
		go d.watchFileEvents()
		go d.processChangeQueue()
	}

	d.wg.Add(1)
	go d.periodicSync()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon. Safe to call more than once.
func (d *Daemon) Stop() error {
	d.stopOnce.Do(func() {
		d.config.Logger.Println("Stopping daemon")
		d.cancel()

		if d.watcher != nil {
			if err := d.watcher.Close(); err != nil {
				d.config.Logger.Printf("Error closing watcher: %v", err)
			}
		}

		d.wg.Wait()
		d.config.Logger.Println("Daemon stopped")
	})
	return nil
}

// periodicSync pulls from the cloud every SyncInterval.
func (d *Daemon) periodicSync() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.SyncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			if res := d.app.PullFromCloud(d.ctx); !res.OK {
				d.config.Logger.Printf("Periodic sync failed: %s", res.Message)
			}
		}
	}
}

// watchFileEvents monitors the spool directory and queues changes.
func (d *Daemon) watchFileEvents() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}

			// Only care about Create and Write
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isSpoolFile(event.Name) {
				continue
			}

			d.queueChange(event.Name)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}

func isSpoolFile(path string) bool {
	base := filepath.Base(path)
	return filepath.Ext(base) == ".jsonl" && !strings.HasPrefix(base, ".")
}

// queueExisting queues spool files left from before the daemon started.
func (d *Daemon) queueExisting() error {
	entries, err := os.ReadDir(d.config.SpoolDir)
	if err != nil {
		return fmt.Errorf("failed to read spool directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && isSpoolFile(e.Name()) {
			d.queueChange(filepath.Join(d.config.SpoolDir, e.Name()))
		}
	}
	return nil
}

// queueChange adds a file to the change queue with debouncing.
func (d *Daemon) queueChange(path string) {
	d.changeQueueMu.Lock()
	defer d.changeQueueMu.Unlock()

	d.changeQueue[path] = time.Now()
}

// processChangeQueue processes queued spool files with debouncing.
func (d *Daemon) processChangeQueue() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.DebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.ctx.Done():
			return

		case <-ticker.C:
			d.processPendingChanges()
		}
	}
}

// processPendingChanges imports files that have been quiet long enough,
// oldest name first, then syncs once if anything was imported.
func (d *Daemon) processPendingChanges() {
	d.changeQueueMu.Lock()
	now := time.Now()
	var ready []string
	for path, queuedAt := range d.changeQueue {
		if now.Sub(queuedAt) < d.config.DebounceInterval {
			continue
		}
		ready = append(ready, path)
		delete(d.changeQueue, path)
	}
	d.changeQueueMu.Unlock()

	if len(ready) == 0 {
		return
	}
	sort.Strings(ready)

	imported := 0
	for _, path := range ready {
		if d.ctx.Err() != nil {
			return
		}
		if err := d.ImportSpoolFile(d.ctx, path); err != nil {
			d.config.Logger.Printf("Error importing %s: %v", path, err)
			continue
		}
		imported++
	}

	if imported > 0 {
		if res := d.app.PullFromCloud(d.ctx); !res.OK {
			d.config.Logger.Printf("Post-import sync failed: %s", res.Message)
		}
	}
}

// ImportSpoolFile merges one spool file into the local store and moves it
// to done/. A file that cannot be imported is moved to failed/ so it is
// not retried on every event.
func (d *Daemon) ImportSpoolFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	d.config.Logger.Printf("Importing spool file: %s", path)
	result, err := migrate.ImportFile(ctx, d.db, path, migrate.ImportOptions{})
	if err != nil {
		if moveErr := d.moveTo(path, FailedDir); moveErr != nil {
			d.config.Logger.Printf("Error moving %s: %v", path, moveErr)
		}
		return err
	}

	d.config.Logger.Printf("Imported %s: %d inserted, %d updated, %d unchanged, %d skipped",
		filepath.Base(path), result.Inserted, result.Updated, result.Unchanged, result.Skipped)
	for _, msg := range result.Errors {
		d.config.Logger.Printf("Warning: %s", msg)
	}
	return d.moveTo(path, DoneDir)
}

func (d *Daemon) spoolPath(sub string) string {
	return filepath.Join(d.config.SpoolDir, sub)
}

// moveTo renames path into the spool subdirectory sub, adding a timestamp
// when a file of the same name was processed before.
func (d *Daemon) moveTo(path, sub string) error {
	dir := d.spoolPath(sub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s directory: %w", sub, err)
	}

	target := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(target)
		target = strings.TrimSuffix(target, ext) + "." + time.Now().Format("20060102-150405.000") + ext
	}
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("failed to move spool file: %w", err)
	}
	return nil
}
