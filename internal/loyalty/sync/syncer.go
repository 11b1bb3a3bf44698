package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/metadata"
	"github.com/pdavies/carpetloyalty/internal/loyalty/remote"
)

// Report names of the two metadata steps.
const (
	StepMetadataFromCloud = "metadata_from_cloud"
	StepMetadataToCloud   = "metadata_to_cloud"
)

// syncer implements the Syncer interface.
type syncer struct {
	db     *db.DB
	store  remote.Store
	meta   *metadata.Manager
	logger *log.Logger

	// mu serialises every pass.
	mu stdsync.Mutex

	hookMu stdsync.RWMutex
	hooks  []func(*Report)
}

// New creates a new Syncer instance.
//
// The database connection must be initialized and have schema created
// before passing to this function.
//
// If logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	database, err := db.Open(".loyalty/loyalty.db")
//	if err != nil {
//	    return err
//	}
//	if err := database.InitSchema(); err != nil {
//	    return err
//	}
//	meta := metadata.New(database, store, nil, nil)
//	syncer := sync.New(database, store, meta, nil)
func New(database *db.DB, store remote.Store, meta *metadata.Manager, logger *log.Logger) Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &syncer{
		db:     database,
		store:  store,
		meta:   meta,
		logger: logger,
	}
}

// SyncClients implements Syncer.SyncClients.
func (s *syncer) SyncClients(ctx context.Context) (*CollectionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, func() (*CollectionReport, error) {
		return reconcile(ctx, s.db, s.store, clients, s.logger)
	})
}

// SyncBarcodes implements Syncer.SyncBarcodes.
func (s *syncer) SyncBarcodes(ctx context.Context) (*CollectionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, func() (*CollectionReport, error) {
		return reconcile(ctx, s.db, s.store, barcodes, s.logger)
	})
}

// SyncHistory implements Syncer.SyncHistory.
func (s *syncer) SyncHistory(ctx context.Context) (*CollectionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, func() (*CollectionReport, error) {
		return reconcile(ctx, s.db, s.store, history, s.logger)
	})
}

// SyncMetadataFromCloud implements Syncer.SyncMetadataFromCloud.
func (s *syncer) SyncMetadataFromCloud(ctx context.Context) (*CollectionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, s.pullMetadata(ctx))
}

// SyncMetadataToCloud implements Syncer.SyncMetadataToCloud.
func (s *syncer) SyncMetadataToCloud(ctx context.Context) (*CollectionReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run(ctx, func() (*CollectionReport, error) {
		report := &CollectionReport{Collection: StepMetadataToCloud}
		n, err := s.meta.SyncMetadataToCloud(ctx)
		report.Pushed = n
		return report, err
	})
}

// SyncAll implements Syncer.SyncAll.
func (s *syncer) SyncAll(ctx context.Context) (*Report, error) {
	report, err := s.syncAll(ctx)

	s.hookMu.RLock()
	hooks := append([]func(*Report){}, s.hooks...)
	s.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(report)
	}

	return report, err
}

func (s *syncer) syncAll(ctx context.Context) (*Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	report := &Report{StartTime: time.Now()}
	defer func() { report.Duration = time.Since(report.StartTime) }()

	steps := []func() (*CollectionReport, error){
		s.pullMetadata(ctx),
		func() (*CollectionReport, error) { return reconcile(ctx, s.db, s.store, clients, s.logger) },
		func() (*CollectionReport, error) { return reconcile(ctx, s.db, s.store, barcodes, s.logger) },
		func() (*CollectionReport, error) { return reconcile(ctx, s.db, s.store, history, s.logger) },
		s.pushChangedMetadata(ctx),
	}

	for _, step := range steps {
		r, err := s.run(ctx, step)
		if r != nil {
			report.Collections = append(report.Collections, r)
		}
		if err != nil {
			report.Err = err.Error()
			s.logger.Printf("Sync failed: %v", err)
			return report, err
		}
	}

	s.logger.Printf("Sync completed in %v (pulled %d, pushed %d)",
		time.Since(report.StartTime).Round(time.Millisecond), report.Pulled(), report.Pushed())
	return report, nil
}

// OnComplete implements Syncer.OnComplete.
func (s *syncer) OnComplete(fn func(*Report)) {
	if fn == nil {
		return
	}
	s.hookMu.Lock()
	defer s.hookMu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// run executes one step, logs its counts and wraps its error with the
// step name.
func (s *syncer) run(ctx context.Context, step func() (*CollectionReport, error)) (*CollectionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	report, err := step()
	if err != nil {
		name := "collection"
		if report != nil {
			name = report.Collection
		}
		return report, fmt.Errorf("failed to sync %s: %w", name, err)
	}
	s.logger.Printf("Synced %s", report)
	return report, nil
}

func (s *syncer) pullMetadata(ctx context.Context) func() (*CollectionReport, error) {
	return func() (*CollectionReport, error) {
		start := time.Now()
		report := &CollectionReport{Collection: StepMetadataFromCloud}
		n, err := s.meta.SyncMetadataFromCloud(ctx)
		report.Updated = n
		report.Duration = time.Since(start)
		return report, err
	}
}

func (s *syncer) pushChangedMetadata(ctx context.Context) func() (*CollectionReport, error) {
	return func() (*CollectionReport, error) {
		start := time.Now()
		report := &CollectionReport{Collection: StepMetadataToCloud}
		n, err := s.meta.PushChangedMetadata(ctx)
		report.Pushed = n
		report.Duration = time.Since(start)
		return report, err
	}
}
