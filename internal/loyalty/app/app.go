package app

import (
	"context"
	"fmt"
	"log"
	"os"
	stdsync "sync"

	"github.com/pdavies/carpetloyalty/internal/loyalty/clock"
	"github.com/pdavies/carpetloyalty/internal/loyalty/metadata"
	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
	"github.com/pdavies/carpetloyalty/internal/loyalty/sync"
)

// App orchestrates business operations, sync and UI state.
type App struct {
	repo   *repo.Repository
	syncer sync.Syncer
	meta   *metadata.Manager
	clock  clock.Clock
	logger *log.Logger

	mu    stdsync.RWMutex
	state UIState
	busy  int
	subs  map[chan UIState]struct{}
}

// New creates an App.
//
// If clk is nil a monotonic system clock is used. If logger is nil, a
// default logger writing to stderr is used.
func New(r *repo.Repository, syncer sync.Syncer, meta *metadata.Manager, clk clock.Clock, logger *log.Logger) *App {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[app] ", log.LstdFlags)
	}
	return &App{
		repo:   r,
		syncer: syncer,
		meta:   meta,
		clock:  clk,
		logger: logger,
		subs:   make(map[chan UIState]struct{}),
	}
}

// Repository returns the business repository.
func (a *App) Repository() *repo.Repository {
	return a.repo
}

// Syncer returns the sync manager.
func (a *App) Syncer() sync.Syncer {
	return a.syncer
}

// Start seeds metadata and runs the startup sync.
//
// A failed sync leaves the app usable offline: the state error asks the
// operator to pull manually and Start still returns.
func (a *App) Start(ctx context.Context) {
	a.logger.Printf("Initializing app metadata")
	a.meta.PerformInitialMetadataSetup(ctx)
	a.loadMetadataValues(ctx)

	a.logger.Printf("Auto-syncing on startup")
	if _, err := a.syncer.SyncAll(ctx); err != nil {
		a.logger.Printf("Startup sync failed: %v", err)
		a.update(func(s *UIState) {
			s.Error = "Startup sync failed. Please pull to refresh."
		})
		return
	}

	a.loadMetadataValues(ctx)
	a.recordLastSync(ctx)
	a.logger.Printf("Auto-sync completed")
}

// GenerateBarcodes creates count new barcodes and pushes them.
func (a *App) GenerateBarcodes(ctx context.Context, count int) Result[[]string] {
	a.begin()

	codes, err := a.repo.GenerateBarcodes(ctx, count)
	if err != nil {
		msg := "Failed to generate barcodes: " + err.Error()
		a.end(func(s *UIState) { s.Error = msg })
		return fail[[]string](err, msg)
	}

	notice := a.followUp(ctx, "generate",
		a.syncer.SyncBarcodes,
		a.syncer.SyncMetadataToCloud,
	)
	a.loadMetadataValues(ctx)

	msg := fmt.Sprintf("Generated %d barcodes successfully", len(codes))
	a.end(func(s *UIState) {
		s.Message = msg
		s.Notice = notice
	})
	res := succeed(codes, msg)
	res.Notice = notice
	return res
}

// AssignBarcode binds code to the client with phone, creating it if needed.
func (a *App) AssignBarcode(ctx context.Context, code, name, phone string) Result[*schema.Client] {
	a.begin()

	client, err := a.repo.AssignBarcodeToClient(ctx, code, name, phone)
	if err != nil {
		msg := err.Error()
		a.end(func(s *UIState) { s.Error = msg })
		return fail[*schema.Client](err, msg)
	}

	notice := a.followUp(ctx, "assignment",
		a.syncer.SyncClients,
		a.syncer.SyncBarcodes,
		a.syncer.SyncMetadataToCloud,
	)
	a.loadMetadataValues(ctx)

	msg := fmt.Sprintf("Barcode assigned to %s successfully", client.Name)
	a.end(func(s *UIState) {
		s.Message = msg
		s.Notice = notice
	})
	res := succeed(client, msg)
	res.Notice = notice
	return res
}

// ScanBarcode records one cleaning for the barcode's client.
func (a *App) ScanBarcode(ctx context.Context, code string) Result[*repo.ScanResult] {
	a.begin()

	result, err := a.repo.ScanBarcode(ctx, code)
	if err != nil {
		msg := err.Error()
		a.end(func(s *UIState) { s.Error = msg })
		return fail[*repo.ScanResult](err, msg)
	}

	notice := a.followUp(ctx, "scan",
		a.syncer.SyncClients,
		a.syncer.SyncBarcodes,
		a.syncer.SyncHistory,
		a.syncer.SyncMetadataToCloud,
	)
	a.loadMetadataValues(ctx)

	var msg string
	if result.IsDiscountEligible {
		msg = fmt.Sprintf("%s is eligible for %d%% discount!", result.Client.Name, result.DiscountPercentage)
	} else {
		msg = fmt.Sprintf("Scan recorded for %s. Count: %d/%d", result.Client.Name, result.ScanCount, schema.DiscountThreshold)
	}
	a.end(func(s *UIState) {
		s.ScanResult = result
		s.Message = msg
		s.Notice = notice
	})
	res := succeed(result, msg)
	res.Notice = notice
	return res
}

// PullFromCloud pulls metadata and then runs a full sync.
func (a *App) PullFromCloud(ctx context.Context) Result[*sync.Report] {
	a.begin()

	report, err := a.pull(ctx)
	if err != nil {
		msg := "Sync failed: " + err.Error()
		a.end(func(s *UIState) { s.Error = msg })
		return fail[*sync.Report](err, msg)
	}

	a.loadMetadataValues(ctx)
	a.recordLastSync(ctx)

	msg := "Sync completed! All data is up to date."
	a.end(func(s *UIState) { s.Message = msg })
	return succeed(report, msg)
}

func (a *App) pull(ctx context.Context) (*sync.Report, error) {
	if _, err := a.syncer.SyncMetadataFromCloud(ctx); err != nil {
		return nil, err
	}
	return a.syncer.SyncAll(ctx)
}

// SyncMetadataToCloud pushes every metadata entry and records the sync time.
func (a *App) SyncMetadataToCloud(ctx context.Context) Result[int] {
	a.begin()

	n, err := a.meta.SyncMetadataToCloud(ctx)
	if err != nil {
		msg := "Failed to sync metadata: " + err.Error()
		a.end(func(s *UIState) { s.Error = msg })
		return fail[int](err, msg)
	}
	a.recordLastSync(ctx)

	msg := "Metadata synced to cloud"
	a.end(func(s *UIState) { s.Message = msg })
	return succeed(n, msg)
}

// RefreshMetadata reloads the metadata counters into the state.
func (a *App) RefreshMetadata(ctx context.Context) Result[UIState] {
	if err := a.loadMetadata(ctx); err != nil {
		msg := "Failed to refresh metadata: " + err.Error()
		a.update(func(s *UIState) { s.Error = msg })
		return fail[UIState](err, msg)
	}
	msg := "Metadata refreshed"
	a.update(func(s *UIState) { s.Message = msg })
	return succeed(a.State(), msg)
}

// followUp runs the post-mutation syncs in order. The first failure stops
// the chain and is returned as a notice.
func (a *App) followUp(ctx context.Context, op string, steps ...func(context.Context) (*sync.CollectionReport, error)) string {
	for _, step := range steps {
		if _, err := step(ctx); err != nil {
			a.logger.Printf("Post-%s sync failed: %v", op, err)
			return "Saved locally. Cloud sync failed: " + err.Error()
		}
	}
	return ""
}

func (a *App) loadMetadataValues(ctx context.Context) {
	if err := a.loadMetadata(ctx); err != nil {
		a.logger.Printf("Failed to load metadata: %v", err)
	}
}

func (a *App) loadMetadata(ctx context.Context) error {
	generated, err := a.meta.GeneratedBarcodesCount(ctx)
	if err != nil {
		return err
	}
	clients, err := a.meta.TotalClientsCount(ctx)
	if err != nil {
		return err
	}
	lastSync, err := a.meta.LastSyncTime(ctx)
	if err != nil {
		return err
	}

	a.update(func(s *UIState) {
		s.GeneratedBarcodes = generated
		s.TotalClients = clients
		s.LastSync = lastSync
	})
	return nil
}

func (a *App) recordLastSync(ctx context.Context) {
	now := a.clock.Now()
	if err := a.meta.SetLastSyncTime(ctx, now); err != nil {
		a.logger.Printf("Failed to record last sync time: %v", err)
		return
	}
	a.update(func(s *UIState) { s.LastSync = now })
}
