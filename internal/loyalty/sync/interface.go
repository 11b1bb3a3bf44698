package sync

import "context"

// Syncer keeps the local store and the remote document store consistent.
//
// Every method is safe for concurrent use; calls are serialised.
type Syncer interface {
	// SyncClients reconciles the clients collection.
	SyncClients(ctx context.Context) (*CollectionReport, error)

	// SyncBarcodes reconciles the barcodes collection.
	SyncBarcodes(ctx context.Context) (*CollectionReport, error)

	// SyncHistory reconciles the cleaning_history collection.
	//
	// Remote entries whose client does not exist locally are skipped,
	// so clients should be synced first.
	SyncHistory(ctx context.Context) (*CollectionReport, error)

	// SyncMetadataFromCloud replaces local metadata with the remote copy.
	SyncMetadataFromCloud(ctx context.Context) (*CollectionReport, error)

	// SyncMetadataToCloud pushes every local metadata entry.
	SyncMetadataToCloud(ctx context.Context) (*CollectionReport, error)

	// SyncAll runs a full pass in the documented order and stops at the
	// first failing collection. The returned report covers the
	// collections that ran, including the failed one.
	//
	// Example:
	//   report, err := syncer.SyncAll(ctx)
	SyncAll(ctx context.Context) (*Report, error)

	// OnComplete registers fn to run after every SyncAll, successful or
	// not. fn runs on the syncing goroutine once the pass has released
	// its lock.
	OnComplete(fn func(*Report))
}
