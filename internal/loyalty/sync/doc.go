// Package sync reconciles the local store with the remote document store.
//
// # Overview
//
// Each entity collection is reconciled independently with last-write-wins
// on UpdatedAt. One pass fetches both full snapshots and then:
//
//	remote only                  → insert locally, keeping remote UpdatedAt
//	remote newer than local      → overwrite local, keeping remote UpdatedAt
//	local newer than remote      → push local document to remote
//	equal UpdatedAt              → no action
//	local only                   → push local document to remote
//
// Equal timestamps count as already synced. Two devices writing the same
// record within the same millisecond keep their own versions until one
// of them writes again.
//
// # Ordering
//
// SyncAll runs the collections in a fixed order:
//
//	metadata from cloud → clients → barcodes → history → metadata to cloud
//
// Metadata is pulled first so a fresh install has correct counters, and
// pushed last so changes made during the pass reach the cloud. Clients
// precede history because history rows reference their client.
//
// # Failure handling
//
// A fetch or write failure aborts the collection being synced and is
// returned wrapped with the collection name. Local writes of an aborted
// pass are rolled back. Documents that cannot be decoded at all are
// skipped and counted in the report; fields that are missing or mistyped
// take their zero defaults.
//
// # Concurrency
//
// A single mutex serialises every sync entry point, so two SyncAll calls
// never interleave their reads and writes.
//
// Usage:
//
//	syncer := sync.New(database, store, meta, nil)
//	report, err := syncer.SyncAll(ctx)
//	if err != nil {
//	    log.Printf("sync failed, working offline: %v", err)
//	}
package sync
