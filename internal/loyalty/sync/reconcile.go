package sync

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/remote"
	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// collection describes how one entity type maps between the local store and
// a remote collection.
type collection[T any] struct {
	name      string
	key       func(*T) string
	updatedAt func(*T) time.Time
	encode    func(*T) schema.Fields
	decode    func(key string, f schema.Fields) (*T, error)
	list      func(ctx context.Context, q *db.Queries) ([]*T, error)
	get       func(ctx context.Context, q *db.Queries, key string) (*T, error)
	upsert    func(ctx context.Context, q *db.Queries, rec *T) error

	// accept reports whether a remote record may be written locally.
	// Rejected records are counted as skipped. Optional.
	accept func(ctx context.Context, q *db.Queries, rec *T) (bool, error)
}

// snapshotTaken, when set, runs after the local snapshot of a collection is
// read and before remote records are applied. Tests use it to interleave
// local writes.
var snapshotTaken func(collection string)

// reconcile runs one last-write-wins pass over c.
//
// Remote records are classified first, then local writes are applied in a
// single transaction, then local-only and locally newer records are pushed.
// Each remote record is compared again with the stored row inside the
// transaction, so a business write that commits after the snapshot is never
// overwritten by an older remote copy.
func reconcile[T any](ctx context.Context, database *db.DB, store remote.Store, c collection[T], logger *log.Logger) (*CollectionReport, error) {
	start := time.Now()
	report := &CollectionReport{Collection: c.name}
	defer func() { report.Duration = time.Since(start) }()

	docs, err := store.GetAll(ctx, c.name)
	if err != nil {
		return report, fmt.Errorf("failed to fetch remote %s: %w", c.name, err)
	}
	local, err := c.list(ctx, database.Queries)
	if err != nil {
		return report, fmt.Errorf("failed to list local %s: %w", c.name, err)
	}
	report.Cloud = len(docs)
	report.Local = len(local)
	if snapshotTaken != nil {
		snapshotTaken(c.name)
	}

	localByKey := make(map[string]*T, len(local))
	for _, rec := range local {
		localByKey[c.key(rec)] = rec
	}

	// Pass 1: remote records.
	seen := make(map[string]struct{}, len(docs))
	var apply []*T
	var push []*T
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		rec, err := c.decode(doc.Key, doc.Fields)
		if err != nil {
			logger.Printf("Skipping %s document %q: %v", c.name, doc.Key, err)
			report.Skipped++
			continue
		}
		key := c.key(rec)
		seen[key] = struct{}{}

		existing, ok := localByKey[key]
		switch {
		case !ok, c.updatedAt(rec).After(c.updatedAt(existing)):
			apply = append(apply, rec)
		case c.updatedAt(existing).After(c.updatedAt(rec)):
			push = append(push, existing)
		default:
			report.Unchanged++
		}
	}

	// Pass 2: local records the cloud has never seen.
	for _, rec := range local {
		if _, ok := seen[c.key(rec)]; !ok {
			push = append(push, rec)
		}
	}

	if len(apply) > 0 {
		var inserted, updated, skipped, unchanged int
		var repush []*T
		err := database.WithTx(ctx, func(q *db.Queries) error {
			for _, rec := range apply {
				if err := ctx.Err(); err != nil {
					return err
				}
				current, err := c.get(ctx, q, c.key(rec))
				if err != nil && !db.IsNotFound(err) {
					return fmt.Errorf("failed to read local %s %s: %w", c.name, c.key(rec), err)
				}
				if current != nil && !c.updatedAt(rec).After(c.updatedAt(current)) {
					// Changed locally since the snapshot.
					if c.updatedAt(current).After(c.updatedAt(rec)) {
						repush = append(repush, current)
					} else {
						unchanged++
					}
					continue
				}
				if c.accept != nil {
					ok, err := c.accept(ctx, q, rec)
					if err != nil {
						return err
					}
					if !ok {
						skipped++
						continue
					}
				}
				if err := c.upsert(ctx, q, rec); err != nil {
					return fmt.Errorf("failed to store %s %s: %w", c.name, c.key(rec), err)
				}
				if current == nil {
					inserted++
				} else {
					updated++
				}
			}
			return nil
		})
		if err != nil {
			return report, err
		}
		report.Inserted = inserted
		report.Updated = updated
		report.Skipped += skipped
		report.Unchanged += unchanged
		push = append(push, repush...)
	}

	for _, rec := range push {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := store.Set(ctx, c.name, c.key(rec), c.encode(rec)); err != nil {
			return report, fmt.Errorf("failed to push %s %s: %w", c.name, c.key(rec), err)
		}
		report.Pushed++
	}

	return report, nil
}

var clients = collection[schema.Client]{
	name:      schema.CollectionClients,
	key:       func(c *schema.Client) string { return c.ID },
	updatedAt: func(c *schema.Client) time.Time { return c.UpdatedAt },
	encode:    schema.EncodeClient,
	decode:    schema.DecodeClient,
	list: func(ctx context.Context, q *db.Queries) ([]*schema.Client, error) {
		return q.ListClients(ctx)
	},
	get: func(ctx context.Context, q *db.Queries, id string) (*schema.Client, error) {
		return q.GetClientByID(ctx, id)
	},
	upsert: func(ctx context.Context, q *db.Queries, c *schema.Client) error {
		return q.UpsertClientFromSync(ctx, c)
	},
}

var barcodes = collection[schema.Barcode]{
	name:      schema.CollectionBarcodes,
	key:       func(b *schema.Barcode) string { return b.Code },
	updatedAt: func(b *schema.Barcode) time.Time { return b.UpdatedAt },
	encode:    schema.EncodeBarcode,
	decode:    schema.DecodeBarcode,
	list: func(ctx context.Context, q *db.Queries) ([]*schema.Barcode, error) {
		return q.ListBarcodes(ctx)
	},
	get: func(ctx context.Context, q *db.Queries, code string) (*schema.Barcode, error) {
		return q.GetBarcode(ctx, code)
	},
	upsert: func(ctx context.Context, q *db.Queries, b *schema.Barcode) error {
		return q.UpsertBarcodeFromSync(ctx, b)
	},
}

var history = collection[schema.CleaningHistory]{
	name:      schema.CollectionHistory,
	key:       func(h *schema.CleaningHistory) string { return h.ID },
	updatedAt: func(h *schema.CleaningHistory) time.Time { return h.UpdatedAt },
	encode:    schema.EncodeHistory,
	decode:    schema.DecodeHistory,
	list: func(ctx context.Context, q *db.Queries) ([]*schema.CleaningHistory, error) {
		return q.ListHistory(ctx)
	},
	get: func(ctx context.Context, q *db.Queries, id string) (*schema.CleaningHistory, error) {
		return q.GetHistory(ctx, id)
	},
	upsert: func(ctx context.Context, q *db.Queries, h *schema.CleaningHistory) error {
		return q.UpsertHistoryFromSync(ctx, h)
	},
	// History rows reference their client locally.
	accept: func(ctx context.Context, q *db.Queries, h *schema.CleaningHistory) (bool, error) {
		if _, err := q.GetClientByID(ctx, h.ClientID); err != nil {
			if db.IsNotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	},
}
