package db

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// notifier fans table change signals out to live query subscribers.
// Each subscriber holds a one-slot channel, so bursts of writes collapse
// into a single re-query.
type notifier struct {
	mu     sync.Mutex
	next   int
	subs   map[int]*subscriber
	closed bool
}

type subscriber struct {
	tables map[Table]struct{}
	ch     chan struct{}
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]*subscriber)}
}

func (n *notifier) subscribe(tables ...Table) (<-chan struct{}, func()) {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := &subscriber{tables: make(map[Table]struct{}, len(tables)), ch: make(chan struct{}, 1)}
	for _, t := range tables {
		s.tables[t] = struct{}{}
	}
	if n.closed {
		close(s.ch)
		return s.ch, func() {}
	}

	id := n.next
	n.next++
	n.subs[id] = s

	return s.ch, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(s.ch)
		}
	}
}

func (n *notifier) publish(tables ...Table) {
	if len(tables) == 0 {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, s := range n.subs {
		for _, t := range tables {
			if _, ok := s.tables[t]; ok {
				select {
				case s.ch <- struct{}{}:
				default:
				}
				break
			}
		}
	}
}

func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, s := range n.subs {
		delete(n.subs, id)
		close(s.ch)
	}
	n.closed = true
}

// watch emits load's result immediately and again after every committed
// write to tables. The returned channel closes when ctx ends or the
// database is closed.
func watch[T any](ctx context.Context, n *notifier, load func(context.Context) (T, error), tables ...Table) <-chan T {
	out := make(chan T)
	signal, cancel := n.subscribe(tables...)

	go func() {
		defer close(out)
		defer cancel()

		for {
			snapshot, err := load(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				fmt.Fprintf(os.Stderr, "Warning: live query on %v failed: %v\n", tables, err)
			} else {
				select {
				case out <- snapshot:
				case <-ctx.Done():
					return
				}
			}

			select {
			case _, ok := <-signal:
				if !ok {
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return out
}

// WatchClients streams all clients ordered by name.
func (db *DB) WatchClients(ctx context.Context) <-chan []*schema.Client {
	return watch(ctx, db.notifier, db.ListClients, TableClients)
}

// WatchUnassignedBarcodes streams barcodes not yet bound to a client.
func (db *DB) WatchUnassignedBarcodes(ctx context.Context) <-chan []*schema.Barcode {
	return watch(ctx, db.notifier, db.ListUnassignedBarcodes, TableBarcodes)
}

// WatchClientBarcodes streams the barcodes assigned to one client.
func (db *DB) WatchClientBarcodes(ctx context.Context, clientID string) <-chan []*schema.Barcode {
	load := func(ctx context.Context) ([]*schema.Barcode, error) {
		return db.ListClientBarcodes(ctx, clientID)
	}
	return watch(ctx, db.notifier, load, TableBarcodes)
}

// WatchClientHistory streams one client's cleaning history, newest first.
func (db *DB) WatchClientHistory(ctx context.Context, clientID string) <-chan []*schema.CleaningHistory {
	load := func(ctx context.Context) ([]*schema.CleaningHistory, error) {
		return db.ListClientHistory(ctx, clientID)
	}
	return watch(ctx, db.notifier, load, TableHistory)
}

// WatchMetadata streams every metadata entry.
func (db *DB) WatchMetadata(ctx context.Context) <-chan []*schema.Metadata {
	return watch(ctx, db.notifier, db.ListMetadata, TableMetadata)
}
