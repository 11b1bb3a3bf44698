package remote

import (
	"context"
	"fmt"
	"sync"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// Op names a store operation for fault injection.
type Op string

const (
	OpGetAll Op = "get_all"
	OpGet    Op = "get"
	OpSet    Op = "set"
)

type fault struct {
	op         Op
	collection string
}

// MemoryStore keeps documents in process memory.
//
// Documents pass through the same JSON encoding as the persistent
// backends, so callers observe identical field types.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string][]byte
	faults      map[fault]error
	writes      map[string]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string][]byte),
		faults:      make(map[fault]error),
		writes:      make(map[string]int),
	}
}

// FailOn makes op on collection return err until cleared with a nil err.
// An empty collection matches every collection.
func (m *MemoryStore) FailOn(op Op, collection string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fault{op: op, collection: collection}
	if err == nil {
		delete(m.faults, key)
		return
	}
	m.faults[key] = err
}

func (m *MemoryStore) fault(op Op, collection string) error {
	if err, ok := m.faults[fault{op: op, collection: collection}]; ok {
		return err
	}
	return m.faults[fault{op: op}]
}

// Writes returns the number of successful Set calls on the given
// collections, or on all collections when none are named.
func (m *MemoryStore) Writes(collections ...string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(collections) == 0 {
		total := 0
		for _, n := range m.writes {
			total += n
		}
		return total
	}
	total := 0
	for _, c := range collections {
		total += m.writes[c]
	}
	return total
}

// ResetWrites zeroes the write counters.
func (m *MemoryStore) ResetWrites() {
	m.mu.Lock()
	m.writes = make(map[string]int)
	m.mu.Unlock()
}

// GetAll implements Store.
func (m *MemoryStore) GetAll(ctx context.Context, collection string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpGetAll, collection); err != nil {
		return nil, err
	}

	docs := make([]Document, 0, len(m.collections[collection]))
	for key, data := range m.collections[collection] {
		fields, err := decodeFields(data)
		if err != nil {
			return nil, fmt.Errorf("%s/%s: %w", collection, key, err)
		}
		docs = append(docs, Document{Key: key, Fields: fields})
	}
	sortDocuments(docs)
	return docs, nil
}

// Get implements Store.
func (m *MemoryStore) Get(ctx context.Context, collection, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.fault(OpGet, collection); err != nil {
		return Document{}, err
	}

	data, ok := m.collections[collection][key]
	if !ok {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	fields, err := decodeFields(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, key, err)
	}
	return Document{Key: key, Fields: fields}, nil
}

// Set implements Store.
func (m *MemoryStore) Set(ctx context.Context, collection, key string, fields schema.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encodeFields(fields)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.fault(OpSet, collection); err != nil {
		return err
	}

	docs, ok := m.collections[collection]
	if !ok {
		docs = make(map[string][]byte)
		m.collections[collection] = docs
	}
	docs[key] = data
	m.writes[collection]++
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
