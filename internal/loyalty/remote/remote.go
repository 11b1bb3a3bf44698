// Package remote provides the cloud document store the sync manager
// reconciles against.
//
// A store holds named collections of flat documents keyed by an entity's
// natural id. Set always overwrites the whole document. Field values are
// JSON compatible: strings, numbers, booleans and nil. Backends that
// persist documents decode numbers as json.Number, which the schema
// decoders accept.
//
// Backends:
//   - memory: in-process, used by tests and single-device setups
//   - file: one JSON file per document under a shared directory
//   - redis: one hash per collection
//   - s3: one object per document in an S3 compatible bucket
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// ErrNotFound is returned by Get when no document exists at the key.
var ErrNotFound = errors.New("document not found")

// Document is one record of a remote collection.
type Document struct {
	Key    string
	Fields schema.Fields
}

// Store is a keyed document store.
type Store interface {
	// GetAll returns every document in the collection.
	GetAll(ctx context.Context, collection string) ([]Document, error)

	// Get returns one document or ErrNotFound.
	Get(ctx context.Context, collection, key string) (Document, error)

	// Set replaces the document at key with fields.
	Set(ctx context.Context, collection, key string, fields schema.Fields) error

	// Close releases network handles held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

// Config selects and configures a backend.
type Config struct {
	Backend string
	Dir     string
	Redis   RedisConfig
	S3      S3Config
}

// Open creates the store selected by cfg.Backend.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendMemory:
		return NewMemoryStore(), nil
	case BackendFile:
		return NewFileStore(cfg.Dir)
	case BackendRedis:
		return NewRedisStore(ctx, cfg.Redis)
	case BackendS3:
		return NewS3Store(cfg.S3)
	default:
		return nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}

// encodeFields serialises a document body.
func encodeFields(fields schema.Fields) ([]byte, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return data, nil
}

// decodeFields parses a document body, keeping numbers as json.Number so
// that int64 timestamps survive without float rounding.
func decodeFields(data []byte) (schema.Fields, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var fields schema.Fields
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	if fields == nil {
		fields = schema.Fields{}
	}
	return fields, nil
}

func sortDocuments(docs []Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
}
