package remote

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// FileStore keeps each document as <dir>/<collection>/<key>.json.
//
// Pointing several devices at one synced or network-mounted directory
// gives them a shared remote without any server.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("file store directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create file store directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the root directory.
func (f *FileStore) Dir() string {
	return f.dir
}

func (f *FileStore) path(collection, key string) string {
	return filepath.Join(f.dir, collection, url.PathEscape(key)+".json")
}

// GetAll implements Store. Unreadable files are skipped with a warning.
func (f *FileStore) GetAll(ctx context.Context, collection string) ([]Document, error) {
	dir := filepath.Join(f.dir, collection)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Document{}, nil // Empty collection is valid
		}
		return nil, fmt.Errorf("failed to read collection %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		key, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping document with invalid name %s: %v\n", entry.Name(), err)
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read document %s/%s: %w", collection, key, err)
		}
		fields, err := decodeFields(data)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: skipping invalid document %s/%s: %v\n", collection, key, err)
			continue
		}
		docs = append(docs, Document{Key: key, Fields: fields})
	}

	sortDocuments(docs)
	return docs, nil
}

// Get implements Store.
func (f *FileStore) Get(ctx context.Context, collection, key string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	data, err := os.ReadFile(f.path(collection, key))
	if errors.Is(err, os.ErrNotExist) {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, key, ErrNotFound)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read document %s/%s: %w", collection, key, err)
	}
	fields, err := decodeFields(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s/%s: %w", collection, key, err)
	}
	return Document{Key: key, Fields: fields}, nil
}

// Set implements Store. The document is written to a temporary file and
// renamed into place so readers never observe a partial write.
func (f *FileStore) Set(ctx context.Context, collection, key string, fields schema.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("document key is required")
	}

	data, err := encodeFields(fields)
	if err != nil {
		return err
	}

	dir := filepath.Join(f.dir, collection)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create collection directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write document %s/%s: %w", collection, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close document %s/%s: %w", collection, key, err)
	}
	if err := os.Rename(tmpName, f.path(collection, key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store document %s/%s: %w", collection, key, err)
	}
	return nil
}

// Close implements Store.
func (f *FileStore) Close() error {
	return nil
}
