// Package migrate exports the local store to JSONL and merges JSONL files
// back in. It is used for backups and to move data between devices
// without a shared remote store.
//
// Each line is one record:
//
//	{"kind":"client","key":"<id>","doc":{...}}
//
// The doc object uses the same field layout as remote documents.
package migrate

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// Kind identifies the entity type of a record.
type Kind string

const (
	KindClient   Kind = "client"
	KindBarcode  Kind = "barcode"
	KindHistory  Kind = "history"
	KindMetadata Kind = "metadata"
)

// kindOrder is the order records are written and applied in. History
// follows clients so its client reference resolves.
var kindOrder = []Kind{KindClient, KindBarcode, KindHistory, KindMetadata}

// Record is one line of an export file.
type Record struct {
	Kind Kind          `json:"kind"`
	Key  string        `json:"key"`
	Doc  schema.Fields `json:"doc"`
}

// ExportResult counts exported records per kind.
type ExportResult struct {
	Clients  int
	Barcodes int
	History  int
	Metadata int
}

// Total returns the number of exported records.
func (r *ExportResult) Total() int {
	return r.Clients + r.Barcodes + r.History + r.Metadata
}

// ImportOptions contains configuration for an import.
type ImportOptions struct {
	DryRun bool // Count changes without writing
}

// ImportResult contains statistics about an import.
type ImportResult struct {
	Records   int
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int
	Errors    []string
}

// Export writes every local record to w, one JSON object per line.
func Export(ctx context.Context, database *db.DB, w io.Writer) (*ExportResult, error) {
	result := &ExportResult{}
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)

	write := func(kind Kind, key string, doc schema.Fields) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := enc.Encode(Record{Kind: kind, Key: key, Doc: doc}); err != nil {
			return fmt.Errorf("failed to write %s %s: %w", kind, key, err)
		}
		return nil
	}

	clients, err := database.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	for _, c := range clients {
		if err := write(KindClient, c.ID, schema.EncodeClient(c)); err != nil {
			return nil, err
		}
		result.Clients++
	}

	barcodes, err := database.ListBarcodes(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range barcodes {
		if err := write(KindBarcode, b.Code, schema.EncodeBarcode(b)); err != nil {
			return nil, err
		}
		result.Barcodes++
	}

	history, err := database.ListHistory(ctx)
	if err != nil {
		return nil, err
	}
	for _, h := range history {
		if err := write(KindHistory, h.ID, schema.EncodeHistory(h)); err != nil {
			return nil, err
		}
		result.History++
	}

	entries, err := database.ListMetadata(ctx)
	if err != nil {
		return nil, err
	}
	for _, m := range entries {
		if err := write(KindMetadata, m.Key, schema.EncodeMetadata(m)); err != nil {
			return nil, err
		}
		result.Metadata++
	}

	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("failed to flush export: %w", err)
	}
	return result, nil
}

// ExportFile writes an export to path atomically via a temp file.
func ExportFile(ctx context.Context, database *db.DB, path string) (*ExportResult, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}

	result, err := Export(ctx, database, f)
	if cerr := f.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close temp file: %w", cerr)
	}
	if err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to rename temp file: %w", err)
	}
	return result, nil
}

// ReadRecords parses JSONL from r. Numbers decode as json.Number.
func ReadRecords(r io.Reader) ([]Record, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var records []Record
	for lineNum := 1; ; lineNum++ {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("invalid JSON at record %d: %w", lineNum, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Import merges the records in r into the local store by last-write-wins:
// missing records are inserted, older local records are overwritten and
// newer local records are kept. All writes happen in one transaction.
func Import(ctx context.Context, database *db.DB, r io.Reader, opts ImportOptions) (*ImportResult, error) {
	records, err := ReadRecords(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse JSONL: %w", err)
	}

	byKind := make(map[Kind][]Record, len(kindOrder))
	result := &ImportResult{Records: len(records)}
	for _, rec := range records {
		switch rec.Kind {
		case KindClient, KindBarcode, KindHistory, KindMetadata:
			byKind[rec.Kind] = append(byKind[rec.Kind], rec)
		default:
			result.Skipped++
			result.Errors = append(result.Errors, fmt.Sprintf("unknown record kind %q for key %s", rec.Kind, rec.Key))
		}
	}

	apply := func(q *db.Queries) error {
		m := &merger{q: q, dryRun: opts.DryRun, result: result, clients: make(map[string]struct{})}
		for _, kind := range kindOrder {
			for _, rec := range byKind[kind] {
				if err := ctx.Err(); err != nil {
					return err
				}
				if err := m.apply(ctx, rec); err != nil {
					return err
				}
			}
		}
		return nil
	}

	if opts.DryRun {
		err = apply(database.Queries)
	} else {
		err = database.WithTx(ctx, apply)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ImportFile imports the JSONL file at path.
func ImportFile(ctx context.Context, database *db.DB, path string, opts ImportOptions) (*ImportResult, error) {
	// #nosec G304 - controlled path from CLI
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer f.Close()
	return Import(ctx, database, f, opts)
}

type merger struct {
	q      *db.Queries
	dryRun bool
	result *ImportResult

	// clients holds ids inserted by this import, which a dry run never
	// writes but whose history must still resolve.
	clients map[string]struct{}
}

func (m *merger) apply(ctx context.Context, rec Record) error {
	switch rec.Kind {
	case KindClient:
		c, err := schema.DecodeClient(rec.Key, rec.Doc)
		if err != nil {
			m.skip(err)
			return nil
		}
		existing, err := m.q.GetClientByID(ctx, c.ID)
		if err := merge(m, existing, err, c.UpdatedAt, func() error {
			return m.q.UpsertClientFromSync(ctx, c)
		}, func(e *schema.Client) time.Time { return e.UpdatedAt }); err != nil {
			return err
		}
		m.clients[c.ID] = struct{}{}

	case KindBarcode:
		b, err := schema.DecodeBarcode(rec.Key, rec.Doc)
		if err != nil {
			m.skip(err)
			return nil
		}
		existing, err := m.q.GetBarcode(ctx, b.Code)
		return merge(m, existing, err, b.UpdatedAt, func() error {
			return m.q.UpsertBarcodeFromSync(ctx, b)
		}, func(e *schema.Barcode) time.Time { return e.UpdatedAt })

	case KindHistory:
		h, err := schema.DecodeHistory(rec.Key, rec.Doc)
		if err != nil {
			m.skip(err)
			return nil
		}
		if ok, err := m.clientExists(ctx, h.ClientID); err != nil {
			return err
		} else if !ok {
			m.skip(fmt.Errorf("history %s references missing client %s", h.ID, h.ClientID))
			return nil
		}
		existing, err := m.q.GetHistory(ctx, h.ID)
		return merge(m, existing, err, h.UpdatedAt, func() error {
			return m.q.UpsertHistoryFromSync(ctx, h)
		}, func(e *schema.CleaningHistory) time.Time { return e.UpdatedAt })

	case KindMetadata:
		md, err := schema.DecodeMetadata(rec.Key, rec.Doc)
		if err != nil {
			m.skip(err)
			return nil
		}
		existing, err := m.q.GetMetadata(ctx, md.Key)
		return merge(m, existing, err, md.UpdatedAt, func() error {
			return m.q.UpsertMetadata(ctx, md)
		}, func(e *schema.Metadata) time.Time { return e.UpdatedAt })
	}
	return nil
}

func (m *merger) skip(err error) {
	m.result.Skipped++
	m.result.Errors = append(m.result.Errors, err.Error())
}

func (m *merger) clientExists(ctx context.Context, id string) (bool, error) {
	if _, ok := m.clients[id]; ok {
		return true, nil
	}
	_, err := m.q.GetClientByID(ctx, id)
	if db.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// merge writes incoming when no local record exists or the local record
// is older. lookupErr is the error of the local lookup.
func merge[T any](m *merger, existing *T, lookupErr error, incoming time.Time, write func() error, updatedAt func(*T) time.Time) error {
	switch {
	case db.IsNotFound(lookupErr):
		if !m.dryRun {
			if err := write(); err != nil {
				return err
			}
		}
		m.result.Inserted++
	case lookupErr != nil:
		return lookupErr
	case incoming.After(updatedAt(existing)):
		if !m.dryRun {
			if err := write(); err != nil {
				return err
			}
		}
		m.result.Updated++
	default:
		m.result.Unchanged++
	}
	return nil
}
