// Package metadata manages the small counter register shared between
// devices: generated barcode count, client count, last sync time and the
// app version.
//
// Values are stored locally as strings with an UpdatedAt stamp and mirrored
// to the remote app_metadata collection. Pulling from the cloud replaces
// local entries wholesale; pushing overwrites every remote document.
package metadata

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/mod/semver"

	"github.com/pdavies/carpetloyalty/internal/loyalty/clock"
	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/remote"
	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// DefaultAppVersion is recorded on first start when no version is stored.
const DefaultAppVersion = "1.0"

// Manager reads and writes metadata entries.
type Manager struct {
	db      *db.DB
	store   remote.Store
	clock   clock.Clock
	logger  *log.Logger
	version string
}

// New creates a Manager.
//
// If clk is nil a monotonic system clock is used. If logger is nil, a
// default logger writing to stderr is used.
func New(database *db.DB, store remote.Store, clk clock.Clock, logger *log.Logger) *Manager {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = log.New(os.Stderr, "[metadata] ", log.LstdFlags)
	}
	return &Manager{
		db:      database,
		store:   store,
		clock:   clk,
		logger:  logger,
		version: DefaultAppVersion,
	}
}

// WithAppVersion sets the version recorded by PerformInitialMetadataSetup.
func (m *Manager) WithAppVersion(version string) *Manager {
	m.version = version
	return m
}

// Get returns the value stored at key and whether it exists.
func (m *Manager) Get(ctx context.Context, key string) (string, bool, error) {
	return get(ctx, m.db.Queries, key)
}

func get(ctx context.Context, q *db.Queries, key string) (string, bool, error) {
	entry, err := q.GetMetadata(ctx, key)
	if db.IsNotFound(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return entry.Value, true, nil
}

// Set stores value at key, stamping UpdatedAt with the current time.
func (m *Manager) Set(ctx context.Context, key, value string) error {
	return m.SetTx(ctx, m.db.Queries, key, value)
}

// SetTx is Set within an existing transaction.
func (m *Manager) SetTx(ctx context.Context, q *db.Queries, key, value string) error {
	entry := &schema.Metadata{Key: key, Value: value, UpdatedAt: m.clock.Now()}
	if err := q.UpsertMetadata(ctx, entry); err != nil {
		return fmt.Errorf("failed to set metadata %s: %w", key, err)
	}
	return nil
}

// getInt reads a counter. Missing or non-numeric values read as 0.
func getInt(ctx context.Context, q *db.Queries, key string) (int, error) {
	value, ok, err := get(ctx, q, key)
	if err != nil || !ok {
		return 0, err
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// GeneratedBarcodesCount returns the number of barcodes generated so far.
func (m *Manager) GeneratedBarcodesCount(ctx context.Context) (int, error) {
	return getInt(ctx, m.db.Queries, schema.KeyGeneratedBarcodesCount)
}

// SetGeneratedBarcodesCount overwrites the generated barcode counter.
func (m *Manager) SetGeneratedBarcodesCount(ctx context.Context, n int) error {
	return m.Set(ctx, schema.KeyGeneratedBarcodesCount, strconv.Itoa(n))
}

// IncrementGeneratedBarcodesCount adds n to the generated barcode counter
// atomically and returns the new value.
func (m *Manager) IncrementGeneratedBarcodesCount(ctx context.Context, n int) (int, error) {
	var total int
	err := m.db.WithTx(ctx, func(q *db.Queries) error {
		var err error
		total, err = m.IncrementTx(ctx, q, n)
		return err
	})
	return total, err
}

// IncrementTx is IncrementGeneratedBarcodesCount within an existing transaction.
func (m *Manager) IncrementTx(ctx context.Context, q *db.Queries, n int) (int, error) {
	current, err := getInt(ctx, q, schema.KeyGeneratedBarcodesCount)
	if err != nil {
		return 0, err
	}
	total := current + n
	if err := m.SetTx(ctx, q, schema.KeyGeneratedBarcodesCount, strconv.Itoa(total)); err != nil {
		return 0, err
	}
	return total, nil
}

// SetGeneratedBarcodesCountTx is SetGeneratedBarcodesCount within an existing transaction.
func (m *Manager) SetGeneratedBarcodesCountTx(ctx context.Context, q *db.Queries, n int) error {
	return m.SetTx(ctx, q, schema.KeyGeneratedBarcodesCount, strconv.Itoa(n))
}

// GeneratedBarcodesCountTx reads the generated barcode counter within a transaction.
func (m *Manager) GeneratedBarcodesCountTx(ctx context.Context, q *db.Queries) (int, error) {
	return getInt(ctx, q, schema.KeyGeneratedBarcodesCount)
}

// TotalClientsCount returns the stored client count.
func (m *Manager) TotalClientsCount(ctx context.Context) (int, error) {
	return getInt(ctx, m.db.Queries, schema.KeyTotalClientsCount)
}

// SetTotalClientsCount overwrites the stored client count.
func (m *Manager) SetTotalClientsCount(ctx context.Context, n int) error {
	return m.Set(ctx, schema.KeyTotalClientsCount, strconv.Itoa(n))
}

// SetTotalClientsCountTx is SetTotalClientsCount within an existing transaction.
func (m *Manager) SetTotalClientsCountTx(ctx context.Context, q *db.Queries, n int) error {
	return m.SetTx(ctx, q, schema.KeyTotalClientsCount, strconv.Itoa(n))
}

// LastSyncTime returns the time of the last completed sync, or the zero
// time if none is recorded.
func (m *Manager) LastSyncTime(ctx context.Context) (time.Time, error) {
	value, ok, err := m.Get(ctx, schema.KeyLastSyncTimestamp)
	if err != nil || !ok {
		return time.Time{}, err
	}
	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, nil
	}
	return schema.FromMillis(ms), nil
}

// SetLastSyncTime records t as the last completed sync.
func (m *Manager) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return m.Set(ctx, schema.KeyLastSyncTimestamp, strconv.FormatInt(schema.Millis(t), 10))
}

// AppVersion returns the stored app version, or "" if none is recorded.
func (m *Manager) AppVersion(ctx context.Context) (string, error) {
	value, _, err := m.Get(ctx, schema.KeyAppVersion)
	return value, err
}

// SyncMetadataToCloud pushes every local entry as a full document overwrite.
// The first failed write aborts the push and is returned.
func (m *Manager) SyncMetadataToCloud(ctx context.Context) (int, error) {
	entries, err := m.db.ListMetadata(ctx)
	if err != nil {
		return 0, err
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return i, err
		}
		if err := m.store.Set(ctx, schema.CollectionMetadata, entry.Key, schema.EncodeMetadata(entry)); err != nil {
			m.logger.Printf("Failed to push metadata to cloud: %v", err)
			return i, fmt.Errorf("failed to push metadata %s: %w", entry.Key, err)
		}
	}

	m.logger.Printf("Metadata pushed to cloud (%d entries)", len(entries))
	return len(entries), nil
}

// PushChangedMetadata pushes only the local entries whose remote copy is
// missing or differs. The result matches SyncMetadataToCloud without
// rewriting documents that are already current.
func (m *Manager) PushChangedMetadata(ctx context.Context) (int, error) {
	docs, err := m.store.GetAll(ctx, schema.CollectionMetadata)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch remote metadata: %w", err)
	}
	remoteEntries := make(map[string]*schema.Metadata, len(docs))
	for _, doc := range docs {
		if entry, err := schema.DecodeMetadata(doc.Key, doc.Fields); err == nil {
			remoteEntries[doc.Key] = entry
		}
	}

	entries, err := m.db.ListMetadata(ctx)
	if err != nil {
		return 0, err
	}

	pushed := 0
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return pushed, err
		}
		if sameEntry(entry, remoteEntries[entry.Key]) {
			continue
		}
		if err := m.store.Set(ctx, schema.CollectionMetadata, entry.Key, schema.EncodeMetadata(entry)); err != nil {
			return pushed, fmt.Errorf("failed to push metadata %s: %w", entry.Key, err)
		}
		pushed++
	}
	return pushed, nil
}

// SyncMetadataFromCloud replaces local entries with every remote entry and
// returns the number of local entries that changed. Documents without a
// usable key are skipped.
func (m *Manager) SyncMetadataFromCloud(ctx context.Context) (int, error) {
	docs, err := m.store.GetAll(ctx, schema.CollectionMetadata)
	if err != nil {
		m.logger.Printf("Failed to pull metadata from cloud: %v", err)
		return 0, fmt.Errorf("failed to fetch remote metadata: %w", err)
	}

	local, err := m.db.ListMetadata(ctx)
	if err != nil {
		return 0, err
	}
	localEntries := make(map[string]*schema.Metadata, len(local))
	for _, entry := range local {
		localEntries[entry.Key] = entry
	}

	var changed []*schema.Metadata
	for _, doc := range docs {
		entry, err := schema.DecodeMetadata(doc.Key, doc.Fields)
		if err != nil {
			m.logger.Printf("Skipping metadata document: %v", err)
			continue
		}
		if !sameEntry(entry, localEntries[entry.Key]) {
			changed = append(changed, entry)
		}
	}

	if len(changed) > 0 {
		err = m.db.WithTx(ctx, func(q *db.Queries) error {
			return q.UpsertMetadataBatch(ctx, changed)
		})
		if err != nil {
			return 0, fmt.Errorf("failed to store remote metadata: %w", err)
		}
	}

	m.logger.Printf("Metadata pulled from cloud (%d of %d entries changed)", len(changed), len(docs))
	return len(changed), nil
}

func sameEntry(a, b *schema.Metadata) bool {
	return a != nil && b != nil && a.Value == b.Value && a.UpdatedAt.Equal(b.UpdatedAt)
}

// PerformInitialMetadataSetup seeds metadata on a fresh install.
//
// When the generated barcode counter reads as zero the cloud copy is
// pulled first. If the counter is still zero afterwards, default counters
// and a fresh last sync time are written. Any failure falls back to
// writing default counters. This method never fails.
func (m *Manager) PerformInitialMetadataSetup(ctx context.Context) {
	if err := m.initialSetup(ctx); err != nil {
		m.logger.Printf("Initial metadata setup failed, using defaults: %v", err)
		m.writeMissingDefaults(ctx)
	}

	m.recordAppVersion(ctx)
}

// recordAppVersion stores the running version unless the recorded one is
// the same or newer. A newer recorded version means another device runs a
// later release.
func (m *Manager) recordAppVersion(ctx context.Context) {
	if m.version == "" {
		return
	}
	stored, err := m.AppVersion(ctx)
	if err != nil {
		m.logger.Printf("Failed to read app version: %v", err)
		return
	}

	switch c := CompareVersions(stored, m.version); {
	case stored == "" || c < 0:
		if err := m.Set(ctx, schema.KeyAppVersion, m.version); err != nil {
			m.logger.Printf("Failed to record app version: %v", err)
			return
		}
		if stored != "" {
			m.logger.Printf("App version upgraded from %s to %s", stored, m.version)
		}
	case c > 0:
		m.logger.Printf("Recorded app version %s is newer than %s", stored, m.version)
	}
}

// CompareVersions compares two release versions such as "1.0" or
// "v1.2.3". Invalid versions sort before valid ones.
func CompareVersions(a, b string) int {
	return semver.Compare(canonicalVersion(a), canonicalVersion(b))
}

func canonicalVersion(v string) string {
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

func (m *Manager) initialSetup(ctx context.Context) error {
	count, err := m.GeneratedBarcodesCount(ctx)
	if err != nil {
		return err
	}
	if count != 0 {
		return nil
	}

	m.logger.Printf("Fresh install detected, pulling metadata from cloud")
	if _, err := m.SyncMetadataFromCloud(ctx); err != nil {
		return err
	}

	count, err = m.GeneratedBarcodesCount(ctx)
	if err != nil {
		return err
	}
	if count != 0 {
		return nil
	}

	m.logger.Printf("No cloud metadata found, initializing defaults")
	if err := m.SetGeneratedBarcodesCount(ctx, 0); err != nil {
		return err
	}
	if err := m.SetTotalClientsCount(ctx, 0); err != nil {
		return err
	}
	return m.SetLastSyncTime(ctx, m.clock.Now())
}

// writeMissingDefaults writes zero counters for keys that are absent.
// Existing values, possibly pulled from the cloud, are left untouched.
func (m *Manager) writeMissingDefaults(ctx context.Context) {
	for _, key := range []string{schema.KeyGeneratedBarcodesCount, schema.KeyTotalClientsCount} {
		_, ok, err := m.Get(ctx, key)
		if err == nil && ok {
			continue
		}
		if err := m.Set(ctx, key, "0"); err != nil {
			m.logger.Printf("Failed to write default %s: %v", key, err)
		}
	}
}
