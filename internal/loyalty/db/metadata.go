package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// GetMetadata retrieves a metadata entry by key.
func (q *Queries) GetMetadata(ctx context.Context, key string) (*schema.Metadata, error) {
	var (
		m         = schema.Metadata{Key: key}
		updatedAt int64
	)
	err := q.q.QueryRowContext(ctx,
		`SELECT value, updated_at FROM app_metadata WHERE key = ?`, key,
	).Scan(&m.Value, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("metadata %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata %s: %w", key, err)
	}
	m.UpdatedAt = schema.FromMillis(updatedAt)
	return &m, nil
}

// ListMetadata returns every metadata entry ordered by key.
func (q *Queries) ListMetadata(ctx context.Context) ([]*schema.Metadata, error) {
	rows, err := q.q.QueryContext(ctx, `SELECT key, value, updated_at FROM app_metadata ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list metadata: %w", err)
	}
	defer rows.Close()

	var entries []*schema.Metadata
	for rows.Next() {
		var (
			m         schema.Metadata
			updatedAt int64
		)
		if err := rows.Scan(&m.Key, &m.Value, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan metadata: %w", err)
		}
		m.UpdatedAt = schema.FromMillis(updatedAt)
		entries = append(entries, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate metadata: %w", err)
	}
	return entries, nil
}

// UpsertMetadata inserts or replaces a metadata entry.
func (q *Queries) UpsertMetadata(ctx context.Context, m *schema.Metadata) error {
	query := `
	INSERT INTO app_metadata (key, value, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`
	if _, err := q.q.ExecContext(ctx, query, m.Key, m.Value, schema.Millis(m.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to upsert metadata %s: %w", m.Key, err)
	}
	q.touch(TableMetadata)
	return nil
}

// UpsertMetadataBatch upserts every entry. Callers that need all-or-nothing
// semantics run it inside WithTx.
func (q *Queries) UpsertMetadataBatch(ctx context.Context, entries []*schema.Metadata) error {
	for _, m := range entries {
		if err := q.UpsertMetadata(ctx, m); err != nil {
			return err
		}
	}
	return nil
}
