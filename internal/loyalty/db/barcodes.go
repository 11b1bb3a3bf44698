package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

const barcodeColumns = `code, client_id, is_assigned, scan_count, created_at, assigned_at, last_scanned, updated_at`

func scanBarcode(s rowScanner) (*schema.Barcode, error) {
	var (
		b                       schema.Barcode
		clientID                sql.NullString
		createdAt, updatedAt    int64
		assignedAt, lastScanned sql.NullInt64
	)
	if err := s.Scan(&b.Code, &clientID, &b.IsAssigned, &b.ScanCount,
		&createdAt, &assignedAt, &lastScanned, &updatedAt); err != nil {
		return nil, err
	}
	b.ClientID = clientID.String
	b.CreatedAt = schema.FromMillis(createdAt)
	b.AssignedAt = nullMillisToTime(assignedAt)
	b.LastScanned = nullMillisToTime(lastScanned)
	b.UpdatedAt = schema.FromMillis(updatedAt)
	return &b, nil
}

func barcodeArgs(b *schema.Barcode) []any {
	return []any{
		b.Code, nullString(b.ClientID), boolInt(b.IsAssigned), b.ScanCount,
		schema.Millis(b.CreatedAt), nullMillis(b.AssignedAt), nullMillis(b.LastScanned), schema.Millis(b.UpdatedAt),
	}
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// InsertBarcode creates a new barcode. Fails with ErrDuplicate if the code exists.
func (q *Queries) InsertBarcode(ctx context.Context, b *schema.Barcode) error {
	query := `INSERT INTO barcodes (` + barcodeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := q.q.ExecContext(ctx, query, barcodeArgs(b)...); err != nil {
		return fmt.Errorf("failed to insert barcode %s: %w", b.Code, classify(err))
	}
	q.touch(TableBarcodes)
	return nil
}

// UpdateBarcode overwrites every mutable column of an existing barcode.
func (q *Queries) UpdateBarcode(ctx context.Context, b *schema.Barcode) error {
	query := `
	UPDATE barcodes
	SET client_id = ?, is_assigned = ?, scan_count = ?, created_at = ?,
		assigned_at = ?, last_scanned = ?, updated_at = ?
	WHERE code = ?
	`
	res, err := q.q.ExecContext(ctx, query,
		nullString(b.ClientID), boolInt(b.IsAssigned), b.ScanCount, schema.Millis(b.CreatedAt),
		nullMillis(b.AssignedAt), nullMillis(b.LastScanned), schema.Millis(b.UpdatedAt),
		b.Code,
	)
	if err != nil {
		return fmt.Errorf("failed to update barcode %s: %w", b.Code, err)
	}
	if err := checkAffected(res, "barcode", b.Code); err != nil {
		return err
	}
	q.touch(TableBarcodes)
	return nil
}

// UpsertBarcodeFromSync stores b exactly as given, preserving its UpdatedAt.
func (q *Queries) UpsertBarcodeFromSync(ctx context.Context, b *schema.Barcode) error {
	query := `
	INSERT INTO barcodes (` + barcodeColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(code) DO UPDATE SET
		client_id = excluded.client_id,
		is_assigned = excluded.is_assigned,
		scan_count = excluded.scan_count,
		created_at = excluded.created_at,
		assigned_at = excluded.assigned_at,
		last_scanned = excluded.last_scanned,
		updated_at = excluded.updated_at
	`
	if _, err := q.q.ExecContext(ctx, query, barcodeArgs(b)...); err != nil {
		return fmt.Errorf("failed to upsert barcode %s: %w", b.Code, err)
	}
	q.touch(TableBarcodes)
	return nil
}

// GetBarcode retrieves a barcode by code.
func (q *Queries) GetBarcode(ctx context.Context, code string) (*schema.Barcode, error) {
	query := `SELECT ` + barcodeColumns + ` FROM barcodes WHERE code = ?`
	b, err := scanBarcode(q.q.QueryRowContext(ctx, query, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("barcode %s: %w", code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get barcode %s: %w", code, err)
	}
	return b, nil
}

// ListBarcodes returns all barcodes ordered by code.
func (q *Queries) ListBarcodes(ctx context.Context) ([]*schema.Barcode, error) {
	return q.listBarcodes(ctx, `SELECT `+barcodeColumns+` FROM barcodes ORDER BY code`)
}

// ListUnassignedBarcodes returns barcodes not yet bound to a client.
func (q *Queries) ListUnassignedBarcodes(ctx context.Context) ([]*schema.Barcode, error) {
	return q.listBarcodes(ctx, `SELECT `+barcodeColumns+` FROM barcodes WHERE is_assigned = 0 ORDER BY code`)
}

// ListClientBarcodes returns the barcodes assigned to a client.
func (q *Queries) ListClientBarcodes(ctx context.Context, clientID string) ([]*schema.Barcode, error) {
	return q.listBarcodes(ctx, `SELECT `+barcodeColumns+` FROM barcodes WHERE client_id = ? ORDER BY assigned_at, code`, clientID)
}

func (q *Queries) listBarcodes(ctx context.Context, query string, args ...any) ([]*schema.Barcode, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list barcodes: %w", err)
	}
	defer rows.Close()

	var barcodes []*schema.Barcode
	for rows.Next() {
		b, err := scanBarcode(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan barcode: %w", err)
		}
		barcodes = append(barcodes, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate barcodes: %w", err)
	}
	return barcodes, nil
}

// CountUnassignedBarcodes returns the number of unassigned barcodes.
func (q *Queries) CountUnassignedBarcodes(ctx context.Context) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM barcodes WHERE is_assigned = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count unassigned barcodes: %w", err)
	}
	return n, nil
}

// MaxBarcodeSequence returns the highest numeric suffix among codes that
// consist of prefix followed only by digits. Returns 0 when none exist.
func (q *Queries) MaxBarcodeSequence(ctx context.Context, prefix string) (int, error) {
	query := `
	SELECT substr(code, ?) FROM barcodes
	WHERE substr(code, 1, ?) = ?
		AND length(code) > ?
		AND substr(code, ?) NOT GLOB '*[^0-9]*'
	`
	start := len(prefix) + 1
	rows, err := q.q.QueryContext(ctx, query, start, len(prefix), prefix, len(prefix), start)
	if err != nil {
		return 0, fmt.Errorf("failed to read barcode sequence: %w", err)
	}
	defer rows.Close()

	maxSeq := 0
	for rows.Next() {
		var suffix string
		if err := rows.Scan(&suffix); err != nil {
			return 0, fmt.Errorf("failed to scan barcode suffix: %w", err)
		}
		if n, err := strconv.Atoi(suffix); err == nil && n > maxSeq {
			maxSeq = n
		}
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to iterate barcode suffixes: %w", err)
	}
	return maxSeq, nil
}
