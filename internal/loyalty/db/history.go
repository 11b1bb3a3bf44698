package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

const historyColumns = `id, client_id, barcode_id, cleaning_date, discount_applied, discount_percentage, updated_at`

func scanHistory(s rowScanner) (*schema.CleaningHistory, error) {
	var (
		h                       schema.CleaningHistory
		cleaningDate, updatedAt int64
	)
	if err := s.Scan(&h.ID, &h.ClientID, &h.BarcodeID, &cleaningDate,
		&h.DiscountApplied, &h.DiscountPercentage, &updatedAt); err != nil {
		return nil, err
	}
	h.CleaningDate = schema.FromMillis(cleaningDate)
	h.UpdatedAt = schema.FromMillis(updatedAt)
	return &h, nil
}

func historyArgs(h *schema.CleaningHistory) []any {
	return []any{
		h.ID, h.ClientID, h.BarcodeID, schema.Millis(h.CleaningDate),
		boolInt(h.DiscountApplied), h.DiscountPercentage, schema.Millis(h.UpdatedAt),
	}
}

// InsertHistory appends a cleaning history entry.
func (q *Queries) InsertHistory(ctx context.Context, h *schema.CleaningHistory) error {
	query := `INSERT INTO cleaning_history (` + historyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`
	if _, err := q.q.ExecContext(ctx, query, historyArgs(h)...); err != nil {
		return fmt.Errorf("failed to insert history %s: %w", h.ID, classify(err))
	}
	q.touch(TableHistory)
	return nil
}

// UpsertHistoryFromSync stores h exactly as given, preserving its UpdatedAt.
// The owning client must already exist locally.
func (q *Queries) UpsertHistoryFromSync(ctx context.Context, h *schema.CleaningHistory) error {
	query := `
	INSERT INTO cleaning_history (` + historyColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		client_id = excluded.client_id,
		barcode_id = excluded.barcode_id,
		cleaning_date = excluded.cleaning_date,
		discount_applied = excluded.discount_applied,
		discount_percentage = excluded.discount_percentage,
		updated_at = excluded.updated_at
	`
	if _, err := q.q.ExecContext(ctx, query, historyArgs(h)...); err != nil {
		return fmt.Errorf("failed to upsert history %s: %w", h.ID, err)
	}
	q.touch(TableHistory)
	return nil
}

// GetHistory retrieves one history entry by id.
func (q *Queries) GetHistory(ctx context.Context, id string) (*schema.CleaningHistory, error) {
	query := `SELECT ` + historyColumns + ` FROM cleaning_history WHERE id = ?`
	h, err := scanHistory(q.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history %s: %w", id, err)
	}
	return h, nil
}

// ListHistory returns the whole ledger, newest first.
func (q *Queries) ListHistory(ctx context.Context) ([]*schema.CleaningHistory, error) {
	return q.listHistory(ctx, `SELECT `+historyColumns+` FROM cleaning_history ORDER BY cleaning_date DESC, id`)
}

// ListClientHistory returns one client's ledger, newest first.
func (q *Queries) ListClientHistory(ctx context.Context, clientID string) ([]*schema.CleaningHistory, error) {
	return q.listHistory(ctx,
		`SELECT `+historyColumns+` FROM cleaning_history WHERE client_id = ? ORDER BY cleaning_date DESC, id`,
		clientID)
}

// ListHistorySince returns entries with a cleaning date at or after since, newest first.
func (q *Queries) ListHistorySince(ctx context.Context, since time.Time) ([]*schema.CleaningHistory, error) {
	return q.listHistory(ctx,
		`SELECT `+historyColumns+` FROM cleaning_history WHERE cleaning_date >= ? ORDER BY cleaning_date DESC, id`,
		schema.Millis(since))
}

func (q *Queries) listHistory(ctx context.Context, query string, args ...any) ([]*schema.CleaningHistory, error) {
	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var entries []*schema.CleaningHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		entries = append(entries, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate history: %w", err)
	}
	return entries, nil
}
