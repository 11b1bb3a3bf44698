package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

const clientColumns = `id, name, phone_number, total_cleanings, discounts_used, created_at, last_visit, updated_at`

func scanClient(s rowScanner) (*schema.Client, error) {
	var (
		c                               schema.Client
		createdAt, lastVisit, updatedAt int64
	)
	if err := s.Scan(&c.ID, &c.Name, &c.PhoneNumber, &c.TotalCleanings, &c.DiscountsUsed,
		&createdAt, &lastVisit, &updatedAt); err != nil {
		return nil, err
	}
	c.CreatedAt = schema.FromMillis(createdAt)
	c.LastVisit = schema.FromMillis(lastVisit)
	c.UpdatedAt = schema.FromMillis(updatedAt)
	return &c, nil
}

func clientArgs(c *schema.Client) []any {
	return []any{
		c.ID, c.Name, c.PhoneNumber, c.TotalCleanings, c.DiscountsUsed,
		schema.Millis(c.CreatedAt), schema.Millis(c.LastVisit), schema.Millis(c.UpdatedAt),
	}
}

// InsertClient creates a new client. Fails with ErrDuplicate if the id exists.
func (q *Queries) InsertClient(ctx context.Context, c *schema.Client) error {
	query := `INSERT INTO clients (` + clientColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := q.q.ExecContext(ctx, query, clientArgs(c)...); err != nil {
		return fmt.Errorf("failed to insert client %s: %w", c.ID, classify(err))
	}
	q.touch(TableClients)
	return nil
}

// UpdateClient overwrites every mutable column of an existing client.
func (q *Queries) UpdateClient(ctx context.Context, c *schema.Client) error {
	query := `
	UPDATE clients
	SET name = ?, phone_number = ?, total_cleanings = ?, discounts_used = ?,
		created_at = ?, last_visit = ?, updated_at = ?
	WHERE id = ?
	`
	res, err := q.q.ExecContext(ctx, query,
		c.Name, c.PhoneNumber, c.TotalCleanings, c.DiscountsUsed,
		schema.Millis(c.CreatedAt), schema.Millis(c.LastVisit), schema.Millis(c.UpdatedAt),
		c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update client %s: %w", c.ID, err)
	}
	if err := checkAffected(res, "client", c.ID); err != nil {
		return err
	}
	q.touch(TableClients)
	return nil
}

// UpsertClientFromSync stores c exactly as given, preserving its UpdatedAt.
//
// ON CONFLICT DO UPDATE is used instead of INSERT OR REPLACE: a replace
// deletes the old row first, which would cascade into cleaning_history.
func (q *Queries) UpsertClientFromSync(ctx context.Context, c *schema.Client) error {
	query := `
	INSERT INTO clients (` + clientColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		phone_number = excluded.phone_number,
		total_cleanings = excluded.total_cleanings,
		discounts_used = excluded.discounts_used,
		created_at = excluded.created_at,
		last_visit = excluded.last_visit,
		updated_at = excluded.updated_at
	`
	if _, err := q.q.ExecContext(ctx, query, clientArgs(c)...); err != nil {
		return fmt.Errorf("failed to upsert client %s: %w", c.ID, err)
	}
	q.touch(TableClients)
	return nil
}

// GetClientByID retrieves a client by id.
func (q *Queries) GetClientByID(ctx context.Context, id string) (*schema.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE id = ?`
	c, err := scanClient(q.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client %s: %w", id, err)
	}
	return c, nil
}

// GetClientByPhone retrieves the oldest client with the given phone number.
func (q *Queries) GetClientByPhone(ctx context.Context, phone string) (*schema.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients WHERE phone_number = ? ORDER BY created_at, id LIMIT 1`
	c, err := scanClient(q.q.QueryRowContext(ctx, query, phone))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("client with phone %s: %w", phone, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get client by phone: %w", err)
	}
	return c, nil
}

// ListClients returns all clients ordered by name.
func (q *Queries) ListClients(ctx context.Context) ([]*schema.Client, error) {
	query := `SELECT ` + clientColumns + ` FROM clients ORDER BY name COLLATE NOCASE, id`
	rows, err := q.q.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	var clients []*schema.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate clients: %w", err)
	}
	return clients, nil
}

// CountClients returns the number of clients.
func (q *Queries) CountClients(ctx context.Context) (int, error) {
	var n int
	if err := q.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM clients`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count clients: %w", err)
	}
	return n, nil
}

// DeleteClient removes a client. Its cleaning history is removed by cascade.
func (q *Queries) DeleteClient(ctx context.Context, id string) error {
	res, err := q.q.ExecContext(ctx, `DELETE FROM clients WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete client %s: %w", id, err)
	}
	if err := checkAffected(res, "client", id); err != nil {
		return err
	}
	q.touch(TableClients)
	q.touch(TableHistory)
	return nil
}
