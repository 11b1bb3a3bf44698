// Package db provides the embedded SQLite store for the loyalty tracker.
//
// This is the local source of truth on a device. All business operations
// mutate it first; the sync manager then reconciles it with the remote
// document store.
//
// Architecture:
//   - Database file: configured by db.path (default .loyalty/loyalty.db)
//   - WAL mode: concurrent readers during writes
//   - Schema: clients, barcodes, cleaning_history, app_metadata
//   - Transactions: BEGIN IMMEDIATE so read-modify-write sequences never
//     fail halfway on lock upgrade
//   - Live queries: Watch* methods re-run a query after every committed
//     write to the tables it reads
//
// Writes never stamp time on their own. Callers decide the UpdatedAt
// value: business operations take it from the clock, sync writes keep the
// remote record's value.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Table names a local table. Change notifications are keyed by table.
type Table string

const (
	TableClients  Table = "clients"
	TableBarcodes Table = "barcodes"
	TableHistory  Table = "cleaning_history"
	TableMetadata Table = "app_metadata"
)

// querier is the subset of *sql.DB and *sql.Tx used by Queries.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries runs entity statements against either the connection pool or a
// single transaction.
type Queries struct {
	q       querier
	changed func(Table)
}

func (q *Queries) touch(t Table) {
	if q.changed != nil {
		q.changed(t)
	}
}

// DB wraps the SQLite connection pool.
type DB struct {
	*Queries

	conn     *sql.DB
	path     string
	notifier *notifier
}

// Open creates a new database connection at the specified path.
//
// The database is opened in embedded mode with WAL, foreign keys and a
// busy timeout applied to every pooled connection.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	database, err := db.Open(".loyalty/loyalty.db")
//	if err != nil {
//	    return err
//	}
//	defer database.Close()
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "journal_mode(wal)")
	params.Set("_txlock", "immediate")
	connStr := "file:" + path + "?" + params.Encode()

	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(8)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(5 * time.Minute)

	n := newNotifier()
	return &DB{
		Queries:  &Queries{q: conn, changed: func(t Table) { n.publish(t) }},
		conn:     conn,
		path:     path,
		notifier: n,
	}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	// Checkpoint WAL before closing
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	db.notifier.close()

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		phone_number TEXT NOT NULL,
		total_cleanings INTEGER NOT NULL DEFAULT 0,
		discounts_used INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		last_visit INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS barcodes (
		code TEXT PRIMARY KEY,
		client_id TEXT,
		is_assigned INTEGER NOT NULL DEFAULT 0,
		scan_count INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		assigned_at INTEGER,
		last_scanned INTEGER,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS cleaning_history (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		barcode_id TEXT NOT NULL,
		cleaning_date INTEGER NOT NULL,
		discount_applied INTEGER NOT NULL DEFAULT 0,
		discount_percentage INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL,
		FOREIGN KEY (client_id) REFERENCES clients(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS app_metadata (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_clients_phone ON clients(phone_number);
	CREATE INDEX IF NOT EXISTS idx_clients_name ON clients(name);
	CREATE INDEX IF NOT EXISTS idx_barcodes_client ON barcodes(client_id);
	CREATE INDEX IF NOT EXISTS idx_barcodes_assigned ON barcodes(is_assigned);
	CREATE INDEX IF NOT EXISTS idx_history_client ON cleaning_history(client_id);
	CREATE INDEX IF NOT EXISTS idx_history_date ON cleaning_history(cleaning_date);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// WithTx runs fn inside a single transaction.
//
// The transaction is rolled back if fn returns an error and committed
// otherwise. Watchers are notified only after a successful commit.
func (db *DB) WithTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	touched := make(map[Table]struct{})
	q := &Queries{q: tx, changed: func(t Table) { touched[t] = struct{}{} }}

	if err := fn(q); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	tables := make([]Table, 0, len(touched))
	for t := range touched {
		tables = append(tables, t)
	}
	db.notifier.publish(tables...)
	return nil
}

// Stats summarises the local store.
type Stats struct {
	Clients      int `json:"clients"`
	Barcodes     int `json:"barcodes"`
	Unassigned   int `json:"unassigned"`
	Cleanings    int `json:"cleanings"`
	Discounts    int `json:"discounts"`
	LoyalClients int `json:"loyal_clients"`
}

// GetStats returns row counts used by status displays.
func (q *Queries) GetStats(ctx context.Context, loyalThreshold int) (*Stats, error) {
	query := `
	SELECT
		(SELECT COUNT(*) FROM clients),
		(SELECT COUNT(*) FROM barcodes),
		(SELECT COUNT(*) FROM barcodes WHERE is_assigned = 0),
		(SELECT COUNT(*) FROM cleaning_history),
		(SELECT COUNT(*) FROM cleaning_history WHERE discount_applied = 1),
		(SELECT COUNT(*) FROM clients WHERE total_cleanings >= ?)
	`
	var s Stats
	err := q.q.QueryRowContext(ctx, query, loyalThreshold).Scan(
		&s.Clients, &s.Barcodes, &s.Unassigned, &s.Cleanings, &s.Discounts, &s.LoyalClients,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &s, nil
}

// nullMillis converts an optional time to a nullable INTEGER.
func nullMillis(t *time.Time) sql.NullInt64 {
	if t == nil || t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

// nullMillisToTime converts a nullable INTEGER to an optional time.
func nullMillisToTime(n sql.NullInt64) *time.Time {
	if !n.Valid || n.Int64 == 0 {
		return nil
	}
	t := time.UnixMilli(n.Int64).UTC()
	return &t
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// rowScanner is implemented by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func checkAffected(res sql.Result, what, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", what, key, ErrNotFound)
	}
	return nil
}
