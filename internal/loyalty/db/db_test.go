package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

// testDBPath returns a temporary path for test databases
func testDBPath(t *testing.T) string {
	tmpDir := t.TempDir()
	return filepath.Join(tmpDir, "test.db")
}

// newTestDB opens a database with the schema applied.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(testDBPath(t))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}
	return db
}

func ms(n int64) time.Time {
	return schema.FromMillis(n)
}

func testClient(id, phone string, updatedAt int64) *schema.Client {
	return &schema.Client{
		ID:          id,
		Name:        "Client " + id,
		PhoneNumber: phone,
		CreatedAt:   ms(1000),
		LastVisit:   ms(1000),
		UpdatedAt:   ms(updatedAt),
	}
}

func TestOpen_Success(t *testing.T) {
	path := testDBPath(t)
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

func TestOpen_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "loyalty.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	defer db.Close()
}

func TestInitSchema_Success(t *testing.T) {
	db := newTestDB(t)

	tables := []string{"clients", "barcodes", "cleaning_history", "app_metadata"}
	for _, table := range tables {
		var count int
		query := `SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`
		if err := db.conn.QueryRow(query, table).Scan(&count); err != nil {
			t.Fatalf("Failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("Table %s does not exist", table)
		}
	}
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := newTestDB(t)
	if err := db.InitSchema(); err != nil {
		t.Errorf("Second InitSchema() failed: %v", err)
	}
}

func TestClientCRUD(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	c := testClient("c-1", "555-0100", 2000)
	if err := db.InsertClient(ctx, c); err != nil {
		t.Fatalf("InsertClient() failed: %v", err)
	}

	got, err := db.GetClientByID(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetClientByID() failed: %v", err)
	}
	if *got != *c {
		t.Errorf("GetClientByID() = %+v, want %+v", got, c)
	}

	byPhone, err := db.GetClientByPhone(ctx, "555-0100")
	if err != nil {
		t.Fatalf("GetClientByPhone() failed: %v", err)
	}
	if byPhone.ID != "c-1" {
		t.Errorf("GetClientByPhone() id = %q, want c-1", byPhone.ID)
	}

	c.Name = "Renamed"
	c.TotalCleanings = 3
	c.UpdatedAt = ms(3000)
	if err := db.UpdateClient(ctx, c); err != nil {
		t.Fatalf("UpdateClient() failed: %v", err)
	}
	got, _ = db.GetClientByID(ctx, "c-1")
	if got.Name != "Renamed" || got.TotalCleanings != 3 || schema.Millis(got.UpdatedAt) != 3000 {
		t.Errorf("after update got %+v", got)
	}

	if err := db.InsertClient(ctx, c); !IsDuplicate(err) {
		t.Errorf("second InsertClient() error = %v, want duplicate", err)
	}

	n, err := db.CountClients(ctx)
	if err != nil {
		t.Fatalf("CountClients() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("CountClients() = %d, want 1", n)
	}
}

func TestGetClient_NotFound(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if _, err := db.GetClientByID(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("GetClientByID() error = %v, want not found", err)
	}
	if _, err := db.GetClientByPhone(ctx, "000"); !IsNotFound(err) {
		t.Errorf("GetClientByPhone() error = %v, want not found", err)
	}
	if err := db.UpdateClient(ctx, testClient("missing", "1", 1)); !IsNotFound(err) {
		t.Errorf("UpdateClient() error = %v, want not found", err)
	}
}

func TestBarcode_NullableColumns(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	b := &schema.Barcode{Code: "PDC000001", CreatedAt: ms(1000), UpdatedAt: ms(1000)}
	if err := db.InsertBarcode(ctx, b); err != nil {
		t.Fatalf("InsertBarcode() failed: %v", err)
	}

	got, err := db.GetBarcode(ctx, "PDC000001")
	if err != nil {
		t.Fatalf("GetBarcode() failed: %v", err)
	}
	if got.ClientID != "" || got.IsAssigned || got.AssignedAt != nil || got.LastScanned != nil {
		t.Errorf("unassigned barcode = %+v", got)
	}

	assigned := ms(5000)
	got.Assign("c-1", assigned)
	got.UpdatedAt = assigned
	if err := db.UpdateBarcode(ctx, got); err != nil {
		t.Fatalf("UpdateBarcode() failed: %v", err)
	}

	got, _ = db.GetBarcode(ctx, "PDC000001")
	if !got.IsAssigned || got.ClientID != "c-1" {
		t.Errorf("assigned barcode = %+v", got)
	}
	if got.AssignedAt == nil || !got.AssignedAt.Equal(assigned) {
		t.Errorf("AssignedAt = %v, want %v", got.AssignedAt, assigned)
	}

	if err := db.InsertBarcode(ctx, b); !IsDuplicate(err) {
		t.Errorf("duplicate InsertBarcode() error = %v, want duplicate", err)
	}
}

func TestListBarcodes_Filters(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	for _, code := range []string{"PDC000001", "PDC000002", "PDC000003"} {
		b := &schema.Barcode{Code: code, CreatedAt: ms(1), UpdatedAt: ms(1)}
		if code == "PDC000002" {
			b.Assign("c-1", ms(2))
		}
		if err := db.InsertBarcode(ctx, b); err != nil {
			t.Fatalf("InsertBarcode() failed: %v", err)
		}
	}

	unassigned, err := db.ListUnassignedBarcodes(ctx)
	if err != nil {
		t.Fatalf("ListUnassignedBarcodes() failed: %v", err)
	}
	if len(unassigned) != 2 {
		t.Errorf("ListUnassignedBarcodes() len = %d, want 2", len(unassigned))
	}

	n, _ := db.CountUnassignedBarcodes(ctx)
	if n != 2 {
		t.Errorf("CountUnassignedBarcodes() = %d, want 2", n)
	}

	owned, err := db.ListClientBarcodes(ctx, "c-1")
	if err != nil {
		t.Fatalf("ListClientBarcodes() failed: %v", err)
	}
	if len(owned) != 1 || owned[0].Code != "PDC000002" {
		t.Errorf("ListClientBarcodes() = %+v", owned)
	}
}

func TestMaxBarcodeSequence(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	seq, err := db.MaxBarcodeSequence(ctx, "PDC")
	if err != nil {
		t.Fatalf("MaxBarcodeSequence() failed: %v", err)
	}
	if seq != 0 {
		t.Errorf("empty MaxBarcodeSequence() = %d, want 0", seq)
	}

	for _, code := range []string{"PDC000003", "PDC000010", "PDCX00099", "ABC000500", "PDC"} {
		b := &schema.Barcode{Code: code, CreatedAt: ms(1), UpdatedAt: ms(1)}
		if err := db.InsertBarcode(ctx, b); err != nil {
			t.Fatalf("InsertBarcode(%s) failed: %v", code, err)
		}
	}

	seq, err = db.MaxBarcodeSequence(ctx, "PDC")
	if err != nil {
		t.Fatalf("MaxBarcodeSequence() failed: %v", err)
	}
	if seq != 10 {
		t.Errorf("MaxBarcodeSequence() = %d, want 10", seq)
	}
}

func TestUpsertClientFromSync_PreservesHistory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	if err := db.InsertClient(ctx, testClient("c-1", "1", 100)); err != nil {
		t.Fatalf("InsertClient() failed: %v", err)
	}
	h := &schema.CleaningHistory{ID: "h-1", ClientID: "c-1", BarcodeID: "PDC000001", CleaningDate: ms(100), UpdatedAt: ms(100)}
	if err := db.InsertHistory(ctx, h); err != nil {
		t.Fatalf("InsertHistory() failed: %v", err)
	}

	remote := testClient("c-1", "1", 200)
	remote.Name = "From cloud"
	if err := db.UpsertClientFromSync(ctx, remote); err != nil {
		t.Fatalf("UpsertClientFromSync() failed: %v", err)
	}

	got, _ := db.GetClientByID(ctx, "c-1")
	if got.Name != "From cloud" || schema.Millis(got.UpdatedAt) != 200 {
		t.Errorf("after upsert got %+v", got)
	}

	entries, err := db.ListClientHistory(ctx, "c-1")
	if err != nil {
		t.Fatalf("ListClientHistory() failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("history len = %d, want 1", len(entries))
	}
}

func TestDeleteClient_CascadesHistory(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_ = db.InsertClient(ctx, testClient("c-1", "1", 100))
	_ = db.InsertHistory(ctx, &schema.CleaningHistory{ID: "h-1", ClientID: "c-1", UpdatedAt: ms(100)})

	if err := db.DeleteClient(ctx, "c-1"); err != nil {
		t.Fatalf("DeleteClient() failed: %v", err)
	}
	entries, err := db.ListHistory(ctx)
	if err != nil {
		t.Fatalf("ListHistory() failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("history len = %d, want 0", len(entries))
	}
}

func TestListHistorySince(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	_ = db.InsertClient(ctx, testClient("c-1", "1", 100))
	for i, date := range []int64{1000, 2000, 3000} {
		h := &schema.CleaningHistory{
			ID:           string(rune('a' + i)),
			ClientID:     "c-1",
			CleaningDate: ms(date),
			UpdatedAt:    ms(date),
		}
		if err := db.InsertHistory(ctx, h); err != nil {
			t.Fatalf("InsertHistory() failed: %v", err)
		}
	}

	entries, err := db.ListHistorySince(ctx, ms(2000))
	if err != nil {
		t.Fatalf("ListHistorySince() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("ListHistorySince() len = %d, want 2", len(entries))
	}
	if entries[0].ID != "c" {
		t.Errorf("first entry = %q, want newest (c)", entries[0].ID)
	}
}

func TestMetadataUpsert(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	batch := []*schema.Metadata{
		{Key: schema.KeyGeneratedBarcodesCount, Value: "5", UpdatedAt: ms(10)},
		{Key: schema.KeyTotalClientsCount, Value: "2", UpdatedAt: ms(10)},
	}
	if err := db.UpsertMetadataBatch(ctx, batch); err != nil {
		t.Fatalf("UpsertMetadataBatch() failed: %v", err)
	}
	if err := db.UpsertMetadata(ctx, &schema.Metadata{Key: schema.KeyGeneratedBarcodesCount, Value: "7", UpdatedAt: ms(20)}); err != nil {
		t.Fatalf("UpsertMetadata() failed: %v", err)
	}

	m, err := db.GetMetadata(ctx, schema.KeyGeneratedBarcodesCount)
	if err != nil {
		t.Fatalf("GetMetadata() failed: %v", err)
	}
	if m.Value != "7" || schema.Millis(m.UpdatedAt) != 20 {
		t.Errorf("GetMetadata() = %+v", m)
	}

	all, _ := db.ListMetadata(ctx)
	if len(all) != 2 {
		t.Errorf("ListMetadata() len = %d, want 2", len(all))
	}

	if _, err := db.GetMetadata(ctx, "missing"); !IsNotFound(err) {
		t.Errorf("GetMetadata(missing) error = %v, want not found", err)
	}
}

func TestWithTx_Rollback(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	boom := errors.New("boom")
	err := db.WithTx(ctx, func(q *Queries) error {
		if err := q.InsertClient(ctx, testClient("c-1", "1", 1)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("WithTx() error = %v, want boom", err)
	}

	if _, err := db.GetClientByID(ctx, "c-1"); !IsNotFound(err) {
		t.Errorf("client visible after rollback: %v", err)
	}
}

func TestWithTx_Commit(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)

	err := db.WithTx(ctx, func(q *Queries) error {
		if err := q.InsertClient(ctx, testClient("c-1", "1", 1)); err != nil {
			return err
		}
		return q.InsertHistory(ctx, &schema.CleaningHistory{ID: "h-1", ClientID: "c-1", UpdatedAt: ms(1)})
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	stats, err := db.GetStats(ctx, schema.DiscountThreshold)
	if err != nil {
		t.Fatalf("GetStats() failed: %v", err)
	}
	if stats.Clients != 1 || stats.Cleanings != 1 {
		t.Errorf("GetStats() = %+v", stats)
	}
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatal("stream closed unexpectedly")
		}
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for snapshot")
	}
	var zero T
	return zero
}

func TestWatchUnassignedBarcodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	db := newTestDB(t)

	stream := db.WatchUnassignedBarcodes(ctx)
	if first := receive(t, stream); len(first) != 0 {
		t.Fatalf("initial snapshot len = %d, want 0", len(first))
	}

	err := db.WithTx(ctx, func(q *Queries) error {
		for _, code := range []string{"PDC000001", "PDC000002"} {
			if err := q.InsertBarcode(ctx, &schema.Barcode{Code: code, CreatedAt: ms(1), UpdatedAt: ms(1)}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithTx() failed: %v", err)
	}

	if next := receive(t, stream); len(next) != 2 {
		t.Errorf("snapshot after commit len = %d, want 2", len(next))
	}

	cancel()
	select {
	case _, ok := <-stream:
		if ok {
			// A snapshot may race with cancellation; the next read must see the close.
			if _, ok := <-stream; ok {
				t.Error("stream still open after cancel")
			}
		}
	case <-time.After(5 * time.Second):
		t.Error("stream not closed after cancel")
	}
}

func TestWatchClients_ClosedWithDB(t *testing.T) {
	db := newTestDB(t)
	stream := db.WatchClients(context.Background())
	receive(t, stream)

	if err := db.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}
	select {
	case _, ok := <-stream:
		if ok {
			t.Error("received snapshot after Close()")
		}
	case <-time.After(5 * time.Second):
		t.Error("stream not closed after Close()")
	}
}
