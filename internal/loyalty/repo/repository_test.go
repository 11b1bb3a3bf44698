package repo

import (
	"context"
	"errors"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/clock"
	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/metadata"
	"github.com/pdavies/carpetloyalty/internal/loyalty/remote"
	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
)

type testEnv struct {
	repo  *Repository
	db    *db.DB
	meta  *metadata.Manager
	store *remote.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	clk := clock.NewMonotonic(clock.NewFixed(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)))
	logger := log.New(io.Discard, "", 0)
	store := remote.NewMemoryStore()
	meta := metadata.New(database, store, clk, logger)

	return &testEnv{
		repo:  New(database, meta, clk, DefaultConfig(), logger),
		db:    database,
		meta:  meta,
		store: store,
	}
}

// assignedBarcode generates one barcode and assigns it to a new client.
func (e *testEnv) assignedBarcode(t *testing.T, phone string) (string, *schema.Client) {
	t.Helper()
	ctx := context.Background()
	codes, err := e.repo.GenerateBarcodes(ctx, 1)
	if err != nil {
		t.Fatalf("GenerateBarcodes() failed: %v", err)
	}
	client, err := e.repo.AssignBarcodeToClient(ctx, codes[0], "Client "+phone, phone)
	if err != nil {
		t.Fatalf("AssignBarcodeToClient() failed: %v", err)
	}
	return codes[0], client
}

func TestGenerateBarcodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	codes, err := env.repo.GenerateBarcodes(ctx, 5)
	if err != nil {
		t.Fatalf("GenerateBarcodes() failed: %v", err)
	}

	want := []string{"PDC000001", "PDC000002", "PDC000003", "PDC000004", "PDC000005"}
	if len(codes) != len(want) {
		t.Fatalf("GenerateBarcodes() = %v, want %v", codes, want)
	}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("codes[%d] = %q, want %q", i, codes[i], want[i])
		}
	}

	if n, _ := env.repo.UnassignedCount(ctx); n != 5 {
		t.Errorf("UnassignedCount() = %d, want 5", n)
	}
	if n, _ := env.meta.GeneratedBarcodesCount(ctx); n != 5 {
		t.Errorf("GeneratedBarcodesCount() = %d, want 5", n)
	}

	doc, err := env.store.Get(ctx, schema.CollectionMetadata, schema.KeyGeneratedBarcodesCount)
	if err != nil {
		t.Fatalf("metadata not pushed: %v", err)
	}
	if doc.Fields["value"] != "5" {
		t.Errorf("remote generated count = %v, want 5", doc.Fields["value"])
	}

	more, err := env.repo.GenerateBarcodes(ctx, 2)
	if err != nil {
		t.Fatalf("second GenerateBarcodes() failed: %v", err)
	}
	if more[0] != "PDC000006" || more[1] != "PDC000007" {
		t.Errorf("second batch = %v, want [PDC000006 PDC000007]", more)
	}
}

func TestGenerateBarcodes_InvalidCount(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	for _, n := range []int{0, -3, 1001} {
		if _, err := env.repo.GenerateBarcodes(ctx, n); !IsInvalidInput(err) {
			t.Errorf("GenerateBarcodes(%d) error = %v, want invalid input", n, err)
		}
	}
}

func TestGenerateBarcodes_SkipsExistingCodes(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	// A code synced from another device while the local counter is stale.
	existing := &schema.Barcode{Code: "PDC000007", CreatedAt: schema.FromMillis(1), UpdatedAt: schema.FromMillis(1)}
	if err := env.db.UpsertBarcodeFromSync(ctx, existing); err != nil {
		t.Fatalf("UpsertBarcodeFromSync() failed: %v", err)
	}

	codes, err := env.repo.GenerateBarcodes(ctx, 1)
	if err != nil {
		t.Fatalf("GenerateBarcodes() failed: %v", err)
	}
	if codes[0] != "PDC000008" {
		t.Errorf("code = %q, want PDC000008", codes[0])
	}
	if n, _ := env.meta.GeneratedBarcodesCount(ctx); n != 8 {
		t.Errorf("GeneratedBarcodesCount() = %d, want 8", n)
	}
}

func TestGenerateBarcodes_PushFailureIgnored(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.store.FailOn(remote.OpSet, "", errors.New("offline"))

	codes, err := env.repo.GenerateBarcodes(ctx, 3)
	if err != nil {
		t.Fatalf("GenerateBarcodes() failed while offline: %v", err)
	}
	if len(codes) != 3 {
		t.Errorf("len(codes) = %d, want 3", len(codes))
	}
}

func TestAssignBarcodeToClient_NewClient(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	codes, _ := env.repo.GenerateBarcodes(ctx, 1)
	client, err := env.repo.AssignBarcodeToClient(ctx, codes[0], "Ada", "555-0100")
	if err != nil {
		t.Fatalf("AssignBarcodeToClient() failed: %v", err)
	}
	if client.TotalCleanings != 0 || client.Name != "Ada" || client.ID == "" {
		t.Errorf("client = %+v", client)
	}

	b, err := env.repo.Barcode(ctx, codes[0])
	if err != nil {
		t.Fatalf("Barcode() failed: %v", err)
	}
	if !b.IsAssigned || b.ClientID != client.ID || b.AssignedAt == nil {
		t.Errorf("barcode = %+v", b)
	}
	if n, _ := env.meta.TotalClientsCount(ctx); n != 1 {
		t.Errorf("TotalClientsCount() = %d, want 1", n)
	}
	if err := env.repo.VerifyBarcodes(ctx); err != nil {
		t.Errorf("VerifyBarcodes() failed: %v", err)
	}
}

func TestAssignBarcodeToClient_ReusesClientByPhone(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	codes, _ := env.repo.GenerateBarcodes(ctx, 2)
	first, err := env.repo.AssignBarcodeToClient(ctx, codes[0], "Ada", "555-0100")
	if err != nil {
		t.Fatalf("first assign failed: %v", err)
	}
	second, err := env.repo.AssignBarcodeToClient(ctx, codes[1], "Ada Lovelace", "555-0100")
	if err != nil {
		t.Fatalf("second assign failed: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("second client id = %q, want %q", second.ID, first.ID)
	}
	if second.Name != "Ada Lovelace" {
		t.Errorf("name = %q, want renamed", second.Name)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt did not advance: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}

	clients, _ := env.repo.Clients(ctx)
	if len(clients) != 1 {
		t.Errorf("len(Clients()) = %d, want 1", len(clients))
	}
	owned, _ := env.repo.ClientBarcodes(ctx, first.ID)
	if len(owned) != 2 {
		t.Errorf("len(ClientBarcodes()) = %d, want 2", len(owned))
	}
}

func TestAssignBarcodeToClient_AlreadyAssigned(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	code, owner := env.assignedBarcode(t, "555-0100")

	for _, phone := range []string{"555-0100", "555-0199"} {
		_, err := env.repo.AssignBarcodeToClient(ctx, code, "Someone", phone)
		if !IsConflict(err) || !errors.Is(err, ErrBarcodeAlreadyAssigned) {
			t.Errorf("assign to %s error = %v, want already assigned", phone, err)
		}
	}

	b, _ := env.repo.Barcode(ctx, code)
	if b.ClientID != owner.ID {
		t.Errorf("barcode reassigned to %q", b.ClientID)
	}
	if clients, _ := env.repo.Clients(ctx); len(clients) != 1 {
		t.Errorf("len(Clients()) = %d, want 1", len(clients))
	}
}

func TestAssignBarcodeToClient_Failures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.repo.AssignBarcodeToClient(ctx, "PDC999999", "Ada", "1")
	if !IsNotFound(err) || !errors.Is(err, ErrBarcodeNotFound) {
		t.Errorf("unknown code error = %v, want not found", err)
	}
	if err.Error() != "Barcode not found" {
		t.Errorf("message = %q", err.Error())
	}

	if _, err := env.repo.AssignBarcodeToClient(ctx, "PDC000001", "Ada", "  "); !IsInvalidInput(err) {
		t.Errorf("blank phone error = %v, want invalid input", err)
	}
}

func TestScanBarcode_DiscountCycle(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	code, client := env.assignedBarcode(t, "555-0100")

	var lastUpdate time.Time
	for i := 1; i <= 10; i++ {
		res, err := env.repo.ScanBarcode(ctx, code)
		if err != nil {
			t.Fatalf("scan %d failed: %v", i, err)
		}
		if res.ScanCount != i {
			t.Errorf("scan %d: ScanCount = %d", i, res.ScanCount)
		}
		wantDiscount := i == 10
		if res.IsDiscountEligible != wantDiscount || res.History.DiscountApplied != wantDiscount {
			t.Errorf("scan %d: discount = %t, want %t", i, res.IsDiscountEligible, wantDiscount)
		}
		if wantDiscount && (res.DiscountPercentage != 50 || res.History.DiscountPercentage != 50) {
			t.Errorf("scan %d: percentage = %d, want 50", i, res.DiscountPercentage)
		}
		if !res.Client.UpdatedAt.After(lastUpdate) {
			t.Errorf("scan %d: client UpdatedAt did not increase", i)
		}
		lastUpdate = res.Client.UpdatedAt
	}

	got, err := env.repo.Client(ctx, client.ID)
	if err != nil {
		t.Fatalf("Client() failed: %v", err)
	}
	if got.TotalCleanings != 10 || got.DiscountsUsed != 1 {
		t.Errorf("client totals = %d cleanings, %d discounts, want 10, 1", got.TotalCleanings, got.DiscountsUsed)
	}

	b, _ := env.repo.Barcode(ctx, code)
	if b.ScanCount != 0 {
		t.Errorf("ScanCount = %d, want 0 after discount", b.ScanCount)
	}

	history, _ := env.repo.ClientHistory(ctx, client.ID)
	if len(history) != 10 {
		t.Fatalf("len(history) = %d, want 10", len(history))
	}
	discounts := 0
	for _, h := range history {
		if h.DiscountApplied {
			discounts++
			if h.DiscountPercentage != 50 {
				t.Errorf("discount entry percentage = %d", h.DiscountPercentage)
			}
		}
	}
	if discounts != 1 {
		t.Errorf("discount entries = %d, want 1", discounts)
	}

	// The next scan starts a new cycle.
	res, err := env.repo.ScanBarcode(ctx, code)
	if err != nil {
		t.Fatalf("scan 11 failed: %v", err)
	}
	if res.ScanCount != 1 || res.IsDiscountEligible {
		t.Errorf("scan 11 = count %d discount %t, want 1 false", res.ScanCount, res.IsDiscountEligible)
	}
}

func TestScanBarcode_Unassigned(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	codes, _ := env.repo.GenerateBarcodes(ctx, 1)
	before, _ := env.repo.Barcode(ctx, codes[0])

	_, err := env.repo.ScanBarcode(ctx, codes[0])
	if !IsConflict(err) || !errors.Is(err, ErrBarcodeNotAssigned) {
		t.Fatalf("ScanBarcode() error = %v, want not assigned", err)
	}

	after, _ := env.repo.Barcode(ctx, codes[0])
	if after.ScanCount != before.ScanCount || !after.UpdatedAt.Equal(before.UpdatedAt) || after.IsAssigned {
		t.Errorf("barcode changed: before %+v, after %+v", before, after)
	}
	if history, _ := env.repo.History(ctx); len(history) != 0 {
		t.Errorf("len(History()) = %d, want 0", len(history))
	}
}

func TestScanBarcode_NotFound(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.repo.ScanBarcode(context.Background(), "PDC424242")
	if !IsNotFound(err) || !errors.Is(err, ErrBarcodeNotFound) {
		t.Errorf("ScanBarcode() error = %v, want not found", err)
	}
}

func TestScanBarcode_ClientMissing(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	orphan := &schema.Barcode{Code: "PDC000001", CreatedAt: schema.FromMillis(1), UpdatedAt: schema.FromMillis(1)}
	orphan.Assign("ghost", schema.FromMillis(2))
	if err := env.db.UpsertBarcodeFromSync(ctx, orphan); err != nil {
		t.Fatalf("UpsertBarcodeFromSync() failed: %v", err)
	}

	_, err := env.repo.ScanBarcode(ctx, "PDC000001")
	if !IsIntegrity(err) || !errors.Is(err, ErrClientMissing) {
		t.Errorf("ScanBarcode() error = %v, want client missing", err)
	}
	if IsRetryable(err) {
		t.Error("integrity failure reported as retryable")
	}
}

func TestScanBarcode_ConcurrentSameCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	code, client := env.assignedBarcode(t, "555-0100")

	const scans = 25
	var wg sync.WaitGroup
	errs := make(chan error, scans)
	for i := 0; i < scans; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.repo.ScanBarcode(ctx, code); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent scan failed: %v", err)
	}

	got, _ := env.repo.Client(ctx, client.ID)
	if got.TotalCleanings != scans || got.DiscountsUsed != scans/10 {
		t.Errorf("client totals = %d cleanings, %d discounts, want %d, %d",
			got.TotalCleanings, got.DiscountsUsed, scans, scans/10)
	}
	b, _ := env.repo.Barcode(ctx, code)
	if b.ScanCount != scans%10 {
		t.Errorf("ScanCount = %d, want %d", b.ScanCount, scans%10)
	}
	if n := env.repo.locks.size(); n != 0 {
		t.Errorf("locks still held: %d", n)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	code, _ := env.assignedBarcode(t, "555-0100")
	if _, err := env.repo.GenerateBarcodes(ctx, 2); err != nil {
		t.Fatalf("GenerateBarcodes() failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		if _, err := env.repo.ScanBarcode(ctx, code); err != nil {
			t.Fatalf("ScanBarcode() failed: %v", err)
		}
	}

	stats, err := env.repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() failed: %v", err)
	}
	want := Stats{Clients: 1, Barcodes: 3, Unassigned: 2, Cleanings: 10, Discounts: 1, LoyalClients: 1}
	if *stats != want {
		t.Errorf("Stats() = %+v, want %+v", *stats, want)
	}
}

func TestFailure_Classification(t *testing.T) {
	f := newFailure(KindConflict, ErrBarcodeAlreadyAssigned, "barcode_already_assigned", "Barcode already assigned")
	var err error = f

	if KindOf(err) != KindConflict {
		t.Errorf("KindOf() = %q, want conflict", KindOf(err))
	}
	if !errors.Is(err, ErrBarcodeAlreadyAssigned) {
		t.Error("errors.Is() did not match sentinel")
	}
	if KindOf(errors.New("plain")) != KindUnexpected {
		t.Error("plain error classified as a failure")
	}

	wrapped := asFailure(errors.New("disk full"), "scan_failed", "Failed to scan barcode")
	if !IsRetryable(wrapped) || !errors.Is(wrapped, ErrStorage) {
		t.Errorf("asFailure() = %+v, want retryable storage failure", wrapped)
	}
	if asFailure(f, "x", "y") != f {
		t.Error("asFailure() rewrapped an existing failure")
	}
}

func TestKeyLocks(t *testing.T) {
	locks := newKeyLocks()
	unlockA := locks.lock("a")
	unlockB := locks.lock("b")
	if locks.size() != 2 {
		t.Errorf("size() = %d, want 2", locks.size())
	}

	acquired := make(chan struct{})
	go func() {
		unlock := locks.lock("a")
		close(acquired)
		unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired a held key")
	case <-time.After(50 * time.Millisecond):
	}

	unlockA()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired released key")
	}
	unlockB()

	// The waiter's unlock runs right after close(acquired).
	deadline := time.Now().Add(5 * time.Second)
	for locks.size() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if locks.size() != 0 {
		t.Errorf("size() = %d, want 0", locks.size())
	}
}
