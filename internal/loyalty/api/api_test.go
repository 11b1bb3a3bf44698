package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/pdavies/carpetloyalty/internal/loyalty/app"
	"github.com/pdavies/carpetloyalty/internal/loyalty/clock"
	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/metadata"
	"github.com/pdavies/carpetloyalty/internal/loyalty/remote"
	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
	"github.com/pdavies/carpetloyalty/internal/loyalty/schema"
	"github.com/pdavies/carpetloyalty/internal/loyalty/sync"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

type testEnv struct {
	router http.Handler
	app    *app.App
	store  *remote.MemoryStore
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

	logger := log.New(io.Discard, "", 0)
	clk := clock.NewMonotonic(clock.NewFixed(time.Date(2024, 7, 1, 10, 0, 0, 0, time.UTC)))
	store := remote.NewMemoryStore()
	meta := metadata.New(database, store, clk, logger)
	r := repo.New(database, meta, clk, repo.DefaultConfig(), logger)
	a := app.New(r, sync.New(database, store, meta, logger), meta, clk, logger)

	return &testEnv{
		router: NewRouter(NewHandler(a, logger)),
		app:    a,
		store:  store,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("invalid response %s: %v", rec.Body.String(), err)
	}
	return v
}

func (e *testEnv) generate(t *testing.T, n int) []string {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/barcodes", GenerateRequest{Count: n})
	if rec.Code != http.StatusCreated {
		t.Fatalf("POST /barcodes status = %d, body %s", rec.Code, rec.Body.String())
	}
	return decode[MutationResponse[[]string]](t, rec).Value
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestGenerateAssignScan(t *testing.T) {
	env := newTestEnv(t)

	codes := env.generate(t, 3)
	if len(codes) != 3 || codes[0] != "PDC000001" {
		t.Fatalf("codes = %v, want 3 starting at PDC000001", codes)
	}

	rec := env.do(t, http.MethodGet, "/barcodes/unassigned", nil)
	if got := decode[ListResponse[schema.Barcode]](t, rec).Total; got != 3 {
		t.Errorf("unassigned total = %d, want 3", got)
	}

	rec = env.do(t, http.MethodPost, "/barcodes/"+codes[0]+"/assign", AssignRequest{Name: "Ada", Phone: "555-0100"})
	if rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d, body %s", rec.Code, rec.Body.String())
	}
	assigned := decode[struct {
		Value   schema.Client `json:"value"`
		Message string        `json:"message"`
	}](t, rec)
	if assigned.Message != "Barcode assigned to Ada successfully" {
		t.Errorf("message = %q", assigned.Message)
	}
	clientID := assigned.Value.ID

	var last MutationResponse[*repo.ScanResult]
	for i := 0; i < 10; i++ {
		rec = env.do(t, http.MethodPost, "/barcodes/"+codes[0]+"/scan", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("scan %d status = %d, body %s", i+1, rec.Code, rec.Body.String())
		}
		last = decode[MutationResponse[*repo.ScanResult]](t, rec)
	}
	if !last.Value.IsDiscountEligible || last.Value.DiscountPercentage != 50 {
		t.Errorf("10th scan = %+v, want discount", last.Value)
	}
	if last.Message != "Ada is eligible for 50% discount!" {
		t.Errorf("message = %q", last.Message)
	}

	rec = env.do(t, http.MethodGet, "/clients/"+clientID, nil)
	if got := decode[schema.Client](t, rec); got.TotalCleanings != 10 || got.DiscountsUsed != 1 {
		t.Errorf("client = %+v, want 10 cleanings and 1 discount", got)
	}

	rec = env.do(t, http.MethodGet, "/clients/"+clientID+"/history", nil)
	if got := decode[ListResponse[schema.CleaningHistory]](t, rec).Total; got != 10 {
		t.Errorf("history total = %d, want 10", got)
	}

	rec = env.do(t, http.MethodGet, "/clients/"+clientID+"/barcodes", nil)
	if got := decode[ListResponse[schema.Barcode]](t, rec).Total; got != 1 {
		t.Errorf("client barcodes total = %d, want 1", got)
	}

	rec = env.do(t, http.MethodGet, "/clients", nil)
	if got := decode[ListResponse[schema.Client]](t, rec).Total; got != 1 {
		t.Errorf("clients total = %d, want 1", got)
	}

	rec = env.do(t, http.MethodGet, "/status", nil)
	status := decode[StatusResponse](t, rec)
	if status.Stats == nil || status.Stats.Cleanings != 10 || status.State.GeneratedBarcodes != 3 {
		t.Errorf("status = %+v, want 10 cleanings and 3 generated", status)
	}
}

func TestErrors(t *testing.T) {
	env := newTestEnv(t)
	codes := env.generate(t, 2)
	if rec := env.do(t, http.MethodPost, "/barcodes/"+codes[0]+"/assign", AssignRequest{Name: "Ada", Phone: "555-0100"}); rec.Code != http.StatusOK {
		t.Fatalf("assign status = %d", rec.Code)
	}

	tests := []struct {
		name     string
		method   string
		path     string
		body     any
		wantCode int
		wantErr  string
	}{
		{"unknown client", http.MethodGet, "/clients/missing", nil, http.StatusNotFound, "client_not_found"},
		{"unknown client history", http.MethodGet, "/clients/missing/history", nil, http.StatusNotFound, "client_not_found"},
		{"scan unknown barcode", http.MethodPost, "/barcodes/PDC999999/scan", nil, http.StatusNotFound, "barcode_not_found"},
		{"scan unassigned barcode", http.MethodPost, "/barcodes/" + codes[1] + "/scan", nil, http.StatusConflict, "barcode_not_assigned"},
		{"assign twice", http.MethodPost, "/barcodes/" + codes[0] + "/assign", AssignRequest{Name: "Bob", Phone: "555-0199"}, http.StatusConflict, "barcode_already_assigned"},
		{"assign missing fields", http.MethodPost, "/barcodes/" + codes[1] + "/assign", map[string]string{"name": "Bob"}, http.StatusBadRequest, "invalid_request"},
		{"generate without count", http.MethodPost, "/barcodes", map[string]int{}, http.StatusBadRequest, "invalid_request"},
		{"generate negative count", http.MethodPost, "/barcodes", GenerateRequest{Count: -1}, http.StatusBadRequest, "invalid_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.path, tt.body)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			if got := decode[HTTPError](t, rec); got.Code != tt.wantErr {
				t.Errorf("error_code = %q, want %q", got.Code, tt.wantErr)
			}
		})
	}
}

func TestSync(t *testing.T) {
	env := newTestEnv(t)
	env.generate(t, 1)

	rec := env.do(t, http.MethodPost, "/sync", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[MutationResponse[any]](t, rec).Message; got != "Sync completed! All data is up to date." {
		t.Errorf("message = %q", got)
	}

	env.store.FailOn(remote.OpGetAll, "", errors.New("network unreachable"))
	rec = env.do(t, http.MethodPost, "/sync", nil)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("offline status = %d, want 502", rec.Code)
	}
	if got := decode[HTTPError](t, rec).Code; got != "sync_failed" {
		t.Errorf("error_code = %q, want sync_failed", got)
	}
}

func TestPostSyncFailureIsNotice(t *testing.T) {
	env := newTestEnv(t)
	env.store.FailOn(remote.OpSet, "", errors.New("network unreachable"))

	rec := env.do(t, http.MethodPost, "/barcodes", GenerateRequest{Count: 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[MutationResponse[[]string]](t, rec).Notice; got == "" {
		t.Error("expected a cloud sync notice")
	}

	env.store.FailOn(remote.OpSet, "", nil)
	rec = env.do(t, http.MethodPost, "/barcodes", GenerateRequest{Count: 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[MutationResponse[[]string]](t, rec).Notice; got != "" {
		t.Errorf("notice = %q, want none once the remote is reachable", got)
	}
}

func TestServerStartStop(t *testing.T) {
	env := newTestEnv(t)
	server := NewServer(env.app, &Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	if server.GetAddr() == "" {
		t.Fatal("server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Stop() failed: %v", err)
	}
}
