package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/pdavies/carpetloyalty/internal/loyalty/app"
	"github.com/pdavies/carpetloyalty/internal/loyalty/clock"
	"github.com/pdavies/carpetloyalty/internal/loyalty/db"
	"github.com/pdavies/carpetloyalty/internal/loyalty/metadata"
	"github.com/pdavies/carpetloyalty/internal/loyalty/remote"
	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
	"github.com/pdavies/carpetloyalty/internal/loyalty/sync"
)

var quiet = log.New(io.Discard, "", 0)

func newTestApp(t *testing.T) (*app.App, sync.Syncer) {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	clk := clock.New()
	store := remote.NewMemoryStore()
	meta := metadata.New(database, store, clk, quiet)
	s := sync.New(database, store, meta, quiet)
	r := repo.New(database, meta, clk, repo.DefaultConfig(), quiet)
	return app.New(r, s, meta, clk, quiet), s
}

func startServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{Port: 0, Logger: quiet})
	if err := server.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { server.Stop() })
	return server
}

func dial(t *testing.T, ctx context.Context, server *Server) *websocket.Conn {
	t.Helper()
	_, port, err := net.SplitHostPort(server.GetAddr())
	if err != nil {
		t.Fatalf("bad listen address %q: %v", server.GetAddr(), err)
	}
	conn, _, err := websocket.Dial(ctx, "ws://127.0.0.1:"+port+"/ws", nil)
	if err != nil {
		t.Fatalf("Dial() failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, ctx context.Context, conn *websocket.Conn) Message {
	t.Helper()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("invalid message %s: %v", data, err)
	}
	return msg
}

// readUntil reads messages until match returns true.
func readUntil(t *testing.T, ctx context.Context, conn *websocket.Conn, match func(Message) bool) Message {
	t.Helper()
	for {
		msg := readMessage(t, ctx, conn)
		if match(msg) {
			return msg
		}
	}
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: quiet})
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

func TestHealth(t *testing.T) {
	server := NewServer(&Config{Logger: quiet})

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid body: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %v, want ok", body["status"])
	}
}

func TestSnapshotOnConnect(t *testing.T) {
	a, _ := newTestApp(t)
	server := startServer(t)
	NewHandler(server, a, quiet)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	first := readMessage(t, ctx, conn)
	if first.Type != MessageTypeStats {
		t.Fatalf("first message type = %s, want stats", first.Type)
	}
	var stats repo.Stats
	if err := json.Unmarshal(first.Data, &stats); err != nil {
		t.Fatalf("invalid stats: %v", err)
	}

	second := readMessage(t, ctx, conn)
	if second.Type != MessageTypeUIState {
		t.Errorf("second message type = %s, want ui_state", second.Type)
	}

	waitForClients(t, server, 1)
}

func TestHandler_ForwardsStreams(t *testing.T) {
	a, _ := newTestApp(t)
	server := startServer(t)
	h := NewHandler(server, a, quiet)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	go h.Run(ctx)

	conn := dial(t, ctx, server)
	waitForClients(t, server, 1)

	gen := a.GenerateBarcodes(ctx, 2)
	if !gen.OK {
		t.Fatalf("GenerateBarcodes() failed: %s", gen.Message)
	}
	readUntil(t, ctx, conn, func(m Message) bool {
		return m.Type == MessageTypeUnassignedBarcodes && strings.Contains(string(m.Data), gen.Value[1])
	})

	if res := a.AssignBarcode(ctx, gen.Value[0], "Barbara", "555-0142"); !res.OK {
		t.Fatalf("AssignBarcode() failed: %s", res.Message)
	}
	readUntil(t, ctx, conn, func(m Message) bool {
		return m.Type == MessageTypeClients && strings.Contains(string(m.Data), "Barbara")
	})
	readUntil(t, ctx, conn, func(m Message) bool {
		return m.Type == MessageTypeUIState && strings.Contains(string(m.Data), "Barcode assigned to Barbara successfully")
	})
}

func TestHandler_OnSyncComplete(t *testing.T) {
	a, syncer := newTestApp(t)
	server := startServer(t)
	h := NewHandler(server, a, quiet)
	syncer.OnComplete(h.OnSyncComplete)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)
	waitForClients(t, server, 1)

	if res := a.PullFromCloud(ctx); !res.OK {
		t.Fatalf("PullFromCloud() failed: %s", res.Message)
	}

	msg := readUntil(t, ctx, conn, func(m Message) bool { return m.Type == MessageTypeSyncComplete })
	var data SyncCompleteData
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatalf("invalid sync data: %v", err)
	}
	if len(data.Collections) != 5 || data.Error != "" {
		t.Errorf("sync data = %+v, want 5 collections and no error", data)
	}
}

func TestBroadcastDuringSnapshotDelivered(t *testing.T) {
	server := startServer(t)

	var once bool
	server.OnConnect(func() []Message {
		// A change lands while the snapshot is being built.
		if !once {
			once = true
			msg, _ := NewMessage(MessageTypeSyncComplete, map[string]int{"pulled": 1})
			server.Broadcast(msg)
		}
		msg, _ := NewMessage(MessageTypeStats, repo.Stats{Clients: 1})
		return []Message{msg}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn := dial(t, ctx, server)

	if got := readMessage(t, ctx, conn).Type; got != MessageTypeStats {
		t.Fatalf("first message = %s, want %s", got, MessageTypeStats)
	}
	if got := readMessage(t, ctx, conn).Type; got != MessageTypeSyncComplete {
		t.Fatalf("second message = %s, want %s", got, MessageTypeSyncComplete)
	}
}

func TestHub_DropsSlowSubscriber(t *testing.T) {
	h := newHub()
	fast, _ := h.add(nil)
	slow, total := h.add(nil)
	if total != 2 {
		t.Fatalf("add() total = %d, want 2", total)
	}

	for i := 0; i < subscriberQueue; i++ {
		if n := h.publish([]byte("x")); n != 0 {
			t.Fatalf("publish() dropped %d before the queue filled", n)
		}
		<-fast.queue
	}
	if n := h.publish([]byte("overflow")); n != 1 {
		t.Fatalf("publish() dropped %d, want 1", n)
	}

	select {
	case <-slow.lagged:
	default:
		t.Error("slow subscriber was not marked lagged")
	}
	select {
	case <-fast.lagged:
		t.Error("fast subscriber was dropped")
	default:
	}
	if got := h.count(); got != 1 {
		t.Errorf("count() = %d, want 1", got)
	}
	if _, ok := h.remove(slow); ok {
		t.Error("remove() of a dropped subscriber reported true")
	}
}
