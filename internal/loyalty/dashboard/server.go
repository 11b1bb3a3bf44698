// Package dashboard provides a real-time WebSocket feed of the loyalty
// tracker's state.
//
// The dashboard broadcasts client lists, unassigned barcodes, UI state,
// sync results and store statistics to connected WebSocket clients, so a
// front-desk screen stays current while scans happen at the counter.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeClients carries the full client list
	MessageTypeClients MessageType = "clients"

	// MessageTypeUnassignedBarcodes carries barcodes ready to hand out
	MessageTypeUnassignedBarcodes MessageType = "unassigned_barcodes"

	// MessageTypeUIState carries the orchestrator state
	MessageTypeUIState MessageType = "ui_state"

	// MessageTypeSyncComplete indicates a full sync finished
	MessageTypeSyncComplete MessageType = "sync_complete"

	// MessageTypeStats carries store statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage marshals data into a Message of type t.
func NewMessage(t MessageType, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("failed to marshal %s data: %w", t, err)
	}
	return Message{Type: t, Timestamp: time.Now(), Data: raw}, nil
}

// Server serves the dashboard WebSocket feed. Each connection receives a
// snapshot from the OnConnect function followed by every later broadcast.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	hub      *hub

	onConnect   func() []Message
	onConnectMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration
type Config struct {
	// Port to listen on (default: 8081, 0 picks a free port)
	Port int

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:   8081,
		Logger: log.New(os.Stderr, "[dashboard] ", log.LstdFlags),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:   fmt.Sprintf(":%d", config.Port),
		hub:    newHub(),
		ctx:    ctx,
		cancel: cancel,
		logger: config.Logger,
	}
}

// OnConnect sets the function that produces the snapshot sent to every
// newly connected client.
func (s *Server) OnConnect(fn func() []Message) {
	s.onConnectMu.Lock()
	defer s.onConnectMu.Unlock()
	s.onConnect = fn
}

// Handler returns the HTTP routes served by the dashboard.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
	return mux
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop disconnects every client and shuts the server down.
func (s *Server) Stop() error {
	s.logger.Println("Stopping dashboard server")

	s.cancel()
	s.hub.closeAll(websocket.StatusGoingAway, "Server shutting down")

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Dashboard server stopped")
	return nil
}

// Broadcast queues msg for every connected client. It never blocks; a
// client that cannot keep up is disconnected.
func (s *Server) Broadcast(msg Message) {
	if s.ctx.Err() != nil {
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		s.logger.Printf("Failed to marshal %s message: %v", msg.Type, err)
		return
	}
	if n := s.hub.publish(data); n > 0 {
		s.logger.Printf("Dropped %d slow client(s)", n)
	}
}

// snapshot encodes the OnConnect messages.
func (s *Server) snapshot() [][]byte {
	s.onConnectMu.RLock()
	onConnect := s.onConnect
	s.onConnectMu.RUnlock()
	if onConnect == nil {
		return nil
	}

	msgs := onConnect()
	out := make([][]byte, 0, len(msgs))
	for _, msg := range msgs {
		data, err := json.Marshal(msg)
		if err != nil {
			s.logger.Printf("Failed to marshal %s snapshot: %v", msg.Type, err)
			continue
		}
		out = append(out, data)
	}
	return out
}

// handleWebSocket registers the connection, writes the snapshot and then
// drains the subscriber queue until the client leaves or the server stops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	sub, total := s.hub.add(conn)
	s.logger.Printf("Client connected (total: %d)", total)

	// The dashboard is write-only; CloseRead handles pings and reports
	// when the client goes away.
	ctx := conn.CloseRead(s.ctx)

	status, reason := s.serve(ctx, sub)
	if remaining, ok := s.hub.remove(sub); ok || status == websocket.StatusTryAgainLater {
		_ = conn.Close(status, reason)
		s.logger.Printf("Client disconnected (total: %d)", remaining)
	}
}

func (s *Server) serve(ctx context.Context, sub *subscriber) (websocket.StatusCode, string) {
	for _, data := range s.snapshot() {
		if err := s.write(ctx, sub.conn, data); err != nil {
			return websocket.StatusInternalError, "snapshot failed"
		}
	}

	for {
		select {
		case <-ctx.Done():
			return websocket.StatusNormalClosure, ""
		case <-sub.lagged:
			return websocket.StatusTryAgainLater, "client too slow"
		case data := <-sub.queue:
			if err := s.write(ctx, sub.conn, data); err != nil {
				return websocket.StatusInternalError, "write failed"
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Loyalty Dashboard</title>
</head>
<body>
    <h1>Loyalty Dashboard Server</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Health check: <a href="/health">/health</a></p>
    <p>Connect a WebSocket client to receive live clients, barcodes and scan results.</p>
</body>
</html>`, r.Host)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	return s.hub.count()
}
