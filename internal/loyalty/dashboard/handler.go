package dashboard

import (
	"context"
	"log"
	"os"
	stdsync "sync"
	"time"

	"github.com/pdavies/carpetloyalty/internal/loyalty/app"
	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
	"github.com/pdavies/carpetloyalty/internal/loyalty/sync"
)

// SyncCompleteData contains sync completion information
type SyncCompleteData struct {
	Pulled      int                      `json:"pulled"`
	Pushed      int                      `json:"pushed"`
	Duration    time.Duration            `json:"duration"`
	Error       string                   `json:"error,omitempty"`
	Collections []*sync.CollectionReport `json:"collections"`
}

// Handler subscribes to the app streams and forwards them as dashboard
// messages. It bridges between the orchestrator and the WebSocket server.
type Handler struct {
	server *Server
	app    *app.App
	logger *log.Logger
}

// NewHandler creates a new handler connected to a dashboard server.
// New clients receive a stats and ui_state snapshot on connect.
func NewHandler(server *Server, a *app.App, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}

	h := &Handler{
		server: server,
		app:    a,
		logger: logger,
	}
	server.OnConnect(h.snapshot)
	return h
}

// Run forwards the client list, unassigned barcodes and UI state until
// ctx is done.
func (h *Handler) Run(ctx context.Context) {
	var wg stdsync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for clients := range h.app.Clients(ctx) {
			h.send(MessageTypeClients, clients)
			h.broadcastStats(ctx)
		}
	}()

	go func() {
		defer wg.Done()
		for barcodes := range h.app.UnassignedBarcodes(ctx) {
			h.send(MessageTypeUnassignedBarcodes, barcodes)
		}
	}()

	go func() {
		defer wg.Done()
		for state := range h.app.Subscribe(ctx) {
			h.send(MessageTypeUIState, state)
		}
	}()

	wg.Wait()
}

// OnSyncComplete handles sync completion. Register it with
// Syncer.OnComplete.
func (h *Handler) OnSyncComplete(report *sync.Report) {
	h.logger.Printf("Sync complete: pulled %d, pushed %d in %v", report.Pulled(), report.Pushed(), report.Duration)

	h.send(MessageTypeSyncComplete, SyncCompleteData{
		Pulled:      report.Pulled(),
		Pushed:      report.Pushed(),
		Duration:    report.Duration,
		Error:       report.Err,
		Collections: report.Collections,
	})
	h.broadcastStats(context.Background())
}

func (h *Handler) send(t MessageType, data any) {
	msg, err := NewMessage(t, data)
	if err != nil {
		h.logger.Printf("Failed to build message: %v", err)
		return
	}
	h.server.Broadcast(msg)
}

// broadcastStats sends current statistics to all clients
func (h *Handler) broadcastStats(ctx context.Context) {
	stats, err := h.stats(ctx)
	if err != nil {
		h.logger.Printf("Failed to load stats: %v", err)
		return
	}
	h.send(MessageTypeStats, stats)
}

func (h *Handler) stats(ctx context.Context) (*repo.Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return h.app.Stats(ctx)
}

// snapshot returns the messages sent to a newly connected client.
func (h *Handler) snapshot() []Message {
	var msgs []Message

	if stats, err := h.stats(context.Background()); err != nil {
		h.logger.Printf("Failed to load stats: %v", err)
	} else if msg, err := NewMessage(MessageTypeStats, stats); err == nil {
		msgs = append(msgs, msg)
	}

	if msg, err := NewMessage(MessageTypeUIState, h.app.State()); err == nil {
		msgs = append(msgs, msg)
	}
	return msgs
}
