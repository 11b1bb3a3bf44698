package api

import (
	"log"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/pdavies/carpetloyalty/internal/loyalty/app"
	"github.com/pdavies/carpetloyalty/internal/loyalty/repo"
)

// Handler serves the loyalty operations over HTTP.
type Handler struct {
	app    *app.App
	logger *log.Logger
}

// NewHandler creates a Handler backed by a.
func NewHandler(a *app.App, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.New(os.Stderr, "[api] ", log.LstdFlags)
	}
	return &Handler{app: a, logger: logger}
}

// ======================================================
// REQUESTS
// ======================================================

type GenerateRequest struct {
	Count int `json:"count" binding:"required"`
}

type AssignRequest struct {
	Name  string `json:"name" binding:"required"`
	Phone string `json:"phone" binding:"required"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	State app.UIState `json:"state"`
	Stats *repo.Stats `json:"stats"`
}

// ======================================================
// READS
// ======================================================

func (h *Handler) Health(c *gin.Context) {
	ok(c, gin.H{"status": "ok"})
}

func (h *Handler) ListClients(c *gin.Context) {
	clients, err := h.app.Repository().Clients(c.Request.Context())
	if err != nil {
		h.logger.Printf("Failed to list clients: %v", err)
		internal(c, "failed_to_list_clients", "Failed to list clients")
		return
	}
	list(c, clients)
}

func (h *Handler) GetClient(c *gin.Context) {
	client, err := h.app.Repository().Client(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeFailure(c, err, err.Error())
		return
	}
	ok(c, client)
}

func (h *Handler) ListClientBarcodes(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.app.Repository().Client(ctx, id); err != nil {
		writeFailure(c, err, err.Error())
		return
	}

	barcodes, err := h.app.Repository().ClientBarcodes(ctx, id)
	if err != nil {
		h.logger.Printf("Failed to list barcodes for %s: %v", id, err)
		internal(c, "failed_to_list_barcodes", "Failed to list barcodes")
		return
	}
	list(c, barcodes)
}

func (h *Handler) ListClientHistory(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := h.app.Repository().Client(ctx, id); err != nil {
		writeFailure(c, err, err.Error())
		return
	}

	history, err := h.app.Repository().ClientHistory(ctx, id)
	if err != nil {
		h.logger.Printf("Failed to list history for %s: %v", id, err)
		internal(c, "failed_to_list_history", "Failed to list history")
		return
	}
	list(c, history)
}

func (h *Handler) ListUnassignedBarcodes(c *gin.Context) {
	barcodes, err := h.app.Repository().UnassignedBarcodes(c.Request.Context())
	if err != nil {
		h.logger.Printf("Failed to list unassigned barcodes: %v", err)
		internal(c, "failed_to_list_barcodes", "Failed to list barcodes")
		return
	}
	list(c, barcodes)
}

func (h *Handler) Status(c *gin.Context) {
	stats, err := h.app.Stats(c.Request.Context())
	if err != nil {
		h.logger.Printf("Failed to load stats: %v", err)
		internal(c, "failed_to_load_stats", "Failed to load stats")
		return
	}
	ok(c, StatusResponse{State: h.app.State(), Stats: stats})
}

// ======================================================
// MUTATIONS
// ======================================================

func (h *Handler) GenerateBarcodes(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Field count is required")
		return
	}

	res := h.app.GenerateBarcodes(c.Request.Context(), req.Count)
	if !res.OK {
		writeFailure(c, res.Err, res.Message)
		return
	}
	c.JSON(http.StatusCreated, MutationResponse[[]string]{
		Value:   res.Value,
		Message: res.Message,
		Notice:  res.Notice,
	})
}

func (h *Handler) AssignBarcode(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid_request", "Fields name and phone are required")
		return
	}

	res := h.app.AssignBarcode(c.Request.Context(), c.Param("code"), req.Name, req.Phone)
	if !res.OK {
		writeFailure(c, res.Err, res.Message)
		return
	}
	ok(c, MutationResponse[any]{
		Value:   res.Value,
		Message: res.Message,
		Notice:  res.Notice,
	})
}

func (h *Handler) ScanBarcode(c *gin.Context) {
	res := h.app.ScanBarcode(c.Request.Context(), c.Param("code"))
	if !res.OK {
		writeFailure(c, res.Err, res.Message)
		return
	}
	ok(c, MutationResponse[*repo.ScanResult]{
		Value:   res.Value,
		Message: res.Message,
		Notice:  res.Notice,
	})
}

func (h *Handler) Sync(c *gin.Context) {
	res := h.app.PullFromCloud(c.Request.Context())
	if !res.OK {
		writeError(c, http.StatusBadGateway, "sync_failed", res.Message)
		return
	}
	ok(c, MutationResponse[any]{
		Value:   res.Value,
		Message: res.Message,
	})
}
