package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

// handleRegisterStore registers a store or refreshes an existing
// registration. Re-registering the same store_id is idempotent.
// POST /api/stores/register {store_id, store_name}
func (h *Handler) handleRegisterStore(c *gin.Context) {
	var req struct {
		StoreID   string `json:"store_id" binding:"required"`
		StoreName string `json:"store_name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidPayload, "expected {store_id, store_name}")
		return
	}

	st, created, err := h.reg.Register(c.Request.Context(), req.StoreID, req.StoreName, c.ClientIP())
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{
		"status":     models.StoreActive,
		"store_id":   st.ID,
		"store_name": st.Name,
		"created":    created,
	})
}

// handleHeartbeat refreshes a store's liveness. The timestamp in the
// response is the instant the heartbeat was recorded.
// POST /api/stores/:id/heartbeat
func (h *Handler) handleHeartbeat(c *gin.Context) {
	id := c.Param("id")
	at, err := h.reg.Heartbeat(c.Request.Context(), id, c.ClientIP())
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, codeUnknownStore, fmt.Sprintf("store %s is not registered", id))
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{
		"status":    models.StoreActive,
		"timestamp": at.UTC().Format(time.RFC3339),
	})
}

// handleListStores lists every registered store with its derived
// connection status.
// GET /api/stores
func (h *Handler) handleListStores(c *gin.Context) {
	var stores []models.Store
	err := retryRead(func() error {
		var err error
		stores, err = h.st.ListStores(c.Request.Context())
		return err
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{
		"stores": stores,
		"count":  len(stores),
	})
}

// handleHealth reports engine status and capabilities for service
// discovery.
// GET /api/health
func (h *Handler) handleHealth(c *gin.Context) {
	backend := "memory"
	if h.cfg.DatabaseURL != "" {
		backend = "postgres"
	}
	respond(c, http.StatusOK, gin.H{
		"status":  "operational",
		"engine":  "RetailMesh FedMine Engine v2.0",
		"backend": backend,
		"capabilities": gin.H{
			"twu_pruning":       true,
			"pseudo_projection": true,
			"laplace_dp":        true,
			"round_replay":      true,
			"live_stream":       true,
		},
	})
}

// handleStats serves the dashboard's engine-wide counters.
// GET /api/stats
func (h *Handler) handleStats(c *gin.Context) {
	var stats models.EngineStats
	err := retryRead(func() error {
		var err error
		stats, err = h.st.Stats(c.Request.Context())
		return err
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{"stats": stats})
}
