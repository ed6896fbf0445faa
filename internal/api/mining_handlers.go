package api

import (
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/internal/worker"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

// handleUploadTransactions ingests a batch of purchase baskets for one
// store. The batch is all-or-nothing: one malformed transaction rejects
// the whole upload, with the failing index named.
// POST /api/transactions/upload/:store_id
func (h *Handler) handleUploadTransactions(c *gin.Context) {
	storeID := c.Param("store_id")
	if _, err := h.st.GetStore(c.Request.Context(), storeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, codeUnknownStore, fmt.Sprintf("store %s is not registered", storeID))
			return
		}
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}

	var req []struct {
		Items         []int     `json:"items"`
		Quantities    []float64 `json:"quantities"`
		UnitUtilities []float64 `json:"unit_utilities"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidPayload,
			"expected an array of {items, quantities, unit_utilities}")
		return
	}
	if len(req) == 0 {
		respondError(c, http.StatusBadRequest, codeInvalidPayload, "empty transaction batch")
		return
	}

	now := time.Now()
	txns := make([]models.Transaction, 0, len(req))
	for i, t := range req {
		if msg := validateBasket(t.Items, t.Quantities, t.UnitUtilities); msg != "" {
			respondError(c, http.StatusBadRequest, codeInvalidPayload,
				fmt.Sprintf("transaction %d %s", i, msg))
			return
		}
		txns = append(txns, models.Transaction{
			ID:            uuid.NewString(),
			StoreID:       storeID,
			Items:         t.Items,
			Quantities:    t.Quantities,
			UnitUtilities: t.UnitUtilities,
			CreatedAt:     now,
		})
	}

	count, err := h.st.InsertTransactions(c.Request.Context(), txns)
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{
		"status":   "uploaded",
		"store_id": storeID,
		"count":    count,
	})
}

// validateBasket enforces the upload invariants: parallel arrays of
// equal nonzero length, strictly positive finite numbers, no repeated
// items. The returned fragment completes "transaction N ...".
func validateBasket(items []int, quantities, utilities []float64) string {
	if len(items) == 0 {
		return "has no items"
	}
	if len(items) != len(quantities) || len(items) != len(utilities) {
		return fmt.Sprintf("has mismatched arrays: %d items, %d quantities, %d unit_utilities",
			len(items), len(quantities), len(utilities))
	}
	seen := make(map[int]struct{}, len(items))
	for j, item := range items {
		if _, dup := seen[item]; dup {
			return fmt.Sprintf("repeats item %d", item)
		}
		seen[item] = struct{}{}
		if q := quantities[j]; q <= 0 || math.IsNaN(q) || math.IsInf(q, 0) {
			return fmt.Sprintf("has non-positive quantity for item %d", item)
		}
		if u := utilities[j]; u <= 0 || math.IsNaN(u) || math.IsInf(u, 0) {
			return fmt.Sprintf("has non-positive unit utility for item %d", item)
		}
	}
	return ""
}

// handleListTransactions pages through a store's uploaded transactions.
// GET /api/transactions/:store_id?limit=N&offset=M
func (h *Handler) handleListTransactions(c *gin.Context) {
	storeID := c.Param("store_id")
	if _, err := h.st.GetStore(c.Request.Context(), storeID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, codeUnknownStore, fmt.Sprintf("store %s is not registered", storeID))
			return
		}
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	var txns []models.Transaction
	err := retryRead(func() error {
		var err error
		txns, err = h.st.TransactionsByStore(c.Request.Context(), storeID, limit, offset)
		return err
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{
		"store_id":     storeID,
		"transactions": txns,
		"count":        len(txns),
		"limit":        limit,
		"offset":       offset,
	})
}

// handleStartMining creates a mining job and queues it for a worker.
// The job row exists before the response, so a caller can poll status
// immediately. A saturated queue fails the job and answers 503.
// POST /api/mining/start
func (h *Handler) handleStartMining(c *gin.Context) {
	var req struct {
		StoreID          string   `json:"store_id" binding:"required"`
		MinUtility       *float64 `json:"min_utility" binding:"required"`
		MinSupport       int      `json:"min_support"`
		MaxPatternLength int      `json:"max_pattern_length"`
		BatchSize        int      `json:"batch_size"`
		UsePruning       *bool    `json:"use_pruning"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidPayload,
			"expected {store_id, min_utility, min_support?, max_pattern_length?, use_pruning?, batch_size?}")
		return
	}
	if *req.MinUtility < 0 || math.IsNaN(*req.MinUtility) || math.IsInf(*req.MinUtility, 0) {
		respondError(c, http.StatusBadRequest, codeInvalidPayload, "min_utility must be a non-negative finite number")
		return
	}
	if req.MinSupport < 0 || req.MaxPatternLength < 0 || req.BatchSize < 0 {
		respondError(c, http.StatusBadRequest, codeInvalidPayload,
			"min_support, max_pattern_length and batch_size must be >= 0")
		return
	}

	if _, err := h.st.GetStore(c.Request.Context(), req.StoreID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			respondError(c, http.StatusNotFound, codeUnknownStore, fmt.Sprintf("store %s is not registered", req.StoreID))
			return
		}
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}

	usePruning := true
	if req.UsePruning != nil {
		usePruning = *req.UsePruning
	}
	job := models.MiningJob{
		ID:               uuid.NewString(),
		StoreID:          req.StoreID,
		MinUtility:       *req.MinUtility,
		MinSupport:       req.MinSupport,
		MaxPatternLength: req.MaxPatternLength,
		UsePruning:       usePruning,
		BatchSize:        req.BatchSize,
		Status:           models.JobPending,
		CreatedAt:        time.Now(),
	}
	if err := h.st.CreateJob(c.Request.Context(), job); err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}

	if err := h.pool.Enqueue(job.ID); err != nil {
		if errors.Is(err, worker.ErrQueueFull) {
			if _, ferr := h.st.FailJob(c.Request.Context(), job.ID, models.JobPending, "mining queue is full", false, time.Now()); ferr != nil {
				log.Printf("[API] Failed to fail unqueued job %s: %v", job.ID, ferr)
			}
			respondError(c, http.StatusServiceUnavailable, codeQueueSaturated, "mining queue is full, retry later")
			return
		}
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}

	respond(c, http.StatusOK, gin.H{
		"job_id":   job.ID,
		"store_id": req.StoreID,
		"status":   "started",
	})
}

// handleJobStatus serves the full job row, including failure details
// after a terminal failure.
// GET /api/mining/status/:job_id
func (h *Handler) handleJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	var job models.MiningJob
	err := retryRead(func() error {
		var err error
		job, err = h.st.GetJob(c.Request.Context(), jobID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, codeJobNotFound, fmt.Sprintf("no job %s", jobID))
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{"job": job})
}

// handleJobResults serves the patterns a completed job mined. The list
// is empty until the job completes.
// GET /api/mining/results/:job_id
func (h *Handler) handleJobResults(c *gin.Context) {
	jobID := c.Param("job_id")
	var job models.MiningJob
	err := retryRead(func() error {
		var err error
		job, err = h.st.GetJob(c.Request.Context(), jobID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, codeJobNotFound, fmt.Sprintf("no job %s", jobID))
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}

	var patterns []models.LocalPattern
	err = retryRead(func() error {
		var err error
		patterns, err = h.st.PatternsByJob(c.Request.Context(), jobID)
		return err
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{
		"job_id":   jobID,
		"status":   job.Status,
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// handleCancelJob cancels a job no worker has claimed yet. Running and
// finished jobs answer 409.
// POST /api/mining/cancel/:job_id
func (h *Handler) handleCancelJob(c *gin.Context) {
	jobID := c.Param("job_id")
	err := h.pool.Cancel(c.Request.Context(), jobID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, codeJobNotFound, fmt.Sprintf("no job %s", jobID))
	case errors.Is(err, worker.ErrNotCancellable):
		respondError(c, http.StatusConflict, codeJobNotCancellable, err.Error())
	case err != nil:
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
	default:
		respond(c, http.StatusOK, gin.H{
			"job_id": jobID,
			"status": "cancelled",
		})
	}
}
