package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/retailmesh/fedmine-engine/internal/federated"
	"github.com/retailmesh/fedmine-engine/internal/metrics"
	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/pkg/models"
)

// handleStartRound opens a federated aggregation round and runs it to
// its terminal state before answering, so the response reports what
// actually happened. Omitted fields (or an empty body) fall back to
// the configured defaults. A round that fails for lack of clients
// still persists as a failed row; the 409 carries its id.
// POST /api/federated/start-round {min_clients?, privacy_budget?}
func (h *Handler) handleStartRound(c *gin.Context) {
	var req struct {
		MinClients    *int     `json:"min_clients"`
		PrivacyBudget *float64 `json:"privacy_budget"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(c, http.StatusBadRequest, codeInvalidPayload, "expected {min_clients?, privacy_budget?}")
		return
	}

	minClients := h.cfg.MinClientsDefault
	if req.MinClients != nil {
		minClients = *req.MinClients
	}
	epsilon := h.cfg.PrivacyEpsilon
	if req.PrivacyBudget != nil {
		epsilon = *req.PrivacyBudget
	}

	round, err := h.coord.StartRound(c.Request.Context(), minClients, epsilon)
	switch {
	case errors.Is(err, federated.ErrInvalidRound):
		respondError(c, http.StatusBadRequest, codeInvalidPayload, err.Error())
	case errors.Is(err, federated.ErrRoundInProgress):
		respondError(c, http.StatusConflict, codeRoundInProgress, err.Error())
	case errors.Is(err, federated.ErrBudgetExhausted):
		respondError(c, http.StatusConflict, codeBudgetExhausted, err.Error())
	case errors.Is(err, federated.ErrInsufficientClients):
		respond(c, http.StatusConflict, gin.H{
			"error":        codeInsufficientClients,
			"message":      err.Error(),
			"round_id":     round.ID,
			"round_number": round.RoundNumber,
		})
	case err != nil:
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
	default:
		respond(c, http.StatusOK, gin.H{
			"round_id":              round.ID,
			"round_number":          round.RoundNumber,
			"status":                round.Status,
			"participating_clients": round.ParticipatingClients,
			"patterns_aggregated":   round.PatternsAggregated,
		})
	}
}

// roundView decorates a round row with the Jaccard overlap between its
// global itemsets and the previous completed round's, the listing's
// round-over-round drift signal.
type roundView struct {
	models.FederatedRound
	PatternOverlapPrev *float64 `json:"pattern_overlap_prev,omitempty"`
}

// handleListRounds lists every round, newest first.
// GET /api/federated/rounds
func (h *Handler) handleListRounds(c *gin.Context) {
	var rounds []models.FederatedRound
	err := retryRead(func() error {
		var err error
		rounds, err = h.st.ListRounds(c.Request.Context())
		return err
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}

	// The listing is newest first; walk it oldest first so each
	// completed round compares against the completed round before it.
	views := make([]roundView, len(rounds))
	var prevSets [][]int
	havePrev := false
	for i := len(rounds) - 1; i >= 0; i-- {
		r := rounds[i]
		views[i] = roundView{FederatedRound: r}
		if r.Status != models.RoundCompleted {
			continue
		}
		globals, gerr := h.st.GlobalPatternsByRound(c.Request.Context(), r.ID)
		if gerr != nil {
			respondError(c, http.StatusInternalServerError, codePersistence, gerr.Error())
			return
		}
		sets := make([][]int, len(globals))
		for j, g := range globals {
			sets[j] = g.Items
		}
		if havePrev {
			overlap := metrics.PatternOverlap(prevSets, sets)
			views[i].PatternOverlapPrev = &overlap
		}
		prevSets, havePrev = sets, true
	}

	respond(c, http.StatusOK, gin.H{
		"rounds": views,
		"count":  len(views),
	})
}

// handleGetRound serves one round row, terminal failures included.
// GET /api/federated/rounds/:id
func (h *Handler) handleGetRound(c *gin.Context) {
	roundID := c.Param("id")
	var round models.FederatedRound
	err := retryRead(func() error {
		var err error
		round, err = h.st.GetRound(c.Request.Context(), roundID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, codeRoundNotFound, fmt.Sprintf("no round %s", roundID))
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{"round": round})
}

// handleRoundPatterns serves the global patterns a completed round
// produced. Failed and running rounds answer with an empty list.
// GET /api/federated/rounds/:id/patterns
func (h *Handler) handleRoundPatterns(c *gin.Context) {
	roundID := c.Param("id")
	var round models.FederatedRound
	err := retryRead(func() error {
		var err error
		round, err = h.st.GetRound(c.Request.Context(), roundID)
		return err
	})
	if errors.Is(err, store.ErrNotFound) {
		respondError(c, http.StatusNotFound, codeRoundNotFound, fmt.Sprintf("no round %s", roundID))
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}

	var patterns []models.GlobalPattern
	err = retryRead(func() error {
		var err error
		patterns, err = h.st.GlobalPatternsByRound(c.Request.Context(), roundID)
		return err
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
		return
	}
	respond(c, http.StatusOK, gin.H{
		"round_id": roundID,
		"status":   round.Status,
		"patterns": patterns,
		"count":    len(patterns),
	})
}

// handleVerifyRound replays a completed round from its persisted
// inputs and reports whether the stored aggregate reproduces.
// GET /api/federated/rounds/:id/verify
func (h *Handler) handleVerifyRound(c *gin.Context) {
	roundID := c.Param("id")
	report, err := h.coord.ReplayRound(c.Request.Context(), roundID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(c, http.StatusNotFound, codeRoundNotFound, fmt.Sprintf("no round %s", roundID))
	case errors.Is(err, federated.ErrRoundNotCompleted):
		respondError(c, http.StatusConflict, codeRoundNotCompleted, err.Error())
	case err != nil:
		respondError(c, http.StatusInternalServerError, codePersistence, err.Error())
	default:
		respond(c, http.StatusOK, gin.H{"report": report})
	}
}
