package api

import (
	"errors"
	"math/rand"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/retailmesh/fedmine-engine/internal/store"
)

// Stable machine-readable error codes. Clients branch on these, so a
// code never changes meaning once shipped.
const (
	codeInvalidPayload      = "invalid_payload"
	codeUnknownStore        = "unknown_store"
	codeJobNotFound         = "job_not_found"
	codeJobNotCancellable   = "job_not_cancellable"
	codeQueueSaturated      = "mining_queue_saturated"
	codeRoundNotFound       = "round_not_found"
	codeRoundInProgress     = "round_in_progress"
	codeRoundNotCompleted   = "round_not_completed"
	codeBudgetExhausted     = "privacy_budget_exhausted"
	codeInsufficientClients = "insufficient_clients"
	codePersistence         = "persistence_unavailable"
	codeUnauthorized        = "unauthorized"
	codeInvalidToken        = "invalid_token"
	codeRateLimited         = "rate_limited"
)

// respond writes the payload with a timestamp attached, the envelope
// every endpoint shares. A timestamp already present is kept, so
// handlers can report the instant an action was recorded rather than
// the instant the response was serialized.
func respond(c *gin.Context, status int, payload gin.H) {
	if _, ok := payload["timestamp"]; !ok {
		payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	}
	c.JSON(status, payload)
}

// respondError writes the uniform failure envelope: stable error code,
// human-readable message, timestamp.
func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{
		"error":     code,
		"message":   message,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// retryRead reruns a read that failed for transient reasons, with a
// short jittered pause between attempts. Lookup misses and state
// conflicts are answers, not outages, and pass straight through.
// Writes are never retried here: a timed-out insert may have landed,
// and retrying it would double-apply.
func retryRead(op func() error) error {
	const attempts = 3
	var err error
	for i := 0; i < attempts; i++ {
		if err = op(); err == nil {
			return nil
		}
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrConflict) {
			return err
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
		}
	}
	return err
}
