package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/retailmesh/fedmine-engine/internal/config"
	"github.com/retailmesh/fedmine-engine/internal/federated"
	"github.com/retailmesh/fedmine-engine/internal/session"
	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/internal/worker"
)

type testEngine struct {
	router *gin.Engine
	st     store.Store
}

// newTestEngine wires the full engine over a memory store. Workers only
// run when startWorkers is set, so cancellation tests can hold jobs in
// pending. The default round epsilon is zero, keeping every aggregate
// noiseless and exactly checkable.
func newTestEngine(t *testing.T, startWorkers bool) *testEngine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemory()
	cfg := config.Config{
		MinClientsDefault:  2,
		PrivacySensitivity: 1,
		PrivacyBudgetCap:   100,
		HeartbeatTimeout:   time.Minute,
		LivenessSweep:      time.Minute,
		RateLimitPerMin:    6000,
		RateLimitBurst:     1000,
	}

	hub := NewHub()
	go hub.Run()
	notify := BroadcastEvent(hub)

	reg := session.NewRegistry(st, cfg.HeartbeatTimeout, cfg.LivenessSweep, notify)
	pool := worker.NewPool(st, worker.Config{PoolSize: 2, QueueDepth: 8}, notify)
	if startWorkers {
		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		pool.Start(ctx)
	}
	coord := federated.NewCoordinator(st, reg, federated.Config{
		Sensitivity: cfg.PrivacySensitivity,
		BudgetCap:   cfg.PrivacyBudgetCap,
	}, notify)

	return &testEngine{router: SetupRouter(st, reg, pool, coord, hub, cfg), st: st}
}

// doJSON issues a request against the router. A string body is sent
// raw; any other body is JSON-encoded. The parsed response body is
// returned alongside the recorder.
func doJSON(t *testing.T, router http.Handler, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to encode request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var parsed map[string]any
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("Response to %s %s is not JSON: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, parsed
}

func mustRegister(t *testing.T, router http.Handler, id, name string) {
	t.Helper()
	w, _ := doJSON(t, router, http.MethodPost, "/api/stores/register", gin.H{"store_id": id, "store_name": name})
	if w.Code != http.StatusOK {
		t.Fatalf("Register %s failed: %d %s", id, w.Code, w.Body.String())
	}
}

// mustUploadBaskets uploads three baskets whose mineable patterns at
// threshold 20 are {2,3} with utility 37 and {2} with utility 30.
func mustUploadBaskets(t *testing.T, router http.Handler, storeID string) {
	t.Helper()
	payload := `[
		{"items":[1,2,3],"quantities":[2,1,3],"unit_utilities":[3,10,1]},
		{"items":[1,3],"quantities":[1,2],"unit_utilities":[3,1]},
		{"items":[2,3],"quantities":[2,4],"unit_utilities":[10,1]}
	]`
	w, _ := doJSON(t, router, http.MethodPost, "/api/transactions/upload/"+storeID, payload)
	if w.Code != http.StatusOK {
		t.Fatalf("Upload to %s failed: %d %s", storeID, w.Code, w.Body.String())
	}
}

func waitForJobStatus(t *testing.T, router http.Handler, jobID, want string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		w, body := doJSON(t, router, http.MethodGet, "/api/mining/status/"+jobID, nil)
		if w.Code == http.StatusOK {
			if job, ok := body["job"].(map[string]any); ok && job["status"] == want {
				return job
			}
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Job %s never reached %s", jobID, want)
	return nil
}

func mineToCompletion(t *testing.T, router http.Handler, storeID string, minUtility float64) string {
	t.Helper()
	w, body := doJSON(t, router, http.MethodPost, "/api/mining/start",
		gin.H{"store_id": storeID, "min_utility": minUtility})
	if w.Code != http.StatusOK {
		t.Fatalf("Start mining for %s failed: %d %s", storeID, w.Code, w.Body.String())
	}
	jobID, _ := body["job_id"].(string)
	waitForJobStatus(t, router, jobID, "completed")
	return jobID
}

func TestRegisterAndHeartbeat(t *testing.T) {
	eng := newTestEngine(t, false)

	w, body := doJSON(t, eng.router, http.MethodPost, "/api/stores/register",
		gin.H{"store_id": "s1", "store_name": "Store One"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if body["status"] != "active" || body["store_id"] != "s1" || body["created"] != true {
		t.Errorf("Unexpected register response: %v", body)
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("Expected timestamp in response")
	}

	// Re-registering the same id refreshes instead of duplicating.
	w, body = doJSON(t, eng.router, http.MethodPost, "/api/stores/register",
		gin.H{"store_id": "s1", "store_name": "Store One"})
	if w.Code != http.StatusOK || body["created"] != false {
		t.Errorf("Expected created false on re-register, got %d %v", w.Code, body["created"])
	}

	w, body = doJSON(t, eng.router, http.MethodGet, "/api/stores", nil)
	if w.Code != http.StatusOK || body["count"].(float64) != 1 {
		t.Errorf("Expected 1 store listed, got %d %v", w.Code, body["count"])
	}

	w, body = doJSON(t, eng.router, http.MethodPost, "/api/stores/s1/heartbeat", nil)
	if w.Code != http.StatusOK || body["status"] != "active" {
		t.Errorf("Expected active heartbeat, got %d %v", w.Code, body)
	}
	if _, ok := body["timestamp"]; !ok {
		t.Error("Expected timestamp in heartbeat response")
	}

	w, body = doJSON(t, eng.router, http.MethodPost, "/api/stores/ghost/heartbeat", nil)
	if w.Code != http.StatusNotFound || body["error"] != codeUnknownStore {
		t.Errorf("Expected 404 %s, got %d %v", codeUnknownStore, w.Code, body["error"])
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "ghost") {
		t.Errorf("Expected message naming the store, got %q", msg)
	}

	w, body = doJSON(t, eng.router, http.MethodPost, "/api/stores/register", gin.H{"store_id": "s2"})
	if w.Code != http.StatusBadRequest || body["error"] != codeInvalidPayload {
		t.Errorf("Expected 400 %s for missing store_name, got %d %v", codeInvalidPayload, w.Code, body["error"])
	}
}

func TestUploadValidation(t *testing.T) {
	eng := newTestEngine(t, false)
	mustRegister(t, eng.router, "s1", "Store One")

	cases := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"not an array", `{"items":[1]}`, "expected an array"},
		{"empty batch", `[]`, "empty transaction batch"},
		{"no items", `[{"items":[],"quantities":[],"unit_utilities":[]}]`, "transaction 0 has no items"},
		{"mismatched arrays", `[{"items":[1,2],"quantities":[1],"unit_utilities":[1,1]}]`, "transaction 0 has mismatched arrays"},
		{"zero quantity", `[{"items":[1],"quantities":[0],"unit_utilities":[2]}]`, "non-positive quantity for item 1"},
		{"negative unit utility", `[{"items":[7],"quantities":[1],"unit_utilities":[-2]}]`, "non-positive unit utility for item 7"},
		{"repeated item", `[{"items":[3,3],"quantities":[1,1],"unit_utilities":[2,2]}]`, "repeats item 3"},
		{"second transaction bad", `[{"items":[1],"quantities":[1],"unit_utilities":[1]},{"items":[],"quantities":[],"unit_utilities":[]}]`, "transaction 1 has no items"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := doJSON(t, eng.router, http.MethodPost, "/api/transactions/upload/s1", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d (%s)", w.Code, w.Body.String())
			}
			if body["error"] != codeInvalidPayload {
				t.Errorf("Expected error %s, got %v", codeInvalidPayload, body["error"])
			}
			if msg, _ := body["message"].(string); !strings.Contains(msg, tc.wantMsg) {
				t.Errorf("Expected message containing %q, got %q", tc.wantMsg, msg)
			}
		})
	}

	t.Run("unknown store", func(t *testing.T) {
		w, body := doJSON(t, eng.router, http.MethodPost, "/api/transactions/upload/ghost",
			`[{"items":[1],"quantities":[1],"unit_utilities":[1]}]`)
		if w.Code != http.StatusNotFound || body["error"] != codeUnknownStore {
			t.Errorf("Expected 404 %s, got %d %v", codeUnknownStore, w.Code, body["error"])
		}
	})

	// Rejected batches leave no rows behind.
	if n, err := eng.st.CountTransactionsByStore(context.Background(), "s1"); err != nil || n != 0 {
		t.Errorf("Expected 0 stored transactions, got %d (err %v)", n, err)
	}
}

func TestUploadAndListTransactions(t *testing.T) {
	eng := newTestEngine(t, false)
	mustRegister(t, eng.router, "s1", "Store One")

	payload := `[
		{"items":[1,2,3],"quantities":[2,1,3],"unit_utilities":[3,10,1]},
		{"items":[1,3],"quantities":[1,2],"unit_utilities":[3,1]},
		{"items":[2,3],"quantities":[2,4],"unit_utilities":[10,1]}
	]`
	w, body := doJSON(t, eng.router, http.MethodPost, "/api/transactions/upload/s1", payload)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if body["status"] != "uploaded" || body["count"].(float64) != 3 {
		t.Errorf("Unexpected upload response: %v", body)
	}

	w, body = doJSON(t, eng.router, http.MethodGet, "/api/transactions/s1", nil)
	if w.Code != http.StatusOK || body["count"].(float64) != 3 {
		t.Errorf("Expected 3 transactions, got %d %v", w.Code, body["count"])
	}

	w, body = doJSON(t, eng.router, http.MethodGet, "/api/transactions/s1?limit=2", nil)
	if body["count"].(float64) != 2 {
		t.Errorf("Expected limit 2 to return 2 transactions, got %v", body["count"])
	}

	w, body = doJSON(t, eng.router, http.MethodGet, "/api/transactions/s1?limit=2&offset=2", nil)
	if body["count"].(float64) != 1 {
		t.Errorf("Expected offset 2 to return the last transaction, got %v", body["count"])
	}

	w, body = doJSON(t, eng.router, http.MethodGet, "/api/transactions/ghost", nil)
	if w.Code != http.StatusNotFound || body["error"] != codeUnknownStore {
		t.Errorf("Expected 404 %s, got %d %v", codeUnknownStore, w.Code, body["error"])
	}
}

func TestMiningLifecycle(t *testing.T) {
	eng := newTestEngine(t, true)
	mustRegister(t, eng.router, "s1", "Store One")
	mustUploadBaskets(t, eng.router, "s1")

	jobID := mineToCompletion(t, eng.router, "s1", 20)

	job := waitForJobStatus(t, eng.router, jobID, "completed")
	if job["patterns_found"].(float64) != 2 {
		t.Errorf("Expected patterns_found 2, got %v", job["patterns_found"])
	}

	w, body := doJSON(t, eng.router, http.MethodGet, "/api/mining/results/"+jobID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Results failed: %d (%s)", w.Code, w.Body.String())
	}
	if body["status"] != "completed" || body["count"].(float64) != 2 {
		t.Fatalf("Unexpected results envelope: %v", body)
	}
	utilities := map[string]float64{}
	for _, p := range body["patterns"].([]any) {
		pm := p.(map[string]any)
		var items []int
		for _, it := range pm["items"].([]any) {
			items = append(items, int(it.(float64)))
		}
		utilities[fmt.Sprint(items)] = pm["utility"].(float64)
	}
	if utilities["[2]"] != 30 {
		t.Errorf("Expected itemset {2} with utility 30, got %v", utilities)
	}
	if utilities["[2 3]"] != 37 {
		t.Errorf("Expected itemset {2 3} with utility 37, got %v", utilities)
	}

	t.Run("unknown job", func(t *testing.T) {
		w, body := doJSON(t, eng.router, http.MethodGet, "/api/mining/status/nope", nil)
		if w.Code != http.StatusNotFound || body["error"] != codeJobNotFound {
			t.Errorf("Expected 404 %s, got %d %v", codeJobNotFound, w.Code, body["error"])
		}
	})
}

func TestStartMiningValidation(t *testing.T) {
	eng := newTestEngine(t, false)
	mustRegister(t, eng.router, "s1", "Store One")

	cases := []struct {
		name     string
		body     string
		wantCode int
		wantErr  string
	}{
		{"missing min_utility", `{"store_id":"s1"}`, http.StatusBadRequest, codeInvalidPayload},
		{"negative min_utility", `{"store_id":"s1","min_utility":-5}`, http.StatusBadRequest, codeInvalidPayload},
		{"negative min_support", `{"store_id":"s1","min_utility":10,"min_support":-1}`, http.StatusBadRequest, codeInvalidPayload},
		{"unknown store", `{"store_id":"ghost","min_utility":10}`, http.StatusNotFound, codeUnknownStore},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, body := doJSON(t, eng.router, http.MethodPost, "/api/mining/start", tc.body)
			if w.Code != tc.wantCode || body["error"] != tc.wantErr {
				t.Errorf("Expected %d %s, got %d %v", tc.wantCode, tc.wantErr, w.Code, body["error"])
			}
		})
	}

	// min_utility zero is explicit and allowed.
	w, body := doJSON(t, eng.router, http.MethodPost, "/api/mining/start", `{"store_id":"s1","min_utility":0}`)
	if w.Code != http.StatusOK || body["status"] != "started" {
		t.Errorf("Expected zero threshold accepted, got %d %v", w.Code, body)
	}
}

func TestCancelPendingJob(t *testing.T) {
	// Workers are off, so the started job stays pending.
	eng := newTestEngine(t, false)
	mustRegister(t, eng.router, "s1", "Store One")
	mustUploadBaskets(t, eng.router, "s1")

	w, body := doJSON(t, eng.router, http.MethodPost, "/api/mining/start",
		gin.H{"store_id": "s1", "min_utility": 20.0})
	if w.Code != http.StatusOK {
		t.Fatalf("Start mining failed: %d (%s)", w.Code, w.Body.String())
	}
	jobID := body["job_id"].(string)

	w, body = doJSON(t, eng.router, http.MethodPost, "/api/mining/cancel/"+jobID, nil)
	if w.Code != http.StatusOK || body["status"] != "cancelled" {
		t.Fatalf("Expected cancellation, got %d %v", w.Code, body)
	}

	job := waitForJobStatus(t, eng.router, jobID, "failed")
	if job["cancelled"] != true {
		t.Errorf("Expected cancelled flag on job row, got %v", job["cancelled"])
	}

	w, body = doJSON(t, eng.router, http.MethodPost, "/api/mining/cancel/"+jobID, nil)
	if w.Code != http.StatusConflict || body["error"] != codeJobNotCancellable {
		t.Errorf("Expected 409 %s on second cancel, got %d %v", codeJobNotCancellable, w.Code, body["error"])
	}

	w, body = doJSON(t, eng.router, http.MethodPost, "/api/mining/cancel/ghost", nil)
	if w.Code != http.StatusNotFound || body["error"] != codeJobNotFound {
		t.Errorf("Expected 404 %s, got %d %v", codeJobNotFound, w.Code, body["error"])
	}
}

func TestFederatedRoundFlow(t *testing.T) {
	eng := newTestEngine(t, true)
	for _, id := range []string{"s1", "s2"} {
		mustRegister(t, eng.router, id, "Store "+id)
		mustUploadBaskets(t, eng.router, id)
		mineToCompletion(t, eng.router, id, 20)
	}

	// Round 1 aggregates both stores noiselessly.
	w, body := doJSON(t, eng.router, http.MethodPost, "/api/federated/start-round", `{}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", w.Code, w.Body.String())
	}
	if body["status"] != "completed" || body["round_number"].(float64) != 1 {
		t.Fatalf("Unexpected round response: %v", body)
	}
	if body["participating_clients"].(float64) != 2 || body["patterns_aggregated"].(float64) != 2 {
		t.Errorf("Expected 2 clients and 2 patterns, got %v", body)
	}
	round1 := body["round_id"].(string)

	w, body = doJSON(t, eng.router, http.MethodGet, "/api/federated/rounds/"+round1+"/patterns", nil)
	if w.Code != http.StatusOK || body["count"].(float64) != 2 {
		t.Fatalf("Expected 2 global patterns, got %d %v", w.Code, body["count"])
	}
	patterns := body["patterns"].([]any)
	first := patterns[0].(map[string]any)
	second := patterns[1].(map[string]any)
	if first["aggregated_utility"].(float64) != 74 || second["aggregated_utility"].(float64) != 60 {
		t.Errorf("Expected utilities 74 and 60, got %v and %v",
			first["aggregated_utility"], second["aggregated_utility"])
	}
	if first["contributing_stores"].(float64) != 2 || second["contributing_stores"].(float64) != 2 {
		t.Errorf("Expected both patterns backed by 2 stores, got %v", patterns)
	}
	if gs := first["global_support"].(float64); math.Abs(gs-2.0/3.0) > 1e-9 {
		t.Errorf("Expected global support 2/3, got %v", gs)
	}

	w, body = doJSON(t, eng.router, http.MethodGet, "/api/federated/rounds/"+round1+"/verify", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Verify failed: %d (%s)", w.Code, w.Body.String())
	}
	report := body["report"].(map[string]any)
	if report["consistent"] != true || report["key_overlap"].(float64) != 1 {
		t.Errorf("Expected consistent replay, got %v", report)
	}

	// Patterns are claimed, so an immediate retry fails for lack of
	// contributors and persists a failed round.
	w, body = doJSON(t, eng.router, http.MethodPost, "/api/federated/start-round", `{}`)
	if w.Code != http.StatusConflict || body["error"] != codeInsufficientClients {
		t.Fatalf("Expected 409 %s, got %d %v", codeInsufficientClients, w.Code, body["error"])
	}
	if body["round_number"].(float64) != 2 {
		t.Errorf("Expected failed round numbered 2, got %v", body["round_number"])
	}
	round2 := body["round_id"].(string)

	w, body = doJSON(t, eng.router, http.MethodGet, "/api/federated/rounds/"+round2+"/verify", nil)
	if w.Code != http.StatusConflict || body["error"] != codeRoundNotCompleted {
		t.Errorf("Expected 409 %s for failed round, got %d %v", codeRoundNotCompleted, w.Code, body["error"])
	}

	// Fresh uploads and a higher threshold reproduce the same two
	// itemsets, so round 3 overlaps round 1 exactly.
	for _, id := range []string{"s1", "s2"} {
		mustUploadBaskets(t, eng.router, id)
		mineToCompletion(t, eng.router, id, 40)
	}
	w, body = doJSON(t, eng.router, http.MethodPost, "/api/federated/start-round", `{}`)
	if w.Code != http.StatusOK || body["round_number"].(float64) != 3 {
		t.Fatalf("Expected completed round 3, got %d %v", w.Code, body)
	}

	w, body = doJSON(t, eng.router, http.MethodGet, "/api/federated/rounds", nil)
	if w.Code != http.StatusOK || body["count"].(float64) != 3 {
		t.Fatalf("Expected 3 rounds listed, got %d %v", w.Code, body["count"])
	}
	rounds := body["rounds"].([]any)
	newest := rounds[0].(map[string]any)
	oldest := rounds[2].(map[string]any)
	if newest["round_number"].(float64) != 3 || oldest["round_number"].(float64) != 1 {
		t.Errorf("Expected newest-first listing, got %v then %v", newest["round_number"], oldest["round_number"])
	}
	if rounds[1].(map[string]any)["status"] != "failed" {
		t.Errorf("Expected round 2 failed, got %v", rounds[1])
	}
	if overlap, ok := newest["pattern_overlap_prev"].(float64); !ok || overlap != 1 {
		t.Errorf("Expected overlap 1 against round 1, got %v", newest["pattern_overlap_prev"])
	}
	if _, ok := oldest["pattern_overlap_prev"]; ok {
		t.Errorf("Expected no overlap on the first completed round, got %v", oldest["pattern_overlap_prev"])
	}
}

func TestStartRoundRejectsBadParameters(t *testing.T) {
	eng := newTestEngine(t, false)

	for _, tc := range []struct{ name, body string }{
		{"zero min_clients", `{"min_clients":0}`},
		{"negative privacy_budget", `{"privacy_budget":-1}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			w, body := doJSON(t, eng.router, http.MethodPost, "/api/federated/start-round", tc.body)
			if w.Code != http.StatusBadRequest || body["error"] != codeInvalidPayload {
				t.Errorf("Expected 400 %s, got %d %v", codeInvalidPayload, w.Code, body["error"])
			}
		})
	}

	w, body := doJSON(t, eng.router, http.MethodGet, "/api/federated/rounds/nope", nil)
	if w.Code != http.StatusNotFound || body["error"] != codeRoundNotFound {
		t.Errorf("Expected 404 %s, got %d %v", codeRoundNotFound, w.Code, body["error"])
	}
	w, body = doJSON(t, eng.router, http.MethodGet, "/api/federated/rounds/nope/verify", nil)
	if w.Code != http.StatusNotFound || body["error"] != codeRoundNotFound {
		t.Errorf("Expected 404 %s on verify, got %d %v", codeRoundNotFound, w.Code, body["error"])
	}
}

func TestHealthAndStats(t *testing.T) {
	eng := newTestEngine(t, false)

	w, body := doJSON(t, eng.router, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK || body["status"] != "operational" {
		t.Fatalf("Expected operational health, got %d %v", w.Code, body)
	}
	if body["backend"] != "memory" {
		t.Errorf("Expected memory backend, got %v", body["backend"])
	}
	caps := body["capabilities"].(map[string]any)
	for _, name := range []string{"twu_pruning", "pseudo_projection", "laplace_dp", "round_replay", "live_stream"} {
		if caps[name] != true {
			t.Errorf("Expected capability %s advertised, got %v", name, caps[name])
		}
	}

	mustRegister(t, eng.router, "s1", "Store One")
	w, body = doJSON(t, eng.router, http.MethodGet, "/api/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Stats failed: %d", w.Code)
	}
	stats := body["stats"].(map[string]any)
	if stats["stores_total"].(float64) != 1 || stats["stores_active"].(float64) != 1 {
		t.Errorf("Expected 1 active store in stats, got %v", stats)
	}
}

func TestAuthProtectsEndpoints(t *testing.T) {
	gin.SetMode(gin.TestMode)
	st := store.NewMemory()
	cfg := config.Config{
		APIAuthToken:      "sekret",
		MinClientsDefault: 2,
		RateLimitPerMin:   600,
		RateLimitBurst:    100,
	}
	reg := session.NewRegistry(st, time.Minute, time.Minute, nil)
	pool := worker.NewPool(st, worker.Config{}, nil)
	coord := federated.NewCoordinator(st, reg, federated.Config{Sensitivity: 1, BudgetCap: 10}, nil)
	router := SetupRouter(st, reg, pool, coord, NewHub(), cfg)

	get := func(authHeader string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
		if authHeader != "" {
			req.Header.Set("Authorization", authHeader)
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	if w := get(""); w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401 without header, got %d", w.Code)
	}
	if w := get("Basic abc"); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for wrong scheme, got %d", w.Code)
	}
	if w := get("Bearer wrong"); w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for wrong token, got %d", w.Code)
	}
	if w := get("Bearer sekret"); w.Code != http.StatusOK {
		t.Errorf("Expected 200 with valid token, got %d", w.Code)
	}
}

func TestRateLimiterThrottles(t *testing.T) {
	rl := NewRateLimiter(60, 2)

	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatal("Expected first request allowed")
	}
	if ok, _ := rl.allow("10.0.0.1"); !ok {
		t.Fatal("Expected second request allowed within burst")
	}
	ok, retryAfter := rl.allow("10.0.0.1")
	if ok {
		t.Fatal("Expected third request throttled")
	}
	if retryAfter <= 0 {
		t.Errorf("Expected positive retry hint, got %s", retryAfter)
	}

	// Another caller has its own bucket.
	if ok, _ := rl.allow("10.0.0.2"); !ok {
		t.Error("Expected independent bucket per IP")
	}
}

func TestRateLimitMiddlewareAnswers429(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rl := NewRateLimiter(60, 1)
	r := gin.New()
	r.GET("/x", rl.Middleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("Expected Retry-After header on 429")
	}
}

func TestCORSPreflight(t *testing.T) {
	eng := newTestEngine(t, false)
	req := httptest.NewRequest(http.MethodOptions, "/api/stores", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	eng.router.ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("Expected 204 preflight, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Expected wildcard origin, got %q", got)
	}
}

func TestEventStreamDeliversEvents(t *testing.T) {
	eng := newTestEngine(t, false)
	srv := httptest.NewServer(eng.router)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	// Give the hub a moment to register the subscriber.
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/stores/register", "application/json",
		strings.NewReader(`{"store_id":"s1","store_name":"Store One"}`))
	if err != nil {
		t.Fatalf("Register request failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200 from register, got %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var event struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(msg, &event); err != nil {
		t.Fatalf("Failed to decode event: %v", err)
	}
	if event.Type != "store_registered" {
		t.Errorf("Expected store_registered event, got %s", event.Type)
	}
	if event.Data["store_id"] != "s1" {
		t.Errorf("Expected event for s1, got %v", event.Data["store_id"])
	}
}
