package api

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/retailmesh/fedmine-engine/internal/config"
	"github.com/retailmesh/fedmine-engine/internal/federated"
	"github.com/retailmesh/fedmine-engine/internal/session"
	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/internal/worker"
)

// Handler carries the wired engine components every endpoint reaches
// through.
type Handler struct {
	st    store.Store
	reg   *session.Registry
	pool  *worker.Pool
	coord *federated.Coordinator
	hub   *Hub
	cfg   config.Config
}

// SetupRouter builds the full HTTP surface over the engine components.
// The rate limiter covers only the endpoints that create work or rows;
// status polling stays unthrottled so dashboards can refresh freely.
func SetupRouter(st store.Store, reg *session.Registry, pool *worker.Pool, coord *federated.Coordinator, hub *Hub, cfg config.Config) *gin.Engine {
	r := gin.Default()
	r.Use(corsMiddleware(cfg.AllowedOrigins))

	h := &Handler{st: st, reg: reg, pool: pool, coord: coord, hub: hub, cfg: cfg}
	rl := NewRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitBurst)

	api := r.Group("/api")
	api.Use(AuthMiddleware(cfg.APIAuthToken))
	{
		api.GET("/health", h.handleHealth)
		api.GET("/stats", h.handleStats)
		api.GET("/stream", hub.Subscribe)

		stores := api.Group("/stores")
		{
			stores.POST("/register", h.handleRegisterStore)
			stores.POST("/:id/heartbeat", h.handleHeartbeat)
			stores.GET("", h.handleListStores)
		}

		txns := api.Group("/transactions")
		{
			txns.POST("/upload/:store_id", rl.Middleware(), h.handleUploadTransactions)
			txns.GET("/:store_id", h.handleListTransactions)
		}

		mining := api.Group("/mining")
		{
			mining.POST("/start", rl.Middleware(), h.handleStartMining)
			mining.GET("/status/:job_id", h.handleJobStatus)
			mining.GET("/results/:job_id", h.handleJobResults)
			mining.POST("/cancel/:job_id", h.handleCancelJob)
		}

		fed := api.Group("/federated")
		{
			fed.POST("/start-round", rl.Middleware(), h.handleStartRound)
			fed.GET("/rounds", h.handleListRounds)
			fed.GET("/rounds/:id", h.handleGetRound)
			fed.GET("/rounds/:id/patterns", h.handleRoundPatterns)
			fed.GET("/rounds/:id/verify", h.handleVerifyRound)
		}
	}

	return r
}

// corsMiddleware opens the API to any origin when the allowlist is
// empty or "*", the development default. Production sets
// ALLOWED_ORIGINS to a comma-separated list and only listed origins
// are echoed back.
func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
