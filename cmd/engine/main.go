package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/retailmesh/fedmine-engine/internal/api"
	"github.com/retailmesh/fedmine-engine/internal/config"
	"github.com/retailmesh/fedmine-engine/internal/federated"
	"github.com/retailmesh/fedmine-engine/internal/session"
	"github.com/retailmesh/fedmine-engine/internal/store"
	"github.com/retailmesh/fedmine-engine/internal/worker"
)

// Exit codes: 0 clean shutdown, 1 fatal initialization (bad config,
// persistence unavailable, port bind failure), 2 unrecoverable state
// during startup recovery.
func main() {
	os.Exit(run())
}

func run() int {
	log.Println("Starting RetailMesh FedMine Engine (federated high-utility itemset mining)...")

	cfg, err := config.FromEnv()
	if err != nil {
		log.Printf("FATAL: Invalid configuration: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := store.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Printf("FATAL: Failed to connect to PostgreSQL: %v", err)
			return 1
		}
		if err := pg.InitSchema(ctx); err != nil {
			log.Printf("FATAL: Failed to initialize schema: %v", err)
			return 1
		}
		st = pg
		log.Println("[Engine] Persistence: PostgreSQL")
	} else {
		st = store.NewMemory()
		log.Println("[Engine] Persistence: in-memory (set DATABASE_URL for durability)")
	}
	defer st.Close()

	hub := api.NewHub()
	go hub.Run()
	notify := api.BroadcastEvent(hub)

	reg := session.NewRegistry(st, cfg.HeartbeatTimeout, cfg.LivenessSweep, notify)
	pool := worker.NewPool(st, worker.Config{
		PoolSize:         cfg.WorkerPoolSize,
		QueueDepth:       cfg.QueueDepth,
		BatchSize:        cfg.BatchSize,
		CachePatterns:    cfg.CachePatterns,
		CacheBounds:      cfg.CacheBounds,
		CacheProjections: cfg.CacheProjections,
	}, notify)
	reaper := worker.NewReaper(st, cfg.StaleJobAfter, time.Minute, notify)
	coord := federated.NewCoordinator(st, reg, federated.Config{
		Sensitivity: cfg.PrivacySensitivity,
		BudgetCap:   cfg.PrivacyBudgetCap,
	}, notify)

	// Recover whatever a previous process left behind: running jobs and
	// rounds belong to nobody now, pending jobs go back on the queue.
	if n, err := reaper.StartupSweep(ctx); err != nil {
		log.Printf("FATAL: Startup job sweep failed: %v", err)
		return 2
	} else if n > 0 {
		log.Printf("[Engine] Failed %d job(s) orphaned by restart", n)
	}
	if n, err := st.FailRunningRounds(ctx, "interrupted by coordinator restart", time.Now()); err != nil {
		log.Printf("FATAL: Startup round sweep failed: %v", err)
		return 2
	} else if n > 0 {
		log.Printf("[Engine] Failed %d round(s) orphaned by restart", n)
	}
	pending, err := st.PendingJobs(ctx)
	if err != nil {
		log.Printf("FATAL: Failed to list pending jobs: %v", err)
		return 2
	}
	requeued := 0
	for _, job := range pending {
		if err := pool.Enqueue(job.ID); err != nil {
			log.Printf("[Engine] Requeue stopped at %d of %d pending job(s): %v (raise MINING_QUEUE_DEPTH)",
				requeued, len(pending), err)
			break
		}
		requeued++
	}
	if requeued > 0 {
		log.Printf("[Engine] Requeued %d pending job(s)", requeued)
	}

	pool.Start(ctx)
	go reg.Run(ctx)
	go reaper.Run(ctx)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: api.SetupRouter(st, reg, pool, coord, hub, cfg),
	}
	errCh := make(chan error, 1)
	go func() {
		log.Printf("[Engine] Listening on :%s", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		log.Printf("FATAL: Server failed: %v", err)
		return 1
	case <-ctx.Done():
	}

	log.Println("[Engine] Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Engine] Forced shutdown: %v", err)
	}
	// Workers finish the jobs they hold before the store closes.
	pool.Wait()
	log.Println("[Engine] Shutdown complete")
	return 0
}
