package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"festival-platform/internal/config"
	"festival-platform/internal/metrics"
	"festival-platform/internal/repositories/memory"
	"festival-platform/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var repos server.Repositories
	db, err := server.OpenPostgres(ctx, cfg)
	if err != nil {
		if cfg.IsProduction() {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		log.Printf("Warning: Failed to connect to database: %v", err)
		log.Println("Continuing with the in-memory demo store...")

		store := memory.NewStore()
		memory.SeedDemo(store)
		repos = server.MemoryRepositories(store)
	} else {
		defer db.Close()
		log.Println("Database connection established successfully")
		repos = server.PostgresRepositories(db.DB)
	}

	app := server.NewApp(cfg, repos, metrics.New())
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("Error closing app: %v", err)
		}
	}()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		app.RunWorkers(ctx)
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:           app.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		log.Printf("Server starting on http://%s (storage: %s)", srv.Addr, repos.Name)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
	<-workersDone
	log.Println("Server stopped")
}
