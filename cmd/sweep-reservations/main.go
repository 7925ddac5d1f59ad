package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"festival-platform/internal/config"
	"festival-platform/internal/server"
)

// Deletes expired basket bookings and stale cart sessions once. Meant for
// cron when the server's own sweeper is not running.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := server.OpenPostgres(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	app := server.NewApp(cfg, server.PostgresRepositories(db.DB), nil)
	defer app.Close()

	result, err := app.Sweeper.Sweep(ctx)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	fmt.Printf("Deleted %d expired bookings and %d stale cart sessions\n", result.Bookings, result.Sessions)
}
