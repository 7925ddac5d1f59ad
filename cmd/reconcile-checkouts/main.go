package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"festival-platform/internal/config"
	"festival-platform/internal/server"
)

func main() {
	var (
		olderThan = flag.Duration("older-than", 0, "Only check attempts idle for at least this long (default RECONCILE_AFTER)")
		limit     = flag.Int("limit", 100, "Maximum number of attempts to check")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if *olderThan <= 0 {
		*olderThan = cfg.Checkout.ReconcileAfter
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := server.OpenPostgres(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	app := server.NewApp(cfg, server.PostgresRepositories(db.DB), nil)
	defer app.Close()

	summary, err := app.Checkout.ReconcileAwaiting(ctx, *olderThan, *limit)
	if err != nil {
		log.Fatalf("Reconciliation failed: %v", err)
	}

	fmt.Println("Reconciliation Summary:")
	fmt.Println("=======================")
	fmt.Printf("Checked:   %d\n", summary.Checked)
	fmt.Printf("Committed: %d\n", summary.Committed)
	fmt.Printf("Pending:   %d\n", summary.Pending)
	fmt.Printf("Failed:    %d\n", summary.Failed)
	fmt.Printf("Errors:    %d\n", summary.Errors)
}
