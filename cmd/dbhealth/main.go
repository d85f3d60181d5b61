// dbhealth opens the configured store, pings it, and prints row counts.
// Exit status is the health verdict, for use in scripts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/invoice-pipeline/internal/common"
	"github.com/joseph-ayodele/invoice-pipeline/internal/repository"
)

func main() {
	var (
		db      = flag.String("db", "", "database DSN (overrides DB_URL)")
		timeout = flag.Duration("timeout", 5*time.Second, "health check timeout")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	_ = godotenv.Load()

	cfg := common.LoadConfig()
	if *db != "" {
		cfg.Database.DSN = *db
	}

	ctx := context.Background()
	store, err := repository.Open(ctx, repository.Config{
		DSN:         cfg.Database.DSN,
		MaxConns:    cfg.Database.MaxConns,
		DialTimeout: cfg.Database.DialTimeout,
	}, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.HealthCheck(ctx, *timeout); err != nil {
		fmt.Fprintf(os.Stderr, "ping: %v\n", err)
		os.Exit(1)
	}

	var invoices, items int
	if err := store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices`).Scan(&invoices); err != nil {
		fmt.Fprintf(os.Stderr, "count invoices: %v\n", err)
		os.Exit(1)
	}
	if err := store.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM line_items`).Scan(&items); err != nil {
		fmt.Fprintf(os.Stderr, "count line_items: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("ok dialect=%s invoices=%d line_items=%d\n", store.Dialect, invoices, items)
}
