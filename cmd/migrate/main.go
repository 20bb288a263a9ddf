// Command migrate applies the ledger schema migrations to Postgres.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/quantrail/shoonya-stream/config"
	"github.com/quantrail/shoonya-stream/internal/ledger"
)

func main() {
	cfgPath := flag.String("config", "config/streamer.yaml", "path to the YAML configuration file")
	dsn := flag.String("dsn", "", "Postgres DSN (overrides configuration)")
	dir := flag.String("dir", "", "migrations directory (overrides configuration)")
	timeout := flag.Duration("timeout", time.Minute, "migration timeout")
	flag.Parse()

	logger := log.New(os.Stderr, "migrate ", log.LstdFlags|log.Lmsgprefix)

	cfg, _, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *dsn == "" {
		*dsn = cfg.Store.PostgresDSN
	}
	if *dir == "" {
		*dir = cfg.Store.MigrationsDir
	}
	if *dsn == "" {
		logger.Fatalf("no Postgres DSN configured")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := ledger.Migrate(ctx, *dsn, *dir); err != nil {
		logger.Fatalf("migrate: %v", err)
	}
	logger.Printf("migrations applied")
}
