// Command streamer connects to the Shoonya feed and maintains a live PnL view.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/quantrail/shoonya-stream/config"
	"github.com/quantrail/shoonya-stream/internal/ledger"
	"github.com/quantrail/shoonya-stream/internal/observability"
	"github.com/quantrail/shoonya-stream/internal/ordermanager"
	"github.com/quantrail/shoonya-stream/internal/schema"
	"github.com/quantrail/shoonya-stream/internal/shoonya"
	"github.com/quantrail/shoonya-stream/lib/telemetry"
)

const (
	defaultConfigPath  = "config/streamer.yaml"
	dayOverPollPeriod  = 30 * time.Second
	telemetryJoinLimit = 5 * time.Second
)

func main() {
	cfgPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	keysFlag := flag.String("keys", "", "comma-separated instrument keys (EXCHANGE|TOKEN) to subscribe at startup")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	logger := log.New(os.Stderr, "streamer ", log.LstdFlags|log.Lmsgprefix)

	cfg, loaded, err := config.LoadOrDefault(*cfgPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loaded {
		logger.Printf("configuration file not found, using defaults and environment")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	observability.SetLogger(observability.NewStdLogger(logger, *debug || cfg.Debug))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	_, shutdownTelemetry, err := telemetry.Init(ctx, cfg.OTLPEndpoint, "shoonya-streamer")
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	defer func() {
		flushCtx, flushCancel := context.WithTimeout(context.Background(), telemetryJoinLimit)
		defer flushCancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Printf("telemetry shutdown: %v", err)
		}
	}()

	store, err := buildStore(ctx, cfg)
	if err != nil {
		logger.Fatalf("initialise ledger store: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Printf("close ledger store: %v", err)
		}
	}()

	feed := func(total float64, breakdown string) {
		logger.Printf("PNL total=%.2f\n%s", total, breakdown)
	}

	mgr := ordermanager.New(ordermanager.Config{
		Transport: shoonya.TransportConfig{
			URL:              cfg.Websocket.URL,
			HandshakeTimeout: cfg.Websocket.HandshakeTimeout,
			WriteTimeout:     cfg.Websocket.WriteTimeout,
			JoinTimeout:      cfg.Websocket.JoinTimeout,
			BackoffSeed:      cfg.Websocket.BackoffSeed,
			BackoffCeiling:   cfg.Websocket.BackoffCeiling,
		},
		Credentials: schema.Credentials{
			UserID:       cfg.Credentials.UserID,
			AccountID:    cfg.Credentials.AccountID,
			SessionToken: cfg.Credentials.SessionToken,
			Source:       cfg.Credentials.Source,
		},
		StoreTimeout:     cfg.Store.Timeout,
		FailureThreshold: cfg.FailureThreshold,
	}, store, feed)

	if err := mgr.Start(ctx); err != nil {
		logger.Fatalf("start: %v", err)
	}
	logger.Printf("connected to %s", cfg.Websocket.URL)

	if keys := parseKeys(*keysFlag); len(keys) > 0 {
		if err := mgr.Subscribe(ctx, keys); err != nil {
			logger.Printf("initial subscribe: %v", err)
		}
	}

	var wg conc.WaitGroup
	wg.Go(func() {
		ticker := time.NewTicker(dayOverPollPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if mgr.DayOver() {
					logger.Printf("session close reached, shutting down")
					cancel()
					return
				}
			}
		}
	})

	<-ctx.Done()
	wg.Wait()

	if err := mgr.Stop(); err != nil {
		logger.Printf("stop: %v", err)
	}

	total, breakdown, err := mgr.PnL(context.Background())
	if err != nil {
		logger.Printf("final pnl: %v", err)
	} else {
		logger.Printf("final PNL total=%.2f\n%s", total, strings.Join(breakdown, "\n"))
	}
	logger.Printf("goodbye")
}

func buildStore(ctx context.Context, cfg config.Settings) (ledger.Store, error) {
	switch cfg.Store.Kind {
	case config.StoreRedis:
		return ledger.NewRedisStore(ctx, cfg.Store.RedisAddr, cfg.Store.RedisDB)
	case config.StorePostgres:
		if err := ledger.Migrate(ctx, cfg.Store.PostgresDSN, cfg.Store.MigrationsDir); err != nil {
			return nil, err
		}
		return ledger.NewPostgresStore(ctx, cfg.Store.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown store kind %q", cfg.Store.Kind)
	}
}

func parseKeys(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	keys := make([]string, 0, len(parts))
	for _, part := range parts {
		if key := strings.TrimSpace(part); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}
