/*
main.go - Admin server entry point

STARTUP SEQUENCE:
  1. Load .env (optional) and LEDGER_* environment
  2. Parse command-line flags (override port/db)
  3. Open the SQLite ledger store
  4. Build recomputers, router and scheduler
  5. Serve until SIGINT/SIGTERM, then shut down gracefully

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: LEDGER_PORT or 8080)
  -db      SQLite database path (default: LEDGER_DB_PATH or ledger.db)

EXAMPLES:
  ./server -db="./data/ledger.db"
  LEDGER_SCHEDULER_ENABLED=true LEDGER_RECOMPUTE_INTERVAL=6h ./server
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/warp/customer-ledger/aggregate"
	"github.com/warp/customer-ledger/api"
	"github.com/warp/customer-ledger/config"
	"github.com/warp/customer-ledger/logger"
	"github.com/warp/customer-ledger/metrics"
	"github.com/warp/customer-ledger/store/sqlite"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "ledger-server", Level: logger.ParseLevel("info")})
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		logg.Debug(ctx, ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(ctx, "failed to load config", err)
		os.Exit(1)
	}

	port := flag.Int("port", cfg.HTTP.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DB.Path, "SQLite database path")
	flag.Parse()

	logg = logger.New(logger.Options{
		ServiceName: "ledger-server",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})
	ctx = logg.WithField(ctx, "env", cfg.App.Env)

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logg.Error(ctx, "failed to initialize database", err)
		os.Exit(1)
	}
	defer store.Close()

	m := metrics.NewRecomputeMetrics(prometheus.DefaultRegisterer)
	rc := aggregate.NewRecomputer(store, logg, m)
	batch := aggregate.NewBatchRecomputer(rc, cfg.Recompute.Concurrency)

	handler := api.NewHandler(store, rc, batch, logg)
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins:  cfg.HTTP.AllowedOrigins,
		EnableScenarios: cfg.App.IsDev(),
	})

	scheduler := api.NewRecomputeScheduler(batch, logg)
	scheduler.CheckInterval = cfg.Recompute.Interval
	scheduler.Enabled = cfg.Recompute.SchedulerEnabled
	scheduler.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute, // batch recompute runs inline
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logg.Info(logg.WithField(ctx, "addr", server.Addr), "server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Error(ctx, "server failed", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logg.Info(ctx, "shutting down server")
	scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logg.Error(ctx, "server forced to shutdown", err)
	}
	logg.Info(ctx, "server stopped")
}
