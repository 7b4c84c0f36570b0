// Command recompute rebuilds derived customer fields from the ledgers.
//
//	recompute                  # every customer
//	recompute -customer 42     # one customer
//
// Exit status: 0 success, 1 fatal (config, database, enumeration),
// 2 run completed with per-customer failures or was interrupted,
// 3 customer not found.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/warp/customer-ledger/aggregate"
	"github.com/warp/customer-ledger/config"
	"github.com/warp/customer-ledger/logger"
	"github.com/warp/customer-ledger/store/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	logg := logger.New(logger.Options{ServiceName: "recompute", Level: logger.ParseLevel("info")})
	if err := godotenv.Load(); err != nil {
		logg.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		return 1
	}

	dbPath := flag.String("db", cfg.DB.Path, "SQLite database path")
	customer := flag.Int64("customer", 0, "recompute only this customer id")
	concurrency := flag.Int("concurrency", cfg.Recompute.Concurrency, "customers recomputed in parallel")
	flag.Parse()

	logg = logger.New(logger.Options{
		ServiceName: "recompute",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logg.Error(ctx, "failed to open database", err)
		return 1
	}
	defer store.Close()

	rc := aggregate.NewRecomputer(store, logg, nil)

	if *customer != 0 {
		agg, err := rc.RecomputeCustomer(ctx, aggregate.CustomerID(*customer))
		switch {
		case aggregate.IsNotFound(err):
			return 3
		case err != nil:
			return 2
		}
		logg.Info(logg.WithFields(ctx, map[string]any{
			"customer_id":       *customer,
			"total_consumption": agg.TotalConsumption.String(),
			"consumption_count": agg.ConsumptionCount,
			"consumption_times": agg.ConsumptionTimes,
			"total_points":      agg.TotalPoints,
			"available_points":  agg.AvailablePoints,
		}), "customer recomputed")
		return 0
	}

	summary, err := aggregate.NewBatchRecomputer(rc, *concurrency).RecomputeAll(ctx)
	if err != nil {
		return 1
	}
	if !summary.AllSucceeded {
		return 2
	}
	return 0
}
