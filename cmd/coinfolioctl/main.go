// Command coinfolioctl is the operator tool for a coinfolio deployment. It
// reads the same configuration as the server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path"
	"syscall"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"

	"github.com/coinfolio/backend/internal/cache"
	"github.com/coinfolio/backend/internal/config"
	"github.com/coinfolio/backend/internal/db"
	"github.com/coinfolio/backend/internal/logger"
	"github.com/coinfolio/backend/internal/market"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(&migrateCmd{}, "database")
	commander.Register(&purgeSessionsCmd{}, "database")
	commander.Register(&priceCmd{}, "market")
	commander.Register(&searchCmd{}, "market")
	commander.Register(&trendingCmd{}, "market")

	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	status := commander.Execute(ctx)
	stop()
	os.Exit(int(status))
}

// loadConfig reads the configuration and quiets the default logger so
// command output stays readable
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.SetDefault(logger.New(&logger.Config{
		Output: os.Stderr,
		Level:  logger.LevelWarn,
		Format: "text",
	}))
	return cfg, nil
}

func openDB(ctx context.Context, cfg *config.Config) (*db.DB, error) {
	return db.Open(ctx, db.Options{
		Driver:          cfg.DBDriver,
		DSN:             cfg.DSN(),
		MaxOpenConns:    2,
		MaxIdleConns:    1,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
}

// newGateway builds a gateway with a private in-memory cache. The CLI never
// writes to the shared redis tier.
func newGateway(cfg *config.Config) (*market.Gateway, error) {
	mc, err := cache.NewMemory(cfg.MarketCacheMaxEntries, cfg.MarketCacheTTL, nil)
	if err != nil {
		return nil, err
	}
	return market.New(market.Options{
		BaseURL:        cfg.MarketAPIBaseURL,
		Timeout:        cfg.MarketRequestTimeout,
		Cache:          mc,
		Limiter:        market.NewLimiter(cfg.MarketRateLimitPerMinute, cfg.MarketRateLimitBurst),
		MaxQueueWait:   cfg.MarketMaxQueueWait,
		MaxConcurrency: cfg.MarketMaxConcurrency,
	}), nil
}

func fail(format string, args ...any) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	return subcommands.ExitFailure
}
