package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/coinfolio/backend/internal/auth"
	"github.com/coinfolio/backend/internal/db"
	"github.com/coinfolio/backend/internal/market"
	"github.com/coinfolio/backend/internal/portfolio"
)

var stdout io.Writer = os.Stdout

type migrateCmd struct{}

func (*migrateCmd) Name() string     { return "migrate" }
func (*migrateCmd) Synopsis() string { return "applies pending database migrations" }
func (*migrateCmd) Usage() string {
	return `coinfolioctl migrate

Applies the embedded schema migrations to the configured database and
prints the resulting schema version. The server also migrates on start.
`
}
func (*migrateCmd) SetFlags(*flag.FlagSet) {}

func (*migrateCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail("load config: %v", err)
	}
	database, err := openDB(ctx, cfg)
	if err != nil {
		return fail("%v", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx); err != nil {
		return fail("%v", err)
	}
	v, err := database.MigrationVersion(ctx)
	if err != nil {
		return fail("%v", err)
	}
	fmt.Fprintf(stdout, "schema at version %d\n", v)
	return subcommands.ExitSuccess
}

type purgeSessionsCmd struct{}

func (*purgeSessionsCmd) Name() string     { return "purge-sessions" }
func (*purgeSessionsCmd) Synopsis() string { return "deletes expired sessions" }
func (*purgeSessionsCmd) Usage() string {
	return `coinfolioctl purge-sessions

Deletes session rows whose expiry has passed. Expired sessions are already
rejected; this only reclaims space.
`
}
func (*purgeSessionsCmd) SetFlags(*flag.FlagSet) {}

func (*purgeSessionsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail("load config: %v", err)
	}
	database, err := openDB(ctx, cfg)
	if err != nil {
		return fail("%v", err)
	}
	defer database.Close()

	svc := auth.NewService(db.NewUserRepository(database), db.NewSessionRepository(database), auth.Config{Secret: cfg.JWTSecret})
	n, err := svc.PurgeExpired(ctx)
	if err != nil {
		return fail("%v", err)
	}
	fmt.Fprintf(stdout, "purged %d expired sessions\n", n)
	return subcommands.ExitSuccess
}

type priceCmd struct {
	json bool
}

func (*priceCmd) Name() string     { return "price" }
func (*priceCmd) Synopsis() string { return "prints the current USD price of coins" }
func (*priceCmd) Usage() string {
	return `coinfolioctl price [-json] <coin-id...>

Prints the current USD price of each coin, e.g. btc-bitcoin. Coins the
provider cannot price are reported as 0.
`
}

func (c *priceCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "print JSON instead of a table")
}

func (c *priceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	ids := f.Args()
	if len(ids) == 0 {
		return fail("at least one coin id is required")
	}
	for _, id := range ids {
		if !market.ValidCoinID(id) {
			return fail("invalid coin id %q", id)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail("load config: %v", err)
	}
	gateway, err := newGateway(cfg)
	if err != nil {
		return fail("%v", err)
	}

	prices := gateway.GetCurrentPrices(ctx, ids)
	if c.json {
		return printJSON(prices)
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COIN\tPRICE\tUSD")
	for _, id := range ids {
		p := prices[id]
		fmt.Fprintf(w, "%s\t%s\t%s\n", id, p.String(), portfolio.FormatUSD(p))
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type searchCmd struct {
	limit int
	json  bool
}

func (*searchCmd) Name() string     { return "search" }
func (*searchCmd) Synopsis() string { return "searches coins by name or symbol" }
func (*searchCmd) Usage() string {
	return `coinfolioctl search [-limit n] [-json] <query>
`
}

func (c *searchCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "limit", market.DefaultSearchLimit, "maximum number of results")
	f.BoolVar(&c.json, "json", false, "print JSON instead of a table")
}

func (c *searchCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	query := strings.Join(f.Args(), " ")
	if strings.TrimSpace(query) == "" {
		return fail("a query is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		return fail("load config: %v", err)
	}
	gateway, err := newGateway(cfg)
	if err != nil {
		return fail("%v", err)
	}

	coins, err := gateway.SearchCoins(ctx, query, c.limit)
	if err != nil {
		return fail("%v", err)
	}
	if c.json {
		return printJSON(coins)
	}

	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tID\tSYMBOL\tNAME")
	for _, coin := range coins {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", coin.Rank, coin.ID, coin.Symbol, coin.Name)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type trendingCmd struct {
	json bool
}

func (*trendingCmd) Name() string     { return "trending" }
func (*trendingCmd) Synopsis() string { return "prints popular coins, top movers and new listings" }
func (*trendingCmd) Usage() string {
	return `coinfolioctl trending [-json]

A category the provider fails to answer is printed empty.
`
}

func (c *trendingCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.json, "json", false, "print JSON instead of tables")
}

func (c *trendingCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		return fail("load config: %v", err)
	}
	gateway, err := newGateway(cfg)
	if err != nil {
		return fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	t := gateway.GetTrendingCoins(ctx)
	if c.json {
		return printJSON(t)
	}

	printTickers("Popular", t.Popular)
	printTickers("Top gainers", t.TopGainers)
	printTickers("Top losers", t.TopLosers)

	fmt.Fprintln(stdout, "Recently added")
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, coin := range t.RecentlyAdded {
		fmt.Fprintf(w, "  %s\t%s\t%s\n", coin.ID, coin.Symbol, coin.Name)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

func printTickers(title string, coins []market.TickerCoin) {
	fmt.Fprintln(stdout, title)
	w := tabwriter.NewWriter(stdout, 0, 4, 2, ' ', 0)
	for _, coin := range coins {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s%%\n", coin.ID, coin.Symbol, portfolio.FormatUSD(coin.Price), coin.PercentChange24h.StringFixed(2))
	}
	w.Flush()
	fmt.Fprintln(stdout)
}

func printJSON(v any) subcommands.ExitStatus {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fail("%v", err)
	}
	return subcommands.ExitSuccess
}
