// Command backtest runs a one-off backtest over stored consensus events
// without the HTTP server. Results are printed and saved like API-triggered
// runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/agronomthe6th/tbot-v2-sub000/config"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/backtest"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/database"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/events"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/marketdata"
	"github.com/agronomthe6th/tbot-v2-sub000/internal/pipeline"
)

func main() {
	godotenv.Load()

	var (
		ruleID  = flag.Int64("rule", 0, "restrict to events of one rule (0 = all)")
		fromStr = flag.String("from", "", "range start, YYYY-MM-DD (default: 30 days ago)")
		toStr   = flag.String("to", "", "range end, YYYY-MM-DD (default: now)")
		takePct = flag.Float64("tp", 5.0, "take profit percent")
		stopPct = flag.Float64("sl", 3.0, "stop loss percent")
		holding = flag.Int("hold", 24, "max holding period in hours")
		capital = flag.Float64("capital", 100000, "initial capital")
		posSize = flag.Float64("size", 10, "position size as percent of capital")
		workers = flag.Int("workers", 4, "concurrent simulation workers")
	)
	flag.Parse()

	from := time.Now().AddDate(0, 0, -30)
	to := time.Now()
	var err error
	if *fromStr != "" {
		if from, err = time.Parse("2006-01-02", *fromStr); err != nil {
			fmt.Printf("invalid -from: %v\n", err)
			os.Exit(1)
		}
	}
	if *toStr != "" {
		if to, err = time.Parse("2006-01-02", *toStr); err != nil {
			fmt.Printf("invalid -to: %v\n", err)
			os.Exit(1)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(zerolog.WarnLevel).With().Timestamp().Logger()

	ctx := context.Background()

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	}, logger)
	if err != nil {
		fmt.Printf("failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	repo := database.NewRepository(db)
	bars := marketdata.NewClient(cfg.MarketDataConfig.BaseURL, cfg.MarketDataConfig.Interval, logger)
	pipe := pipeline.New(repo, events.NewBus(), nil, bars, nil, logger)

	params := backtest.Params{
		RuleID:          *ruleID,
		From:            from,
		To:              to,
		TakeProfitPct:   *takePct,
		StopLossPct:     *stopPct,
		HoldingHours:    *holding,
		InitialCapital:  *capital,
		PositionSizePct: *posSize,
		Workers:         *workers,
	}
	if err := params.Validate(); err != nil {
		fmt.Printf("invalid parameters: %v\n", err)
		os.Exit(1)
	}

	run, result, err := pipe.RunBacktest(ctx, params)
	if err != nil {
		fmt.Printf("backtest failed: %v\n", err)
		os.Exit(1)
	}

	printResult(run, result)
}

func printResult(run *database.BacktestRun, r *backtest.Result) {
	fmt.Printf("\nBacktest run #%d\n", run.ID)
	fmt.Println("================================================================")
	fmt.Printf("Trades:        %d (%d wins / %d losses)\n", r.TotalTrades, r.WinningTrades, r.LosingTrades)
	fmt.Printf("Win rate:      %.1f%%\n", r.WinRate)
	fmt.Printf("Avg PnL:       %.2f%%\n", r.AvgProfitPct)
	fmt.Printf("Max win:       %.2f%%\n", r.MaxProfitPct)
	fmt.Printf("Max loss:      %.2f%%\n", r.MaxLossPct)
	fmt.Printf("Total return:  %.2f\n", r.TotalReturn)
	if len(r.Skipped) > 0 {
		fmt.Printf("Skipped:       %d events\n", len(r.Skipped))
	}

	if len(r.ByTicker) == 0 {
		return
	}

	fmt.Println("\nPer ticker:")
	tickers := make([]string, 0, len(r.ByTicker))
	for t := range r.ByTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	for _, t := range tickers {
		s := r.ByTicker[t]
		winRate := 0.0
		if s.Trades > 0 {
			winRate = float64(s.Wins) / float64(s.Trades) * 100
		}
		fmt.Printf("  %-8s trades=%-3d winrate=%5.1f%% pnl=%8.2f\n",
			t, s.Trades, winRate, s.ProfitAbs)
	}
}
