// Command score-trades runs one scoring pass over stored trades and prints a
// summary. It exits non-zero when the pass fails.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"insiderwatch/internal/app"
	"insiderwatch/internal/config"
	"insiderwatch/internal/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("score-trades", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var (
		cfgPath  = fs.String("config", "", "Config file (env: IW_CONFIG, default config/config.yaml)")
		limit    = fs.Int("limit", -1, "Max trades to score, 0 for all (default from config)")
		batch    = fs.Int("batch", 0, "Trades per batch (default from config)")
		unscored = fs.Bool("unscored", false, "Only score trades without a score")
		marketID = fs.String("market-id", "", "Only score trades of this market")
		dryRun   = fs.Bool("dry-run", false, "Score without writing scores or alerts")
		workers  = fs.Int("workers", 0, "Parallel id-range workers (default from config)")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(stderr, "env error:", err)
		return 1
	}
	path := strings.TrimSpace(*cfgPath)
	if path == "" {
		path = os.Getenv("IW_CONFIG")
	}
	if path == "" {
		path = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("IW_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
	}
	cfg, err := config.Load(path, envOnly)
	if err != nil {
		fmt.Fprintln(stderr, "config error:", err)
		return 1
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintln(stderr, "logger error:", err)
		return 1
	}
	defer log.Sync()

	svc, err := app.New(ctx, cfg, log, app.Options{ReadOnly: *dryRun})
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return 1
	}
	defer svc.Close()

	opts := svc.ScoringOptions()
	if *limit >= 0 {
		opts.Limit = *limit
	}
	if *batch > 0 {
		opts.BatchSize = *batch
	}
	if *workers > 0 {
		opts.Workers = *workers
	}
	// --unscored narrows; without it every matching trade is rescored.
	opts.UnscoredOnly = *unscored
	opts.MarketID = strings.TrimSpace(*marketID)
	opts.DryRun = *dryRun

	summary, err := svc.Score(ctx, opts)
	if err != nil {
		log.Error("scoring failed", zap.Error(err))
		fmt.Fprintf(stdout, "scored=%d errors=%d\n", summary.Scored, summary.Errors)
		return 1
	}
	for _, f := range summary.Failures {
		fmt.Fprintf(stderr, "trade %d: %s\n", f.TradeID, f.Reason)
	}
	if summary.DryRun {
		fmt.Fprintf(stdout, "scored=%d errors=%d dry_run=true\n", summary.Scored, summary.Errors)
	} else {
		fmt.Fprintf(stdout, "scored=%d errors=%d alerts=%d\n", summary.Scored, summary.Errors, summary.AlertsRaised)
	}
	return 0
}
