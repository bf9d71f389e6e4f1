package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinFeat/internal/di"
	"FinFeat/internal/usecase"
	"FinFeat/pkg/config"
	applogger "FinFeat/pkg/logger"
	"FinFeat/pkg/util"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath = flag.String("config", "config/config.yaml", "config file path")
		symbols    = flag.String("symbols", "", "comma separated symbols (default: config symbols)")
		from       = flag.String("from", "", "first session, YYYY-MM-DD (default: date_range.start)")
		to         = flag.String("to", "", "end session, exclusive, YYYY-MM-DD (default: date_range.end)")
		collect    = flag.Bool("collect", false, "download bars from Finnhub before building features")
		refresh    = flag.Bool("refresh", false, "ignore cached feature tables")
	)
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Printf("config load failed: %v", err)
		return 2
	}

	batch, cleanup, err := di.InitializeBatch(cfg)
	if err != nil {
		log.Printf("initialization failed: %v", err)
		return 2
	}
	defer cleanup()
	l := batch.Logger

	syms := cfg.Symbols
	if s := util.SplitList(*symbols); len(s) > 0 {
		syms = s
	}
	defaults := batch.Runner.Defaults()
	start, end, err := util.ParseDateRange(*from, *to, defaults.From, defaults.To)
	if err != nil {
		l.Error("invalid date range", applogger.Error(err))
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	failed := false
	if *collect {
		if cfg.Finnhub.APIKey == "" {
			l.Error("finnhub api key is required for -collect")
			return 2
		}
		if _, err := batch.Collector.Collect(ctx, syms, start, end); err != nil {
			l.Error("bar collection finished with errors", applogger.Error(err))
			failed = true
		}
	}

	began := time.Now()
	outcomes, err := batch.Runner.Run(ctx, syms, start, end, *refresh)
	report(outcomes)
	l.Info("featurize finished",
		applogger.Int("symbols", len(outcomes)),
		applogger.Duration("elapsed", time.Since(began)),
	)
	if err != nil || failed {
		return 1
	}
	return 0
}

func report(outcomes []usecase.Outcome) {
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(os.Stderr, "%-8s FAILED  %v\n", o.Symbol, o.Err)
			continue
		}
		src := "built"
		if o.Cached {
			src = "cached"
		}
		fmt.Printf("%-8s %-6s rows=%d columns=%d elapsed=%s\n", o.Symbol, src, o.Rows, o.Columns, o.Elapsed.Round(time.Millisecond))
	}
}
