package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/civicdata/healthsnap/internal/app"
	"github.com/civicdata/healthsnap/internal/discover"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	var (
		configPath string
		outDir     string
		runDate    string
		verbose    bool
	)

	flag.StringVar(&configPath, "config", "healthsnap.yaml", "Path to YAML configuration")
	flag.StringVar(&outDir, "out", "", "Snapshot output directory (overrides config)")
	flag.StringVar(&runDate, "date", "", "Run date YYYY-MM-DD for backfills and corrections (default: today UTC)")
	flag.BoolVar(&verbose, "v", false, "Verbose logging")
	flag.Parse()

	if verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		log.Error().Err(err).Str("config", configPath).Msg("configuration invalid")
		os.Exit(1)
	}
	cfg.Verbose = verbose
	if outDir != "" {
		cfg.OutputDir = outDir
	}
	if runDate != "" {
		d, err := time.ParseInLocation("2006-01-02", runDate, time.UTC)
		if err != nil {
			log.Error().Err(err).Str("date", runDate).Msg("invalid -date")
			os.Exit(1)
		}
		cfg.RunDate = d
	}

	report, err := run(cfg)
	if err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(1)
	}
	report.Log()
	if path, err := report.WriteJSON(cfg.OutputDir); err != nil {
		log.Warn().Err(err).Msg("could not write run report sidecar")
	} else {
		log.Info().Str("report", path).Msg("run report written")
	}

	// Exit code policy: 0 when every dataset assembled a snapshot, 2 when
	// any dataset failed. Partial datasets still assembled, so they count
	// as success with warnings already logged.
	if !report.AllAssembled() {
		os.Exit(2)
	}
}

func run(cfg app.Config) (*app.RunReport, error) {
	ctx := context.Background()

	renderer, err := discover.NewChromeRenderer(ctx, cfg.DiscoveryTimeout, cfg.DiscoveryStableFor)
	if err != nil {
		return nil, fmt.Errorf("start browser: %w", err)
	}
	defer renderer.Close()

	a := app.New(cfg, renderer)
	return a.Run(ctx), nil
}
