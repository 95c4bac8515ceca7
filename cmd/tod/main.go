package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/tod/internal/cache"
	"github.com/p-blackswan/tod/internal/cli"
	"github.com/p-blackswan/tod/internal/config"
	"github.com/p-blackswan/tod/internal/due"
	"github.com/p-blackswan/tod/internal/health"
	"github.com/p-blackswan/tod/internal/metrics"
	"github.com/p-blackswan/tod/internal/todoist"
	"github.com/p-blackswan/tod/internal/triage"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return 1
	}
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}

	// Interrupts are honoured at the next prompt, never mid-request.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	client := todoist.NewClient(cfg.BaseURL, &todoist.BearerAuth{Token: cfg.APIToken}, cfg.ClientOptions(m), logger)
	catalog := cache.NewCatalog(cache.NewMetadata(cfg.CacheOptions(m), logger), client)
	resolver := due.NewResolver(cfg.Locale, cfg.Location())

	engine := triage.NewEngine(cfg.TriageConfig(), client, catalog, resolver, m, logger)
	var snapshots *triage.SnapshotStore
	dir, err := cfg.SessionPath()
	if err != nil {
		logger.Warn().Err(err).Msg("session snapshots disabled")
	} else {
		snapshots = triage.NewSnapshotStore(dir, logger)
		engine.SetSnapshotStore(snapshots)
	}

	checks := health.NewChecker(cfg.RequestTimeout, logger)
	checks.Register("token", cli.TokenCheck(cfg.APIToken))
	checks.Register("remote", cli.RemoteCheck(client))
	checks.Register("sessions", cli.SessionDirCheck(dir))

	logger.Debug().
		Str("environment", cfg.Environment).
		Str("base_url", client.BaseURL()).
		Str("locale", cfg.Locale).
		Str("timezone", cfg.Location().String()).
		Msg("starting tod")

	app := &cli.App{
		Engine:    engine,
		Tasks:     client,
		Resolver:  resolver,
		Snapshots: snapshots,
		Checks:    checks,
		Lang:      cfg.Lang(),
		Location:  cfg.Location(),
		Version:   version,
		Logger:    logger.With().Str("component", "cli").Logger(),
	}
	err = cli.Execute(ctx, app, os.Args[1:])
	logSummary(logger, m)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

func logSummary(logger zerolog.Logger, m *metrics.Metrics) {
	if logger.GetLevel() > zerolog.DebugLevel {
		return
	}
	lines, err := m.Summary()
	if err != nil {
		logger.Warn().Err(err).Msg("gathering metrics")
		return
	}
	for _, line := range lines {
		logger.Debug().Str("metric", line).Msg("metrics summary")
	}
}
