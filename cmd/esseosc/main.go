package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	_ "modernc.org/sqlite"

	"github.com/lox/esseosc/internal/config"
	"github.com/lox/esseosc/internal/fetch"
	"github.com/lox/esseosc/internal/pipeline"
	"github.com/lox/esseosc/internal/store"
)

const defaultConfig = "esseosc.toml"

type Globals struct {
	Config      string                   `help:"TOML configuration file." default:"${default_config}" env:"ESSEOSC_CONFIG"`
	EnvFile     kongdotenv.ENVFileConfig `name:"env-file" optional:"" help:"Load environment variables from this .env file."`
	CDSAPIKey   string                   `name:"cds-api-key" help:"Copernicus CDS personal access token." env:"CDS_API_KEY"`
	LogLevel    string                   `help:"Log level." default:"info" enum:"debug,info,warn,error" env:"ESSEOSC_LOG_LEVEL"`
	LogFormat   string                   `help:"Log output format." default:"json" enum:"json,console" env:"ESSEOSC_LOG_FORMAT"`
	MetricsFile string                   `help:"Write metrics to this node-exporter textfile on exit." type:"path" env:"ESSEOSC_METRICS_FILE"`
}

type CLI struct {
	Globals

	Fetch   FetchCmd   `cmd:"" help:"Download a source into the working store."`
	Prepare PrepareCmd `cmd:"" help:"Compute and export a region-day table."`
	Merge   MergeCmd   `cmd:"" help:"Join the surveys with the region-day tables."`
	Run     RunCmd     `cmd:"" help:"Fetch, prepare and merge everything."`
}

type FetchCmd struct {
	EEA  FetchEEACmd  `cmd:"" name:"eea" help:"EEA background station readings."`
	ERA5 FetchERA5Cmd `cmd:"" name:"era5" help:"ERA5 hourly reanalysis and grid population."`
}

type PrepareCmd struct {
	EEA  PrepareEEACmd  `cmd:"" name:"eea" help:"Air quality index levels and poor-day counts."`
	ERA5 PrepareERA5Cmd `cmd:"" name:"era5" help:"Climate daily values, windows and anomalies."`
}

type (
	FetchEEACmd    struct{}
	FetchERA5Cmd   struct{}
	PrepareEEACmd  struct{}
	PrepareERA5Cmd struct{}
	MergeCmd       struct{}
	RunCmd         struct{}
)

func (FetchEEACmd) Run(a *app) error    { return a.fetch(a.pipeline.FetchEEA) }
func (FetchERA5Cmd) Run(a *app) error   { return a.fetch(a.pipeline.FetchERA5) }
func (PrepareEEACmd) Run(a *app) error  { return a.pipeline.PrepareEEA(a.ctx) }
func (PrepareERA5Cmd) Run(a *app) error { return a.pipeline.PrepareERA5(a.ctx) }
func (MergeCmd) Run(a *app) error       { return a.pipeline.Merge(a.ctx) }
func (RunCmd) Run(a *app) error         { return a.fetch(a.pipeline.Run) }

type app struct {
	ctx      context.Context
	pipeline *pipeline.Pipeline
	logger   zerolog.Logger
}

// fetch runs a stage that records fetch runs and reports them afterwards,
// whether or not the stage succeeded.
func (a *app) fetch(stage func(context.Context) error) error {
	err := stage(a.ctx)
	if serr := a.pipeline.LogSummary(); serr != nil {
		a.logger.Warn().Err(serr).Msg("summarise fetch runs")
	}
	return err
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("esseosc"),
		kong.Description("Enrich ESS survey rounds with regional air quality and climate data."),
		kong.UsageOnError(),
		kong.Vars{"default_config": defaultConfig},
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runID := uuid.NewString()
	logger := newLogger(cli.Globals, runID)

	a, closeApp, err := setup(ctx, cli.Globals, runID, logger)
	kctx.FatalIfErrorf(err)

	logger.Info().Str("command", kctx.Command()).Msg("starting")
	err = kctx.Run(a)
	closeApp()

	if cli.MetricsFile != "" {
		if merr := prometheus.WriteToTextfile(cli.MetricsFile, prometheus.DefaultGatherer); merr != nil {
			logger.Error().Err(merr).Str("path", cli.MetricsFile).Msg("write metrics")
		}
	}
	if err != nil {
		logger.Error().Err(err).Str("command", kctx.Command()).Msg("failed")
	}
	kctx.FatalIfErrorf(err)
	logger.Info().Str("command", kctx.Command()).Msg("done")
}

func newLogger(g Globals, runID string) zerolog.Logger {
	level, err := zerolog.ParseLevel(g.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var logger zerolog.Logger
	if g.LogFormat == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	return logger.Level(level).With().Timestamp().Str("run_id", runID).Logger()
}

// setup loads the configuration, opens and migrates the working store, and
// wires the pipeline. The returned func closes the store.
func setup(ctx context.Context, g Globals, runID string, logger zerolog.Logger) (*app, func(), error) {
	// Only an explicitly chosen config file has to exist.
	cfg, err := config.Load(g.Config, g.Config == defaultConfig)
	if err != nil {
		return nil, nil, err
	}
	if g.CDSAPIKey != "" {
		cfg.ERA5.APIKey = g.CDSAPIKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, nil, err
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	// Loaders write from several goroutines; one connection serialises them.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000"} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	clock := clockwork.NewRealClock()
	st := store.New(db, clock, logger)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	logger.Debug().Str("path", cfg.DBPath).Msg("database migrated")

	fetcher := fetch.New(cfg.DownloadDir, st, clock, logger)
	a := &app{
		ctx:      ctx,
		pipeline: pipeline.New(&cfg, runID, st, fetcher, logger),
		logger:   logger,
	}
	return a, func() { db.Close() }, nil
}
