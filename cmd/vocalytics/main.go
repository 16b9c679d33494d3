package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/wesm/vocalytics/internal/config"
	"github.com/wesm/vocalytics/internal/db"
	"github.com/wesm/vocalytics/internal/logging"
	"github.com/wesm/vocalytics/internal/metrics"
	"github.com/wesm/vocalytics/internal/server"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = ""
)

const (
	configDebounce  = 500 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "serve":
			runServe(os.Args[2:])
			return
		case "migrate":
			runMigrate(os.Args[2:])
			return
		case "version", "--version", "-v":
			fmt.Printf("vocalytics %s (commit %s, built %s)\n",
				version, commit, buildDate)
			return
		case "help", "--help", "-h":
			printUsage()
			return
		}
	}

	runServe(os.Args[1:])
}

func printUsage() {
	fmt.Printf(`vocalytics %s - call-center analytics API

Serves per-agent, per-team and business call metrics computed
from the vocalytics store, and migrates the store between engines.

Usage:
  vocalytics [flags]            Start the server (default command)
  vocalytics serve [flags]      Start the server (explicit)
  vocalytics migrate [flags]    Copy tables from the source store to SQLite
  vocalytics version            Show version information
  vocalytics help               Show this help

Server flags:
  -config string      YAML config file
  -host string        Host to bind to (default "0.0.0.0")
  -port int           Port to listen on (default 3002)

Migrate flags:
  -config string      YAML config file
  -tables string      YAML table manifest (default: built-in tables)
  -only string        Comma-separated tables to copy
  -init-schema        Create the SQLite schema before copying

Environment variables:
  DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSLMODE
                      Store connection
  PORT                Port to listen on
  VOCALYTICS_CONFIG   YAML config file
  VOCALYTICS_*        Any config key, e.g. VOCALYTICS_LOG_LEVEL,
                      VOCALYTICS_DB_DRIVER, VOCALYTICS_DB_PATH
`, version)
}

func runServe(args []string) {
	cfg := mustLoadConfig(args)
	mustSetupLogging(cfg)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	m := metrics.NewManager(metrics.WithGoCollectors())
	database := mustOpenDB(ctx, cfg.DB, m)
	defer database.Close()

	stopWatcher := startConfigWatcher(cfg)
	defer stopWatcher()

	srv := server.New(cfg, database,
		server.WithMetrics(m),
		server.WithVersion(server.VersionInfo{
			Version:   version,
			Commit:    commit,
			BuildDate: buildDate,
		}),
	)

	log.Info().
		Str("version", version).
		Str("driver", cfg.DB.Driver).
		Str("addr", cfg.Addr()).
		Msg("vocalytics listening")

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
	}
}

func mustLoadConfig(args []string) config.Config {
	fs := flag.NewFlagSet("vocalytics", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: vocalytics [serve] [flags]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	config.RegisterServeFlags(fs)
	if err := fs.Parse(args); err != nil {
		log.Fatal().Err(err).Msg("parsing flags")
	}

	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("loading config")
	}
	return cfg
}

func mustSetupLogging(cfg config.Config) {
	if err := logging.Setup(os.Stderr, cfg.LogLevel, cfg.LogFormat); err != nil {
		log.Fatal().Err(err).Msg("configuring logging")
	}
}

func mustOpenDB(
	ctx context.Context, cfg config.StoreConfig, m *metrics.Manager,
) *db.DB {
	database, err := db.Open(ctx, cfg, db.WithMetrics(m))
	if err != nil {
		log.Fatal().
			Err(err).
			Interface("store", cfg.Redacted()).
			Msg("opening database")
	}
	return database
}

// startConfigWatcher applies log level changes from the config
// file without a restart. It returns a stop function.
func startConfigWatcher(cfg config.Config) func() {
	if cfg.ConfigFile == "" {
		return func() {}
	}
	w, err := config.Watch(cfg.ConfigFile, configDebounce, applyReload)
	if err != nil {
		log.Warn().Err(err).Msg("config watcher disabled")
		return func() {}
	}
	return w.Stop
}

// applyReload applies the reloadable settings of a fresh config.
func applyReload(cfg config.Config) {
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		log.Warn().Err(err).Msg("ignoring log level change")
		return
	}
	log.Info().Str("log_level", cfg.LogLevel).Msg("config reloaded")
}

// exitCode maps an error to a process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, flag.ErrHelp):
		return 0
	case errors.Is(err, config.ErrInvalidConfig):
		return 2
	default:
		return 1
	}
}
