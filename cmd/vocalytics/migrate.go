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

	"github.com/rs/zerolog/log"

	"github.com/wesm/vocalytics/internal/config"
	"github.com/wesm/vocalytics/internal/db"
	"github.com/wesm/vocalytics/internal/metrics"
	"github.com/wesm/vocalytics/internal/migrate"
)

// MigrateOptions holds parsed CLI options for the migrate command.
type MigrateOptions struct {
	Config     config.Config
	TablesFile string
	Only       []string
	InitSchema bool
}

func parseMigrateFlags(args []string) (MigrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.String("config", "", "YAML config file")
	tables := fs.String(
		"tables", "",
		"YAML table manifest (default: built-in tables)",
	)
	only := fs.String(
		"only", "",
		"Comma-separated tables to copy",
	)
	initSchema := fs.Bool(
		"init-schema", false,
		"Create the SQLite schema before copying",
	)

	if err := fs.Parse(args); err != nil {
		return MigrateOptions{}, err
	}
	if fs.NArg() > 0 {
		return MigrateOptions{}, fmt.Errorf(
			"unexpected arguments: %s", strings.Join(fs.Args(), " "),
		)
	}

	cfg, err := config.Load(fs)
	if err != nil {
		return MigrateOptions{}, err
	}
	if err := cfg.ValidateMigrate(); err != nil {
		return MigrateOptions{}, err
	}

	opts := MigrateOptions{
		Config:     cfg,
		TablesFile: *tables,
		InitSchema: *initSchema,
	}
	if opts.TablesFile == "" {
		opts.TablesFile = cfg.Migrate.TablesFile
	}
	for _, name := range strings.Split(*only, ",") {
		if name = strings.TrimSpace(name); name != "" {
			opts.Only = append(opts.Only, name)
		}
	}
	return opts, nil
}

func runMigrate(args []string) {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
	mustSetupLogging(opts.Config)

	ctx, stop := signal.NotifyContext(
		context.Background(), os.Interrupt, syscall.SIGTERM,
	)
	defer stop()

	if err := migrateMain(ctx, opts, os.Stdout); err != nil {
		log.Error().Err(err).Msg("migration failed")
		stop()
		os.Exit(1)
	}
}

// migrateMain copies the selected tables and prints one line
// per migrated table to out.
func migrateMain(
	ctx context.Context, opts MigrateOptions, out io.Writer,
) error {
	tables := migrate.DefaultTables
	if opts.TablesFile != "" {
		var err error
		tables, err = migrate.LoadManifest(opts.TablesFile)
		if err != nil {
			return err
		}
	}
	tables, err := migrate.Select(tables, opts.Only)
	if err != nil {
		return err
	}

	m := metrics.NewManager()
	src, err := db.Open(ctx, opts.Config.Migrate.Source, db.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("opening source: %w", err)
	}
	defer src.Close()

	dst, err := db.Open(ctx, config.StoreConfig{
		Driver:     config.DriverSQLite,
		Path:       opts.Config.Migrate.DestinationPath,
		InitSchema: opts.InitSchema,
		MaxConns:   1,
	}, db.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("opening destination: %w", err)
	}
	defer dst.Close()

	results, err := migrate.New(src.Reader(), dst, migrate.WithMetrics(m)).
		Run(ctx, tables)
	for _, r := range results {
		fmt.Fprintf(out, "Migrated %d rows from %s\n", r.Rows, r.Table)
	}
	return err
}
