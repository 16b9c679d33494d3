package db

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/wesm/vocalytics/internal/config"
	"github.com/wesm/vocalytics/internal/metrics"
)

//go:embed schema.sql
var schemaSQL string

// SchemaSQL returns the SQLite schema of the vocalytics tables.
func SchemaSQL() string { return schemaSQL }

const (
	defaultSQLiteReaders = 4
	healthCheckPeriod    = 30 * time.Second
)

// DB is a pooled handle on the vocalytics store. On postgres the
// reader and writer share one pgx pool; on SQLite writes go
// through a single connection and reads through a small pool.
type DB struct {
	writer  *sql.DB
	reader  *sql.DB
	pool    *pgxpool.Pool
	mu      sync.Mutex // serializes writes
	dialect Dialect
	queries map[string]string
	metrics *metrics.Manager
	retry   RetryPolicy
}

// Option configures a DB.
type Option func(*DB)

// WithMetrics records query latency and errors on m.
func WithMetrics(m *metrics.Manager) Option {
	return func(db *DB) { db.metrics = m }
}

// WithRetryPolicy overrides DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(db *DB) { db.retry = p }
}

// makeDSN builds a SQLite connection string with shared pragmas.
func makeDSN(path string, readOnly bool) string {
	params := url.Values{}
	params.Set("_journal_mode", "WAL")
	params.Set("_busy_timeout", "5000")
	params.Set("_foreign_keys", "ON")
	params.Set("_cache_size", "-64000")
	if readOnly {
		params.Set("mode", "ro")
	} else {
		params.Set("_synchronous", "NORMAL")
	}
	return path + "?" + params.Encode()
}

// Open connects to the store described by cfg and verifies the
// connection.
func Open(
	ctx context.Context, cfg config.StoreConfig, opts ...Option,
) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dialect, err := DialectFor(cfg)
	if err != nil {
		return nil, err
	}
	queries, err := renderQueries(dialect)
	if err != nil {
		return nil, err
	}

	db := &DB{
		dialect: dialect,
		queries: queries,
		retry:   DefaultRetryPolicy,
	}
	for _, opt := range opts {
		opt(db)
	}

	switch cfg.Driver {
	case config.DriverPostgres:
		err = db.openPostgres(ctx, cfg)
	case config.DriverSQLite:
		err = db.openSQLite(cfg)
	}
	if err != nil {
		return nil, err
	}

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s: %w", cfg.Driver, err)
	}
	if cfg.InitSchema {
		if err := db.initSchema(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("initializing schema: %w", err)
		}
	}
	return db, nil
}

func (db *DB) openPostgres(ctx context.Context, cfg config.StoreConfig) error {
	pcfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return fmt.Errorf("parsing postgres config: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = int32(cfg.MaxConns)
	}
	pcfg.HealthCheckPeriod = healthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return fmt.Errorf("creating postgres pool: %w", err)
	}
	db.pool = pool
	db.writer = stdlib.OpenDBFromPool(pool)
	db.reader = db.writer
	return nil
}

func (db *DB) openSQLite(cfg config.StoreConfig) error {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating db directory: %w", err)
	}

	writer, err := sql.Open("sqlite3", makeDSN(cfg.Path, false))
	if err != nil {
		return fmt.Errorf("opening writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite3", makeDSN(cfg.Path, true))
	if err != nil {
		writer.Close()
		return fmt.Errorf("opening reader: %w", err)
	}
	readers := cfg.MaxConns
	if readers == 0 {
		readers = defaultSQLiteReaders
	}
	reader.SetMaxOpenConns(readers)

	db.writer = writer
	db.reader = reader
	return nil
}

func (db *DB) initSchema(ctx context.Context) error {
	if db.dialect.Name() != config.DriverSQLite {
		return fmt.Errorf(
			"embedded schema is SQLite only, got %s", db.dialect.Name(),
		)
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	_, err := db.writer.ExecContext(ctx, schemaSQL)
	return err
}

// Ping checks both pools, retrying connectivity failures. The
// writer goes first so a fresh SQLite file exists before the
// read-only pool opens it.
func (db *DB) Ping(ctx context.Context) error {
	return withRetry(ctx, db.retry, db.metrics, func(ctx context.Context) error {
		if err := db.writer.PingContext(ctx); err != nil {
			return err
		}
		if db.reader != db.writer {
			return db.reader.PingContext(ctx)
		}
		return nil
	})
}

// Close releases every connection.
func (db *DB) Close() error {
	var err error
	if db.reader != db.writer {
		err = db.reader.Close()
	}
	err = errors.Join(err, db.writer.Close())
	if db.pool != nil {
		db.pool.Close()
	}
	return err
}

// Update executes fn within a write lock and transaction.
// The transaction is committed if fn returns nil, rolled back
// otherwise.
func (db *DB) Update(
	ctx context.Context, fn func(tx *sql.Tx) error,
) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	tx, err := db.writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Reader returns the read connection pool.
func (db *DB) Reader() *sql.DB {
	return db.reader
}

// Dialect returns the SQL dialect of the store.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// run executes one named read with retry and metrics, wrapping
// any error with the query name.
func (db *DB) run(
	ctx context.Context, name string, fn func(ctx context.Context, query string) error,
) error {
	query, ok := db.queries[name]
	if !ok {
		return fmt.Errorf("unknown query %s", name)
	}
	start := time.Now()
	err := withRetry(ctx, db.retry, db.metrics, func(ctx context.Context) error {
		return fn(ctx, query)
	})
	db.metrics.ObserveQuery(name, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("querying %s: %w", name, err)
	}
	return nil
}
