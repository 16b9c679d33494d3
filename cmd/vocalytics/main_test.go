package main

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesm/vocalytics/internal/config"
	"github.com/wesm/vocalytics/internal/db"
)

// clearEnv unsets variables that would leak into config loading.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, kv := range os.Environ() {
		name, _, _ := strings.Cut(kv, "=")
		if strings.HasPrefix(name, "DB_") ||
			strings.HasPrefix(name, "VOCALYTICS_") || name == "PORT" {
			t.Setenv(name, "")
			os.Unsetenv(name)
		}
	}
}

func TestMustLoadConfig(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		env      map[string]string
		wantHost string
		wantPort int
	}{
		{
			name:     "DefaultArgs",
			args:     []string{},
			wantHost: "0.0.0.0",
			wantPort: 3002,
		},
		{
			name:     "ExplicitFlags",
			args:     []string{"-host", "127.0.0.1", "-port", "9090"},
			wantHost: "127.0.0.1",
			wantPort: 9090,
		},
		{
			name:     "PortEnv",
			env:      map[string]string{"PORT": "4000"},
			wantHost: "0.0.0.0",
			wantPort: 4000,
		},
		{
			name:     "FlagBeatsEnv",
			args:     []string{"-port", "5000"},
			env:      map[string]string{"PORT": "4000"},
			wantHost: "0.0.0.0",
			wantPort: 5000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			cfg := mustLoadConfig(tt.args)
			assert.Equal(t, tt.wantHost, cfg.Host)
			assert.Equal(t, tt.wantPort, cfg.Port)
		})
	}
}

func TestApplyReload(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	applyReload(config.Config{LogLevel: "debug"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	applyReload(config.Config{LogLevel: "bogus"})
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel(),
		"invalid level leaves the current one")
}

func TestStartConfigWatcherWithoutFile(t *testing.T) {
	stop := startConfigWatcher(config.Config{})
	stop()
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(flag.ErrHelp))
	assert.Equal(t, 2, exitCode(fmt.Errorf("x: %w", config.ErrInvalidConfig)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

// writeMigrateFixture creates a SQLite source with one user and
// call, plus a config file and manifest pointing at it.
func writeMigrateFixture(t *testing.T) (cfgPath, manifest, dest string) {
	t.Helper()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "src.db")
	dest = filepath.Join(dir, "out", "dst.db")

	src, err := db.Open(context.Background(), config.StoreConfig{
		Driver: config.DriverSQLite, Path: srcPath, InitSchema: true,
	})
	require.NoError(t, err)
	err = src.Update(context.Background(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			`INSERT INTO users (user_id, name) VALUES ('A1', 'Alice')`,
		); err != nil {
			return err
		}
		_, err := tx.Exec(
			`INSERT INTO calls (call_id, user_id) VALUES ('c1', 'A1')`,
		)
		return err
	})
	require.NoError(t, err)
	require.NoError(t, src.Close())

	cfgPath = filepath.Join(dir, "vocalytics.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf(`
log_level: error
migrate:
  source:
    driver: sqlite
    path: %q
  destination_path: %q
`, srcPath, dest)), 0o644))

	manifest = filepath.Join(dir, "tables.yaml")
	require.NoError(t, os.WriteFile(manifest, []byte(`
tables:
  - name: users
    columns: [user_id, name]
  - name: calls
    columns: [call_id, user_id]
`), 0o644))
	return cfgPath, manifest, dest
}

func TestParseMigrateFlags(t *testing.T) {
	clearEnv(t)
	cfgPath, manifest, dest := writeMigrateFixture(t)

	opts, err := parseMigrateFlags([]string{
		"-config", cfgPath, "-tables", manifest,
		"-only", "users, calls", "-init-schema",
	})
	require.NoError(t, err)
	assert.Equal(t, manifest, opts.TablesFile)
	assert.Equal(t, []string{"users", "calls"}, opts.Only)
	assert.True(t, opts.InitSchema)
	assert.Equal(t, dest, opts.Config.Migrate.DestinationPath)
	assert.Equal(t, config.DriverSQLite, opts.Config.Migrate.Source.Driver)
}

func TestParseMigrateFlagsErrors(t *testing.T) {
	clearEnv(t)

	_, err := parseMigrateFlags(nil)
	require.Error(t, err, "default source has no host")
	assert.Equal(t, 2, exitCode(err))

	_, err = parseMigrateFlags([]string{"extra"})
	assert.ErrorContains(t, err, "unexpected arguments")

	_, err = parseMigrateFlags([]string{"-nope"})
	assert.Error(t, err)
}

func TestMigrateMain(t *testing.T) {
	clearEnv(t)
	cfgPath, manifest, dest := writeMigrateFixture(t)
	opts, err := parseMigrateFlags([]string{
		"-config", cfgPath, "-tables", manifest, "-init-schema",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, migrateMain(context.Background(), opts, &out))
	assert.Equal(t,
		"Migrated 1 rows from users\nMigrated 1 rows from calls\n",
		out.String())

	d, err := db.Open(context.Background(), config.StoreConfig{
		Driver: config.DriverSQLite, Path: dest,
	})
	require.NoError(t, err)
	defer d.Close()
	var n int
	require.NoError(t, d.Reader().QueryRow(
		"SELECT COUNT(*) FROM calls").Scan(&n))
	assert.Equal(t, 1, n)
}

func TestMigrateMainOnlyChildFails(t *testing.T) {
	clearEnv(t)
	cfgPath, manifest, _ := writeMigrateFixture(t)
	opts, err := parseMigrateFlags([]string{
		"-config", cfgPath, "-tables", manifest,
		"-only", "calls", "-init-schema",
	})
	require.NoError(t, err)

	var out bytes.Buffer
	err = migrateMain(context.Background(), opts, &out)
	require.Error(t, err, "calls without users violates the foreign key")
	assert.Empty(t, out.String())
}

func TestMigrateMainUnknownTable(t *testing.T) {
	clearEnv(t)
	cfgPath, manifest, _ := writeMigrateFixture(t)
	opts, err := parseMigrateFlags([]string{
		"-config", cfgPath, "-tables", manifest, "-only", "ghosts",
	})
	require.NoError(t, err)
	err = migrateMain(context.Background(), opts, &bytes.Buffer{})
	assert.ErrorContains(t, err, "unknown table")
}
