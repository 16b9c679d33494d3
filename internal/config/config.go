package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// envConfigFile names the config file when -config is not given.
const envConfigFile = "VOCALYTICS_CONFIG"

// Config holds all application configuration.
type Config struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	LogLevel       string        `koanf:"log_level"`
	LogFormat      string        `koanf:"log_format"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
	DB             StoreConfig   `koanf:"db"`
	Migrate        MigrateConfig `koanf:"migrate"`

	// ConfigFile is the YAML file the config was read from,
	// empty when none was used.
	ConfigFile string `koanf:"-"`
}

// StoreConfig locates one relational store.
type StoreConfig struct {
	Driver   string `koanf:"driver"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	User     string `koanf:"user"`
	Password string `koanf:"password"`
	Name     string `koanf:"name"`
	SSLMode  string `koanf:"sslmode"`
	// Schema qualifies table names on postgres.
	Schema string `koanf:"schema"`
	// Path is the SQLite database file.
	Path     string `koanf:"path"`
	MaxConns int    `koanf:"max_conns"`
	// InitSchema applies the embedded SQLite schema on open.
	InitSchema bool `koanf:"init_schema"`
}

// MigrateConfig configures the table migration tool.
type MigrateConfig struct {
	Source          StoreConfig `koanf:"source"`
	DestinationPath string      `koanf:"destination_path"`
	TablesFile      string      `koanf:"tables_file"`
}

// Default returns a Config with default values.
func Default() Config {
	store := StoreConfig{
		Driver:   DriverPostgres,
		Port:     5432,
		SSLMode:  "require",
		Schema:   "vocalytics",
		MaxConns: 10,
	}
	return Config{
		Host:           "0.0.0.0",
		Port:           3002,
		LogLevel:       "info",
		LogFormat:      "json",
		RequestTimeout: 15 * time.Second,
		DB:             store,
		Migrate: MigrateConfig{
			Source: store,
		},
	}
}

// Load builds a Config by layering:
// defaults < YAML file < DB_*/PORT env < VOCALYTICS_* env < flags.
// The provided FlagSet must already be parsed by the caller.
// Only flags that were explicitly set override the lower layers.
func Load(fs *flag.FlagSet) (Config, error) {
	path := os.Getenv(envConfigFile)
	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			path = f.Value.String()
		}
	}
	cfg, err := load(path)
	if err != nil {
		return cfg, err
	}
	applyFlags(&cfg, fs)
	return cfg, nil
}

func load(path string) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("loading config file %s: %w", path, err)
		}
		cfg.ConfigFile = path
	}

	// Names used by the original deployment: DB_HOST, DB_USER, ...
	legacyDB := env.Provider("DB_", ".", func(s string) string {
		return "db." + strings.ToLower(strings.TrimPrefix(s, "DB_"))
	})
	if err := k.Load(legacyDB, nil); err != nil {
		return cfg, fmt.Errorf("loading DB_ env: %w", err)
	}
	legacyPort := env.Provider("PORT", ".", func(s string) string {
		if s != "PORT" {
			return ""
		}
		return "port"
	})
	if err := k.Load(legacyPort, nil); err != nil {
		return cfg, fmt.Errorf("loading PORT env: %w", err)
	}

	if err := k.Load(env.Provider("VOCALYTICS_", ".", envKey), nil); err != nil {
		return cfg, fmt.Errorf("loading VOCALYTICS_ env: %w", err)
	}

	if err := k.UnmarshalWithConf(
		"", &cfg, koanf.UnmarshalConf{Tag: "koanf"},
	); err != nil {
		return cfg, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}

// envKey maps VOCALYTICS_DB_DRIVER -> db.driver,
// VOCALYTICS_MIGRATE_SOURCE_HOST -> migrate.source.host and
// VOCALYTICS_LOG_LEVEL -> log_level.
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, "VOCALYTICS_"))
	for _, prefix := range []string{"migrate_source_", "migrate_", "db_"} {
		if rest, ok := strings.CutPrefix(s, prefix); ok {
			return strings.ReplaceAll(prefix, "_", ".") + rest
		}
	}
	if s == "config" {
		return ""
	}
	return s
}

// RegisterServeFlags registers serve-command flags on fs.
// The caller must call fs.Parse before passing fs to Load.
func RegisterServeFlags(fs *flag.FlagSet) {
	fs.String("config", "", "YAML config file")
	fs.String("host", "0.0.0.0", "Host to bind to")
	fs.Int("port", 3002, "Port to listen on")
}

// applyFlags copies explicitly-set flags from fs into cfg.
func applyFlags(cfg *Config, fs *flag.FlagSet) {
	if fs == nil {
		return
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = f.Value.String()
		case "port":
			// flag already validated the int; ignore parse error
			cfg.Port, _ = strconv.Atoi(f.Value.String())
		}
	})
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Validate checks the settings needed to serve the API.
func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("%w: request_timeout must be positive", ErrInvalidConfig)
	}
	if err := c.DB.Validate(); err != nil {
		return fmt.Errorf("db: %w", err)
	}
	return nil
}

// ValidateMigrate checks the settings needed by the migrate command.
func (c Config) ValidateMigrate() error {
	if err := c.Migrate.Source.Validate(); err != nil {
		return fmt.Errorf("migrate.source: %w", err)
	}
	if c.Migrate.DestinationPath == "" {
		return fmt.Errorf(
			"%w: migrate.destination_path is required", ErrInvalidConfig,
		)
	}
	return nil
}

// Validate checks that the driver's required fields are set.
func (s StoreConfig) Validate() error {
	switch s.Driver {
	case DriverPostgres:
		var missing []string
		if s.Host == "" {
			missing = append(missing, "host")
		}
		if s.User == "" {
			missing = append(missing, "user")
		}
		if s.Name == "" {
			missing = append(missing, "name")
		}
		if len(missing) > 0 {
			return fmt.Errorf(
				"%w: postgres requires %s",
				ErrInvalidConfig, strings.Join(missing, ", "),
			)
		}
	case DriverSQLite:
		if s.Path == "" {
			return fmt.Errorf("%w: sqlite requires path", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, s.Driver)
	}
	if s.MaxConns < 0 {
		return fmt.Errorf("%w: max_conns must not be negative", ErrInvalidConfig)
	}
	return nil
}

// ConnString renders a libpq-style connection string for postgres.
func (s StoreConfig) ConnString() string {
	parts := []string{
		"host=" + quoteConnValue(s.Host),
		"port=" + strconv.Itoa(s.Port),
		"user=" + quoteConnValue(s.User),
		"dbname=" + quoteConnValue(s.Name),
	}
	if s.Password != "" {
		parts = append(parts, "password="+quoteConnValue(s.Password))
	}
	if s.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteConnValue(s.SSLMode))
	}
	return strings.Join(parts, " ")
}

func quoteConnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Redacted returns a copy safe for logging.
func (s StoreConfig) Redacted() StoreConfig {
	if s.Password != "" {
		s.Password = "xxxxx"
	}
	return s
}
