/*
Package config loads runtime settings from the environment.

SOURCES (later wins):
  1. built-in defaults
  2. a .env file in the working directory, when present
  3. process environment variables

Command-line flags in cmd/* override the result.
*/
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/warp/fuel-ledger/expense"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds application configuration.
type Config struct {
	Port        string
	DBDriver    string
	SQLitePath  string
	PostgresURL string

	LogLevel  string
	LogFormat string

	CORSAllowedOrigins  []string
	ExpiryCheckInterval time.Duration

	ImportCardColumn     string
	ImportDateColumn     string
	ImportAmountColumn   string
	ImportQuantityColumn string
	ImportDateLayouts    []string
	MaxUploadMB          int64
}

// Load reads configuration. envFiles defaults to ".env"; a missing file is
// not an error.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		_ = godotenv.Load(f)
	}

	v := viper.New()
	v.SetDefault("PORT", "8080")
	v.SetDefault("DB_DRIVER", DriverSQLite)
	v.SetDefault("SQLITE_PATH", "fuel.db")
	v.SetDefault("PGSQL_URL", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("EXPIRY_CHECK_INTERVAL", "1h")
	v.SetDefault("IMPORT_COL_CARD", "card_uid")
	v.SetDefault("IMPORT_COL_DATE", "expense_date")
	v.SetDefault("IMPORT_COL_AMOUNT", "amount")
	v.SetDefault("IMPORT_COL_QUANTITY", "liter_qty")
	v.SetDefault("IMPORT_DATE_LAYOUTS", "")
	v.SetDefault("IMPORT_MAX_UPLOAD_MB", 20)
	v.AutomaticEnv()

	cfg := &Config{
		Port:                 v.GetString("PORT"),
		DBDriver:             strings.ToLower(v.GetString("DB_DRIVER")),
		SQLitePath:           v.GetString("SQLITE_PATH"),
		PostgresURL:          v.GetString("PGSQL_URL"),
		LogLevel:             v.GetString("LOG_LEVEL"),
		LogFormat:            v.GetString("LOG_FORMAT"),
		CORSAllowedOrigins:   splitList(v.GetString("CORS_ALLOWED_ORIGINS")),
		ImportCardColumn:     v.GetString("IMPORT_COL_CARD"),
		ImportDateColumn:     v.GetString("IMPORT_COL_DATE"),
		ImportAmountColumn:   v.GetString("IMPORT_COL_AMOUNT"),
		ImportQuantityColumn: v.GetString("IMPORT_COL_QUANTITY"),
		ImportDateLayouts:    splitList(v.GetString("IMPORT_DATE_LAYOUTS")),
		MaxUploadMB:          v.GetInt64("IMPORT_MAX_UPLOAD_MB"),
	}

	interval, err := time.ParseDuration(v.GetString("EXPIRY_CHECK_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("invalid EXPIRY_CHECK_INTERVAL: %w", err)
	}
	cfg.ExpiryCheckInterval = interval

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks combinations Load cannot default away.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for driver %q", c.DBDriver)
		}
	case DriverPostgres:
		if c.PostgresURL == "" {
			return fmt.Errorf("PGSQL_URL is required for driver %q", c.DBDriver)
		}
	default:
		return fmt.Errorf("unknown DB_DRIVER %q (want %s or %s)", c.DBDriver, DriverSQLite, DriverPostgres)
	}
	if c.ExpiryCheckInterval <= 0 {
		return fmt.Errorf("EXPIRY_CHECK_INTERVAL must be positive")
	}
	if c.MaxUploadMB <= 0 {
		return fmt.Errorf("IMPORT_MAX_UPLOAD_MB must be positive")
	}
	return nil
}

// Import builds the importer configuration.
func (c *Config) Import() expense.ImportConfig {
	ic := expense.DefaultImportConfig()
	if c.ImportCardColumn != "" {
		ic.CardColumn = c.ImportCardColumn
	}
	if c.ImportDateColumn != "" {
		ic.DateColumn = c.ImportDateColumn
	}
	if c.ImportAmountColumn != "" {
		ic.AmountColumn = c.ImportAmountColumn
	}
	if c.ImportQuantityColumn != "" {
		ic.QuantityColumn = c.ImportQuantityColumn
	}
	if len(c.ImportDateLayouts) > 0 {
		ic.DateLayouts = c.ImportDateLayouts
	}
	return ic
}

// MaxUploadBytes is the request body limit for imports.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.LogLevel)}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// splitList splits a comma-separated value, dropping blanks. Date layouts
// may contain spaces, so whitespace is not a separator.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
