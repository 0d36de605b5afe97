// Package config loads fhirsql settings from the environment and an
// optional config file. Environment variables use the FHIRSQL_ prefix:
// FHIRSQL_DIALECT, FHIRSQL_RESOURCE_TYPE and so on.
package config

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "FHIRSQL"

// Supported dialects.
const (
	DialectSQLite   = "sqlite"
	DialectPostgres = "postgres"
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type Config struct {
	Dialect        string `mapstructure:"DIALECT"`
	ResourceType   string `mapstructure:"RESOURCE_TYPE"`
	Table          string `mapstructure:"TABLE"`
	IDColumn       string `mapstructure:"ID_COLUMN"`
	ResourceColumn string `mapstructure:"RESOURCE_COLUMN"`
	SQLitePath     string `mapstructure:"SQLITE_PATH"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32  `mapstructure:"DB_MIN_CONNS"`
	SchemaFile     string `mapstructure:"SCHEMA_FILE"`
	LogLevel       string `mapstructure:"LOG_LEVEL"`
	LogFormat      string `mapstructure:"LOG_FORMAT"`
	ListenAddr     string `mapstructure:"LISTEN_ADDR"`
}

var keys = []string{
	"DIALECT",
	"RESOURCE_TYPE",
	"TABLE",
	"ID_COLUMN",
	"RESOURCE_COLUMN",
	"SQLITE_PATH",
	"DATABASE_URL",
	"DB_MAX_CONNS",
	"DB_MIN_CONNS",
	"SCHEMA_FILE",
	"LOG_LEVEL",
	"LOG_FORMAT",
	"LISTEN_ADDR",
}

// Load reads configuration from the environment and, when path is not
// empty, from a config file (any format viper understands). Environment
// variables win over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("DIALECT", DialectSQLite)
	v.SetDefault("RESOURCE_TYPE", "Patient")
	v.SetDefault("ID_COLUMN", "id")
	v.SetDefault("RESOURCE_COLUMN", "resource")
	v.SetDefault("SQLITE_PATH", ":memory:")
	v.SetDefault("DB_MAX_CONNS", 4)
	v.SetDefault("DB_MIN_CONNS", 0)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "console")
	v.SetDefault("LISTEN_ADDR", ":8080")

	// Bind env vars explicitly so Unmarshal picks up keys without defaults
	for _, key := range keys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Dialect = strings.ToLower(cfg.Dialect)
	if cfg.Table == "" {
		cfg.Table = strings.ToLower(cfg.ResourceType)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects unknown dialects, log settings and identifiers that are
// not plain SQL identifiers.
func (c *Config) Validate() error {
	switch c.Dialect {
	case DialectSQLite, DialectPostgres:
	default:
		return fmt.Errorf("unknown dialect %q (want %s or %s)", c.Dialect, DialectSQLite, DialectPostgres)
	}

	if c.ResourceType == "" {
		return fmt.Errorf("RESOURCE_TYPE is required")
	}
	for name, ident := range map[string]string{
		"RESOURCE_TYPE":   c.ResourceType,
		"TABLE":           c.Table,
		"ID_COLUMN":       c.IDColumn,
		"RESOURCE_COLUMN": c.ResourceColumn,
	} {
		if ident != "" && !identPattern.MatchString(ident) {
			return fmt.Errorf("%s: %q is not a valid SQL identifier", name, ident)
		}
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		return fmt.Errorf("unknown log format %q (want json or console)", c.LogFormat)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	if c.DBMaxConns < 0 || c.DBMinConns < 0 || (c.DBMaxConns > 0 && c.DBMinConns > c.DBMaxConns) {
		return fmt.Errorf("invalid pool size: min %d, max %d", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

// UsesPostgres reports whether statements should target PostgreSQL.
func (c *Config) UsesPostgres() bool {
	return c.Dialect == DialectPostgres
}
