package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DialectSQLite, cfg.Dialect)
	assert.Equal(t, "Patient", cfg.ResourceType)
	assert.Equal(t, "patient", cfg.Table)
	assert.Equal(t, "id", cfg.IDColumn)
	assert.Equal(t, "resource", cfg.ResourceColumn)
	assert.Equal(t, ":memory:", cfg.SQLitePath)
	assert.Equal(t, int32(4), cfg.DBMaxConns)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.False(t, cfg.UsesPostgres())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("FHIRSQL_DIALECT", "POSTGRES")
	t.Setenv("FHIRSQL_RESOURCE_TYPE", "Observation")
	t.Setenv("FHIRSQL_DB_MAX_CONNS", "10")
	t.Setenv("FHIRSQL_DATABASE_URL", "postgres://localhost/fhir")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.UsesPostgres())
	assert.Equal(t, "Observation", cfg.ResourceType)
	assert.Equal(t, "observation", cfg.Table)
	assert.Equal(t, int32(10), cfg.DBMaxConns)
	assert.Equal(t, "postgres://localhost/fhir", cfg.DatabaseURL)
}

func TestLoad_FileWithEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fhirsql.yaml")
	require.NoError(t, os.WriteFile(path, []byte("RESOURCE_TYPE: Condition\nTABLE: conditions\nLOG_FORMAT: json\n"), 0o644))
	t.Setenv("FHIRSQL_LOG_FORMAT", "console")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "Condition", cfg.ResourceType)
	assert.Equal(t, "conditions", cfg.Table)
	assert.Equal(t, "console", cfg.LogFormat)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Dialect: "sqlite", ResourceType: "Patient", Table: "patient",
			IDColumn: "id", ResourceColumn: "resource",
			LogLevel: "info", LogFormat: "json", DBMaxConns: 4,
		}
	}
	base := valid()
	require.NoError(t, base.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown dialect", func(c *Config) { c.Dialect = "oracle" }},
		{"bad table", func(c *Config) { c.Table = "patient; DROP TABLE x" }},
		{"bad id column", func(c *Config) { c.IDColumn = "1id" }},
		{"no resource type", func(c *Config) { c.ResourceType = "" }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"min above max", func(c *Config) { c.DBMinConns = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLogger_Formats(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{LogLevel: "warn", LogFormat: "json"}
	logger := cfg.Logger(&buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("k", "v").Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"k":"v"`)

	buf.Reset()
	cfg.LogFormat = "console"
	console := cfg.Logger(&buf)
	console.Error().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
	assert.NotContains(t, buf.String(), `"message"`)
}
