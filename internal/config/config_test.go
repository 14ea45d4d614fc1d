package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	assert.Equal(t, "INFO", cfg.Global.LogLevel)
	assert.Equal(t, "text", cfg.Global.LogFormat)
	assert.Equal(t, ":8000", cfg.Server.Address)
	assert.Equal(t, ErrorFormatJSON, cfg.Server.ErrorFormat)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadHeaderTimeout)
	assert.True(t, cfg.Server.MetricsEnabled)
	assert.Equal(t, "/metrics", cfg.Server.MetricsPath)
	assert.Equal(t, "http://localhost:9000", cfg.Upstream.S3Endpoint)
	assert.Equal(t, "us-east-1", cfg.Upstream.Region)
	assert.True(t, cfg.Upstream.ForcePathStyle)
	assert.Equal(t, 30*time.Second, cfg.Upstream.HealthCheckInterval)
	assert.Equal(t, ByteSize(8192), cfg.Fetch.ChunkSize)
	assert.Equal(t, 1, cfg.Fetch.Concurrency)
	assert.False(t, cfg.Fetch.CoalesceRanges)

	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Configuration)
		errMsg string
	}{
		{"invalid log level", func(c *Configuration) { c.Global.LogLevel = "LOUD" }, "invalid log_level"},
		{"invalid log format", func(c *Configuration) { c.Global.LogFormat = "xml" }, "invalid log_format"},
		{"empty address", func(c *Configuration) { c.Server.Address = "" }, "address must not be empty"},
		{"invalid error format", func(c *Configuration) { c.Server.ErrorFormat = "yaml" }, "invalid error_format"},
		{"relative endpoint", func(c *Configuration) { c.Upstream.S3Endpoint = "localhost:9000/x" }, "s3_endpoint must be an absolute URL"},
		{"empty endpoint", func(c *Configuration) { c.Upstream.S3Endpoint = "" }, "s3_endpoint must be an absolute URL"},
		{"client cache", func(c *Configuration) { c.Upstream.ClientCacheSize = 0 }, "client_cache_size"},
		{"negative health interval", func(c *Configuration) { c.Upstream.HealthCheckInterval = -time.Second }, "health_check_interval"},
		{"zero chunk", func(c *Configuration) { c.Fetch.ChunkSize = 0 }, "chunk_size must be a positive multiple of 8"},
		{"unaligned chunk", func(c *Configuration) { c.Fetch.ChunkSize = 1001 }, "chunk_size must be a positive multiple of 8"},
		{"concurrency", func(c *Configuration) { c.Fetch.Concurrency = 0 }, "concurrency must be at least 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefault()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
global:
  log_level: DEBUG
  log_format: json
server:
  address: "127.0.0.1:9100"
  error_format: xml
  metrics_enabled: false
upstream:
  s3_endpoint: https://s3.example.org
  region: eu-west-2
fetch:
  chunk_size: 64KB
  concurrency: 8
  coalesce_ranges: true
`)

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(path))

	assert.Equal(t, "DEBUG", cfg.Global.LogLevel)
	assert.Equal(t, "json", cfg.Global.LogFormat)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Address)
	assert.Equal(t, ErrorFormatXML, cfg.Server.ErrorFormat)
	assert.False(t, cfg.Server.MetricsEnabled)
	assert.Equal(t, "https://s3.example.org", cfg.Upstream.S3Endpoint)
	assert.Equal(t, "eu-west-2", cfg.Upstream.Region)
	assert.Equal(t, ByteSize(64<<10), cfg.Fetch.ChunkSize)
	assert.Equal(t, 8, cfg.Fetch.Concurrency)
	assert.True(t, cfg.Fetch.CoalesceRanges)

	// Untouched sections keep their defaults.
	assert.Equal(t, 120*time.Second, cfg.Server.IdleTimeout)
	assert.True(t, cfg.Upstream.ForcePathStyle)
}

func TestLoadFromFileNumericChunkSize(t *testing.T) {
	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromFile(writeConfig(t, "fetch:\n  chunk_size: 4096\n")))
	assert.Equal(t, ByteSize(4096), cfg.Fetch.ChunkSize)
	assert.Equal(t, "4.0 KB", cfg.Fetch.ChunkSize.String())
}

func TestLoadFromFileErrors(t *testing.T) {
	cfg := NewDefault()

	err := cfg.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")

	err = cfg.LoadFromFile(writeConfig(t, "fetch: [not, a, map"))
	assert.ErrorContains(t, err, "failed to parse config file")

	err = cfg.LoadFromFile(writeConfig(t, "fetch:\n  chunk_size: huge\n"))
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("S3_ACTIVE_STORAGE_LOG_LEVEL", "WARN")
	t.Setenv("S3_ACTIVE_STORAGE_ADDRESS", ":9999")
	t.Setenv("S3_ACTIVE_STORAGE_S3_ENDPOINT", "http://minio:9000")
	t.Setenv("S3_ACTIVE_STORAGE_ERROR_FORMAT", "XML")
	t.Setenv("S3_ACTIVE_STORAGE_CHUNK_SIZE", "16KB")
	t.Setenv("S3_ACTIVE_STORAGE_FETCH_CONCURRENCY", "4")
	t.Setenv("S3_ACTIVE_STORAGE_COALESCE_RANGES", "true")
	t.Setenv("S3_ACTIVE_STORAGE_METRICS_ENABLED", "false")

	cfg := NewDefault()
	require.NoError(t, cfg.LoadFromEnv())

	assert.Equal(t, "WARN", cfg.Global.LogLevel)
	assert.Equal(t, ":9999", cfg.Server.Address)
	assert.Equal(t, "http://minio:9000", cfg.Upstream.S3Endpoint)
	assert.Equal(t, ErrorFormatXML, cfg.Server.ErrorFormat)
	assert.Equal(t, ByteSize(16<<10), cfg.Fetch.ChunkSize)
	assert.Equal(t, 4, cfg.Fetch.Concurrency)
	assert.True(t, cfg.Fetch.CoalesceRanges)
	assert.False(t, cfg.Server.MetricsEnabled)
}

func TestLoadFromEnvMalformed(t *testing.T) {
	t.Setenv("S3_ACTIVE_STORAGE_FETCH_CONCURRENCY", "many")
	assert.ErrorContains(t, NewDefault().LoadFromEnv(), "S3_ACTIVE_STORAGE_FETCH_CONCURRENCY")
}

func TestLoadPrecedence(t *testing.T) {
	path := writeConfig(t, "upstream:\n  s3_endpoint: http://file:9000\n  region: file-region\n")
	t.Setenv("S3_ACTIVE_STORAGE_S3_ENDPOINT", "http://env:9000")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env:9000", cfg.Upstream.S3Endpoint)
	assert.Equal(t, "file-region", cfg.Upstream.Region)

	_, err = Load(writeConfig(t, "fetch:\n  concurrency: 0\n"))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestResolvePath(t *testing.T) {
	assert.Equal(t, "/tmp/flag.yaml", ResolvePath("/tmp/flag.yaml"))

	t.Setenv("S3_ACTIVE_STORAGE_CONFIG", "/tmp/env.yaml")
	assert.Equal(t, "/tmp/env.yaml", ResolvePath(""))
}

func TestDerivedSettings(t *testing.T) {
	cfg := NewDefault()
	cfg.Upstream.Region = "ap-south-1"
	cfg.Upstream.ForcePathStyle = false
	cfg.Fetch.Concurrency = 6
	cfg.Fetch.CoalesceRanges = true
	cfg.Server.MetricsPath = "/m"

	sc := cfg.StorageConfig()
	assert.Equal(t, "ap-south-1", sc.Region)
	assert.False(t, sc.ForcePathStyle)
	assert.Equal(t, 64, sc.ClientCacheSize)

	fo := cfg.FetchOptions()
	assert.Equal(t, 8192, fo.ChunkSize)
	assert.Equal(t, 6, fo.Concurrency)
	assert.True(t, fo.Coalesce)

	mc := cfg.MetricsConfig()
	assert.True(t, mc.Enabled)
	assert.Equal(t, "/m", mc.Path)

	lc := cfg.LoggerConfig()
	assert.Equal(t, "INFO", lc.Level)
	assert.Equal(t, "text", lc.Format)
}
