package config

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/activestorage/s3-active-storage/internal/fetch"
	"github.com/activestorage/s3-active-storage/internal/metrics"
	"github.com/activestorage/s3-active-storage/internal/storage/s3"
	"github.com/activestorage/s3-active-storage/pkg/utils"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "S3_ACTIVE_STORAGE_"

	// DefaultPath is read when no config file is named and it exists.
	DefaultPath = "/etc/s3-active-storage/config.yaml"
)

// Error document formats.
const (
	ErrorFormatJSON = "json"
	ErrorFormatXML  = "xml"
)

// Configuration represents the complete application configuration
type Configuration struct {
	Global   GlobalConfig   `yaml:"global"`
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Fetch    FetchConfig    `yaml:"fetch"`
}

// GlobalConfig represents global application settings
type GlobalConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	LogFile   string `yaml:"log_file"`
}

// ServerConfig represents the HTTP listener
type ServerConfig struct {
	Address           string        `yaml:"address"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	ErrorFormat       string        `yaml:"error_format"`
	MetricsEnabled    bool          `yaml:"metrics_enabled"`
	MetricsPath       string        `yaml:"metrics_path"`
}

// UpstreamConfig represents the S3 store being proxied
type UpstreamConfig struct {
	S3Endpoint      string        `yaml:"s3_endpoint"`
	Region          string        `yaml:"region"`
	ForcePathStyle  bool          `yaml:"force_path_style"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	ClientCacheSize int           `yaml:"client_cache_size"`

	// HealthCheckInterval between reachability probes of s3_endpoint; 0
	// disables probing.
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// FetchConfig controls how byte ranges are read upstream
type FetchConfig struct {
	ChunkSize      ByteSize `yaml:"chunk_size"`
	Concurrency    int      `yaml:"concurrency"`
	CoalesceRanges bool     `yaml:"coalesce_ranges"`
}

// ByteSize is a byte count written either as a number or as a
// human-readable string such as "8KB".
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	n, err := utils.ParseBytes(s)
	if err != nil {
		return err
	}
	*b = ByteSize(n)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (b ByteSize) MarshalYAML() (interface{}, error) {
	return int64(b), nil
}

func (b ByteSize) String() string {
	return utils.FormatBytes(int64(b))
}

// NewDefault returns a configuration with sensible defaults
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:  "INFO",
			LogFormat: utils.FormatText,
			LogFile:   "",
		},
		Server: ServerConfig{
			Address:           ":8000",
			ReadHeaderTimeout: 30 * time.Second,
			IdleTimeout:       120 * time.Second,
			ShutdownTimeout:   15 * time.Second,
			ErrorFormat:       ErrorFormatJSON,
			MetricsEnabled:    true,
			MetricsPath:       "/metrics",
		},
		Upstream: UpstreamConfig{
			S3Endpoint:          "http://localhost:9000",
			Region:              "us-east-1",
			ForcePathStyle:      true,
			ConnectTimeout:      10 * time.Second,
			ClientCacheSize:     64,
			HealthCheckInterval: 30 * time.Second,
		},
		Fetch: FetchConfig{
			ChunkSize:      fetch.DefaultChunkSize,
			Concurrency:    1,
			CoalesceRanges: false,
		},
	}
}

// Load builds the effective configuration: defaults, then the file at path
// (if any), then environment overrides. The result is validated.
func Load(path string) (*Configuration, error) {
	cfg := NewDefault()
	if path != "" {
		if err := cfg.LoadFromFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// ResolvePath picks the config file: the explicit flag value, then
// S3_ACTIVE_STORAGE_CONFIG, then DefaultPath when it exists.
func ResolvePath(flag string) string {
	if flag != "" {
		return flag
	}
	if val := os.Getenv(EnvPrefix + "CONFIG"); val != "" {
		return val
	}
	if _, err := os.Stat(DefaultPath); err == nil {
		return DefaultPath
	}
	return ""
}

// LoadFromFile loads configuration from a YAML file
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables
func (c *Configuration) LoadFromEnv() error {
	env := func(name string) string { return os.Getenv(EnvPrefix + name) }

	// Global settings
	if val := env("LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := env("LOG_FORMAT"); val != "" {
		c.Global.LogFormat = val
	}
	if val := env("LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}

	// Server settings
	if val := env("ADDRESS"); val != "" {
		c.Server.Address = val
	}
	if val := env("ERROR_FORMAT"); val != "" {
		c.Server.ErrorFormat = strings.ToLower(val)
	}
	if val := env("METRICS_ENABLED"); val != "" {
		c.Server.MetricsEnabled = strings.ToLower(val) == "true"
	}

	// Upstream settings
	if val := env("S3_ENDPOINT"); val != "" {
		c.Upstream.S3Endpoint = val
	}
	if val := env("REGION"); val != "" {
		c.Upstream.Region = val
	}

	// Fetch settings
	if val := env("CHUNK_SIZE"); val != "" {
		size, err := utils.ParseBytes(val)
		if err != nil {
			return fmt.Errorf("%sCHUNK_SIZE: %w", EnvPrefix, err)
		}
		c.Fetch.ChunkSize = ByteSize(size)
	}
	if val := env("FETCH_CONCURRENCY"); val != "" {
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%sFETCH_CONCURRENCY: %w", EnvPrefix, err)
		}
		c.Fetch.Concurrency = n
	}
	if val := env("COALESCE_RANGES"); val != "" {
		c.Fetch.CoalesceRanges = strings.ToLower(val) == "true"
	}

	return nil
}

// Validate validates the configuration
func (c *Configuration) Validate() error {
	if _, err := utils.ParseLogLevel(c.Global.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level: %s (must be one of: DEBUG, INFO, WARN, ERROR)", c.Global.LogLevel)
	}
	if !slices.Contains([]string{"", utils.FormatText, utils.FormatJSON}, strings.ToLower(c.Global.LogFormat)) {
		return fmt.Errorf("invalid log_format: %s (must be one of: text, json)", c.Global.LogFormat)
	}

	if c.Server.Address == "" {
		return fmt.Errorf("address must not be empty")
	}
	if c.Server.ErrorFormat != ErrorFormatJSON && c.Server.ErrorFormat != ErrorFormatXML {
		return fmt.Errorf("invalid error_format: %s (must be one of: json, xml)", c.Server.ErrorFormat)
	}

	u, err := url.Parse(c.Upstream.S3Endpoint)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("s3_endpoint must be an absolute URL, got %q", c.Upstream.S3Endpoint)
	}
	if c.Upstream.ClientCacheSize <= 0 {
		return fmt.Errorf("client_cache_size must be greater than 0")
	}
	if c.Upstream.HealthCheckInterval < 0 {
		return fmt.Errorf("health_check_interval must not be negative")
	}

	// Every dtype width divides 8, so a multiple of 8 never splits an element.
	if c.Fetch.ChunkSize <= 0 || c.Fetch.ChunkSize%8 != 0 {
		return fmt.Errorf("chunk_size must be a positive multiple of 8, got %d", c.Fetch.ChunkSize)
	}
	if c.Fetch.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	return nil
}

// StorageConfig returns the upstream client settings.
func (c *Configuration) StorageConfig() *s3.Config {
	sc := s3.NewDefaultConfig()
	sc.Region = c.Upstream.Region
	sc.ForcePathStyle = c.Upstream.ForcePathStyle
	sc.ConnectTimeout = c.Upstream.ConnectTimeout
	sc.ClientCacheSize = c.Upstream.ClientCacheSize
	return sc
}

// FetchOptions returns the range fetcher settings.
func (c *Configuration) FetchOptions() fetch.Options {
	return fetch.Options{
		ChunkSize:   int(c.Fetch.ChunkSize),
		Concurrency: c.Fetch.Concurrency,
		Coalesce:    c.Fetch.CoalesceRanges,
	}
}

// MetricsConfig returns the metrics collector settings.
func (c *Configuration) MetricsConfig() *metrics.Config {
	return &metrics.Config{
		Enabled:   c.Server.MetricsEnabled,
		Path:      c.Server.MetricsPath,
		Namespace: "activestorage",
	}
}

// LoggerConfig returns the root logger settings.
func (c *Configuration) LoggerConfig() utils.LoggerConfig {
	return utils.LoggerConfig{
		Level:  c.Global.LogLevel,
		Format: c.Global.LogFormat,
		File:   c.Global.LogFile,
	}
}
