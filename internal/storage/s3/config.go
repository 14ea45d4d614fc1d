package s3

import (
	"time"
)

// Config represents upstream S3 connection configuration
type Config struct {
	Region         string `yaml:"region"`
	ForcePathStyle bool   `yaml:"force_path_style"`

	// Performance settings
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ClientCacheSize int           `yaml:"client_cache_size"`

	// Advanced settings
	UseDualStack bool `yaml:"use_dual_stack"`
}

// NewDefaultConfig returns a configuration with sensible defaults
func NewDefaultConfig() *Config {
	return &Config{
		Region:          "us-east-1",
		ForcePathStyle:  true,
		ConnectTimeout:  10 * time.Second,
		RequestTimeout:  0, // bodies are streamed, so no overall deadline
		ClientCacheSize: 64,
	}
}
