/*
Package config loads the proxy configuration.

Sources are applied in order of increasing precedence:

	compiled-in defaults (NewDefault)
	YAML file (LoadFromFile)
	S3_ACTIVE_STORAGE_* environment variables (LoadFromEnv)

The file is the --config flag, else $S3_ACTIVE_STORAGE_CONFIG, else
/etc/s3-active-storage/config.yaml when present. See ResolvePath.

Example:

	global:
	  log_level: INFO
	  log_format: json
	server:
	  address: ":8000"
	  error_format: json
	  metrics_enabled: true
	upstream:
	  s3_endpoint: http://localhost:9000
	  region: us-east-1
	fetch:
	  chunk_size: 8KB
	  concurrency: 4
	  coalesce_ranges: true

chunk_size accepts plain byte counts or K/M/G suffixed sizes, and must be a
multiple of 8 so that a chunk boundary never splits an element.
*/
package config
