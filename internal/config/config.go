// Package config loads trawlgrid run configuration from YAML and the
// process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Blob drivers recognised by BlobConfig.Driver.
const (
	BlobDriverFilesystem = "fs"
	BlobDriverS3         = "s3"
	BlobDriverMemory     = "memory"
)

// Config is the complete run configuration.
type Config struct {
	Inputs   InputsConfig   `yaml:"inputs"`
	Filter   FilterConfig   `yaml:"filter"`
	Export   ExportConfig   `yaml:"export"`
	Blob     BlobConfig     `yaml:"blob"`
	Database DatabaseConfig `yaml:"database"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// InputsConfig names the survey files.
type InputsConfig struct {
	Hauls    string `yaml:"hauls"`
	Catch    string `yaml:"catch"`
	Taxonomy string `yaml:"taxonomy"`
}

// FilterConfig controls which hauls enter the cross product.
type FilterConfig struct {
	// MinPerformance is the lowest tow performance code treated as
	// satisfactory.
	MinPerformance float64 `yaml:"min_performance"`
}

// ExportConfig selects the artifact formats written per run.
type ExportConfig struct {
	Formats []string `yaml:"formats"`
	Prefix  string   `yaml:"prefix"`
}

// BlobConfig selects and configures the artifact store.
type BlobConfig struct {
	Driver string       `yaml:"driver"`
	FSRoot string       `yaml:"fs_root"`
	S3     S3BlobConfig `yaml:"s3"`
}

// S3BlobConfig configures an S3 or MinIO bucket. Credentials fall back to the
// default AWS chain when left empty.
type S3BlobConfig struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// DatabaseConfig selects optional table sinks. Empty values disable a sink.
type DatabaseConfig struct {
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// MetricsConfig controls the prometheus text dump written after a run.
type MetricsConfig struct {
	Path string `yaml:"path"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Filter: FilterConfig{MinPerformance: 0},
		Export: ExportConfig{Formats: []string{"csv", "json"}, Prefix: "runs"},
		Blob:   BlobConfig{Driver: BlobDriverFilesystem, FSRoot: "./blobdata", S3: S3BlobConfig{Region: "us-east-1"}},
		Log:    LogConfig{Level: "info"},
	}
}

// Load reads path (when non-empty) over the defaults and then applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TRAWLGRID_* variables:
//
//	TRAWLGRID_BLOB_DRIVER=fs|s3|memory
//	TRAWLGRID_BLOB_FS_ROOT=<dir>
//	TRAWLGRID_BLOB_S3_BUCKET / _REGION / _ENDPOINT / _PATH_STYLE
//	TRAWLGRID_SQLITE_PATH, TRAWLGRID_POSTGRES_DSN
//	TRAWLGRID_METRICS_PATH, TRAWLGRID_LOG_LEVEL
//	TRAWLGRID_MIN_PERFORMANCE
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	str("TRAWLGRID_BLOB_DRIVER", &c.Blob.Driver)
	str("TRAWLGRID_BLOB_FS_ROOT", &c.Blob.FSRoot)
	str("TRAWLGRID_BLOB_S3_BUCKET", &c.Blob.S3.Bucket)
	str("TRAWLGRID_BLOB_S3_REGION", &c.Blob.S3.Region)
	str("TRAWLGRID_BLOB_S3_ENDPOINT", &c.Blob.S3.Endpoint)
	str("TRAWLGRID_SQLITE_PATH", &c.Database.SQLitePath)
	str("TRAWLGRID_POSTGRES_DSN", &c.Database.PostgresDSN)
	str("TRAWLGRID_METRICS_PATH", &c.Metrics.Path)
	str("TRAWLGRID_LOG_LEVEL", &c.Log.Level)
	if v, ok := lookup("TRAWLGRID_BLOB_S3_PATH_STYLE"); ok && v != "" {
		c.Blob.S3.PathStyle = strings.EqualFold(v, "true")
	}
	if v, ok := lookup("TRAWLGRID_MIN_PERFORMANCE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("TRAWLGRID_MIN_PERFORMANCE: %w", err)
		}
		c.Filter.MinPerformance = f
	}
	return nil
}

// Validate checks that the configuration is usable for a run.
func (c *Config) Validate() error {
	if c.Inputs.Hauls == "" {
		return fmt.Errorf("inputs.hauls is required")
	}
	if c.Inputs.Catch == "" {
		return fmt.Errorf("inputs.catch is required")
	}
	if c.Inputs.Taxonomy == "" {
		return fmt.Errorf("inputs.taxonomy is required")
	}
	switch c.Blob.Driver {
	case BlobDriverFilesystem, BlobDriverMemory:
	case BlobDriverS3:
		if c.Blob.S3.Bucket == "" {
			return fmt.Errorf("blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("unknown blob driver %q", c.Blob.Driver)
	}
	for _, f := range c.Export.Formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "csv", "json", "ndjson":
		default:
			return fmt.Errorf("unsupported export format %q", f)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}
