// Package config loads runtime settings for the wsstore tooling from an
// optional file and WSSTORE_* environment variables.
package config

import (
	"fmt"
	"strings"
	"workspacestore/internal/archive"
	"workspacestore/internal/blob"
	"workspacestore/internal/logx"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. WSSTORE_LOG_LEVEL.
const EnvPrefix = "WSSTORE"

// Config is the root settings tree.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
	Dev        bool   `mapstructure:"dev"`
}

type ArchiveConfig struct {
	// Driver is one of blob, sqlite or postgres.
	Driver      string     `mapstructure:"driver"`
	Blob        BlobConfig `mapstructure:"blob"`
	SQLitePath  string     `mapstructure:"sqlite_path"`
	PostgresDSN string     `mapstructure:"postgres_dsn"`
}

type BlobConfig struct {
	// Driver is one of fs, memory or s3.
	Driver string   `mapstructure:"driver"`
	Root   string   `mapstructure:"root"`
	S3     S3Config `mapstructure:"s3"`
}

type S3Config struct {
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	PathStyle       bool   `mapstructure:"path_style"`
}

type MetricsConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Namespace string `mapstructure:"namespace"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", false)
	v.SetDefault("log.dev", false)

	v.SetDefault("archive.driver", string(archive.DriverBlob))
	v.SetDefault("archive.blob.driver", string(blob.DriverFilesystem))
	v.SetDefault("archive.blob.root", "./archives")
	v.SetDefault("archive.blob.s3.bucket", "")
	v.SetDefault("archive.blob.s3.region", "us-east-1")
	v.SetDefault("archive.blob.s3.endpoint", "")
	v.SetDefault("archive.blob.s3.access_key_id", "")
	v.SetDefault("archive.blob.s3.secret_access_key", "")
	v.SetDefault("archive.blob.s3.path_style", false)
	v.SetDefault("archive.sqlite_path", "workspacestore.db")
	v.SetDefault("archive.postgres_dsn", "")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.namespace", "wsstore")
}

// Load reads path (when non-empty) on top of the defaults and applies
// environment overrides. Nested keys map to env names by replacing dots
// with underscores: archive.blob.root -> WSSTORE_ARCHIVE_BLOB_ROOT.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the driver selections.
func (c Config) Validate() error {
	switch archive.Driver(strings.ToLower(c.Archive.Driver)) {
	case archive.DriverBlob, archive.DriverSQLite, archive.DriverPostgres:
	default:
		return fmt.Errorf("config: unknown archive driver %q", c.Archive.Driver)
	}
	switch blob.Driver(strings.ToLower(c.Archive.Blob.Driver)) {
	case blob.DriverFilesystem, blob.DriverMemory:
	case blob.DriverS3:
		if c.Archive.Blob.S3.Bucket == "" {
			return fmt.Errorf("config: archive.blob.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("config: unknown blob driver %q", c.Archive.Blob.Driver)
	}
	return nil
}

// ArchiveSink returns the sink configuration.
func (c Config) ArchiveSink() archive.Config {
	b := c.Archive.Blob
	return archive.Config{
		Driver: archive.Driver(strings.ToLower(c.Archive.Driver)),
		Blob: blob.Config{
			Driver: blob.Driver(strings.ToLower(b.Driver)),
			Root:   b.Root,
			S3: blob.S3Config{
				Bucket:          b.S3.Bucket,
				Region:          b.S3.Region,
				Endpoint:        b.S3.Endpoint,
				AccessKeyID:     b.S3.AccessKeyID,
				SecretAccessKey: b.S3.SecretAccessKey,
				PathStyle:       b.S3.PathStyle,
			},
		},
		SQLitePath: c.Archive.SQLitePath,
		DSN:        c.Archive.PostgresDSN,
	}
}

// LogOptions returns the logger options.
func (c Config) LogOptions() logx.Options {
	return logx.Options{
		Level:      c.Log.Level,
		File:       c.Log.File,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
		Dev:        c.Log.Dev,
	}
}
