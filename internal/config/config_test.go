package config

import (
	"os"
	"path/filepath"
	"testing"
	"workspacestore/internal/archive"
	"workspacestore/internal/blob"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "blob", cfg.Archive.Driver)
	assert.Equal(t, "fs", cfg.Archive.Blob.Driver)
	assert.Equal(t, "./archives", cfg.Archive.Blob.Root)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "wsstore", cfg.Metrics.Namespace)

	sink := cfg.ArchiveSink()
	assert.Equal(t, archive.DriverBlob, sink.Driver)
	assert.Equal(t, blob.DriverFilesystem, sink.Blob.Driver)
	assert.Equal(t, "us-east-1", sink.Blob.S3.Region)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, "wsstore.yaml", `
log:
  level: debug
  file: /tmp/ws.log
archive:
  driver: sqlite
  sqlite_path: /var/lib/ws.db
  blob:
    driver: s3
    s3:
      bucket: snaps
      path_style: true
`)
	t.Setenv("WSSTORE_ARCHIVE_SQLITE_PATH", "/override.db")
	t.Setenv("WSSTORE_METRICS_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/ws.log", cfg.LogOptions().File)
	assert.Equal(t, 50, cfg.LogOptions().MaxSizeMB)
	assert.Equal(t, "/override.db", cfg.Archive.SQLitePath)
	assert.False(t, cfg.Metrics.Enabled)

	sink := cfg.ArchiveSink()
	assert.Equal(t, archive.DriverSQLite, sink.Driver)
	assert.Equal(t, "/override.db", sink.SQLitePath)
	assert.Equal(t, blob.DriverS3, sink.Blob.Driver)
	assert.Equal(t, "snaps", sink.Blob.S3.Bucket)
	assert.True(t, sink.Blob.S3.PathStyle)
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")

	t.Setenv("WSSTORE_ARCHIVE_DRIVER", "tape")
	_, err = Load("")
	assert.ErrorContains(t, err, `unknown archive driver "tape"`)
}

func TestValidateBlobDriver(t *testing.T) {
	cfg := Config{Archive: ArchiveConfig{Driver: "blob", Blob: BlobConfig{Driver: "s3"}}}
	assert.ErrorContains(t, cfg.Validate(), "bucket is required")
	cfg.Archive.Blob.Driver = "nfs"
	assert.ErrorContains(t, cfg.Validate(), `unknown blob driver "nfs"`)
	cfg.Archive.Blob.Driver = "MEMORY"
	assert.NoError(t, cfg.Validate())
}
