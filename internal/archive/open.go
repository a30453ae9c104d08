package archive

import (
	"context"
	"fmt"
	"strings"
	"workspacestore/internal/blob"
)

// Driver names a sink implementation.
type Driver string

const (
	DriverBlob     Driver = "blob"
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// Config selects and configures a sink.
type Config struct {
	Driver     Driver
	Blob       blob.Config
	SQLitePath string
	DSN        string
}

// Open constructs the sink selected by cfg.Driver; empty means blob.
func Open(ctx context.Context, cfg Config) (Sink, error) {
	switch Driver(strings.ToLower(string(cfg.Driver))) {
	case "", DriverBlob:
		store, err := blob.Open(ctx, cfg.Blob)
		if err != nil {
			return nil, fmt.Errorf("open blob sink: %w", err)
		}
		return NewBlobSink(store), nil
	case DriverSQLite:
		return NewSQLiteSink(ctx, cfg.SQLitePath)
	case DriverPostgres:
		return NewPostgresSink(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown archive driver %q", cfg.Driver)
	}
}
