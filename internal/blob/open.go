package blob

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a blob backend.
type Config struct {
	Driver Driver
	Root   string // fs driver
	S3     S3Config
}

// Open constructs the Store selected by cfg.Driver. An empty driver means
// the filesystem.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch Driver(strings.ToLower(string(cfg.Driver))) {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverMemory:
		return NewMemory(), nil
	case DriverS3:
		return NewS3(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown blob driver %q", cfg.Driver)
	}
}
