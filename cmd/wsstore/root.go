package main

import (
	"context"
	"fmt"
	"workspacestore/internal/archive"
	"workspacestore/internal/config"
	"workspacestore/internal/core"
	"workspacestore/internal/logx"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions holds global flags and the state resolved from them before a
// subcommand runs.
type rootOptions struct {
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "wsstore",
		Short:        "Workspace entity store tooling",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			logOpts := cfg.LogOptions()
			logOpts.Console = cmd.ErrOrStderr()
			opts.cfg = cfg
			opts.logger = logx.New("wsstore", logOpts)
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (yaml, json or toml)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override log.level")

	cmd.AddCommand(newDemoCommand(opts))
	cmd.AddCommand(newInspectCommand(opts))
	cmd.AddCommand(newListCommand(opts))
	cmd.AddCommand(newTypesCommand(opts))
	return cmd
}

// archiver opens the configured sink and binds it to reg. The caller closes
// the returned sink.
func (o *rootOptions) archiver(ctx context.Context, reg *core.Registry) (*archive.Archiver, archive.Sink, error) {
	sink, err := archive.Open(ctx, o.cfg.ArchiveSink())
	if err != nil {
		return nil, nil, fmt.Errorf("open archive: %w", err)
	}
	a, err := archive.NewArchiver(sink, reg, archive.WithLogger(logx.NewZapLogger(o.logger.Named("archive"))))
	if err != nil {
		_ = sink.Close()
		return nil, nil, err
	}
	return a, sink, nil
}
