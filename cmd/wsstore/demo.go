package main

import (
	"fmt"
	"io"
	"sort"
	"workspacestore/internal/core"
	"workspacestore/internal/entities"
	"workspacestore/internal/logx"
	"workspacestore/pkg/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type demoOptions struct {
	modules     int
	source      string
	showMetrics bool
}

func newDemoCommand(root *rootOptions) *cobra.Command {
	opts := &demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Populate a sample workspace and archive the resulting snapshot",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDemo(cmd, root, opts)
		},
	}
	cmd.Flags().IntVar(&opts.modules, "modules", 2, "number of sample modules")
	cmd.Flags().StringVar(&opts.source, "source", "/workspace", "location recorded as the entity source")
	cmd.Flags().BoolVar(&opts.showMetrics, "metrics", false, "print store metrics after the run, even when metrics.enabled is false")
	return cmd
}

func demoRules() (*domain.RulesEngine, error) {
	tagBudget, err := core.NewExprRule("widget_tag_budget", entities.WidgetType, "tags == nil || len(tags) <= 8", domain.SeverityWarn, "widgets should carry at most 8 tags")
	if err != nil {
		return nil, err
	}
	return core.NewDefaultRulesEngine(
		core.NewUniqueFieldRule(entities.ModuleType, "name"),
		core.NewUniqueFieldRule(entities.WidgetType, "name"),
		core.NewChildLimitRule(entities.ModuleFacets, 4),
		tagBudget,
	), nil
}

func runDemo(cmd *cobra.Command, root *rootOptions, opts *demoOptions) error {
	if opts.modules < 1 {
		return fmt.Errorf("--modules must be at least 1")
	}
	ctx := cmd.Context()
	reg, err := entities.NewRegistry()
	if err != nil {
		return err
	}
	engine, err := demoRules()
	if err != nil {
		return err
	}
	storeOpts := []core.Option{core.WithLogger(logx.NewZapLogger(root.logger.Named("store")))}
	promReg := prometheus.NewRegistry()
	if root.cfg.Metrics.Enabled || opts.showMetrics {
		storeOpts = append(storeOpts, core.WithMetrics(core.NewMetrics(root.cfg.Metrics.Namespace, promReg)))
	}
	store, err := core.NewStore(reg, engine, storeOpts...)
	if err != nil {
		return err
	}
	src := domain.NewEntitySource("local", opts.source)

	var moduleIDs []domain.EntityID
	if _, err := store.RunInTransaction(ctx, func(b *core.Builder) error {
		for i := range opts.modules {
			name := fmt.Sprintf("module-%d", i+1)
			m := entities.NewModule(src)
			if err := m.SetName(name); err != nil {
				return err
			}
			if _, err := entities.NewContentRoot(src, fmt.Sprintf("file://%s/%s", opts.source, name), m); err != nil {
				return err
			}
			if _, err := entities.NewFacet(src, "java", entities.JavaFacet{LanguageLevel: 21}, m); err != nil {
				return err
			}
			if _, err := entities.NewOutput(src, fmt.Sprintf("out/%s", name), m); err != nil {
				return err
			}
			if err := m.ApplyToBuilder(b); err != nil {
				return err
			}
			moduleIDs = append(moduleIDs, m.ID())
		}
		w := entities.NewWidget(src)
		if err := w.SetName("toolbar"); err != nil {
			return err
		}
		if err := w.SetTags([]string{"ui"}); err != nil {
			return err
		}
		return w.ApplyToBuilder(b)
	}); err != nil {
		return fmt.Errorf("populate workspace: %w", err)
	}

	// chain every module onto the first one
	if _, err := store.RunInTransaction(ctx, func(b *core.Builder) error {
		for _, id := range moduleIDs[1:] {
			if err := entities.ModifyModule(b, id, func(m *entities.ModuleBuilder) error {
				deps, err := m.Dependencies()
				if err != nil {
					return err
				}
				return deps.Append("module-1")
			}); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return fmt.Errorf("link modules: %w", err)
	}

	a, sink, err := root.archiver(ctx, reg)
	if err != nil {
		return err
	}
	defer func() { _ = sink.Close() }()
	snap := store.Current()
	ref, err := a.Archive(ctx, snap)
	if err != nil {
		return err
	}
	root.logger.Info("demo complete", zap.Stringer("ref", ref), zap.Int("entities", snap.Len()))
	fmt.Fprintf(cmd.OutOrStdout(), "archived %s (%d entities)\n", ref, snap.Len())
	if opts.showMetrics {
		return printMetrics(cmd.OutOrStdout(), promReg)
	}
	return nil
}

// printMetrics writes one "name{labels} value" line per counter sample.
func printMetrics(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return err
	}
	var lines []string
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetCounter() == nil {
				continue
			}
			labels := ""
			for i, lp := range m.GetLabel() {
				if i > 0 {
					labels += ","
				}
				labels += fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue())
			}
			lines = append(lines, fmt.Sprintf("%s{%s} %g", mf.GetName(), labels, m.GetCounter().GetValue()))
		}
	}
	sort.Strings(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}
