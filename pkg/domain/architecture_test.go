package domain

import (
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/tools/go/packages"
)

// layerRules lists, per package tree, the module packages it must not import.
// The domain contracts sit at the bottom, containers below the store core, and
// the core knows nothing about concrete entities, archiving or configuration.
var layerRules = []struct {
	pkg       string
	forbidden []string
}{
	{pkg: "workspacestore/pkg/domain", forbidden: []string{"workspacestore/internal", "workspacestore/cmd"}},
	{pkg: "workspacestore/internal/containers", forbidden: []string{
		"workspacestore/internal/core",
		"workspacestore/internal/entities",
		"workspacestore/internal/archive",
	}},
	{pkg: "workspacestore/internal/core", forbidden: []string{
		"workspacestore/internal/entities",
		"workspacestore/internal/archive",
		"workspacestore/internal/blob",
		"workspacestore/internal/config",
	}},
	{pkg: "workspacestore/internal/blob", forbidden: []string{
		"workspacestore/internal/core",
		"workspacestore/internal/archive",
	}},
	{pkg: "workspacestore/internal", forbidden: []string{"workspacestore/cmd"}},
}

// TestPackageLayering loads the production packages of the module and fails
// on every import that crosses a layer boundary.
func TestPackageLayering(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, "workspacestore/...")
	require.NoError(t, err, "load packages")
	require.NotEmpty(t, pkgs)

	seen := make(map[string]struct{})
	for _, pkg := range pkgs {
		for _, e := range pkg.Errors {
			t.Errorf("%s: %v", pkg.PkgPath, e)
		}
		for _, rule := range layerRules {
			if !within(pkg.PkgPath, rule.pkg) {
				continue
			}
			for importPath := range pkg.Imports {
				for _, f := range rule.forbidden {
					if within(importPath, f) {
						seen[pkg.PkgPath+": "+importPath] = struct{}{}
					}
				}
			}
		}
	}

	if len(seen) > 0 {
		violations := make([]string, 0, len(seen))
		for v := range seen {
			violations = append(violations, v)
		}
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden import: %s", v)
		}
		t.Fatalf("found %d imports crossing a layer boundary", len(violations))
	}
}

func within(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
