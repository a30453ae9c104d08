package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"workspacestore/internal/archive"
	"workspacestore/internal/core"
	"workspacestore/internal/entities"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// parseRef accepts "<lineage>" or "<lineage>@<version>".
func parseRef(s string) (uuid.UUID, uint64, bool, error) {
	lineage, version, hasVersion := strings.Cut(s, "@")
	id, err := uuid.Parse(lineage)
	if err != nil {
		return uuid.Nil, 0, false, fmt.Errorf("invalid lineage %q: %w", lineage, err)
	}
	if !hasVersion {
		return id, 0, false, nil
	}
	v, err := strconv.ParseUint(version, 10, 64)
	if err != nil {
		return uuid.Nil, 0, false, fmt.Errorf("invalid version %q: %w", version, err)
	}
	return id, v, true, nil
}

func newInspectCommand(root *rootOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect [lineage[@version]]",
		Short: "Restore an archived snapshot and print its entities",
		Long:  "Without an argument the most recently archived snapshot is restored.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			reg, err := entities.NewRegistry()
			if err != nil {
				return err
			}
			a, sink, err := root.archiver(ctx, reg)
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()

			var snap *core.Snapshot
			switch {
			case len(args) == 0:
				snap, err = a.RestoreLatest(ctx, uuid.Nil)
			default:
				lineage, version, exact, perr := parseRef(args[0])
				if perr != nil {
					return perr
				}
				if exact {
					snap, err = a.Restore(ctx, archive.Ref{Lineage: lineage, Version: version})
				} else {
					snap, err = a.RestoreLatest(ctx, lineage)
				}
			}
			if err != nil {
				return err
			}
			return printSnapshot(cmd.OutOrStdout(), snap, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print entities as JSON lines")
	return cmd
}

type entityView struct {
	ID      string            `json:"id"`
	Source  string            `json:"source"`
	Fields  map[string]any    `json:"fields"`
	Parents map[string]string `json:"parents,omitempty"`
}

func viewsOf(snap *core.Snapshot) []entityView {
	var out []entityView
	for _, id := range snap.IDs() {
		data, _ := snap.EntityData(id)
		v := entityView{ID: id.String(), Source: data.Source().String(), Fields: data.Fields()}
		for conn, parent := range snap.Links(id) {
			if v.Parents == nil {
				v.Parents = make(map[string]string)
			}
			v.Parents[conn.String()] = parent.String()
		}
		out = append(out, v)
	}
	return out
}

func printSnapshot(w io.Writer, snap *core.Snapshot, asJSON bool) error {
	views := viewsOf(snap)
	if asJSON {
		enc := json.NewEncoder(w)
		for _, v := range views {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	}
	fmt.Fprintf(w, "lineage %s version %d (%d entities)\n", snap.Lineage(), snap.Version(), snap.Len())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSOURCE\tFIELDS")
	for _, v := range views {
		fields, err := json.Marshal(v.Fields)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", v.ID, v.Source, fields)
	}
	return tw.Flush()
}

func newListCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list [lineage]",
		Short: "List archived snapshots",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lineage := uuid.Nil
			if len(args) == 1 {
				id, _, _, err := parseRef(args[0])
				if err != nil {
					return err
				}
				lineage = id
			}
			sink, err := archive.Open(cmd.Context(), root.cfg.ArchiveSink())
			if err != nil {
				return err
			}
			defer func() { _ = sink.Close() }()
			refs, err := sink.List(cmd.Context(), lineage)
			if err != nil {
				return err
			}
			for _, ref := range refs {
				fmt.Fprintln(cmd.OutOrStdout(), ref)
			}
			return nil
		},
	}
}

func newTypesCommand(*rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "Print the registered entity types and their connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := entities.NewRegistry()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			for _, t := range reg.Types() {
				fmt.Fprintln(w, t)
				for _, conn := range reg.ConnectionsOf(t) {
					fmt.Fprintf(w, "  %s\n", conn)
				}
			}
			return nil
		},
	}
}
