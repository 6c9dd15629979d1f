package cli

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/tuindex/internal/graph"
)

type refsOptions struct {
	json bool
}

func newRefsCmd(ro *rootOptions) *cobra.Command {
	opts := &refsOptions{}
	cmd := &cobra.Command{
		Use:   "refs <name-or-usr> [paths...]",
		Short: "List references to an entity",
		Long: `Refs indexes the given units (all units by default) and prints every
reference to the entities matching the query, sorted by file and line.

The query is either a USR such as c:@F@main or a plain entity name.

Examples:
  tuindex refs area
  tuindex refs 'c:@S@point@FI@x' src/
`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRefs(cmd, ro, opts, args[0], args[1:])
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print one JSON object per reference")
	return cmd
}

// refLine is one printed reference.
type refLine struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Col    int    `json:"col"`
	USR    string `json:"usr"`
	Name   string `json:"name"`
	Roles  string `json:"roles"`
	Parent string `json:"parent,omitempty"`
}

func runRefs(cmd *cobra.Command, ro *rootOptions, opts *refsOptions, query string, paths []string) error {
	ws, cfg, err := ro.openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	units, err := ws.Open(paths...)
	if err != nil {
		return err
	}
	snaps, errs := indexUnits(cmd.Context(), ws, units, cfg.Scheduler.MaxWorkers, newProgressReporter(nil, 0, true))

	seen := make(map[refLine]bool)
	var lines []refLine
	for i, snap := range snaps {
		if errs[i] != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v\n", relPath(ws.Root(), units[i].Path()), errs[i])
			continue
		}
		for _, id := range matchEntities(snap, query) {
			ent, _ := snap.Entity(id)
			for _, r := range snap.ReferencesTo(id) {
				l := refLine{
					File:  relPath(ws.Root(), snap.ReferenceFile(r)),
					Line:  r.Line,
					Col:   r.Col,
					USR:   ent.USR,
					Name:  ent.DisplayName,
					Roles: r.Flags.String(),
				}
				if p, ok := snap.Entity(r.Parent); ok {
					l.Parent = p.Name
				}
				if !seen[l] {
					seen[l] = true
					lines = append(lines, l)
				}
			}
		}
	}
	if len(lines) == 0 {
		return fmt.Errorf("no references to %q", query)
	}

	slices.SortFunc(lines, func(a, b refLine) int {
		return cmp.Or(
			cmp.Compare(a.File, b.File),
			cmp.Compare(a.Line, b.Line),
			cmp.Compare(a.Col, b.Col),
			cmp.Compare(a.USR, b.USR),
			cmp.Compare(a.Roles, b.Roles),
		)
	})

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	for _, l := range lines {
		if opts.json {
			if err := enc.Encode(l); err != nil {
				return err
			}
			continue
		}
		where := ""
		if l.Parent != "" {
			where = " in " + l.Parent
		}
		fmt.Fprintf(out, "%s:%d:%d\t%s\t%s%s\n", l.File, l.Line, l.Col, l.Roles, l.Name, where)
	}
	return nil
}

// matchEntities resolves a USR or a plain name.
func matchEntities(snap *graph.Snapshot, query string) []graph.EntityID {
	if strings.HasPrefix(query, "c:") {
		if id, ok := snap.FindEntity(query); ok {
			return []graph.EntityID{id}
		}
		return nil
	}
	return snap.FindEntitiesByName(query)
}
