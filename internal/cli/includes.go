package cli

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/mvp-joe/tuindex/internal/graph"
)

type includesOptions struct {
	json    bool
	closure bool
}

func newIncludesCmd(ro *rootOptions) *cobra.Command {
	opts := &includesOptions{}
	cmd := &cobra.Command{
		Use:   "includes [paths...]",
		Short: "List include edges of translation units",
		Long: `Includes indexes the given units (all units by default) and prints the
include directives that were followed, as "file:line -> included".

With --closure, prints for each unit every file it transitively includes.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIncludes(cmd, ro, opts, args)
		},
	}
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print one JSON object per line")
	cmd.Flags().BoolVar(&opts.closure, "closure", false, "Print the transitive include closure of each unit")
	return cmd
}

type includeLine struct {
	From string `json:"from"`
	Line int    `json:"line,omitempty"`
	To   string `json:"to"`
}

func runIncludes(cmd *cobra.Command, ro *rootOptions, opts *includesOptions, paths []string) error {
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

	seen := make(map[includeLine]bool)
	var lines []includeLine
	add := func(l includeLine) {
		if !seen[l] {
			seen[l] = true
			lines = append(lines, l)
		}
	}
	failed := 0
	for i, snap := range snaps {
		if errs[i] != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s: %v\n", relPath(ws.Root(), units[i].Path()), errs[i])
			continue
		}
		if opts.closure {
			closure, err := includeClosure(snap, units[i].Path())
			if err != nil {
				return err
			}
			for _, path := range closure {
				add(includeLine{From: relPath(ws.Root(), units[i].Path()), To: relPath(ws.Root(), path)})
			}
			continue
		}
		for _, inc := range snap.Includes() {
			from, _ := snap.File(inc.From)
			to, _ := snap.File(inc.To)
			add(includeLine{
				From: relPath(ws.Root(), from.Path),
				Line: inc.Line,
				To:   relPath(ws.Root(), to.Path),
			})
		}
	}
	if failed > 0 && failed == len(units) {
		return fmt.Errorf("%d of %d units failed to index", failed, len(units))
	}

	slices.SortFunc(lines, func(a, b includeLine) int {
		return cmp.Or(cmp.Compare(a.From, b.From), cmp.Compare(a.Line, b.Line), cmp.Compare(a.To, b.To))
	})

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	for _, l := range lines {
		switch {
		case opts.json:
			if err := enc.Encode(l); err != nil {
				return err
			}
		case opts.closure:
			fmt.Fprintf(out, "%s -> %s\n", l.From, l.To)
		default:
			fmt.Fprintf(out, "%s:%d -> %s\n", l.From, l.Line, l.To)
		}
	}
	return nil
}

// includeClosure returns the paths of every file main reaches through
// includes, sorted.
func includeClosure(snap *graph.Snapshot, main string) ([]string, error) {
	id, ok := snap.FileByPath(main)
	if !ok {
		return nil, nil
	}
	rel, err := graph.NewRelations(snap)
	if err != nil {
		return nil, err
	}
	ids, err := rel.IncludeClosure(id)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(ids))
	for _, fid := range ids {
		if f, ok := snap.File(fid); ok {
			paths = append(paths, f.Path)
		}
	}
	slices.Sort(paths)
	return paths, nil
}
