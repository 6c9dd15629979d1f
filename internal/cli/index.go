package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/mvp-joe/tuindex/internal/graph"
	"github.com/mvp-joe/tuindex/internal/unit"
	"github.com/mvp-joe/tuindex/internal/workspace"
)

type indexOptions struct {
	quiet bool
	watch bool
	json  bool
}

func newIndexCmd(ro *rootOptions) *cobra.Command {
	opts := &indexOptions{}
	cmd := &cobra.Command{
		Use:   "index [paths...]",
		Short: "Parse and index translation units",
		Long: `Index discovers translation units (files matching paths.sources in the
configuration, or the files and directories given as arguments), parses them
and indexes every declaration, reference and include.

One summary line is printed per unit.

Examples:
  # Index every unit below the working directory
  tuindex index

  # Index two units and print JSON summaries
  tuindex index --json src/main.c src/util.c

  # Keep indexing units as their files change
  tuindex index --watch
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, ro, opts, args)
		},
	}
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Disable progress bars and non-error output")
	cmd.Flags().BoolVarP(&opts.watch, "watch", "w", false, "Watch for file changes and re-index affected units")
	cmd.Flags().BoolVar(&opts.json, "json", false, "Print one JSON object per unit")
	return cmd
}

// unitSummary is the per-unit line printed by index.
type unitSummary struct {
	Unit       string  `json:"unit"`
	Files      int     `json:"files"`
	Entities   int     `json:"entities"`
	References int     `json:"references"`
	Includes   int     `json:"includes"`
	Skipped    int     `json:"skipped"`
	ElapsedMS  float64 `json:"elapsed_ms"`
	Error      string  `json:"error,omitempty"`
}

func summarize(rootDir string, u *unit.Unit, snap *graph.Snapshot, err error) unitSummary {
	s := unitSummary{
		Unit:       relPath(rootDir, u.Path()),
		Files:      len(snap.Files()),
		Entities:   len(snap.Entities()),
		References: len(snap.References()),
		Includes:   len(snap.Includes()),
		Skipped:    snap.Skipped().Total(),
		ElapsedMS:  float64(snap.IndexingTime()) / float64(time.Millisecond),
	}
	if err != nil {
		s.Error = err.Error()
	}
	return s
}

// summaryPrinter writes summaries as text or JSON lines.
type summaryPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

func (p *summaryPrinter) print(s unitSummary) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		return json.NewEncoder(p.out).Encode(s)
	}
	if s.Error != "" {
		_, err := fmt.Fprintf(p.out, "%s: error: %s\n", s.Unit, s.Error)
		return err
	}
	_, err := fmt.Fprintf(p.out, "%s: %s files, %s entities, %s references, %s includes (%.1fms)\n",
		s.Unit,
		formatNumber(s.Files),
		formatNumber(s.Entities),
		formatNumber(s.References),
		formatNumber(s.Includes),
		s.ElapsedMS)
	return err
}

func runIndex(cmd *cobra.Command, ro *rootOptions, opts *indexOptions, args []string) error {
	// Cancel on Ctrl+C
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	ws, cfg, err := ro.openWorkspace(cmd)
	if err != nil {
		return err
	}
	defer ws.Close()

	units, err := ws.Open(args...)
	if err != nil {
		return err
	}
	if len(units) == 0 && !opts.watch {
		return fmt.Errorf("no translation units found in %s", ws.Root())
	}

	progress := newProgressReporter(cmd.ErrOrStderr(), len(units), opts.quiet || opts.json)
	snaps, errs := indexUnits(ctx, ws, units, cfg.Scheduler.MaxWorkers, progress)
	progress.finish()

	printer := &summaryPrinter{out: cmd.OutOrStdout(), json: opts.json}
	failed := 0
	for i, u := range units {
		if errs[i] != nil {
			failed++
		}
		if err := printer.print(summarize(ws.Root(), u, snaps[i], errs[i])); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return fmt.Errorf("indexing cancelled")
	}

	if opts.watch {
		if !opts.quiet && !opts.json {
			fmt.Fprintln(cmd.ErrOrStderr(), "Watching for changes (Ctrl+C to stop)...")
		}
		err := ws.Watch(ctx, func(u *unit.Unit, snap *graph.Snapshot, err error) {
			_ = printer.print(summarize(ws.Root(), u, snap, err))
		})
		if err != nil && ctx.Err() == nil {
			return fmt.Errorf("watch mode failed: %w", err)
		}
		return nil
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d units failed to index", failed, len(units))
	}
	return nil
}

// indexUnits indexes units with at most workers running at once. A unit
// that fails does not stop the others.
func indexUnits(ctx context.Context, ws *workspace.Workspace, units []*unit.Unit, workers int, progress *progressReporter) ([]*graph.Snapshot, []error) {
	snaps := make([]*graph.Snapshot, len(units))
	errs := make([]error, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for i, u := range units {
		g.Go(func() error {
			snaps[i], errs[i] = ws.Index(gctx, u)
			progress.unitDone()
			return nil
		})
	}
	_ = g.Wait()
	return snaps, errs
}

func relPath(rootDir, path string) string {
	rel, err := filepath.Rel(rootDir, path)
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator) {
		return path
	}
	return filepath.ToSlash(rel)
}
