// Package frontend defines the contract between the indexing engine and a
// parsing front-end.
//
// A front-end turns a source file plus compile options into an opaque parsed
// representation, can refresh or compact that representation, and replays it
// as a stream of include, declaration and reference events. Everything the
// engine knows about source code flows through this package.
package frontend

import (
	"context"
	"errors"
	"maps"
	"slices"
)

// ErrForeignParsed is returned when a front-end is handed a Parsed value it
// did not produce.
var ErrForeignParsed = errors.New("parsed representation belongs to another front-end")

// ErrSuspended is returned when a suspended representation is traversed.
var ErrSuspended = errors.New("parsed representation is suspended")

// Parsed is the front-end's opaque parsed representation of one unit.
type Parsed interface {
	// Path returns the main source file of the unit.
	Path() string
}

// Frontend parses units and replays them as event streams.
//
// Parse and Reparse may run concurrently for different units. Index may run
// concurrently with other Index calls on the same Parsed value.
type Frontend interface {
	// Parse produces a fresh representation of the file at path.
	Parse(ctx context.Context, path string, opts *CompileOptions) (Parsed, error)

	// Reparse refreshes p in place from the current file contents.
	// A suspended representation is resumed by Reparse.
	Reparse(ctx context.Context, p Parsed) error

	// Suspend compacts p. A suspended representation must be reparsed
	// before it can be indexed again.
	Suspend(p Parsed) error

	// Index walks p and reports every event to c.
	Index(ctx context.Context, p Parsed, c Consumer) error
}

// CompileOptions are the compile settings shared by a group of units.
// Include directories are kept sorted and unique.
type CompileOptions struct {
	IncludeDirs []string
	Defines     map[string]string
}

// NewCompileOptions normalizes includeDirs and copies defines.
func NewCompileOptions(includeDirs []string, defines map[string]string) *CompileOptions {
	dirs := slices.Clone(includeDirs)
	slices.Sort(dirs)
	dirs = slices.Compact(dirs)

	defs := make(map[string]string, len(defines))
	maps.Copy(defs, defines)

	return &CompileOptions{IncludeDirs: dirs, Defines: defs}
}

// Define reports the value of a predefined macro.
func (o *CompileOptions) Define(name string) (string, bool) {
	if o == nil {
		return "", false
	}
	v, ok := o.Defines[name]
	return v, ok
}
