package frontend

import (
	"context"
	"path/filepath"
	"strings"
)

// Capability names one optional query a front-end may answer.
type Capability uint8

const (
	CapSymbolAtLocation Capability = 1 << iota
	CapReferencesInFile
	CapIncludesInFile
	CapFileContents
)

// Capabilities is a set of Capability values.
type Capabilities uint8

// Has reports whether c is in the set.
func (s Capabilities) Has(c Capability) bool { return s&Capabilities(c) != 0 }

func (s Capabilities) String() string {
	var names []string
	if s.Has(CapSymbolAtLocation) {
		names = append(names, "symbol-at-location")
	}
	if s.Has(CapReferencesInFile) {
		names = append(names, "references-in-file")
	}
	if s.Has(CapIncludesInFile) {
		names = append(names, "includes-in-file")
	}
	if s.Has(CapFileContents) {
		names = append(names, "file-contents")
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ",")
}

// SymbolLocator finds the entity named at a source location.
type SymbolLocator interface {
	SymbolAt(ctx context.Context, p Parsed, loc Location) (EntityInfo, bool, error)
}

// ReferenceFinder lists the locations in one file that mention an entity.
type ReferenceFinder interface {
	ReferencesInFile(ctx context.Context, p Parsed, usr, file string) ([]Location, error)
}

// IncludeLister lists the include directives of one file.
type IncludeLister interface {
	IncludesInFile(ctx context.Context, p Parsed, file string) ([]Inclusion, error)
}

// ContentProvider returns the text of a file belonging to a parsed unit.
type ContentProvider interface {
	FileContents(p Parsed, file string) ([]byte, bool)
}

// CapabilitiesOf reports which optional queries fe supports.
func CapabilitiesOf(fe Frontend) Capabilities {
	var s Capabilities
	if _, ok := fe.(SymbolLocator); ok {
		s |= Capabilities(CapSymbolAtLocation)
	}
	if _, ok := fe.(ReferenceFinder); ok {
		s |= Capabilities(CapReferencesInFile)
	}
	if _, ok := fe.(IncludeLister); ok {
		s |= Capabilities(CapIncludesInFile)
	}
	if _, ok := fe.(ContentProvider); ok {
		s |= Capabilities(CapFileContents)
	}
	return s
}

// FindSymbolAt replays p and returns the first entity whose name spans loc.
// Front-ends without a faster lookup implement SymbolLocator with it.
func FindSymbolAt(ctx context.Context, fe Frontend, p Parsed, loc Location) (EntityInfo, bool, error) {
	loc.File = filepath.Clean(loc.File)

	var (
		found EntityInfo
		ok    bool
	)
	covers := func(at Location, name string) bool {
		if ok || at.File != loc.File || at.Line != loc.Line {
			return false
		}
		return loc.Col >= at.Col && loc.Col < at.Col+max(len(name), 1)
	}
	err := fe.Index(ctx, p, ConsumerFuncs{
		OnDeclaration: func(d Declaration) {
			if covers(d.Loc, d.Entity.Name) {
				found, ok = d.Entity, true
			}
		},
		OnEntityReference: func(r EntityReference) {
			if covers(r.Loc, r.Entity.Name) {
				found, ok = r.Entity, true
			}
		},
	})
	return found, ok, err
}

// FindReferencesInFile replays p and collects every declaration or reference
// of usr located in file.
func FindReferencesInFile(ctx context.Context, fe Frontend, p Parsed, usr, file string) ([]Location, error) {
	file = filepath.Clean(file)

	var locs []Location
	err := fe.Index(ctx, p, ConsumerFuncs{
		OnDeclaration: func(d Declaration) {
			if d.Entity.USR == usr && d.Loc.File == file {
				locs = append(locs, d.Loc)
			}
		},
		OnEntityReference: func(r EntityReference) {
			if r.Entity.USR == usr && r.Loc.File == file {
				locs = append(locs, r.Loc)
			}
		},
	})
	return locs, err
}

// FindIncludesInFile replays p and collects the directives found in file.
func FindIncludesInFile(ctx context.Context, fe Frontend, p Parsed, file string) ([]Inclusion, error) {
	file = filepath.Clean(file)

	var incs []Inclusion
	err := fe.Index(ctx, p, ConsumerFuncs{
		OnIncludedFile: func(inc Inclusion) {
			if inc.From == file {
				incs = append(incs, inc)
			}
		},
	})
	return incs, err
}
