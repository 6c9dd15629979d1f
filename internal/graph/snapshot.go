package graph

import (
	"cmp"
	"path/filepath"
	"slices"
	"time"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

// Snapshot is the immutable result of indexing one unit.
//
// All IDs handed out by a snapshot are indices into its own arenas and carry
// no meaning outside it. Slices returned by accessors are shared with the
// snapshot and must not be modified. The zero value is an empty snapshot.
type Snapshot struct {
	files       []SourceFile
	fileIndex   map[string]FileID
	entities    []Entity
	entityIndex map[string]EntityID
	references  []Reference
	bases       []BaseRelation
	includes    []Include
	duration    time.Duration
	skipped     Skipped
}

var empty = &Snapshot{}

// Empty returns the shared empty snapshot.
func Empty() *Snapshot { return empty }

func (s *Snapshot) Files() []SourceFile         { return s.files }
func (s *Snapshot) Entities() []Entity          { return s.entities }
func (s *Snapshot) References() []Reference     { return s.references }
func (s *Snapshot) Bases() []BaseRelation       { return s.bases }
func (s *Snapshot) Includes() []Include         { return s.includes }
func (s *Snapshot) IndexingTime() time.Duration { return s.duration }
func (s *Snapshot) Skipped() Skipped            { return s.skipped }

// File returns the file with the given ID.
func (s *Snapshot) File(id FileID) (SourceFile, bool) {
	if id < 0 || int(id) >= len(s.files) {
		return SourceFile{}, false
	}
	return s.files[id], true
}

// FileByPath looks a file up by path.
func (s *Snapshot) FileByPath(path string) (FileID, bool) {
	id, ok := s.fileIndex[filepath.Clean(path)]
	if !ok {
		return NoFile, false
	}
	return id, true
}

// Entity returns the entity with the given ID.
func (s *Snapshot) Entity(id EntityID) (Entity, bool) {
	if id < 0 || int(id) >= len(s.entities) {
		return Entity{}, false
	}
	return s.entities[id], true
}

// FindEntity looks an entity up by USR.
func (s *Snapshot) FindEntity(usr string) (EntityID, bool) {
	id, ok := s.entityIndex[usr]
	if !ok {
		return NoEntity, false
	}
	return id, true
}

// FindEntitiesByName returns every entity named name, in ID order.
func (s *Snapshot) FindEntitiesByName(name string) []EntityID {
	var ids []EntityID
	for i := range s.entities {
		if s.entities[i].Name == name {
			ids = append(ids, EntityID(i))
		}
	}
	return ids
}

// FindDefinition returns the first reference that defines id.
func (s *Snapshot) FindDefinition(id EntityID) (Reference, bool) {
	for _, r := range s.references {
		if r.Symbol == id && r.Flags.Has(frontend.RoleDefinition) {
			return r, true
		}
	}
	return Reference{}, false
}

// ReferencesTo returns every reference to id ordered by file path and line.
func (s *Snapshot) ReferencesTo(id EntityID) []Reference {
	var refs []Reference
	for _, r := range s.references {
		if r.Symbol == id {
			refs = append(refs, r)
		}
	}
	s.sortReferences(refs)
	return refs
}

// SortedReferences returns a copy of all references ordered by file path
// and line.
func (s *Snapshot) SortedReferences() []Reference {
	refs := slices.Clone(s.references)
	s.sortReferences(refs)
	return refs
}

func (s *Snapshot) sortReferences(refs []Reference) {
	slices.SortStableFunc(refs, func(a, b Reference) int {
		if a.File != b.File {
			return cmp.Compare(s.files[a.File].Path, s.files[b.File].Path)
		}
		if c := cmp.Compare(a.Line, b.Line); c != 0 {
			return c
		}
		return cmp.Compare(a.Col, b.Col)
	})
}

// BasesOf returns the direct base relations of derived.
func (s *Snapshot) BasesOf(derived EntityID) []BaseRelation {
	var out []BaseRelation
	for _, b := range s.bases {
		if b.Derived == derived {
			out = append(out, b)
		}
	}
	return out
}

// DerivedOf returns the direct derived relations of base.
func (s *Snapshot) DerivedOf(base EntityID) []BaseRelation {
	var out []BaseRelation
	for _, b := range s.bases {
		if b.Base == base {
			out = append(out, b)
		}
	}
	return out
}

// IncludesFrom returns the include edges whose includer is file.
func (s *Snapshot) IncludesFrom(file FileID) []Include {
	var out []Include
	for _, inc := range s.includes {
		if inc.From == file {
			out = append(out, inc)
		}
	}
	return out
}

// ReferenceFile returns the path of the file holding r.
func (s *Snapshot) ReferenceFile(r Reference) string {
	f, _ := s.File(r.File)
	return f.Path
}
