package graph

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

var (
	// ErrUnresolvableLocation marks an event whose file is unknown.
	ErrUnresolvableLocation = errors.New("unresolvable location")

	// ErrMalformedIdentity marks an event whose entity has no USR.
	ErrMalformedIdentity = errors.New("malformed identity")
)

// maxParentDepth bounds recursive parent resolution.
const maxParentDepth = 256

// Builder assembles a Snapshot from one front-end traversal.
// It implements frontend.Consumer and is not safe for concurrent use.
type Builder struct {
	snap   *Snapshot
	logger *slog.Logger
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithLogger routes skip diagnostics to logger.
func WithLogger(logger *slog.Logger) BuilderOption {
	return func(b *Builder) {
		b.logger = logger
	}
}

// NewBuilder creates an empty builder.
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{
		snap: &Snapshot{
			fileIndex:   make(map[string]FileID),
			entityIndex: make(map[string]EntityID),
		},
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build runs a full traversal of p and returns the resulting snapshot along
// with the traversal error, if any. The snapshot holds whatever was gathered
// before an error.
func Build(ctx context.Context, fe frontend.Frontend, p frontend.Parsed, opts ...BuilderOption) (*Snapshot, error) {
	b := NewBuilder(opts...)
	start := time.Now()
	err := fe.Index(ctx, p, b)
	snap := b.Finish(time.Since(start))

	b.logger.Debug("indexed translation unit",
		"path", p.Path(),
		"entities", len(snap.entities),
		"references", len(snap.references),
		"includes", len(snap.includes),
		"skipped", snap.skipped.Total(),
		"elapsed", snap.duration)
	return snap, err
}

// Finish seals the snapshot. The builder must not be used afterwards.
func (b *Builder) Finish(elapsed time.Duration) *Snapshot {
	snap := b.snap
	snap.duration = elapsed
	b.snap = nil
	return snap
}

// EnteredFile registers the main file of the traversal.
func (b *Builder) EnteredFile(path string) {
	b.fileID(path)
}

// IncludedFile appends an include edge. The included file is registered even
// when the includer is unknown.
func (b *Builder) IncludedFile(inc frontend.Inclusion) {
	to := b.fileID(inc.To)
	from, ok := b.lookupFile(inc.From)
	if !ok {
		b.skip(ErrUnresolvableLocation, "include", "from", inc.From, "to", inc.To)
		return
	}
	b.snap.includes = append(b.snap.includes, Include{From: from, To: to, Line: inc.Line})
}

// Declaration resolves the declared entity, refines it on definitions and
// records one synthetic reference at the declaration site.
func (b *Builder) Declaration(d frontend.Declaration) {
	file, ok := b.lookupFile(d.Loc.File)
	if !ok {
		b.skip(ErrUnresolvableLocation, "declaration", "usr", d.Entity.USR, "loc", d.Loc.String())
		return
	}
	if d.Entity.USR == "" {
		b.skip(ErrMalformedIdentity, "declaration", "name", d.Entity.Name, "loc", d.Loc.String())
		return
	}

	id, _ := b.resolve(&d.Entity, d.Container, 0)
	if d.IsDefinition {
		b.refine(id, &d.Entity)
		b.addBases(id, d.Bases)
	}

	roles := frontend.RoleDeclaration
	if d.IsDefinition {
		roles = frontend.RoleDefinition
	}
	if d.IsImplicit {
		roles |= frontend.RoleImplicit
	}

	parent := NoEntity
	if d.Container != nil {
		if pid, ok := b.resolve(d.Container, nil, 0); ok {
			parent = pid
		}
	}

	b.snap.references = append(b.snap.references, Reference{
		Symbol: id,
		File:   file,
		Line:   d.Loc.Line,
		Col:    d.Loc.Col,
		Parent: parent,
		Flags:  roles,
	})
}

// EntityReference records an explicit use of an entity.
func (b *Builder) EntityReference(r frontend.EntityReference) {
	file, ok := b.lookupFile(r.Loc.File)
	if !ok {
		b.skip(ErrUnresolvableLocation, "reference", "usr", r.Entity.USR, "loc", r.Loc.String())
		return
	}
	if r.Entity.USR == "" {
		b.skip(ErrMalformedIdentity, "reference", "name", r.Entity.Name, "loc", r.Loc.String())
		return
	}

	id, _ := b.resolve(&r.Entity, nil, 0)
	parent := NoEntity
	if r.Parent != nil {
		if pid, ok := b.resolve(r.Parent, nil, 0); ok {
			parent = pid
		}
	}

	b.snap.references = append(b.snap.references, Reference{
		Symbol: id,
		File:   file,
		Line:   r.Loc.Line,
		Col:    r.Loc.Col,
		Parent: parent,
		Flags:  r.Roles,
	})
}

func (b *Builder) lookupFile(path string) (FileID, bool) {
	if path == "" {
		return NoFile, false
	}
	id, ok := b.snap.fileIndex[filepath.Clean(path)]
	return id, ok
}

func (b *Builder) fileID(path string) FileID {
	path = filepath.Clean(path)
	if id, ok := b.snap.fileIndex[path]; ok {
		return id
	}
	id := FileID(len(b.snap.files))
	b.snap.files = append(b.snap.files, SourceFile{Path: path})
	b.snap.fileIndex[path] = id
	return id
}

// resolve returns the entity for info, creating it on first sight. The new
// entity is inserted into the USR map before its parent is resolved so that
// a parent chain leading back to it finds it instead of recursing forever.
func (b *Builder) resolve(info, container *frontend.EntityInfo, depth int) (EntityID, bool) {
	if info == nil || info.USR == "" {
		return NoEntity, false
	}
	if id, ok := b.snap.entityIndex[info.USR]; ok {
		return id, true
	}

	id := EntityID(len(b.snap.entities))
	b.snap.entities = append(b.snap.entities, Entity{
		Kind:        info.Kind,
		Name:        info.Name,
		USR:         info.USR,
		DisplayName: info.DisplayName,
		Parent:      NoEntity,
		Flags:       applyTraits(0, info, false),
	})
	b.snap.entityIndex[info.USR] = id

	parentInfo := container
	if parentInfo == nil {
		parentInfo = info.Parent
	}
	if parentInfo == nil {
		return id, true
	}
	if depth >= maxParentDepth {
		b.logger.Warn("parent chain too deep", "usr", info.USR)
		return id, true
	}
	if pid, ok := b.resolve(parentInfo, nil, depth+1); ok && !b.reaches(pid, id) {
		b.snap.entities[id].Parent = pid
	}
	return id, true
}

// reaches reports whether target is from or one of its ancestors.
func (b *Builder) reaches(from, target EntityID) bool {
	for steps := 0; from != NoEntity && steps <= len(b.snap.entities); steps++ {
		if from == target {
			return true
		}
		from = b.snap.entities[from].Parent
	}
	return false
}

// refine updates an entity with the facts of its definition.
func (b *Builder) refine(id EntityID, info *frontend.EntityInfo) {
	e := &b.snap.entities[id]
	if e.Kind == frontend.KindUnexposed {
		e.Kind = info.Kind
	}
	if e.DisplayName == "" {
		e.DisplayName = info.DisplayName
	}
	e.Flags = applyTraits(e.Flags, info, true)
}

func (b *Builder) addBases(derived EntityID, bases []frontend.BaseClass) {
	for i := range bases {
		base, ok := b.resolve(&bases[i].Base, nil, 0)
		if !ok {
			b.skip(ErrMalformedIdentity, "base", "name", bases[i].Base.Name)
			continue
		}
		b.snap.bases = append(b.snap.bases, BaseRelation{
			Access:  bases[i].Access,
			Base:    base,
			Derived: derived,
		})
	}
}

func (b *Builder) skip(reason error, event string, args ...any) {
	switch {
	case errors.Is(reason, ErrUnresolvableLocation):
		b.snap.skipped.UnresolvableLocation++
	case errors.Is(reason, ErrMalformedIdentity):
		b.snap.skipped.MalformedIdentity++
	}
	b.logger.Warn("skipping "+event+": "+reason.Error(), args...)
}

// applyTraits maps front-end traits onto entity flags. Kind-independent flags
// only ever get set; kind-specific flags are overwritten when refining.
func applyTraits(f EntityFlags, info *frontend.EntityInfo, refining bool) EntityFlags {
	t := info.Traits
	if t.Has(frontend.TraitLocal) {
		f |= FlagLocal
	}
	if t.Has(frontend.TraitInline) {
		f |= FlagInline
	}
	if t.Has(frontend.TraitStatic) {
		f |= FlagStatic
	}
	if t.Has(frontend.TraitConstexpr) {
		f |= FlagConstexpr
	}
	if info.Access != frontend.AccessInvalid {
		f = SetAccess(f, info.Access)
	}

	set := func(flag EntityFlags, on bool) {
		if on || refining {
			f = f.With(flag, on)
		}
	}
	switch {
	case info.Kind == frontend.KindEnum:
		set(FlagIsScoped, t.Has(frontend.TraitScoped))
	case info.Kind == frontend.KindCXXClass:
		set(FlagIsStruct, t.Has(frontend.TraitStructKeyword))
		set(FlagIsFinal, t.Has(frontend.TraitClassFinal))
	case info.Kind.IsRecord():
		set(FlagIsFinal, t.Has(frontend.TraitClassFinal))
	case info.Kind.IsMethod():
		set(FlagVirtual, t.Has(frontend.TraitVirtual))
		set(FlagOverride, t.Has(frontend.TraitOverride))
		set(FlagFinal, t.Has(frontend.TraitFinal))
		set(FlagConst, t.Has(frontend.TraitConst))
		set(FlagPure, t.Has(frontend.TraitPure))
		set(FlagNoexcept, t.Has(frontend.TraitNoexcept))
		set(FlagExplicit, t.Has(frontend.TraitExplicit))
		set(FlagDefault, t.Has(frontend.TraitDefaulted))
		set(FlagDelete, t.Has(frontend.TraitDeleted))
	}
	return f
}
