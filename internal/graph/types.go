package graph

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

// EntityID addresses an entity inside the snapshot that produced it.
type EntityID int32

// FileID addresses a source file inside the snapshot that produced it.
type FileID int32

const (
	NoEntity EntityID = -1
	NoFile   FileID   = -1
)

type (
	EntityKind      = frontend.EntityKind
	AccessSpecifier = frontend.AccessSpecifier
	RoleFlags       = frontend.SymbolRole
)

// EntityFlags holds the boolean properties of an entity.
type EntityFlags uint32

const (
	FlagLocal     EntityFlags = 0x1
	FlagPublic    EntityFlags = 0x2
	FlagProtected EntityFlags = 0x4
	FlagPrivate   EntityFlags = 0x6
	FlagInline    EntityFlags = 0x8
	FlagStatic    EntityFlags = 0x10
	FlagConstexpr EntityFlags = 0x20
	FlagIsScoped  EntityFlags = 0x40 // enums
	FlagIsStruct  EntityFlags = 0x40 // classes declared with the struct keyword
	FlagIsFinal   EntityFlags = 0x80
	FlagVirtual   EntityFlags = 0x100
	FlagOverride  EntityFlags = 0x200
	FlagFinal     EntityFlags = 0x400
	FlagConst     EntityFlags = 0x800
	FlagPure      EntityFlags = 0x1000
	FlagNoexcept  EntityFlags = 0x2000
	FlagExplicit  EntityFlags = 0x4000
	FlagDefault   EntityFlags = 0x8000
	FlagDelete    EntityFlags = 0x10000

	accessMask = FlagPrivate
)

// Has reports whether every bit of f2 is set.
func (f EntityFlags) Has(f2 EntityFlags) bool { return f&f2 == f2 }

// With returns f with f2 set or cleared.
func (f EntityFlags) With(f2 EntityFlags, on bool) EntityFlags {
	if on {
		return f | f2
	}
	return f &^ f2
}

// AccessOf extracts the access level from f.
func AccessOf(f EntityFlags) AccessSpecifier {
	switch f & accessMask {
	case FlagPublic:
		return frontend.AccessPublic
	case FlagProtected:
		return frontend.AccessProtected
	case FlagPrivate:
		return frontend.AccessPrivate
	}
	return frontend.AccessInvalid
}

// SetAccess replaces the access level in f.
func SetAccess(f EntityFlags, a AccessSpecifier) EntityFlags {
	f &^= accessMask
	switch a {
	case frontend.AccessPublic:
		f |= FlagPublic
	case frontend.AccessProtected:
		f |= FlagProtected
	case frontend.AccessPrivate:
		f |= FlagPrivate
	}
	return f
}

// SourceFile is a file seen during indexing.
type SourceFile struct {
	Path string `json:"path"`
}

// Entity is a named program element identified by its USR.
type Entity struct {
	Kind        EntityKind  `json:"kind"`
	Name        string      `json:"name"`
	USR         string      `json:"usr"`
	DisplayName string      `json:"display_name"`
	Parent      EntityID    `json:"parent"` // NoEntity for top-level entities
	Flags       EntityFlags `json:"flags"`
}

// IsPublic and friends test the entity's access level.
func (e *Entity) IsPublic() bool    { return AccessOf(e.Flags) == frontend.AccessPublic }
func (e *Entity) IsProtected() bool { return AccessOf(e.Flags) == frontend.AccessProtected }
func (e *Entity) IsPrivate() bool   { return AccessOf(e.Flags) == frontend.AccessPrivate }

// Reference is one occurrence of an entity in the source.
type Reference struct {
	Symbol EntityID  `json:"symbol"`
	File   FileID    `json:"file"`
	Line   int       `json:"line"`
	Col    int       `json:"col"`
	Parent EntityID  `json:"parent"`
	Flags  RoleFlags `json:"flags"`
}

// BaseRelation records that Derived inherits from Base.
type BaseRelation struct {
	Access  AccessSpecifier `json:"access"`
	Base    EntityID        `json:"base"`
	Derived EntityID        `json:"derived"`
}

func (b BaseRelation) IsPublic() bool    { return b.Access == frontend.AccessPublic }
func (b BaseRelation) IsProtected() bool { return b.Access == frontend.AccessProtected }
func (b BaseRelation) IsPrivate() bool   { return b.Access == frontend.AccessPrivate }

// String renders b as "access base derived".
func (b BaseRelation) String() string {
	return fmt.Sprintf("%d %d %d", int(b.Access), b.Base, b.Derived)
}

// ParseBaseRelation reads the form produced by BaseRelation.String.
func ParseBaseRelation(s string) (BaseRelation, error) {
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return BaseRelation{}, fmt.Errorf("base relation %q: want 3 fields, got %d", s, len(fields))
	}
	var n [3]int64
	for i, f := range fields {
		v, err := strconv.ParseInt(f, 10, 32)
		if err != nil {
			return BaseRelation{}, fmt.Errorf("base relation %q: %w", s, err)
		}
		n[i] = v
	}
	if n[0] < int64(frontend.AccessInvalid) || n[0] > int64(frontend.AccessPrivate) {
		return BaseRelation{}, fmt.Errorf("base relation %q: access %d out of range", s, n[0])
	}
	return BaseRelation{
		Access:  AccessSpecifier(n[0]),
		Base:    EntityID(n[1]),
		Derived: EntityID(n[2]),
	}, nil
}

// Include is one include edge.
type Include struct {
	From FileID `json:"from"`
	To   FileID `json:"to"`
	Line int    `json:"line"`
}

// Skipped counts events the builder dropped.
type Skipped struct {
	UnresolvableLocation int `json:"unresolvable_location"`
	MalformedIdentity    int `json:"malformed_identity"`
}

// Total returns the number of dropped events.
func (s Skipped) Total() int { return s.UnresolvableLocation + s.MalformedIdentity }
