package frontend

import (
	"fmt"
	"strings"
)

// EntityKind classifies an entity. Values mirror libclang's CXIdxEntityKind.
type EntityKind int

const (
	KindUnexposed EntityKind = iota
	KindTypedef
	KindFunction
	KindVariable
	KindField
	KindEnumConstant
	KindObjCClass
	KindObjCProtocol
	KindObjCCategory
	KindObjCInstanceMethod
	KindObjCClassMethod
	KindObjCProperty
	KindObjCIvar
	KindEnum
	KindStruct
	KindUnion
	KindCXXClass
	KindCXXNamespace
	KindCXXNamespaceAlias
	KindCXXStaticVariable
	KindCXXStaticMethod
	KindCXXInstanceMethod
	KindCXXConstructor
	KindCXXDestructor
	KindCXXConversionFunction
	KindCXXTypeAlias
	KindCXXInterface
)

var kindNames = [...]string{
	"unexposed", "typedef", "function", "variable", "field", "enum constant",
	"objc class", "objc protocol", "objc category", "objc instance method",
	"objc class method", "objc property", "objc ivar", "enum", "struct",
	"union", "class", "namespace", "namespace alias", "static variable",
	"static method", "method", "constructor", "destructor",
	"conversion function", "type alias", "interface",
}

func (k EntityKind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("EntityKind(%d)", int(k))
}

// IsMethod reports whether k is a C++ member function kind.
func (k EntityKind) IsMethod() bool {
	switch k {
	case KindCXXInstanceMethod, KindCXXStaticMethod, KindCXXConstructor,
		KindCXXDestructor, KindCXXConversionFunction:
		return true
	}
	return false
}

// IsRecord reports whether k is a struct, union or class.
func (k EntityKind) IsRecord() bool {
	return k == KindStruct || k == KindUnion || k == KindCXXClass
}

// AccessSpecifier is a C++ access level.
type AccessSpecifier int

const (
	AccessInvalid AccessSpecifier = iota
	AccessPublic
	AccessProtected
	AccessPrivate
)

func (a AccessSpecifier) String() string {
	switch a {
	case AccessPublic:
		return "public"
	case AccessProtected:
		return "protected"
	case AccessPrivate:
		return "private"
	}
	return "invalid"
}

// SymbolRole is a bitset describing how a location uses a symbol.
// Bit values mirror libclang's CXSymbolRole.
type SymbolRole uint32

const (
	RoleDeclaration SymbolRole = 1 << iota
	RoleDefinition
	RoleReference
	RoleRead
	RoleWrite
	RoleCall
	RoleDynamic
	RoleAddressOf
	RoleImplicit
)

// Has reports whether all bits of r2 are set.
func (r SymbolRole) Has(r2 SymbolRole) bool { return r&r2 == r2 }

var roleNames = []string{
	"declaration", "definition", "reference", "read", "write",
	"call", "dynamic", "address-of", "implicit",
}

// String lists the set roles separated by commas.
func (r SymbolRole) String() string {
	if r == 0 {
		return "none"
	}
	var names []string
	for i, name := range roleNames {
		if r&(1<<i) != 0 {
			names = append(names, name)
		}
	}
	if rest := r &^ (1<<len(roleNames) - 1); rest != 0 {
		names = append(names, fmt.Sprintf("%#x", uint32(rest)))
	}
	return strings.Join(names, ",")
}

// Traits are the properties a front-end reports about a declared entity.
// Which traits are meaningful depends on the entity kind.
type Traits uint32

const (
	TraitLocal Traits = 1 << iota
	TraitInline
	TraitStatic
	TraitConstexpr
	TraitScoped
	TraitStructKeyword
	TraitClassFinal
	TraitVirtual
	TraitOverride
	TraitFinal
	TraitConst
	TraitPure
	TraitNoexcept
	TraitExplicit
	TraitDefaulted
	TraitDeleted
)

// Has reports whether t includes every trait in t2.
func (t Traits) Has(t2 Traits) bool { return t&t2 == t2 }

// EntityInfo describes an entity as seen at one event.
type EntityInfo struct {
	Kind        EntityKind
	Name        string
	USR         string
	DisplayName string
	// Parent is the entity's lexical owner when the front-end knows it.
	Parent *EntityInfo
	Access AccessSpecifier
	Traits Traits
}

// Location is a 1-based position in a source file.
type Location struct {
	File string
	Line int
	Col  int
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Col)
}

// Inclusion is one #include directive.
type Inclusion struct {
	From string
	To   string
	Line int
}

// BaseClass is one base specifier on a class definition.
type BaseClass struct {
	Base   EntityInfo
	Access AccessSpecifier
}

// Declaration reports a declaration or definition of an entity.
type Declaration struct {
	Entity       EntityInfo
	Loc          Location
	IsDefinition bool
	IsImplicit   bool
	// Container is the semantic container of the declaration, if any.
	Container *EntityInfo
	Bases     []BaseClass
}

// EntityReference reports a use of an entity.
type EntityReference struct {
	Entity EntityInfo
	Loc    Location
	Roles  SymbolRole
	// Parent is the entity whose body contains the reference, if any.
	Parent *EntityInfo
}

// Consumer receives the events of one traversal. Calls are made from a
// single goroutine, in source order.
type Consumer interface {
	EnteredFile(path string)
	IncludedFile(inc Inclusion)
	Declaration(decl Declaration)
	EntityReference(ref EntityReference)
}

// ConsumerFuncs adapts plain functions to Consumer. Nil fields are ignored.
type ConsumerFuncs struct {
	OnEnteredFile     func(path string)
	OnIncludedFile    func(inc Inclusion)
	OnDeclaration     func(decl Declaration)
	OnEntityReference func(ref EntityReference)
}

func (c ConsumerFuncs) EnteredFile(path string) {
	if c.OnEnteredFile != nil {
		c.OnEnteredFile(path)
	}
}

func (c ConsumerFuncs) IncludedFile(inc Inclusion) {
	if c.OnIncludedFile != nil {
		c.OnIncludedFile(inc)
	}
}

func (c ConsumerFuncs) Declaration(decl Declaration) {
	if c.OnDeclaration != nil {
		c.OnDeclaration(decl)
	}
}

func (c ConsumerFuncs) EntityReference(ref EntityReference) {
	if c.OnEntityReference != nil {
		c.OnEntityReference(ref)
	}
}
