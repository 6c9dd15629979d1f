package graph

import (
	"testing"

	"github.com/mvp-joe/tuindex/internal/frontend"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildHierarchy produces a small class hierarchy spread over two files:
//
//	Shape <- Circle <- Ring
//	Shape <- Square
func buildHierarchy(t *testing.T) *Snapshot {
	t.Helper()

	shape := frontend.EntityInfo{Kind: frontend.KindCXXClass, Name: "Shape", USR: "c:@S@Shape"}
	circle := frontend.EntityInfo{Kind: frontend.KindCXXClass, Name: "Circle", USR: "c:@S@Circle"}
	ring := frontend.EntityInfo{Kind: frontend.KindCXXClass, Name: "Ring", USR: "c:@S@Ring"}
	square := frontend.EntityInfo{Kind: frontend.KindCXXClass, Name: "Square", USR: "c:@S@Square"}
	area := frontend.EntityInfo{Kind: frontend.KindCXXInstanceMethod, Name: "area", USR: "c:@S@Shape@F@area#", Parent: &shape}
	radius := frontend.EntityInfo{Kind: frontend.KindField, Name: "r", USR: "c:@S@Circle@FI@r"}

	b := NewBuilder()
	b.EnteredFile("/src/shapes.cpp")
	b.IncludedFile(frontend.Inclusion{From: "/src/shapes.cpp", To: "/src/shape.h", Line: 1})
	b.IncludedFile(frontend.Inclusion{From: "/src/shape.h", To: "/src/base.h", Line: 2})

	b.Declaration(frontend.Declaration{Entity: shape, Loc: loc("/src/shape.h", 3, 7), IsDefinition: true})
	b.Declaration(frontend.Declaration{Entity: area, Loc: loc("/src/shape.h", 4, 18), Container: &shape})
	b.Declaration(frontend.Declaration{
		Entity: circle, Loc: loc("/src/shapes.cpp", 10, 7), IsDefinition: true,
		Bases: []frontend.BaseClass{{Base: shape, Access: frontend.AccessPublic}},
	})
	b.Declaration(frontend.Declaration{Entity: radius, Loc: loc("/src/shapes.cpp", 11, 10), IsDefinition: true, Container: &circle})
	b.Declaration(frontend.Declaration{
		Entity: ring, Loc: loc("/src/shapes.cpp", 20, 7), IsDefinition: true,
		Bases: []frontend.BaseClass{{Base: circle, Access: frontend.AccessPrivate}},
	})
	b.Declaration(frontend.Declaration{
		Entity: square, Loc: loc("/src/shapes.cpp", 30, 7), IsDefinition: true,
		Bases: []frontend.BaseClass{{Base: shape, Access: frontend.AccessProtected}},
	})
	b.EntityReference(frontend.EntityReference{Entity: area, Loc: loc("/src/shapes.cpp", 40, 3), Roles: frontend.RoleReference | frontend.RoleCall})
	b.EntityReference(frontend.EntityReference{Entity: area, Loc: loc("/src/shape.h", 8, 5), Roles: frontend.RoleReference | frontend.RoleCall})
	b.EntityReference(frontend.EntityReference{Entity: area, Loc: loc("/src/shapes.cpp", 35, 3), Roles: frontend.RoleReference | frontend.RoleCall})

	return b.Finish(0)
}

func TestSnapshot_Empty(t *testing.T) {
	t.Parallel()

	for _, s := range []*Snapshot{Empty(), {}} {
		assert.Empty(t, s.Entities())
		assert.Empty(t, s.SortedReferences())
		_, ok := s.FindEntity("c:@F@f")
		assert.False(t, ok)
		_, ok = s.FileByPath("/src/a.c")
		assert.False(t, ok)
		_, ok = s.Entity(0)
		assert.False(t, ok)
		_, ok = s.File(NoFile)
		assert.False(t, ok)
	}
}

func TestSnapshot_ReferencesSortedByPathAndLine(t *testing.T) {
	t.Parallel()

	s := buildHierarchy(t)
	area, ok := s.FindEntity("c:@S@Shape@F@area#")
	require.True(t, ok)

	refs := s.ReferencesTo(area)
	require.Len(t, refs, 4)

	var got []string
	for _, r := range refs {
		got = append(got, s.ReferenceFile(r))
	}
	assert.Equal(t, []string{"/src/shape.h", "/src/shape.h", "/src/shapes.cpp", "/src/shapes.cpp"}, got)
	assert.Equal(t, 4, refs[0].Line)
	assert.Equal(t, 8, refs[1].Line)
	assert.Equal(t, 35, refs[2].Line)
	assert.Equal(t, 40, refs[3].Line)

	all := s.SortedReferences()
	assert.Len(t, all, len(s.References()))
	assert.Equal(t, 40, s.References()[len(s.References())-3].Line, "storage order is untouched")
}

func TestSnapshot_FindEntitiesByName(t *testing.T) {
	t.Parallel()

	s := buildHierarchy(t)
	ids := s.FindEntitiesByName("Circle")
	require.Len(t, ids, 1)
	e, _ := s.Entity(ids[0])
	assert.Equal(t, "c:@S@Circle", e.USR)
	assert.Empty(t, s.FindEntitiesByName("Triangle"))
}

func TestTree_GroupsChildrenUnderParents(t *testing.T) {
	t.Parallel()

	s := buildHierarchy(t)
	tree := NewTree(s)
	assert.Equal(t, len(s.Entities())+1, tree.Len())

	shape, _ := s.FindEntity("c:@S@Shape")
	circle, _ := s.FindEntity("c:@S@Circle")

	top := tree.Children(tree.Root())
	assert.Len(t, top, 4, "four classes are top level")

	shapeNode, ok := tree.NodeOf(shape)
	require.True(t, ok)
	kids := tree.Children(shapeNode)
	require.Len(t, kids, 1)
	area := tree.Node(kids[0])
	e, _ := s.Entity(area.Entity)
	assert.Equal(t, "area", e.Name)
	assert.Equal(t, shapeNode, area.Parent)

	circleNode, _ := tree.NodeOf(circle)
	assert.Len(t, tree.Children(circleNode), 1)

	var visited int
	tree.Walk(tree.Root(), func(node, depth int) bool {
		visited++
		return true
	})
	assert.Equal(t, len(s.Entities()), visited)

	visited = 0
	tree.Walk(tree.Root(), func(node, depth int) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestRelations_TransitiveQueries(t *testing.T) {
	t.Parallel()

	s := buildHierarchy(t)
	rel, err := NewRelations(s)
	require.NoError(t, err)

	shape, _ := s.FindEntity("c:@S@Shape")
	circle, _ := s.FindEntity("c:@S@Circle")
	ring, _ := s.FindEntity("c:@S@Ring")
	square, _ := s.FindEntity("c:@S@Square")

	derived, err := rel.AllDerived(shape)
	require.NoError(t, err)
	assert.ElementsMatch(t, []EntityID{circle, ring, square}, derived)

	bases, err := rel.AllBases(ring)
	require.NoError(t, err)
	assert.ElementsMatch(t, []EntityID{circle, shape}, bases)

	main, _ := s.FileByPath("/src/shapes.cpp")
	shapeH, _ := s.FileByPath("/src/shape.h")
	baseH, _ := s.FileByPath("/src/base.h")

	closure, err := rel.IncludeClosure(main)
	require.NoError(t, err)
	assert.ElementsMatch(t, []FileID{shapeH, baseH}, closure)

	by, err := rel.IncludedBy(baseH)
	require.NoError(t, err)
	assert.ElementsMatch(t, []FileID{main, shapeH}, by)

	_, err = rel.AllDerived(EntityID(999))
	assert.Error(t, err)
}

func TestRelations_DuplicateEdgesTolerated(t *testing.T) {
	t.Parallel()

	b := NewBuilder()
	b.EnteredFile("/src/a.c")
	b.IncludedFile(frontend.Inclusion{From: "/src/a.c", To: "/src/a.h", Line: 1})
	b.IncludedFile(frontend.Inclusion{From: "/src/a.c", To: "/src/a.h", Line: 5})

	_, err := NewRelations(b.Finish(0))
	require.NoError(t, err)
}

func TestEntityFlags_Access(t *testing.T) {
	t.Parallel()

	f := SetAccess(FlagStatic, frontend.AccessPublic)
	assert.Equal(t, frontend.AccessPublic, AccessOf(f))

	f = SetAccess(f, frontend.AccessPrivate)
	assert.Equal(t, frontend.AccessPrivate, AccessOf(f))
	assert.True(t, f.Has(FlagStatic))

	f = SetAccess(f, frontend.AccessProtected)
	assert.Equal(t, frontend.AccessProtected, AccessOf(f))
	assert.False(t, f.Has(FlagPrivate))

	f = SetAccess(f, frontend.AccessInvalid)
	assert.Equal(t, frontend.AccessInvalid, AccessOf(f))
	assert.Equal(t, FlagStatic, f)
}

func TestParseBaseRelation(t *testing.T) {
	t.Parallel()

	rel := BaseRelation{Access: frontend.AccessProtected, Base: 3, Derived: 7}
	got, err := ParseBaseRelation(rel.String())
	require.NoError(t, err)
	assert.Equal(t, rel, got)

	for _, bad := range []string{"", "1 2", "1 2 x", "9 1 2"} {
		_, err := ParseBaseRelation(bad)
		assert.Error(t, err, bad)
	}
}
