package graph

import (
	"cmp"
	"slices"
)

// TreeNode is one node of an entity Tree. Children of a node occupy the
// contiguous index range [FirstChild, FirstChild+ChildCount).
type TreeNode struct {
	Entity     EntityID
	Parent     int
	FirstChild int
	ChildCount int
}

// Tree is the entity parent hierarchy of a snapshot stored as an arena.
// Node 0 is a synthetic root holding every top-level entity.
type Tree struct {
	nodes []TreeNode
	byID  []int
}

// NewTree builds the entity tree of s.
func NewTree(s *Snapshot) *Tree {
	ids := make([]EntityID, len(s.entities))
	for i := range ids {
		ids[i] = EntityID(i)
	}
	// Grouping by parent keeps siblings contiguous. Top-level entities have
	// parent NoEntity and so sort first, right after the root.
	slices.SortStableFunc(ids, func(a, b EntityID) int {
		return cmp.Compare(s.entities[a].Parent, s.entities[b].Parent)
	})

	t := &Tree{
		nodes: make([]TreeNode, 0, len(ids)+1),
		byID:  make([]int, len(s.entities)),
	}
	t.nodes = append(t.nodes, TreeNode{Entity: NoEntity, Parent: -1, FirstChild: -1})
	for i, id := range ids {
		t.byID[id] = i + 1
		t.nodes = append(t.nodes, TreeNode{Entity: id, FirstChild: -1})
	}

	for i := 1; i < len(t.nodes); i++ {
		parent := 0
		if p := s.entities[t.nodes[i].Entity].Parent; p != NoEntity {
			parent = t.byID[p]
		}
		t.nodes[i].Parent = parent
		if t.nodes[parent].FirstChild < 0 {
			t.nodes[parent].FirstChild = i
		}
		t.nodes[parent].ChildCount++
	}
	return t
}

// Root returns the index of the synthetic root node.
func (t *Tree) Root() int { return 0 }

// Len returns the number of nodes including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// Node returns the node at index i.
func (t *Tree) Node(i int) TreeNode { return t.nodes[i] }

// NodeOf returns the node index of an entity.
func (t *Tree) NodeOf(id EntityID) (int, bool) {
	if id < 0 || int(id) >= len(t.byID) {
		return 0, false
	}
	return t.byID[id], true
}

// Children returns the node indices of i's children.
func (t *Tree) Children(i int) []int {
	n := t.nodes[i]
	if n.ChildCount == 0 {
		return nil
	}
	out := make([]int, n.ChildCount)
	for k := range out {
		out[k] = n.FirstChild + k
	}
	return out
}

// Walk visits every node below i depth-first, stopping early when fn
// returns false.
func (t *Tree) Walk(i int, fn func(node int, depth int) bool) {
	t.walk(i, 0, fn)
}

func (t *Tree) walk(i, depth int, fn func(int, int) bool) bool {
	for _, c := range t.Children(i) {
		if !fn(c, depth) || !t.walk(c, depth+1, fn) {
			return false
		}
	}
	return true
}
