package graph

import (
	"errors"
	"fmt"
	"slices"

	"github.com/dominikbraun/graph"
)

// Relations answers transitive questions over a snapshot's inheritance and
// include edges.
type Relations struct {
	derived  graph.Graph[EntityID, EntityID] // base -> derived
	bases    graph.Graph[EntityID, EntityID] // derived -> base
	includes graph.Graph[FileID, FileID]     // includer -> included
	included graph.Graph[FileID, FileID]     // included -> includer
}

// NewRelations indexes the base and include edges of s.
func NewRelations(s *Snapshot) (*Relations, error) {
	entityHash := func(id EntityID) EntityID { return id }
	fileHash := func(id FileID) FileID { return id }

	r := &Relations{
		derived:  graph.New(entityHash, graph.Directed()),
		bases:    graph.New(entityHash, graph.Directed()),
		includes: graph.New(fileHash, graph.Directed()),
		included: graph.New(fileHash, graph.Directed()),
	}

	for i := range s.entities {
		id := EntityID(i)
		if err := r.derived.AddVertex(id); err != nil {
			return nil, fmt.Errorf("failed to add entity %d: %w", id, err)
		}
		if err := r.bases.AddVertex(id); err != nil {
			return nil, fmt.Errorf("failed to add entity %d: %w", id, err)
		}
	}
	for i := range s.files {
		id := FileID(i)
		if err := r.includes.AddVertex(id); err != nil {
			return nil, fmt.Errorf("failed to add file %d: %w", id, err)
		}
		if err := r.included.AddVertex(id); err != nil {
			return nil, fmt.Errorf("failed to add file %d: %w", id, err)
		}
	}

	for _, b := range s.bases {
		if err := addEdge(r.derived, b.Base, b.Derived); err != nil {
			return nil, err
		}
		if err := addEdge(r.bases, b.Derived, b.Base); err != nil {
			return nil, err
		}
	}
	for _, inc := range s.includes {
		if err := addEdge(r.includes, inc.From, inc.To); err != nil {
			return nil, err
		}
		if err := addEdge(r.included, inc.To, inc.From); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Duplicate edges are expected: a header included twice, a base listed on
// several redeclarations.
func addEdge[K comparable](g graph.Graph[K, K], from, to K) error {
	err := g.AddEdge(from, to)
	if err != nil && !errors.Is(err, graph.ErrEdgeAlreadyExists) {
		return fmt.Errorf("failed to add edge %v -> %v: %w", from, to, err)
	}
	return nil
}

// AllDerived returns every entity that inherits from id, directly or not.
func (r *Relations) AllDerived(id EntityID) ([]EntityID, error) {
	return reachable(r.derived, id)
}

// AllBases returns every entity id inherits from, directly or not.
func (r *Relations) AllBases(id EntityID) ([]EntityID, error) {
	return reachable(r.bases, id)
}

// IncludeClosure returns every file reachable through includes from file.
func (r *Relations) IncludeClosure(file FileID) ([]FileID, error) {
	return reachable(r.includes, file)
}

// IncludedBy returns every file that reaches file through includes.
func (r *Relations) IncludedBy(file FileID) ([]FileID, error) {
	return reachable(r.included, file)
}

func reachable[K interface{ ~int32 }](g graph.Graph[K, K], start K) ([]K, error) {
	var out []K
	err := graph.BFS(g, start, func(k K) bool {
		if k != start {
			out = append(out, k)
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("failed to traverse from %v: %w", start, err)
	}
	slices.Sort(out)
	return out, nil
}
