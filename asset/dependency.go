package asset

import (
	"sort"

	"github.com/devblok/koruasset/assetref"
)

// DependencyGraph is the edge set {dependant -> dependee}. Edges form a
// multiset, adding the same edge twice records it twice. Refs are
// compared by their case-insensitive key.
type DependencyGraph struct {
	out map[string][]string
	in  map[string]map[string]*reverseEdge
}

type reverseEdge struct {
	ref   string
	count int
}

// NewDependencyGraph creates an empty graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		out: make(map[string][]string),
		in:  make(map[string]map[string]*reverseEdge),
	}
}

// Add records that dependant depends on dependee.
func (g *DependencyGraph) Add(dependant, dependee string) {
	dk, ek := assetref.Key(dependant), assetref.Key(dependee)
	g.out[dk] = append(g.out[dk], assetref.Canonicalize(dependee))

	edges, ok := g.in[ek]
	if !ok {
		edges = make(map[string]*reverseEdge)
		g.in[ek] = edges
	}
	if e, ok := edges[dk]; ok {
		e.count++
	} else {
		edges[dk] = &reverseEdge{ref: assetref.Canonicalize(dependant), count: 1}
	}
}

// Dependencies returns the dependees of dependant in the order they were
// added, duplicates included.
func (g *DependencyGraph) Dependencies(dependant string) []string {
	return append([]string(nil), g.out[assetref.Key(dependant)]...)
}

// NumDependencies returns the out-degree of dependant.
func (g *DependencyGraph) NumDependencies(dependant string) int {
	return len(g.out[assetref.Key(dependant)])
}

// Dependants returns the distinct refs that depend on dependee, sorted.
func (g *DependencyGraph) Dependants(dependee string) []string {
	edges := g.in[assetref.Key(dependee)]
	refs := make([]string, 0, len(edges))
	for _, e := range edges {
		refs = append(refs, e.ref)
	}
	sort.Strings(refs)
	return refs
}

// RemoveDependant drops every edge that starts at dependant.
func (g *DependencyGraph) RemoveDependant(dependant string) {
	dk := assetref.Key(dependant)
	for _, dependee := range g.out[dk] {
		ek := assetref.Key(dependee)
		edges := g.in[ek]
		if e, ok := edges[dk]; ok {
			e.count--
			if e.count <= 0 {
				delete(edges, dk)
			}
		}
		if len(edges) == 0 {
			delete(g.in, ek)
		}
	}
	delete(g.out, dk)
}

// Len returns the number of edges.
func (g *DependencyGraph) Len() int {
	n := 0
	for _, deps := range g.out {
		n += len(deps)
	}
	return n
}
