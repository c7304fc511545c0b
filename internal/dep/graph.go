// Package dep provides the dependency graph driving incremental builds.
//
// A Node declares the files it produces and the files it consumes, and
// carries a Recipe that knows how to (re)build the products. Making a node
// recursively makes the nodes owning its sources first, then compares
// content fingerprints against the snapshot taken at the last successful
// build to decide whether the recipe must run again.
//
// The graph owns every node and resolves product paths to owning nodes;
// nodes refer to their sources by path only.
package dep

import (
	"log/slog"

	"github.com/skapfer/rubber/internal/snapshot"
	"github.com/skapfer/rubber/internal/texlog"
)

// Outcome reports what making a node did.
type Outcome int

const (
	// Unchanged means the node's products were already up to date.
	Unchanged Outcome = iota
	// Changed means the recipe ran and the products were rewritten.
	Changed
)

func (o Outcome) String() string {
	if o == Changed {
		return "changed"
	}

	return "unchanged"
}

// Recipe is the behavior attached to a node: it rebuilds the node's
// products from its sources.
type Recipe interface {
	// Run rebuilds the products. A non-nil error marks the build of the
	// owning node as failed.
	Run() error

	// Clean removes any byproducts not listed as products. It never fails.
	Clean()

	// Errors reports the diagnostics explaining the most recent Run
	// failure. Valid only immediately after a failed Run.
	Errors() []texlog.Diagnostic
}

// Graph holds all registered nodes and the snapshot store they share.
type Graph struct {
	snaps  *snapshot.Store
	logger *slog.Logger
	owners map[string]*Node
	nodes  []*Node
}

// NewGraph creates an empty graph backed by the given snapshot store.
func NewGraph(snaps *snapshot.Store, logger *slog.Logger) *Graph {
	return &Graph{
		snaps:  snaps,
		logger: logger.With("pkg", "dep"),
		owners: make(map[string]*Node),
	}
}

// NewNode registers a node with the given recipe. Products and sources are
// declared afterwards with AddProduct and AddSource.
func (g *Graph) NewNode(recipe Recipe) *Node {
	n := &Node{
		graph:  g,
		recipe: recipe,
		exists: true,
	}

	g.nodes = append(g.nodes, n)

	return n
}

// Owner returns the node responsible for producing path, or nil if the
// path is a plain file not produced by any node.
func (g *Graph) Owner(path string) *Node {
	return g.owners[path]
}

// Snapshots exposes the graph's snapshot store.
func (g *Graph) Snapshots() *snapshot.Store {
	return g.snaps
}

// LeafSources returns every registered source not produced by any node,
// in registration order, without duplicates.
func (g *Graph) LeafSources() []string {
	var out []string

	seen := make(map[string]bool)
	for _, n := range g.nodes {
		for _, src := range n.sources {
			if g.owners[src] == nil && !seen[src] {
				seen[src] = true
				out = append(out, src)
			}
		}
	}

	return out
}

// CleanAll cleans every registered node. Cleaning is not recursive; nodes
// are visited in registration order.
func (g *Graph) CleanAll() {
	for _, n := range g.nodes {
		n.Clean()
	}
}
