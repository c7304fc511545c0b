package dep

import (
	"fmt"
	"os"

	"github.com/skapfer/rubber/internal/snapshot"
	"github.com/skapfer/rubber/internal/texlog"
)

// patience bounds the build-to-fixpoint loop of a single node. One recipe
// invocation can change a source the same node depends on (a typesetting
// pass rewriting the aux file it also reads), so the recipe is retried
// until the sources settle. The value 5 is an observed property of TeX
// documents, not a tunable.
const patience = 5

// sourceSnap is the fingerprint of one source as of the last successful
// build.
type sourceSnap struct {
	path string
	fp   snapshot.Fingerprint
}

// Node is a unit of the dependency graph.
type Node struct {
	graph    *Graph
	recipe   Recipe
	products []string
	sources  []string

	// record holds the snapshot of every source as of the last successful
	// build, in source order. nil means no build was attempted yet.
	record []sourceSnap

	// exists tracks whether the products are known to be on disk.
	exists bool

	// making guards against re-entering Make on cyclic graphs.
	making bool

	failedDep *Node

	// DeferMissing selects the policy for sources missing on disk: when
	// set, a missing source is treated as not yet produced and the recipe
	// copes; when unset, Make fails immediately. The main document node
	// sets it because the first pass legitimately runs before the aux
	// files exist.
	DeferMissing bool
}

// AddProduct declares a file this node is responsible for creating. The
// first product added is the primary one. The node becomes the owner of
// the path for source resolution.
func (n *Node) AddProduct(path string) {
	n.graph.owners[path] = n

	for _, p := range n.products {
		if p == path {
			return
		}
	}

	n.products = append(n.products, path)

	if _, err := os.Stat(path); err != nil {
		// a product is missing, we must build at least once
		n.exists = false
	}
}

// AddSource declares a file this node consumes. Sources are visited in
// the order they were added.
func (n *Node) AddSource(path string) {
	for _, s := range n.sources {
		if s == path {
			return
		}
	}

	n.sources = append(n.sources, path)
}

// RemoveSource removes a source added earlier.
func (n *Node) RemoveSource(path string) {
	for i, s := range n.sources {
		if s == path {
			n.sources = append(n.sources[:i], n.sources[i+1:]...)
			return
		}
	}
}

// Primary returns the primary product path.
func (n *Node) Primary() string {
	if len(n.products) == 0 {
		return ""
	}

	return n.products[0]
}

// Products returns the declared products in order.
func (n *Node) Products() []string {
	return n.products
}

// Sources returns the declared sources in order.
func (n *Node) Sources() []string {
	return n.sources
}

// FailedDep returns the node that caused the most recent failure, possibly
// this node itself.
func (n *Node) FailedDep() *Node {
	return n.failedDep
}

// Make brings the node's products up to date, recursively making source
// nodes first. It returns Changed if the recipe ran at least once. If
// force is set, the recipe runs at least once even when fingerprints say
// nothing changed.
func (n *Node) Make(force bool) (Outcome, error) {
	if n.making {
		// cyclic dependency -- drop for now, the caller will re-visit.
		// This happens while remaking the .aux in order to make the .bbl,
		// for example.
		n.graph.logger.Debug("cyclic dependency pruned", "product", n.Primary())
		return Unchanged, nil
	}

	n.making = true
	defer func() { n.making = false }()

	n.graph.logger.Debug("make", "product", n.Primary(), "sources", n.sources)

	outcome := Unchanged

	for attempt := 0; attempt < patience; attempt++ {
		if _, err := n.makeSources(force); err != nil {
			return outcome, err
		}

		current, err := n.snapshotSources()
		if err != nil {
			n.failedDep = n
			return outcome, err
		}

		if !force && !n.shouldMake(current) {
			return outcome, nil
		}

		// record the source fingerprints as we now actually start the
		// build: if the recipe rewrites one of its own sources, the next
		// attempt must see the difference and run again
		n.record = current

		if err := n.recipe.Run(); err != nil {
			n.graph.logger.Debug("recipe failed", "product", n.Primary(), "error", err)
			n.failedDep = n
			n.exists = false
			n.record = nil

			return outcome, &BuildError{Node: n, Diagnostics: n.recipe.Errors()}
		}

		n.exists = true
		outcome = Changed
		force = false
	}

	n.graph.logger.Error("contents do not settle", "product", n.Primary())
	n.failedDep = n

	return outcome, &BuildError{
		Node: n,
		Diagnostics: []texlog.Diagnostic{{
			Kind: texlog.KindError,
			File: n.Primary(),
			Text: "file contents do not seem to settle",
		}},
	}
}

// makeSources recursively makes every source owned by another node, in
// source order. It reports whether at least one of them changed.
func (n *Node) makeSources(force bool) (bool, error) {
	changed := false

	for _, src := range n.sources {
		owner := n.graph.Owner(src)
		if owner == nil || owner == n {
			continue
		}

		out, err := owner.Make(force)
		if err != nil {
			n.failedDep = owner.failedDep
			return changed, err
		}

		if out == Changed {
			changed = true
		}
	}

	return changed, nil
}

// snapshotSources fingerprints every source in order. A source that is
// missing on disk, not produced by any node, and not deferred by policy
// fails the build immediately.
func (n *Node) snapshotSources() ([]sourceSnap, error) {
	snaps := make([]sourceSnap, 0, len(n.sources))

	for _, src := range n.sources {
		fp, err := n.graph.snaps.Snapshot(src)
		if err != nil {
			return nil, err
		}

		if fp == snapshot.Missing && !n.DeferMissing && n.graph.Owner(src) == nil {
			n.failedDep = n
			return nil, &BuildError{
				Node: n,
				Diagnostics: []texlog.Diagnostic{{
					Kind: texlog.KindError,
					File: src,
					Text: fmt.Sprintf("%s does not exist, and cannot be made", src),
				}},
			}
		}

		snaps = append(snaps, sourceSnap{path: src, fp: fp})
	}

	return snaps, nil
}

// shouldMake compares the current source snapshot against the record of
// the last successful build. Nothing recursive happens here.
func (n *Node) shouldMake(current []sourceSnap) bool {
	if !n.exists {
		// one of the products does not exist
		return true
	}

	if n.record == nil {
		// never built in this process and no cache entry was installed
		return true
	}

	if !snapshotsEqual(n.record, current) {
		n.graph.logger.Debug("sources changed", "product", n.Primary())
		return true
	}

	n.graph.logger.Debug("up to date", "product", n.Primary())

	return false
}

// snapshotsEqual reports whether two snapshot records list the same source
// paths with the same fingerprints, in the same order.
func snapshotsEqual(a, b []sourceSnap) bool {
	if len(a) != len(b) {
		return false
	}

	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}

	return true
}

// Clean removes the node's products and asks the recipe to remove its
// byproducts. It never fails; missing files are ignored.
func (n *Node) Clean() {
	for _, p := range n.products {
		if err := os.Remove(p); err == nil {
			n.graph.logger.Debug("removed", "path", p)
		}
	}

	n.exists = false
	n.record = nil

	n.recipe.Clean()
}
