package dep

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/skapfer/rubber/internal/snapshot"
)

// The cache file is plain text so that it stays line-diffable: one header
// line per product holding its path, followed by one indented line per
// source holding the fixed-width fingerprint and the source path.
const cacheIndent = "  "

// SaveCache writes the snapshot records of every node reachable from root
// to a text file at path. Nodes without a record are skipped.
func SaveCache(path string, root *Node) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create cache file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	visited := make(map[*Node]bool)

	if err := saveNode(w, root, visited); err != nil {
		return err
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("write cache file: %w", err)
	}

	return nil
}

// saveNode writes one node then recurses into the nodes owning its
// sources. The visited set keeps diamond dependencies from being written
// twice.
func saveNode(w *bufio.Writer, n *Node, visited map[*Node]bool) error {
	if visited[n] {
		return nil
	}

	visited[n] = true

	if n.record != nil {
		if _, err := fmt.Fprintln(w, n.Primary()); err != nil {
			return fmt.Errorf("write cache file: %w", err)
		}

		for _, s := range n.record {
			if _, err := fmt.Fprintf(w, "%s%s %s\n", cacheIndent, s.fp, s.path); err != nil {
				return fmt.Errorf("write cache file: %w", err)
			}
		}
	}

	for _, src := range n.sources {
		if owner := n.graph.Owner(src); owner != nil && owner != n {
			if err := saveNode(w, owner, visited); err != nil {
				return err
			}
		}
	}

	return nil
}

// LoadCache installs recorded snapshots into the graph's nodes so the
// first Make call can short-circuit without recomputation. Loading never
// fails the build: a missing, unreadable or stale cache only means the
// affected nodes are rebuilt.
func (g *Graph) LoadCache(path string) {
	f, err := os.Open(path)
	if err != nil {
		g.logger.Debug("no usable cache", "path", path, "error", err)
		return
	}
	defer f.Close()

	var (
		product string
		record  []sourceSnap
		valid   = true
	)

	install := func() {
		if product == "" || !valid {
			return
		}

		g.installRecord(product, record)
	}

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if !strings.HasPrefix(line, cacheIndent) {
			install()

			product = line
			record = nil
			valid = true

			continue
		}

		fields := strings.SplitN(line[len(cacheIndent):], " ", 2)
		if len(fields) != 2 {
			g.logger.Debug("malformed cache line skipped", "line", line)
			valid = false

			continue
		}

		fp, err := snapshot.Parse(fields[0])
		if err != nil {
			g.logger.Debug("malformed fingerprint skipped", "line", line, "error", err)
			valid = false

			continue
		}

		record = append(record, sourceSnap{path: fields[1], fp: fp})
	}

	install()

	if err := scanner.Err(); err != nil {
		g.logger.Debug("cache read interrupted", "path", path, "error", err)
	}
}

// installRecord attaches a recorded snapshot to the node currently owning
// product. The entry is discarded when no node owns the product anymore or
// when the node's source list changed structurally since the record was
// written.
func (g *Graph) installRecord(product string, record []sourceSnap) {
	n := g.Owner(product)
	if n == nil {
		g.logger.Debug("stale cache entry skipped", "product", product)
		return
	}

	if len(record) != len(n.sources) {
		g.logger.Debug("cache entry with changed sources skipped", "product", product)
		return
	}

	for i, s := range record {
		if s.path != n.sources[i] {
			g.logger.Debug("cache entry with changed sources skipped", "product", product)
			return
		}
	}

	n.record = record
}
