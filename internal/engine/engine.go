// Package engine drives whole build invocations: it wraps the recursive
// make of the dependency graph with the snapshot cache load/save cycle
// and the user-facing error report.
package engine

import (
	"errors"
	"io"
	"log/slog"

	"github.com/skapfer/rubber/internal/dep"
	"github.com/skapfer/rubber/internal/snapshot"
)

// DefaultMaxErrors caps how many diagnostics a failed build reports.
const DefaultMaxErrors = 10

// Options configure an engine.
type Options struct {
	// CachePath is the snapshot cache file; empty disables persistence.
	CachePath string

	// MaxErrors caps the diagnostics reported per failure; zero means
	// DefaultMaxErrors.
	MaxErrors int

	// Force runs every recipe at least once regardless of fingerprints.
	Force bool
}

// Engine runs builds against one graph. It must not be shared across
// concurrent build invocations; the cache file is not designed for
// concurrent writers.
type Engine struct {
	graph  *dep.Graph
	opts   Options
	logger *slog.Logger
}

// New creates an engine for the graph.
func New(graph *dep.Graph, opts Options, logger *slog.Logger) *Engine {
	if opts.MaxErrors == 0 {
		opts.MaxErrors = DefaultMaxErrors
	}

	return &Engine{
		graph:  graph,
		opts:   opts,
		logger: logger.With("pkg", "engine"),
	}
}

// Make brings root up to date. The cache is read once before and written
// once after the recursion, so unrelated, unchanged nodes are not even
// re-examined by a later invocation of the whole program.
func (e *Engine) Make(root *dep.Node) (dep.Outcome, error) {
	if e.opts.CachePath != "" {
		e.graph.LoadCache(e.opts.CachePath)
	}

	out, err := root.Make(e.opts.Force)

	if e.opts.CachePath != "" && !errors.Is(err, snapshot.ErrInconsistent) {
		// nodes that built successfully keep their records even when a
		// later one failed; only a filesystem inconsistency makes the
		// observed state untrustworthy
		if serr := dep.SaveCache(e.opts.CachePath, root); serr != nil {
			e.logger.Warn("could not save cache", "path", e.opts.CachePath, "error", serr)
		}
	}

	return out, err
}

// Report writes the diagnostics of a build failure to w, bounded by the
// configured cap. It reports false when err carries no diagnostics, in
// which case the caller must render it itself.
func (e *Engine) Report(w io.Writer, err error) bool {
	var be *dep.BuildError
	if !errors.As(err, &be) {
		return false
	}

	be.Report(w, e.opts.MaxErrors)

	return true
}
