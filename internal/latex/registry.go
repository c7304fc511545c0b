package latex

import "log/slog"

// Context describes the macro call that caused a module to load.
type Context struct {
	// Options is the text of the optional bracket argument, if any.
	Options string

	// Arguments holds the values of the macro's main argument, one per
	// comma-separated item.
	Arguments []string
}

// Module is a document package handler instantiated through the registry.
// Most modules register satellite nodes on the document's graph at
// construction time; the graph then drives them uniformly.
type Module interface {
	// Clean removes files the module generates beyond its nodes'
	// declared products. It never fails.
	Clean()
}

// Factory constructs the module handling one document package.
type Factory func(doc *Document, ctx Context) (Module, error)

// Registry maps document package names to module factories. Modules are
// resolved while the document is being read, not at build time.
type Registry struct {
	factories map[string]Factory
	logger    *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		logger:    logger.With("pkg", "latex"),
	}
}

// Register installs a factory under the given package name, replacing any
// previous one.
func (r *Registry) Register(name string, f Factory) {
	r.factories[name] = f
}

// Lookup returns the factory for name, or nil when the package has no
// support. Unsupported packages are not an error.
func (r *Registry) Lookup(name string) Factory {
	return r.factories[name]
}
