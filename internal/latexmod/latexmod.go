// Package latexmod provides the built-in document package modules:
// handlers instantiated through the latex registry when the document
// source requires them. Each module registers satellite nodes on the
// document's graph; the build engine then drives them like any other
// node.
package latexmod

import "github.com/skapfer/rubber/internal/latex"

// RegisterBuiltins installs the built-in modules into a registry.
func RegisterBuiltins(r *latex.Registry) {
	r.Register("bibtex", newBibTeX)
	r.Register("makeidx", newMakeindex)
}
