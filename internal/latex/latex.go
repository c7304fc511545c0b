// Package latex drives the compilation of a LaTeX document.
//
// The document is a dependency node whose recipe invokes the configured
// TeX engine. The aux file is both a product and a source of the same
// node: one pass rewrites the file the next pass reads, which is what
// makes the engine's build-to-fixpoint loop converge on cross-references.
//
// Reading the document source is a light scan for the handful of macros
// that influence the build (packages, bibliographies, indexes, watched
// tables of contents); it is not a TeX parser.
package latex

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/skapfer/rubber/internal/dep"
	"github.com/skapfer/rubber/internal/texlog"
)

// DefaultLogLimit bounds how much of the compiler log is read, protecting
// against pathologically large logs.
const DefaultLogLimit = 1_000_000

var (
	reComment   = regexp.MustCompile(`(^|[^\\])%.*$`)
	rePackage   = regexp.MustCompile(`\\(?:usepackage|RequirePackage)(?:\[([^]]*)\])?\{([^}]*)\}`)
	reClass     = regexp.MustCompile(`\\(?:documentclass|LoadClass(?:WithOptions)?)(?:\[([^]]*)\])?\{([^}]*)\}`)
	reBiblio    = regexp.MustCompile(`\\bibliography\{([^}]*)\}`)
	reBibStyle  = regexp.MustCompile(`\\bibliographystyle\{([^}]*)\}`)
	reMakeindex = regexp.MustCompile(`\\makeindex\b`)
	reToc       = regexp.MustCompile(`\\tableofcontents\b`)
	reListof    = regexp.MustCompile(`\\listof(figures|tables)\b`)
	reInput     = regexp.MustCompile(`\\(?:input|include)\{([^}]*)\}`)
)

// Options configure a document build.
type Options struct {
	// Program is the TeX engine executable, "latex" by default.
	Program string

	// Pdf selects pdflatex and a .pdf primary product instead of the
	// DVI pipeline.
	Pdf bool

	// JobName overrides the base name the engine uses for its output
	// files.
	JobName string

	// Synctex asks the engine to write a synctex file.
	Synctex bool

	// LogLimit caps how many bytes of the log are parsed. Zero means
	// DefaultLogLimit.
	LogLimit int64
}

// Document is the dependency node for the main LaTeX compilation.
type Document struct {
	graph    *dep.Graph
	node     *dep.Node
	registry *Registry
	logger   *slog.Logger

	source  string
	srcDir  string
	job     string
	suffix  string
	opts    Options
	modules map[string]Module

	// suffixes of byproducts removed on clean, extended by parse results
	cleanSuffixes []string

	log     *texlog.Log
	lastErr []texlog.Diagnostic

	execCommand func(name string, args ...string) dep.Commander
}

// NewDocument registers a node for compiling the given source file. The
// file must exist.
func NewDocument(graph *dep.Graph, registry *Registry, logger *slog.Logger, source string, opts Options) (*Document, error) {
	if _, err := os.Stat(source); err != nil {
		return nil, fmt.Errorf("source %s: %w", source, err)
	}

	if opts.Program == "" {
		opts.Program = "latex"
	}

	if opts.Pdf && opts.Program == "latex" {
		opts.Program = "pdflatex"
	}

	if opts.LogLimit <= 0 {
		opts.LogLimit = DefaultLogLimit
	}

	d := &Document{
		graph:    graph,
		registry: registry,
		logger:   logger.With("pkg", "latex"),
		source:   source,
		srcDir:   filepath.Dir(source),
		opts:     opts,
		modules:  make(map[string]Module),
		suffix:   ".dvi",
		cleanSuffixes: []string{
			".aux", ".log", ".toc", ".lof", ".lot", ".out", ".synctex.gz",
		},
		execCommand: func(name string, args ...string) dep.Commander {
			return exec.Command(name, args...)
		},
	}

	if opts.Pdf {
		d.suffix = ".pdf"
	}

	d.job = opts.JobName
	if d.job == "" {
		base := filepath.Base(source)
		d.job = strings.TrimSuffix(base, filepath.Ext(base))
	}

	n := graph.NewNode(d)
	// the first pass legitimately runs before the aux files exist
	n.DeferMissing = true

	n.AddProduct(d.Basename(d.suffix))
	n.AddProduct(d.Basename(".log"))
	n.AddSource(source)

	// the aux file is written by the same pass that reads it; declaring
	// it on both sides drives the rerun-until-stable loop
	aux := d.Basename(".aux")
	n.AddProduct(aux)
	n.AddSource(aux)

	if opts.Synctex {
		n.AddProduct(d.Basename(".synctex.gz"))
	}

	d.node = n

	// pick up diagnostics left over from a previous run; absence is fine
	d.log, _ = texlog.Read(d.Basename(".log"), opts.LogLimit, d.logger)

	return d, nil
}

// Basename returns the job name with the given suffix appended; the
// engine derives all its output file names this way.
func (d *Document) Basename(suffix string) string {
	return d.job + suffix
}

// Node returns the document's dependency node.
func (d *Document) Node() *dep.Node {
	return d.node
}

// Graph returns the graph the document is registered in, for modules
// adding satellite nodes.
func (d *Document) Graph() *dep.Graph {
	return d.graph
}

// Logger returns the document's logger, for modules.
func (d *Document) Logger() *slog.Logger {
	return d.logger
}

// WatchFile registers a file (typically "job.toc" or such) whose change
// during a compilation means another compilation has to be done.
func (d *Document) WatchFile(path string) {
	d.node.AddSource(path)
}

// AddCleanSuffix extends the byproduct suffixes removed on clean.
func (d *Document) AddCleanSuffix(suffix string) {
	d.cleanSuffixes = append(d.cleanSuffixes, suffix)
}

// Parse scans the document source for build-relevant macros and resolves
// the modules they require. It must be called before the first make.
func (d *Document) Parse() error {
	if err := d.parseFile(d.source); err != nil {
		return err
	}

	return nil
}

// parseFile scans one source file, following \input and \include one
// level into files living next to the main source.
func (d *Document) parseFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := reComment.ReplaceAllString(scanner.Text(), "$1")

		for _, m := range reClass.FindAllStringSubmatch(line, -1) {
			d.requirePackages(m[2], m[1])
		}

		for _, m := range rePackage.FindAllStringSubmatch(line, -1) {
			d.requirePackages(m[2], m[1])
		}

		for _, m := range reBiblio.FindAllStringSubmatch(line, -1) {
			d.require("bibtex", Context{Arguments: splitArguments(m[1])})
		}

		if reBibStyle.MatchString(line) {
			d.require("bibtex", Context{})
		}

		if reMakeindex.MatchString(line) {
			d.require("makeidx", Context{})
		}

		if reToc.MatchString(line) {
			d.WatchFile(d.Basename(".toc"))
		}

		for _, m := range reListof.FindAllStringSubmatch(line, -1) {
			if m[1] == "figures" {
				d.WatchFile(d.Basename(".lof"))
			} else {
				d.WatchFile(d.Basename(".lot"))
			}
		}

		for _, m := range reInput.FindAllStringSubmatch(line, -1) {
			d.addInput(m[1])
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	return nil
}

// addInput records an \input'd file as a source of the compilation.
func (d *Document) addInput(name string) {
	if filepath.Ext(name) == "" {
		name += ".tex"
	}

	path := name
	if !filepath.IsAbs(path) {
		path = filepath.Join(d.srcDir, name)
	}

	if _, err := os.Stat(path); err != nil {
		d.logger.Debug("input file not found, ignored", "name", name)
		return
	}

	d.node.AddSource(path)
}

// requirePackages resolves every package in the comma-separated names
// list through the registry.
func (d *Document) requirePackages(names, options string) {
	for _, name := range splitArguments(names) {
		d.require(name, Context{Options: options, Arguments: []string{name}})
	}
}

// require instantiates the module for name once. Packages without support
// are ignored.
func (d *Document) require(name string, ctx Context) {
	if _, done := d.modules[name]; done {
		return
	}

	factory := d.registry.Lookup(name)
	if factory == nil {
		d.logger.Debug("no support for package", "name", name)
		return
	}

	mod, err := factory(d, ctx)
	if err != nil {
		d.logger.Warn("module failed to load", "name", name, "error", err)
		return
	}

	d.logger.Debug("module registered", "name", name)
	d.modules[name] = mod
}

// Run performs one compilation of the source. It satisfies dep.Recipe;
// the engine calls it again until the sources settle.
func (d *Document) Run() error {
	d.logger.Info("compiling", "source", d.source)

	args := []string{}
	if d.opts.JobName != "" {
		args = append(args, "-jobname="+d.opts.JobName)
	}

	if d.opts.Synctex {
		args = append(args, "-synctex=1")
	}

	args = append(args, "\\nonstopmode", fmt.Sprintf("\\input{%s}", d.source))

	c := d.execCommand(d.opts.Program, args...)
	if cmd, ok := c.(*exec.Cmd); ok {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Env = append(os.Environ(), "TEXINPUTS="+d.srcDir+":"+os.Getenv("TEXINPUTS"))
	}

	runErr := c.Run()

	log, ok := texlog.Read(d.Basename(".log"), d.opts.LogLimit, d.logger)
	d.log = log

	if runErr != nil || !ok || log.HasErrors() {
		d.lastErr = nil
		return fmt.Errorf("running %s failed", d.opts.Program)
	}

	if _, err := os.Stat(d.node.Primary()); err != nil {
		d.lastErr = []texlog.Diagnostic{{
			Kind: texlog.KindError,
			File: d.source,
			Text: fmt.Sprintf("primary output file %s was not produced", d.node.Primary()),
		}}

		return fmt.Errorf("primary output file %s was not produced", d.node.Primary())
	}

	return nil
}

// Clean removes compilation byproducts; the declared products are removed
// by the node itself. Module byproducts are cleaned through their own
// nodes and Clean hooks.
func (d *Document) Clean() {
	for _, suffix := range d.cleanSuffixes {
		if err := os.Remove(d.Basename(suffix)); err == nil {
			d.logger.Debug("removed", "path", d.Basename(suffix))
		}
	}

	for name, mod := range d.modules {
		d.logger.Debug("cleaning module files", "name", name)
		mod.Clean()
	}
}

// Errors reports the diagnostics of the most recent failed compilation.
func (d *Document) Errors() []texlog.Diagnostic {
	if d.lastErr != nil {
		return d.lastErr
	}

	if d.log == nil {
		return []texlog.Diagnostic{{
			Kind: texlog.KindError,
			File: d.source,
			Text: "compilation log unavailable",
		}}
	}

	return d.log.Diagnostics(texlog.Errors)
}

// Log exposes the most recently read compiler log, for reporting layers
// that want warnings or boxes as well.
func (d *Document) Log() *texlog.Log {
	return d.log
}

// splitArguments splits a comma-separated macro argument into trimmed,
// non-empty items.
func splitArguments(s string) []string {
	var out []string

	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}

	return out
}
