package latexmod

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"github.com/skapfer/rubber/internal/dep"
	"github.com/skapfer/rubber/internal/latex"
	"github.com/skapfer/rubber/internal/texlog"
)

// BibTeX error messages end with "---line N of file F" or "---while
// reading file F"; the actual message is either the text before the
// dashes or the whole previous line.
var reBibError = regexp.MustCompile(`---(line ([0-9]+) of|while reading) file (.*)`)

// bibTeX runs the bibliography tool to produce the .bbl file the next
// compilation pass reads.
type bibTeX struct {
	job    string
	aux    string
	bbl    string
	blg    string
	logger *slog.Logger

	execCommand func(name string, args ...string) dep.Commander
}

// newBibTeX registers a bibliography node for the document. The context
// arguments name the database files from \bibliography.
func newBibTeX(doc *latex.Document, ctx latex.Context) (latex.Module, error) {
	b := &bibTeX{
		job:    doc.Basename(""),
		aux:    doc.Basename(".aux"),
		bbl:    doc.Basename(".bbl"),
		blg:    doc.Basename(".blg"),
		logger: doc.Logger().With("pkg", "bibtex"),
		execCommand: func(name string, args ...string) dep.Commander {
			return exec.Command(name, args...)
		},
	}

	n := doc.Graph().NewNode(b)
	// the aux file only appears after the first compilation pass
	n.DeferMissing = true
	n.AddProduct(b.bbl)
	n.AddProduct(b.blg)
	n.AddSource(b.aux)

	for _, name := range ctx.Arguments {
		if !strings.HasSuffix(name, ".bib") {
			name += ".bib"
		}

		n.AddSource(name)
	}

	// the compilation consumes the bibliography on its next pass
	doc.Node().AddSource(b.bbl)

	return b, nil
}

// Run invokes the bibliography tool. Before the first compilation pass
// there is no aux file yet; the run is deferred to the next pass.
func (b *bibTeX) Run() error {
	if _, err := os.Stat(b.aux); err != nil {
		b.logger.Debug("no aux file yet, deferring bibtex", "aux", b.aux)
		return nil
	}

	b.logger.Info("running", "command", []string{"bibtex", b.job})

	c := b.execCommand("bibtex", b.job)
	if cmd, ok := c.(*exec.Cmd); ok {
		cmd.Stderr = os.Stderr
	}

	if err := c.Run(); err != nil {
		return fmt.Errorf("there were errors running bibtex: %w", err)
	}

	return nil
}

// Clean has nothing beyond the declared products to remove.
func (b *bibTeX) Clean() {}

// Errors reads the bibliography tool's log file and extracts error
// records.
func (b *bibTeX) Errors() []texlog.Diagnostic {
	f, err := os.Open(b.blg)
	if err != nil {
		b.logger.Warn("cannot open bibtex logfile", "path", b.blg)
		return nil
	}
	defer f.Close()

	var (
		out      []texlog.Diagnostic
		lastLine string
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		m := reBibError.FindStringSubmatchIndex(line)
		if m == nil {
			lastLine = line
			continue
		}

		text := strings.TrimSpace(line[:m[0]])
		if m[0] == 0 {
			text = strings.TrimSpace(lastLine)
		}

		// including a database as \bibliography{a.bib} makes bibtex
		// report the file as a.bib.bib
		file := line[m[6]:m[7]]
		if strings.HasSuffix(file, ".bib.bib") {
			file = file[:len(file)-4]
		}

		d := texlog.Diagnostic{
			Kind:    texlog.KindError,
			Package: "bibtex",
			File:    file,
			Text:    text,
		}

		if m[4] >= 0 {
			d.Line, _ = strconv.Atoi(line[m[4]:m[5]])
		}

		out = append(out, d)
		lastLine = line
	}

	return out
}
