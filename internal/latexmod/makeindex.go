package latexmod

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"

	"github.com/skapfer/rubber/internal/dep"
	"github.com/skapfer/rubber/internal/latex"
	"github.com/skapfer/rubber/internal/texlog"
)

// makeindex turns the raw .idx entries written by a compilation pass into
// the sorted .ind file the next pass reads.
type makeindex struct {
	idx    string
	ind    string
	ilg    string
	logger *slog.Logger

	execCommand func(name string, args ...string) dep.Commander
}

func newMakeindex(doc *latex.Document, _ latex.Context) (latex.Module, error) {
	m := &makeindex{
		idx:    doc.Basename(".idx"),
		ind:    doc.Basename(".ind"),
		ilg:    doc.Basename(".ilg"),
		logger: doc.Logger().With("pkg", "makeidx"),
		execCommand: func(name string, args ...string) dep.Commander {
			return exec.Command(name, args...)
		},
	}

	n := doc.Graph().NewNode(m)
	// the raw index only appears after the first compilation pass
	n.DeferMissing = true
	n.AddProduct(m.ind)
	n.AddProduct(m.ilg)
	n.AddSource(m.idx)

	// the compilation writes the raw entries and reads the sorted index
	doc.Node().AddProduct(m.idx)
	doc.Node().AddSource(m.ind)
	doc.AddCleanSuffix(".idx")

	return m, nil
}

// Run invokes makeindex, deferring until a compilation pass has written
// the raw index.
func (m *makeindex) Run() error {
	if _, err := os.Stat(m.idx); err != nil {
		m.logger.Debug("no raw index yet, deferring makeindex", "idx", m.idx)
		return nil
	}

	m.logger.Info("running", "command", []string{"makeindex", m.idx})

	c := m.execCommand("makeindex", m.idx)
	if cmd, ok := c.(*exec.Cmd); ok {
		cmd.Stderr = os.Stderr
	}

	if err := c.Run(); err != nil {
		return fmt.Errorf("there were errors running makeindex: %w", err)
	}

	return nil
}

func (m *makeindex) Clean() {}

// Errors points the user at the makeindex transcript; the tool's own log
// format is too free-form to parse reliably.
func (m *makeindex) Errors() []texlog.Diagnostic {
	return []texlog.Diagnostic{{
		Kind: texlog.KindError,
		File: m.idx,
		Text: fmt.Sprintf("makeindex failed, see %s", m.ilg),
	}}
}
