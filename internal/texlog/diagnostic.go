package texlog

import (
	"fmt"
	"strings"
)

// Kind classifies a diagnostic extracted from a compiler log.
type Kind string

const (
	KindError     Kind = "error"
	KindWarning   Kind = "warning"
	KindBox       Kind = "box"
	KindReference Kind = "reference"
	KindAbort     Kind = "abort"
)

// Diagnostic is one structured record extracted from a compiler log.
// Zero-valued fields are unknown. This tuple is the whole contract between
// the log analyzer and any reporting layer.
type Diagnostic struct {
	Kind     Kind
	Text     string
	File     string
	Line     int
	LastLine int
	Package  string
	Page     int
}

// String formats the diagnostic the way it is displayed to the user:
// position first, then the originating package, then the message.
func (d Diagnostic) String() string {
	var b strings.Builder

	if d.File != "" {
		b.WriteString(d.File)
		if d.Line > 0 {
			fmt.Fprintf(&b, ":%d", d.Line)
			if d.LastLine > d.Line {
				fmt.Fprintf(&b, "-%d", d.LastLine)
			}
		}
		b.WriteString(": ")
	}

	if d.Package != "" {
		fmt.Fprintf(&b, "[%s] ", d.Package)
	}

	b.WriteString(d.Text)

	if d.Page > 0 {
		fmt.Fprintf(&b, " (page %d)", d.Page)
	}

	return b.String()
}
