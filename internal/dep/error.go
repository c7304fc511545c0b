package dep

import (
	"fmt"
	"io"

	"github.com/skapfer/rubber/internal/texlog"
)

// BuildError signals a build failure. Node points to the dependency node
// which failed to build, and Diagnostics carries whatever its recipe could
// extract about the cause.
type BuildError struct {
	Node        *Node
	Diagnostics []texlog.Diagnostic
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("building %s failed", e.Node.Primary())
}

// Report writes at most maxErrors diagnostics to w, followed by a marker
// when more were available.
func (e *BuildError) Report(w io.Writer, maxErrors int) {
	for _, d := range e.Diagnostics {
		if maxErrors == 0 {
			fmt.Fprintln(w, "More errors.")
			return
		}

		fmt.Fprintln(w, d.String())
		maxErrors--
	}
}
