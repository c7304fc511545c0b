// Package texlog extracts structured diagnostics from TeX log files.
//
// The log format is line oriented but reports most context implicitly:
// the file a diagnostic refers to is tracked through nested parentheses,
// the output page through bracketed page-break markers, and any line may
// be hard-wrapped at 79 columns regardless of semantic boundaries. The
// analyzer is a state machine over the lines, producing diagnostics
// lazily in a single pass.
package texlog

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// wrapWidth is the column at which TeX hard-wraps log lines
// (max_print_line). A line of exactly this length is continued on the
// next physical line and must be rejoined before pattern matching.
const wrapWidth = 79

// Interest selects which productions the analyzer reports. Callers ask
// for the cheapest subset they need.
type Interest uint

const (
	Errors Interest = 1 << iota
	Boxes
	References
	Warnings

	All = Errors | Boxes | References | Warnings
)

func (i Interest) has(f Interest) bool {
	return i&f != 0
}

var (
	reLoghead   = regexp.MustCompile(`^This is [0-9a-zA-Z-]*`)
	reFile      = regexp.MustCompile(`\(([^ \n\t(){}]*)|\)`)
	reBadbox    = regexp.MustCompile(`^(Ov|Und)erfull \\[hv]box `)
	reLine      = regexp.MustCompile(`^(l\.([0-9]+)( (.*))?$|<\*>)`)
	reCseq      = regexp.MustCompile(`.*((\\|\.\.\.)[^ ]*) ?$`)
	rePage      = regexp.MustCompile(`\[([0-9]+)\]`)
	reAtline    = regexp.MustCompile(`( detected| in paragraph)? at lines? ([0-9]*)(--([0-9]*))?`)
	reReference = regexp.MustCompile("^LaTeX Warning: Reference `(.*)' on page ([0-9]*) undefined on input line ([0-9]*)\\.$")
	reLabel     = regexp.MustCompile(`^LaTeX Warning: (Label .*)$`)
	reWarning   = regexp.MustCompile(`^(LaTeX|Package)( (.*))? Warning: (.*)$`)
	reOnline    = regexp.MustCompile(`(; reported)? on input line ([0-9]*)`)
	reIgnored   = regexp.MustCompile(`; all text was ignored after line ([0-9]*).$`)
)

// Log holds the raw lines of one compiler log, ready to be parsed several
// times with no further disk access.
type Log struct {
	lines []string

	// Truncated is set when the log was longer than the read limit and
	// parsing is partial.
	Truncated bool
}

// Read loads the log file at path, validating that the head line
// identifies the expected producing tool. At most limit bytes are read
// after the head line; when more data remains, the log is marked
// truncated and a warning is issued. The second return value is false
// when there is no usable log, which is not a parse error.
func Read(path string, limit int64, logger *slog.Logger) (*Log, bool) {
	logger = logger.With("pkg", "texlog")

	f, err := os.Open(path)
	if err != nil {
		logger.Debug("log could not be read", "path", path, "error", err)
		return nil, false
	}
	defer f.Close()

	br := bufio.NewReader(f)

	head, err := br.ReadString('\n')
	if err != nil && head == "" {
		logger.Debug("empty log", "path", path)
		return nil, false
	}

	if !reLoghead.MatchString(head) {
		logger.Debug("log not produced by the expected tool", "path", path)
		return nil, false
	}

	// do not read the whole log unconditionally
	buf := make([]byte, limit)
	n, rerr := io.ReadFull(br, buf)
	if rerr != nil && rerr != io.EOF && rerr != io.ErrUnexpectedEOF {
		logger.Debug("log could not be read", "path", path, "error", rerr)
		return nil, false
	}

	l := &Log{lines: strings.Split(string(buf[:n]), "\n")}

	if _, err := br.ReadByte(); err == nil {
		l.Truncated = true
		logger.Warn("log file is very long, and will not be read completely", "path", path)
	}

	return l, true
}

// HasErrors reports whether the compilation produced an error, without
// extracting diagnostics. Lines belonging to bad box renditions are
// skipped so their content is not mistaken for errors.
func (l *Log) HasErrors() bool {
	skipping := false

	for _, line := range l.lines {
		if strings.TrimSpace(line) == "" {
			skipping = false
			continue
		}

		if skipping {
			continue
		}

		if reBadbox.MatchString(line) {
			skipping = true
			continue
		}

		// pdfTeX sometimes issues warnings (like undefined references)
		// in the form of errors
		if line[0] == '!' && !strings.Contains(line, "pdfTeX warning") {
			return true
		}
	}

	return false
}

// Parse returns a scanner producing the diagnostics selected by interest,
// in log order. The scanner is single pass and stateful; parsing the same
// log again requires a new scanner.
func (l *Log) Parse(interest Interest) *Scanner {
	return &Scanner{
		lines:    l.lines,
		interest: interest,
		stack:    []string{""},
		page:     1,
		cseqs:    make(map[string]bool),
	}
}

// Diagnostics collects every diagnostic selected by interest into a
// slice.
func (l *Log) Diagnostics(interest Interest) []Diagnostic {
	var out []Diagnostic

	sc := l.Parse(interest)
	for sc.Scan() {
		out = append(out, sc.Diagnostic())
	}

	return out
}

// Scanner walks the log lines and yields one diagnostic per Scan call.
type Scanner struct {
	lines    []string
	interest Interest
	idx      int
	cur      Diagnostic
	pending  []Diagnostic

	// stack of currently open input files; the first element is a
	// sentinel for diagnostics occurring outside any source file
	stack    []string
	lastFile string
	page     int

	accu     string
	skipping bool

	parsing  bool
	errText  string
	errValid bool
	cseqs    map[string]bool

	warnActive bool
	warnPrefix string
	warn       Diagnostic
	warnText   []string
}

// Scan advances to the next diagnostic. It returns false when the log is
// exhausted.
func (sc *Scanner) Scan() bool {
	for len(sc.pending) == 0 && sc.idx < len(sc.lines) {
		sc.step(sc.lines[sc.idx])
		sc.idx++
	}

	if len(sc.pending) == 0 {
		return false
	}

	sc.cur = sc.pending[0]
	sc.pending = sc.pending[1:]

	return true
}

// Diagnostic returns the diagnostic found by the last call to Scan.
func (sc *Scanner) Diagnostic() Diagnostic {
	return sc.cur
}

func (sc *Scanner) emit(d Diagnostic) {
	sc.pending = append(sc.pending, d)
}

func (sc *Scanner) top() string {
	return sc.stack[len(sc.stack)-1]
}

// step consumes one physical line.
func (sc *Scanner) step(raw string) {
	// rejoin lines hard-wrapped at the TeX line width
	if !sc.parsing && len(raw) == wrapWidth {
		sc.accu += raw
		return
	}

	line := sc.accu + raw
	sc.accu = ""

	// a blank line ends the text skipped after a bad box message
	if !sc.warnActive && line == "" {
		sc.skipping = false
		return
	}

	if sc.skipping {
		return
	}

	if sc.parsing {
		sc.stepError(line)
		return
	}

	if strings.HasPrefix(line, "!") {
		sc.errText = errTail(line)
		sc.errValid = true
		sc.parsing = true

		return
	}

	if line == "Runaway argument?" {
		sc.errText = line
		sc.errValid = true
		sc.parsing = true

		return
	}

	if strings.HasPrefix(line, "Output written on") {
		return
	}

	if sc.warnActive {
		sc.stepWarning(line)
		return
	}

	if m := reReference.FindStringSubmatch(line); m != nil {
		if sc.interest.has(References) {
			sc.emit(Diagnostic{
				Kind: KindReference,
				Text: fmt.Sprintf("Reference `%s' undefined.", m[1]),
				File: sc.top(),
				Page: atoi(m[2]),
				Line: atoi(m[3]),
			})
		}

		return
	}

	if m := reLabel.FindStringSubmatch(line); m != nil {
		if sc.interest.has(References) {
			sc.emit(Diagnostic{Kind: KindReference, Text: m[1], File: sc.top()})
		}

		return
	}

	if strings.Contains(line, "Warning") {
		if m := reWarning.FindStringSubmatchIndex(line); m != nil {
			sc.beginWarning(line, m)
		}

		return
	}

	if reBadbox.MatchString(line) {
		if sc.interest.has(Boxes) {
			d := Diagnostic{Kind: KindBox, File: sc.top(), Page: sc.page}

			text := line
			if m := reAtline.FindStringSubmatchIndex(line); m != nil {
				d.Line = atoiAt(line, m, 2)
				d.LastLine = atoiAt(line, m, 4)
				text = line[:m[0]]
			}

			d.Text = text
			sc.emit(d)
		}

		// the following lines render the box content and must not be
		// mistaken for file-stack parentheses
		sc.skipping = true

		return
	}

	// no message on this line: track source names and page numbers
	sc.updateFile(line)
	sc.updatePage(line)
}

// stepError consumes one line while accumulating a fatal error.
func (sc *Scanner) stepError(line string) {
	if sc.errText == "Undefined control sequence." {
		// report which control sequence is undefined, once per sequence
		if m := reCseq.FindStringSubmatch(line); m != nil {
			seq := m[1]
			if sc.cseqs[seq] {
				sc.errValid = false
			} else {
				sc.cseqs[seq] = true
				sc.errText = fmt.Sprintf("Undefined control sequence %s.", seq)
			}
		}
	}

	if m := reLine.FindStringSubmatch(line); m != nil {
		sc.parsing = false
		sc.skipping = true

		pdfTeX := strings.Contains(line, "pdfTeX warning")
		wanted := (pdfTeX && sc.interest.has(Warnings)) || (!pdfTeX && sc.interest.has(Errors))

		if sc.errValid && wanted {
			var d Diagnostic

			if pdfTeX {
				text := sc.errText
				if i := strings.Index(text, ":"); i >= 0 && i+2 <= len(text) {
					text = text[i+2:]
				}

				d = Diagnostic{Kind: KindWarning, Package: "pdfTeX", Text: text}
			} else {
				d = Diagnostic{Kind: KindError, Text: sc.errText}
			}

			d.Line = atoi(m[2])

			if im := reIgnored.FindStringSubmatch(sc.errText); im != nil {
				d.File = sc.lastFile
				d.Line = atoi(im[1])
			} else if sc.top() == "" {
				d.File = sc.lastFile
			} else {
				d.File = sc.top()
			}

			sc.emit(d)
		}

		return
	}

	if strings.HasPrefix(line, "!") {
		sc.errText = errTail(line)
		sc.errValid = true

		return
	}

	if strings.HasPrefix(line, "***") {
		sc.parsing = false
		sc.skipping = true

		if sc.interest.has(Errors) {
			sc.emit(Diagnostic{Kind: KindAbort, Text: sc.errText, File: sc.lastFile})
		}

		return
	}

	if strings.HasPrefix(line, "Type X to quit ") {
		sc.parsing = false
		sc.skipping = false

		if sc.interest.has(Errors) {
			sc.emit(Diagnostic{Kind: KindError, Text: sc.errText, File: sc.top()})
		}
	}
}

// beginWarning starts accumulating a (possibly multi-line) warning. The
// submatch indices m come from reWarning.
func (sc *Scanner) beginWarning(line string, m []int) {
	pkg := ""
	if m[6] >= 0 {
		pkg = line[m[6]:m[7]]
	}

	textStart := m[8]

	sc.warn = Diagnostic{
		Kind:    KindWarning,
		File:    sc.top(),
		Page:    sc.page,
		Package: pkg,
	}

	// continuation lines repeat the package name in parentheses, padded
	// to the column where the message text starts
	prefix := ""
	if pkg != "" {
		prefix = "(" + pkg + ")"
	}

	if len(prefix) < textStart {
		prefix += strings.Repeat(" ", textStart-len(prefix))
	}

	sc.warnPrefix = prefix
	sc.warnText = []string{line[m[8]:m[9]]}
	sc.warnActive = true
}

// stepWarning consumes one line while a warning is being accumulated.
// A line not sharing the warning's indentation closes it and is consumed.
func (sc *Scanner) stepWarning(line string) {
	if strings.HasPrefix(line, sc.warnPrefix) {
		sc.warnText = append(sc.warnText, strings.TrimSpace(line[len(sc.warnPrefix):]))
		return
	}

	sc.flushWarning()
}

func (sc *Scanner) flushWarning() {
	text := strings.Join(sc.warnText, " ")

	if m := reOnline.FindStringSubmatchIndex(text); m != nil {
		sc.warn.Line = atoiAt(text, m, 2)
		text = text[:m[0]] + text[m[1]:]
	}

	if sc.interest.has(Warnings) {
		sc.warn.Text = text
		sc.emit(sc.warn)
	}

	sc.warnActive = false
}

// updateFile scans the line for parenthesis-delimited file openings and
// closings, tolerating several on one physical line. The top of the stack
// is the current file; lastFile is the last file text was read from.
func (sc *Scanner) updateFile(line string) {
	for {
		m := reFile.FindStringSubmatchIndex(line)
		if m == nil {
			return
		}

		if line[m[0]] == '(' {
			sc.lastFile = line[m[2]:m[3]]
			sc.stack = append(sc.stack, sc.lastFile)
		} else {
			sc.lastFile = sc.top()
			if len(sc.stack) > 1 {
				sc.stack = sc.stack[:len(sc.stack)-1]
			}
		}

		line = line[m[1]:]
	}
}

// updatePage advances the page counter past any page-break markers on the
// line. The number in brackets is the page just shipped out.
func (sc *Scanner) updatePage(line string) {
	ms := rePage.FindAllStringSubmatch(line, -1)
	if len(ms) == 0 {
		return
	}

	sc.page = atoi(ms[len(ms)-1][1]) + 1
}

// errTail strips the "! " marker from an error line.
func errTail(line string) string {
	if len(line) > 2 {
		return line[2:]
	}

	return ""
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}

	return n
}

// atoiAt converts capture group g of the submatch indices m over s,
// returning 0 when the group did not participate.
func atoiAt(s string, m []int, g int) int {
	if m[2*g] < 0 {
		return 0
	}

	return atoi(s[m[2*g]:m[2*g+1]])
}
