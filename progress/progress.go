// Package progress receives downloader progress lines. The core only knows
// the Observer interface; Terminal is one presentation of it.
package progress

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// Marker prefixes the downloader lines that carry progress.
const Marker = "[download]"

type Observer interface {
	OnProgressLine(line string)
}

type ObserverFunc func(line string)

func (f ObserverFunc) OnProgressLine(line string) { f(line) }

// Discard drops every line.
var Discard Observer = ObserverFunc(func(string) {})

// IsProgressLine reports whether line carries the progress marker.
func IsProgressLine(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), Marker)
}

var (
	rePct   = regexp.MustCompile(`([0-9]+(?:\.[0-9]+)?)%`)
	reOf    = regexp.MustCompile(`\bof\s+~?\s*([^\s]+)`)
	reSpeed = regexp.MustCompile(`\bat\s+([^\s]+)`)
	reETA   = regexp.MustCompile(`\bETA\s+([0-9:]+|Unknown)`)
)

// Snapshot is the parsed content of one progress line. Missing fields are empty.
type Snapshot struct {
	Percent string
	Total   string
	Speed   string
	ETA     string
}

// Parse pulls the usual fields out of a "[download]  42.0% of 10MiB at 1MiB/s ETA 00:06" line.
func Parse(line string) Snapshot {
	var s Snapshot
	if m := rePct.FindStringSubmatch(line); m != nil {
		s.Percent = m[1]
	}
	if m := reOf.FindStringSubmatch(line); m != nil {
		s.Total = m[1]
	}
	if m := reSpeed.FindStringSubmatch(line); m != nil {
		s.Speed = m[1]
	}
	if m := reETA.FindStringSubmatch(line); m != nil {
		s.ETA = m[1]
	}
	return s
}

// Terminal keeps the last few progress lines on screen as one block that is
// redrawn in place. On a non-terminal writer it just appends lines.
type Terminal struct {
	mu       sync.Mutex
	w        io.Writer
	tty      bool
	max      int
	lines    []string
	rendered int
}

func NewTerminal(w io.Writer, maxLines int) *Terminal {
	if maxLines <= 0 {
		maxLines = 8
	}
	return &Terminal{w: w, tty: isTerminal(w), max: maxLines}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (t *Terminal) OnProgressLine(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.tty {
		fmt.Fprintln(t.w, line)
		return
	}

	t.lines = append(t.lines, line)
	if len(t.lines) > t.max {
		t.lines = t.lines[len(t.lines)-t.max:]
	}

	var b strings.Builder
	if t.rendered > 0 {
		// cursor to start of the block, then clear to end of screen
		fmt.Fprintf(&b, "\033[%dF", t.rendered)
	}
	b.WriteString("\033[J")
	for _, l := range t.lines {
		b.WriteString(l)
		b.WriteByte('\n')
	}
	_, _ = io.WriteString(t.w, b.String())
	t.rendered = len(t.lines)
}

// Reset forgets the current block so the next line starts a new one.
func (t *Terminal) Reset() {
	t.mu.Lock()
	t.lines = nil
	t.rendered = 0
	t.mu.Unlock()
}
