package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsProgressLine(t *testing.T) {
	assert.True(t, IsProgressLine("[download]  12.5% of 10.00MiB"))
	assert.True(t, IsProgressLine("  [download] Destination: x.mp4"))
	assert.False(t, IsProgressLine("[youtube] abc: Downloading webpage"))
	assert.False(t, IsProgressLine("ERROR: unavailable"))
}

func TestParse(t *testing.T) {
	s := Parse("[download]  42.3% of ~ 120.50MiB at  2.31MiB/s ETA 00:31")
	assert.Equal(t, Snapshot{Percent: "42.3", Total: "120.50MiB", Speed: "2.31MiB/s", ETA: "00:31"}, s)

	assert.Equal(t, Snapshot{}, Parse("[download] Destination: out/vid_abc.mp4"))
}

func TestTerminalPlainWriter(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, 2)
	term.OnProgressLine("[download] 1%\n")
	term.OnProgressLine("   ")
	term.OnProgressLine("[download] 2%")

	assert.Equal(t, "[download] 1%\n[download] 2%\n", buf.String())
}

func TestTerminalRepaintsBlock(t *testing.T) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, 2)
	term.tty = true

	term.OnProgressLine("a")
	assert.Equal(t, "\033[Ja\n", buf.String())

	buf.Reset()
	term.OnProgressLine("b")
	assert.Equal(t, "\033[1F\033[Ja\nb\n", buf.String())

	buf.Reset()
	term.OnProgressLine("c")
	assert.Equal(t, "\033[2F\033[Jb\nc\n", buf.String(), "block is capped at max lines")

	term.Reset()
	buf.Reset()
	term.OnProgressLine("d")
	assert.Equal(t, "\033[Jd\n", buf.String())
}

func TestObserverFunc(t *testing.T) {
	var got []string
	var o Observer = ObserverFunc(func(l string) { got = append(got, l) })
	o.OnProgressLine("x")
	Discard.OnProgressLine("y")
	assert.Equal(t, []string{"x"}, got)
}
