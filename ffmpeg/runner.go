package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"clipforge/clip"
	"clipforge/cmdargs"
	"clipforge/logging"
	"clipforge/metrics"
)

// Editor implements clip.Editor on top of the ffprobe and ffmpeg binaries.
// Opening probes the source; sub-clips and crops are recorded and only
// materialised by WriteVideoFile as a single ffmpeg run.
type Editor struct {
	ffmpegBin  string
	ffprobeBin string
	logger     zerolog.Logger
}

func NewEditor(ffmpegBin, ffprobeBin string) (*Editor, error) {
	// Ensure binaries are executable
	if _, err := exec.LookPath(ffmpegBin); err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found or not in PATH: %s", ffmpegBin)
	}
	if _, err := exec.LookPath(ffprobeBin); err != nil {
		return nil, fmt.Errorf("ffprobe binary not found or not in PATH: %s", ffprobeBin)
	}
	return &Editor{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		logger:     logging.WithComponent("ffmpeg"),
	}, nil
}

// ProbeInfo is what the editor needs to know about a source.
type ProbeInfo struct {
	Width    int
	Height   int
	Duration float64
}

func (e *Editor) Open(ctx context.Context, path string) (clip.Media, error) {
	info, err := e.Probe(ctx, path)
	if err != nil {
		return nil, err
	}
	root := &source{path: path, info: info}
	return &media{
		editor: e,
		src:    root,
		start:  0,
		end:    info.Duration,
		crop:   clip.Rect{X0: 0, Y0: 0, X1: info.Width, Y1: info.Height},
	}, nil
}

// Probe reads the first video stream's size and the container duration.
func (e *Editor) Probe(ctx context.Context, path string) (ProbeInfo, error) {
	cmd := exec.CommandContext(ctx, e.ffprobeBin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height:format=duration",
		"-of", "json",
		cmdargs.PathArg(path),
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return ProbeInfo{}, fmt.Errorf("ffprobe %s: %w: %s", path, err, strings.TrimSpace(stderr.String()))
	}
	return parseProbe(out)
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func parseProbe(data []byte) (ProbeInfo, error) {
	var out probeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return ProbeInfo{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(out.Streams) == 0 || out.Streams[0].Width <= 0 || out.Streams[0].Height <= 0 {
		return ProbeInfo{}, errors.New("no video stream found")
	}
	dur, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64)
	if err != nil || dur <= 0 {
		return ProbeInfo{}, fmt.Errorf("invalid duration %q", out.Format.Duration)
	}
	return ProbeInfo{Width: out.Streams[0].Width, Height: out.Streams[0].Height, Duration: dur}, nil
}

// source is the opened file shared by every view derived from it.
type source struct {
	path   string
	info   ProbeInfo
	open   int // derived views not yet closed
	closed bool
}

type media struct {
	editor  *Editor
	src     *source
	derived bool
	closed  bool
	start   float64 // absolute seconds in the source
	end     float64
	crop    clip.Rect // absolute pixels in the source
}

// durationSlack absorbs container durations rounded down by the prober.
const durationSlack = 0.05

// SubClip narrows the window. Times are relative to this view.
func (m *media) SubClip(start, end float64) (clip.Media, error) {
	if err := m.usable(); err != nil {
		return nil, err
	}
	length := m.end - m.start
	if start < 0 || start >= end {
		return nil, fmt.Errorf("invalid window [%.3f, %.3f)", start, end)
	}
	if end > length+durationSlack {
		return nil, fmt.Errorf("window end %.3f is past the clip duration %.3f", end, length)
	}
	return m.derive(m.start+start, m.start+minFloat(end, length), m.crop), nil
}

// Crop narrows the frame. Coordinates are relative to this view.
func (m *media) Crop(r clip.Rect) (clip.Media, error) {
	if err := m.usable(); err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	if r.X1 > m.crop.Width() || r.Y1 > m.crop.Height() {
		return nil, fmt.Errorf("crop (%d,%d,%d,%d) exceeds frame %dx%d",
			r.X0, r.Y0, r.X1, r.Y1, m.crop.Width(), m.crop.Height())
	}
	abs := clip.Rect{
		X0: m.crop.X0 + r.X0,
		Y0: m.crop.Y0 + r.Y0,
		X1: m.crop.X0 + r.X1,
		Y1: m.crop.Y0 + r.Y1,
	}
	return m.derive(m.start, m.end, abs), nil
}

func (m *media) derive(start, end float64, crop clip.Rect) *media {
	m.src.open++
	return &media{editor: m.editor, src: m.src, derived: true, start: start, end: end, crop: crop}
}

func (m *media) usable() error {
	if m.closed || m.src.closed {
		return fmt.Errorf("%s: media is closed", m.src.path)
	}
	return nil
}

// WriteVideoFile encodes this view to path. The encoder is not tied to ctx
// once started; ctx only stops an encode that has not begun.
func (m *media) WriteVideoFile(ctx context.Context, path string, enc clip.Encoding) error {
	if err := m.usable(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var crop *clip.Rect
	full := clip.Rect{X1: m.src.info.Width, Y1: m.src.info.Height}
	if m.crop != full {
		c := m.crop
		crop = &c
	}
	args := EncodeArgs(m.src.path, m.start, m.end-m.start, crop, path, enc)

	cmd := exec.Command(m.editor.ffmpegBin, args...)
	var outputBuf bytes.Buffer
	cmd.Stdout = &outputBuf
	cmd.Stderr = &outputBuf

	m.editor.logger.Info().Str("cmd", cmd.Path).Strs("args", args).Msg("encoding")
	if err := cmd.Run(); err != nil {
		metrics.ProcessRuns.WithLabelValues("ffmpeg", "failed").Inc()
		return fmt.Errorf("ffmpeg execution failed: %w: %s", err, lastLines(outputBuf.String(), 10))
	}
	metrics.ProcessRuns.WithLabelValues("ffmpeg", "ok").Inc()
	return nil
}

// Close releases the handle. The source refuses to close while derived
// views are still open.
func (m *media) Close() error {
	if m.closed {
		return nil
	}
	if !m.derived && m.src.open > 0 {
		m.closed = true
		m.src.closed = true
		return fmt.Errorf("%s closed with %d derived clips still open", m.src.path, m.src.open)
	}
	m.closed = true
	if m.derived {
		m.src.open--
	} else {
		m.src.closed = true
	}
	return nil
}

// EncodeArgs builds the ffmpeg argv for one clip. crop may be nil.
func EncodeArgs(src string, start, duration float64, crop *clip.Rect, out string, enc clip.Encoding) []string {
	args := []string{
		"-y", "-hide_banner", "-loglevel", "error",
		"-ss", formatSeconds(start),
		"-i", cmdargs.PathArg(src),
		"-t", formatSeconds(duration),
	}
	if crop != nil {
		args = append(args, "-vf", cropFilter(*crop))
	}
	if enc.VideoCodec != "" {
		args = append(args, "-c:v", enc.VideoCodec)
	}
	if enc.Preset != "" {
		args = append(args, "-preset", enc.Preset)
	}
	if enc.AudioCodec != "" {
		args = append(args, "-c:a", enc.AudioCodec)
	}
	if enc.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(enc.Threads))
	}
	if enc.Container != "" {
		// The temp output has no usable extension, so the muxer is explicit.
		args = append(args, "-f", enc.Container)
	}
	return append(args, cmdargs.PathArg(out))
}

// cropFilter cuts exactly the requested pixels. 4:2:0 cannot hold an odd
// width or height, so such frames are converted to 4:4:4 first.
func cropFilter(r clip.Rect) string {
	f := fmt.Sprintf("crop=%d:%d:%d:%d:exact=1", r.Width(), r.Height(), r.X0, r.Y0)
	if r.Width()%2 != 0 || r.Height()%2 != 0 {
		f += ",format=yuv444p"
	}
	return f
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
