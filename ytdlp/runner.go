package ytdlp

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"clipforge/cmdargs"
	"clipforge/logging"
	"clipforge/metrics"
	"clipforge/progress"
)

// Options is the fixed download policy.
type Options struct {
	Binary                 string
	SourceURLTemplate      string // fmt template with one %s for the video id
	CookiesPath            string
	FormatSelector         string
	ExternalDownloader     string
	ExternalDownloaderArgs string
	ConcurrentFragments    int
	BufferSize             string
	HTTPChunkSize          string
	FragmentRetries        string
	Extensions             []string
}

type Runner struct {
	opts   Options
	obs    progress.Observer
	logger zerolog.Logger
}

func NewRunner(opts Options, obs progress.Observer) (*Runner, error) {
	if strings.TrimSpace(opts.Binary) == "" {
		return nil, errors.New("downloader binary is required")
	}
	if strings.Count(opts.SourceURLTemplate, "%s") != 1 {
		return nil, fmt.Errorf("source URL template must contain exactly one %%s: %q", opts.SourceURLTemplate)
	}
	if len(opts.Extensions) == 0 {
		return nil, errors.New("at least one video extension is required")
	}

	// The external downloader args travel as one string; validate them here
	// so a bad config fails at startup, not at the first download.
	if _, err := cmdargs.SplitAndValidate(opts.ExternalDownloaderArgs); err != nil {
		return nil, fmt.Errorf("external downloader args: %w", err)
	}

	if p := strings.TrimSpace(opts.CookiesPath); p != "" {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve cookies path %s: %w", p, err)
		}
		if _, err := os.Stat(abs); err != nil {
			return nil, fmt.Errorf("cookies file %s: %w", abs, err)
		}
		opts.CookiesPath = abs
	}

	if obs == nil {
		obs = progress.Discard
	}
	return &Runner{
		opts:   opts,
		obs:    obs,
		logger: logging.WithComponent("ytdlp"),
	}, nil
}

// SourceURL is the page the downloader is pointed at for videoID.
func (r *Runner) SourceURL(videoID string) string {
	return fmt.Sprintf(r.opts.SourceURLTemplate, videoID)
}

// Args builds the downloader argv (without the binary). videoPath is the
// artifact path minus extension; the downloader appends the real one.
func (r *Runner) Args(videoID, videoPath string) []string {
	var args []string
	if r.opts.CookiesPath != "" {
		args = append(args, "--cookies", r.opts.CookiesPath)
	}
	args = append(args,
		r.SourceURL(videoID),
		"--output", cmdargs.PathArg(videoPath)+".%(ext)s",
		"-f", r.opts.FormatSelector,
	)
	if r.opts.ExternalDownloader != "" {
		args = append(args, "--external-downloader", r.opts.ExternalDownloader)
		if a := strings.TrimSpace(r.opts.ExternalDownloaderArgs); a != "" {
			args = append(args, "--external-downloader-args", a)
		}
	}
	args = append(args, "--quiet", "--progress", "--newline")
	if r.opts.ConcurrentFragments > 0 {
		args = append(args, "--concurrent-fragments", strconv.Itoa(r.opts.ConcurrentFragments))
	}
	if r.opts.BufferSize != "" {
		args = append(args, "--buffer-size", r.opts.BufferSize)
	}
	if r.opts.HTTPChunkSize != "" {
		args = append(args, "--http-chunk-size", r.opts.HTTPChunkSize)
	}
	if r.opts.FragmentRetries != "" {
		args = append(args, "--fragment-retries", r.opts.FragmentRetries)
	}
	return args
}

// Run downloads videoID to videoPath.<ext> and returns the file that appeared.
// It blocks until the downloader exits. A transcoding step inside the
// downloader may change the extension, so every known one is probed.
func (r *Runner) Run(videoID, videoPath string) (string, error) {
	logger := r.logger.With().Str("video_id", videoID).Logger()
	args := r.Args(videoID, videoPath)

	cmd := exec.Command(r.opts.Binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", r.fail(logger, &ProcessFailure{VideoID: videoID, Reason: ReasonSpawn, Err: err})
	}
	cmd.Stderr = cmd.Stdout

	logger.Info().Str("cmd", cmd.Path).Strs("args", args).Msg("starting download")
	if err := cmd.Start(); err != nil {
		return "", r.fail(logger, &ProcessFailure{VideoID: videoID, Reason: ReasonSpawn, Err: err})
	}

	tail := r.consume(logger, stdout)
	waitErr := cmd.Wait()
	if rs, ok := r.obs.(interface{ Reset() }); ok {
		rs.Reset()
	}

	if waitErr != nil {
		pf := &ProcessFailure{VideoID: videoID, Reason: ReasonExitCode, ExitCode: -1, Output: tail, Err: waitErr}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			pf.ExitCode = exitErr.ExitCode()
		}
		return "", r.fail(logger, pf)
	}

	for _, ext := range r.opts.Extensions {
		candidate := videoPath + ext
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			logger.Info().Str("path", candidate).Msg("download complete")
			metrics.ProcessRuns.WithLabelValues("yt-dlp", "ok").Inc()
			return candidate, nil
		}
	}
	return "", r.fail(logger, &ProcessFailure{
		VideoID: videoID,
		Reason:  ReasonMissingOutput,
		Output:  tail,
		Err:     fmt.Errorf("no file matching %s%v", videoPath, r.opts.Extensions),
	})
}

func (r *Runner) fail(logger zerolog.Logger, pf *ProcessFailure) error {
	metrics.ProcessRuns.WithLabelValues("yt-dlp", string(pf.Reason)).Inc()
	logger.Error().
		Str("reason", string(pf.Reason)).
		Int("exit_code", pf.ExitCode).
		Str("output_tail", pf.Output).
		Err(pf.Err).
		Msg("download failed")
	return pf
}

// consume drains the combined output until EOF, forwarding progress lines.
// Everything is read so the child never blocks on a full pipe.
func (r *Runner) consume(logger zerolog.Logger, rd io.Reader) string {
	scanner := bufio.NewScanner(rd)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	scanner.Split(splitByNewlineOrCR)

	var tail tailBuffer
	for scanner.Scan() {
		line := scanner.Text()
		tail.add(line)
		if progress.IsProgressLine(line) {
			r.obs.OnProgressLine(line)
			snap := progress.Parse(line)
			logger.Debug().Str("percent", snap.Percent).Str("speed", snap.Speed).Str("eta", snap.ETA).Msg("download progress")
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("reading downloader output")
		// Keep draining so the process can exit.
		_, _ = io.Copy(io.Discard, rd)
	}
	return tail.String()
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// tailBuffer keeps the last lines of output for error reports.
type tailBuffer struct {
	lines []string
}

const maxTailLines = 20

func (t *tailBuffer) add(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > maxTailLines {
		t.lines = t.lines[len(t.lines)-maxTailLines:]
	}
}

func (t *tailBuffer) String() string {
	return strings.Join(t.lines, "\n")
}
