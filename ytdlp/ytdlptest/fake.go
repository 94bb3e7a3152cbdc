// Package ytdlptest provides a stand-in downloader binary for tests.
package ytdlptest

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// The fake downloader understands a few environment variables:
//
//	FAKE_EXT    extension of the file to create next to --output (none if empty)
//	FAKE_EXIT   exit status (default 0)
//	FAKE_CALLS  file that gets one line appended per invocation
//	FAKE_SLEEP  seconds to sleep before finishing
const script = `#!/bin/sh
prev=""
out=""
for a in "$@"; do
  if [ "$prev" = "--output" ]; then out="$a"; fi
  prev="$a"
done
if [ -n "$FAKE_CALLS" ]; then echo call >> "$FAKE_CALLS"; fi
echo "[youtube] abc: Downloading webpage"
printf '[download]  50.0%% of 1.00MiB at 1.00MiB/s ETA 00:01\r[download] 100%% of 1.00MiB\n'
echo "WARNING: noise" 1>&2
if [ -n "$FAKE_SLEEP" ]; then sleep "$FAKE_SLEEP"; fi
if [ "${FAKE_EXIT:-0}" != "0" ]; then echo "ERROR: boom" 1>&2; exit "$FAKE_EXIT"; fi
if [ -n "$FAKE_EXT" ]; then
  base=$(printf '%s' "$out" | sed 's/\.%(ext)s$//')
  printf 'video' > "$base$FAKE_EXT"
fi
exit 0
`

// Binary writes the fake downloader into a temp dir and returns its path.
func Binary(t testing.TB) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake downloader needs /bin/sh")
	}
	path := filepath.Join(t.TempDir(), "fake-yt-dlp")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake downloader: %v", err)
	}
	return path
}

// Calls returns how many times the fake was invoked with FAKE_CALLS=path.
func Calls(t testing.TB, path string) int {
	t.Helper()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("read calls file: %v", err)
	}
	n := 0
	for _, b := range data {
		if b == '\n' {
			n++
		}
	}
	return n
}
