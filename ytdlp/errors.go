package ytdlp

import (
	"fmt"
	"strings"
)

type Reason string

const (
	ReasonSpawn         Reason = "spawn"
	ReasonExitCode      Reason = "exit_code"
	ReasonMissingOutput Reason = "missing_output"
)

// ProcessFailure is any download attempt that did not leave a file behind.
// It is never retried here.
type ProcessFailure struct {
	VideoID  string
	Reason   Reason
	ExitCode int
	Output   string // tail of combined stdout/stderr
	Err      error
}

func (e *ProcessFailure) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "download %s failed (%s", e.VideoID, e.Reason)
	if e.Reason == ReasonExitCode {
		fmt.Fprintf(&b, " %d", e.ExitCode)
	}
	b.WriteString(")")
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProcessFailure) Unwrap() error { return e.Err }
