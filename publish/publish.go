// Package publish makes a finished artifact visible under its final name
// with a single rename. The final name is never opened for writing.
package publish

import (
	"fmt"
	"path/filepath"

	"github.com/google/renameio/v2"
)

// Pending is a hidden temp file next to the final path. External tools write
// to Path(); Publish moves it into place.
type Pending struct {
	pf    *renameio.PendingFile
	final string
	done  bool
}

// Begin reserves a temp file in the same directory as final, so the later
// rename stays on one volume.
func Begin(final string) (*Pending, error) {
	pf, err := renameio.NewPendingFile(final,
		renameio.WithTempDir(filepath.Dir(final)),
		renameio.WithPermissions(0o644),
	)
	if err != nil {
		return nil, fmt.Errorf("create pending file for %s: %w", final, err)
	}
	return &Pending{pf: pf, final: final}, nil
}

// Path is the temp file name. It differs from the final name.
func (p *Pending) Path() string { return p.pf.Name() }

func (p *Pending) Final() string { return p.final }

// Publish fsyncs the temp file and renames it onto the final path.
func (p *Pending) Publish() error {
	if p.done {
		return fmt.Errorf("pending file for %s already settled", p.final)
	}
	p.done = true
	if err := p.pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", p.final, err)
	}
	return nil
}

// Abandon gives up on the temp file. With keep it stays on disk for
// inspection; otherwise it is removed. Calling it after Publish is a no-op.
func (p *Pending) Abandon(keep bool) error {
	if p.done {
		return nil
	}
	p.done = true
	if keep {
		return p.pf.File.Close()
	}
	return p.pf.Cleanup()
}
