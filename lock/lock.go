// Package lock provides the per-key sentinel file lock that guards an
// expensive unit of work across threads and processes sharing a directory.
//
// The sentinel is removed whenever a critical section ends, including the
// timeout path. A waiter may still hold a descriptor on the removed inode, so
// after winning the lock it checks that the file at path is the one it
// locked and retries otherwise. The timeout path is the exception: a waiter
// that gives up deletes a sentinel it never held, and a live holder can then
// overlap with a newcomer. Callers absorb that case for finished work by
// re-checking for the artifact after Acquire returns.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"

	"clipforge/logging"
)

const (
	DefaultTimeout    = 600 * time.Second
	DefaultRetryDelay = 250 * time.Millisecond
)

// ErrTimeout means the unit of work could not be safely attempted right now.
var ErrTimeout = errors.New("lock acquisition timed out")

type Options struct {
	Timeout    time.Duration
	RetryDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	return o
}

// Guard is a held lock. Release must be called exactly once.
type Guard struct {
	fl       *flock.Flock
	acquired time.Time
	logger   zerolog.Logger
}

// Acquire blocks until path can be exclusively locked or the timeout elapses.
func Acquire(ctx context.Context, path string, opts Options) (*Guard, error) {
	opts = opts.withDefaults()
	logger := logging.WithComponent("lock").With().Str("lock", path).Logger()

	waitCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	for {
		fl, err := tryAcquire(waitCtx, path, opts.RetryDelay)
		if err == nil {
			logger.Debug().Msg("lock acquired")
			return &Guard{fl: fl, acquired: time.Now(), logger: logger}, nil
		}
		if errors.Is(err, errStale) {
			logger.Debug().Msg("sentinel replaced while waiting, retrying")
			continue
		}

		// The caller's own cancellation wins over our deadline.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %s", ErrTimeout, opts.Timeout, path)
		}
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
}

// errStale means the lock was won on an inode that is no longer at path.
var errStale = errors.New("stale sentinel")

// tryAcquire locks the sentinel currently at path. A previous holder unlinks
// the file before unlocking, so a waiter that wakes up on the old inode sees
// a missing or different file at path and must start over.
func tryAcquire(ctx context.Context, path string, retryDelay time.Duration) (*flock.Flock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return nil, err
	}
	before, err := f.Stat()
	_ = f.Close()
	if err != nil {
		return nil, err
	}

	fl := flock.New(path, flock.SetPermissions(0o644))
	ok, err := fl.TryLockContext(ctx, retryDelay)
	if !ok {
		_ = fl.Close()
		if err == nil {
			err = context.DeadlineExceeded
		}
		return nil, err
	}

	if now, err := os.Stat(path); err != nil || !os.SameFile(before, now) {
		_ = fl.Unlock()
		_ = fl.Close()
		return nil, errStale
	}
	return fl, nil
}

func (g *Guard) Path() string { return g.fl.Path() }

// Held reports how long the lock has been held.
func (g *Guard) Held() time.Duration { return time.Since(g.acquired) }

// Release unlocks and deletes the sentinel file. Failures are logged only.
func (g *Guard) Release() {
	// Unlink while still holding, so no waiter can win this inode and
	// mistake it for the live sentinel.
	removeSentinel(g.fl.Path(), g.logger)
	if err := g.fl.Unlock(); err != nil {
		g.logger.Warn().Err(err).Msg("unlock failed")
	}
	_ = g.fl.Close()
	g.logger.Debug().Dur("held", g.Held()).Msg("lock released")
}

// Remove deletes a sentinel file this caller does not hold. It is used when
// acquisition times out, so a crashed holder cannot block everyone forever.
func Remove(path string) {
	removeSentinel(path, logging.WithComponent("lock").With().Str("lock", path).Logger())
}

func removeSentinel(path string, logger zerolog.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		logger.Warn().Err(err).Msg("could not remove lock file")
	}
}
