// Package work makes each unit of work happen at most once: a cheap lookup
// without the lock, then the lock, a second lookup, and only then the
// expensive step.
package work

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"clipforge/artifact"
	"clipforge/clip"
	"clipforge/lock"
	"clipforge/logging"
	"clipforge/metrics"
	"clipforge/sysguard"
	"clipforge/ytdlp"
)

type Outcome string

const (
	// OutcomeExisting: the artifact was there before any lock was taken.
	OutcomeExisting Outcome = "existing"
	// OutcomeCompletedByPeer: another holder finished while we waited.
	OutcomeCompletedByPeer Outcome = "completed_by_peer"
	OutcomeProduced        Outcome = "produced"
	// OutcomeSkipped: nothing to do, e.g. a clip requested without a source.
	OutcomeSkipped Outcome = "skipped"
)

type Result struct {
	Path    string
	Outcome Outcome
}

// Downloader fetches one video to videoPath.<ext> and returns the file.
type Downloader interface {
	Run(videoID, videoPath string) (string, error)
}

// Transformer produces one clip from source at final.
type Transformer interface {
	Transform(ctx context.Context, source string, spec clip.Spec, final string) (string, error)
}

type Options struct {
	Lock  lock.Options
	Guard *sysguard.Guard
}

type Service struct {
	store       *artifact.Store
	downloader  Downloader
	transformer Transformer
	opts        Options
	group       singleflight.Group
	logger      zerolog.Logger
}

func NewService(store *artifact.Store, downloader Downloader, transformer Transformer, opts Options) (*Service, error) {
	if err := os.MkdirAll(store.Dir(), 0o755); err != nil {
		return nil, fmt.Errorf("create output dir %s: %w", store.Dir(), err)
	}
	return &Service{
		store:       store,
		downloader:  downloader,
		transformer: transformer,
		opts:        opts,
		logger:      logging.WithComponent("work"),
	}, nil
}

// EnsureDownload returns the downloaded video for videoID, downloading it if
// no artifact exists yet.
func (s *Service) EnsureDownload(ctx context.Context, videoID string) (Result, error) {
	key := artifact.DownloadKey(videoID)
	if err := key.Validate(); err != nil {
		return Result{}, err
	}
	return s.ensure(ctx, key, func() (string, error) {
		return s.downloader.Run(videoID, s.store.Stem(key))
	})
}

// EnsureClip returns the clip described by spec, cutting it from source if
// needed. An empty source is not an error: there is nothing to cut.
func (s *Service) EnsureClip(ctx context.Context, source string, spec clip.Spec) (Result, error) {
	key := spec.Key()
	if err := key.Validate(); err != nil {
		return Result{}, err
	}
	if p, ok := s.store.Lookup(key); ok {
		s.record(key, OutcomeExisting)
		s.logger.Info().Str("key", key.String()).Str("path", p).Msg("clip already exists, skipping")
		return Result{Path: p, Outcome: OutcomeExisting}, nil
	}
	if strings.TrimSpace(source) == "" {
		s.record(key, OutcomeSkipped)
		s.logger.Info().Str("key", key.String()).Msg("no source video provided, skipping")
		return Result{Outcome: OutcomeSkipped}, nil
	}
	final := s.store.Path(key, artifact.TransformExt)
	return s.ensure(ctx, key, func() (string, error) {
		return s.transformer.Transform(ctx, source, spec, final)
	})
}

func (s *Service) ensure(ctx context.Context, key artifact.Key, produce func() (string, error)) (Result, error) {
	logger := s.logger.With().Str("kind", string(key.Kind())).Str("key", key.String()).Logger()

	if p, ok := s.store.Lookup(key); ok {
		s.record(key, OutcomeExisting)
		logger.Info().Str("path", p).Msg("artifact already exists")
		return Result{Path: p, Outcome: OutcomeExisting}, nil
	}

	// Callers in this process share one attempt per key; the file lock
	// below handles other processes. The attempt runs under the first
	// caller's ctx, so its cancellation fails every caller sharing it.
	v, err, _ := s.group.Do(string(key.Kind())+":"+key.BaseName(), func() (interface{}, error) {
		return s.locked(ctx, key, logger, produce)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (s *Service) locked(ctx context.Context, key artifact.Key, logger zerolog.Logger, produce func() (string, error)) (Result, error) {
	lockPath := s.store.LockPath(key)

	waitStart := time.Now()
	guard, err := lock.Acquire(ctx, lockPath, s.opts.Lock)
	metrics.LockWait.WithLabelValues(string(key.Kind())).Observe(time.Since(waitStart).Seconds())
	if err != nil {
		if errors.Is(err, lock.ErrTimeout) {
			// Inherited behaviour: a timed-out waiter still deletes the
			// sentinel so a crashed holder cannot block the key forever.
			lock.Remove(lockPath)
			s.record(key, "lock_timeout")
			logger.Error().Err(err).Msg("timeout waiting for lock")
		}
		return Result{}, err
	}
	defer guard.Release()

	if p, ok := s.store.Lookup(key); ok {
		s.record(key, OutcomeCompletedByPeer)
		logger.Info().Str("path", p).Msg("artifact completed by another worker")
		return Result{Path: p, Outcome: OutcomeCompletedByPeer}, nil
	}

	if err := s.opts.Guard.Check(); err != nil {
		s.record(key, "throttled")
		return Result{}, err
	}

	p, err := produce()
	if err != nil {
		s.record(key, "failed")
		return Result{}, err
	}
	s.record(key, OutcomeProduced)
	logger.Info().Str("path", p).Dur("held", guard.Held()).Msg("artifact produced")
	return Result{Path: p, Outcome: OutcomeProduced}, nil
}

func (s *Service) record(key artifact.Key, outcome Outcome) {
	metrics.Outcomes.WithLabelValues(string(key.Kind()), string(outcome)).Inc()
}

// IsSkippable reports whether a batch driver may log err and move on to the
// next unit of work. Transform errors are never skippable.
func IsSkippable(err error) bool {
	if err == nil {
		return false
	}
	var te *clip.TransformError
	if errors.As(err, &te) {
		return false
	}
	var pf *ytdlp.ProcessFailure
	return errors.Is(err, lock.ErrTimeout) ||
		errors.Is(err, sysguard.ErrInsufficientResources) ||
		errors.As(err, &pf)
}
