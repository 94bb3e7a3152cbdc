package task

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/rs/zerolog"

	"clipforge/clip"
	"clipforge/config"
	"clipforge/logging"
	"clipforge/metrics"
	"clipforge/work"
)

// Executor performs the idempotent work behind a task.
type Executor interface {
	EnsureDownload(ctx context.Context, videoID string) (work.Result, error)
	EnsureClip(ctx context.Context, source string, spec clip.Spec) (work.Result, error)
}

var ErrQueueFull = errors.New("task queue is full")

type Manager struct {
	cfg            *config.Config
	mu             sync.Mutex // serialises status transitions
	tasks          sync.Map   // id -> *Task snapshot, never mutated after Store
	taskQueue      chan string
	concurrencySem chan struct{}
	exec           Executor
	logger         zerolog.Logger
}

func NewManager(cfg *config.Config, exec Executor) (*Manager, error) {
	if exec == nil {
		return nil, errors.New("task executor is required")
	}
	m := &Manager{
		cfg:            cfg,
		taskQueue:      make(chan string, 100),
		concurrencySem: make(chan struct{}, cfg.MaxConcurrency),
		exec:           exec,
		logger:         logging.WithComponent("task"),
	}
	return m, nil
}

func (m *Manager) Start(ctx context.Context) {
	m.logger.Info().Int("concurrency", m.cfg.MaxConcurrency).Msg("task manager started")
	if m.cfg.JobRetention > 0 {
		go m.cleanupLoop(ctx)
	}
	go m.workerLoop(ctx)
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("worker loop shutting down")
			return
		case id := <-m.taskQueue:
			// Wait for a free processing slot
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(id string) {
				defer func() { <-m.concurrencySem }()
				m.processTask(ctx, id)
			}(id)
		}
	}
}

// update applies fn to a copy of the task and stores the copy.
func (m *Manager) update(id string, fn func(t *Task) bool) (*Task, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	val, ok := m.tasks.Load(id)
	if !ok {
		return nil, false
	}
	next := *val.(*Task)
	if !fn(&next) {
		return val.(*Task), false
	}
	m.tasks.Store(id, &next)
	return &next, true
}

func (m *Manager) processTask(ctx context.Context, id string) {
	t, ok := m.update(id, func(t *Task) bool {
		if t.Status != StatusQueued {
			return false
		}
		t.Status = StatusProcessing
		t.StartedAt = time.Now()
		return true
	})
	if !ok {
		m.logger.Info().Str("task", id).Msg("task was canceled before processing")
		return
	}

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	logger := m.logger.With().Str("task", t.ID).Str("kind", string(t.Kind)).Str("video_id", t.VideoID).Logger()
	logger.Info().Msg("processing task")

	res, err := m.run(ctx, t)

	m.update(id, func(t *Task) bool {
		t.CompletedAt = time.Now()
		switch {
		case err == nil:
			t.Status = StatusCompleted
			t.ArtifactPath = res.Path
			t.Outcome = string(res.Outcome)
			if res.Outcome == work.OutcomeSkipped {
				t.Status = StatusSkipped
			}
			logger.Info().Str("outcome", t.Outcome).Str("path", res.Path).Msg("task completed")
		case work.IsSkippable(err):
			t.Status = StatusSkipped
			t.Error = err.Error()
			logger.Warn().Err(err).Msg("task skipped")
		default:
			t.Status = StatusFailed
			t.Error = err.Error()
			logger.Error().Err(err).Msg("task failed")
		}
		return true
	})
}

func (m *Manager) run(ctx context.Context, t *Task) (work.Result, error) {
	switch t.Kind {
	case KindDownload:
		return m.exec.EnsureDownload(ctx, t.VideoID)
	case KindClip:
		source := t.SourcePath
		if source == "" {
			dl, err := m.exec.EnsureDownload(ctx, t.VideoID)
			if err != nil {
				return work.Result{}, err
			}
			source = dl.Path
		}
		return m.exec.EnsureClip(ctx, source, *t.Clip)
	default:
		return work.Result{}, fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

// cleanupLoop forgets finished tasks after the retention period. Artifacts
// on disk are never touched.
func (m *Manager) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.JobRetention / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("cleanup loop shutting down")
			return
		case <-ticker.C:
			m.prune(time.Now())
		}
	}
}

func (m *Manager) prune(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks.Range(func(key, value interface{}) bool {
		t := value.(*Task)
		if t.finished() && !t.CompletedAt.IsZero() && now.Sub(t.CompletedAt) > m.cfg.JobRetention {
			m.tasks.Delete(key)
		}
		return true
	})
}

func (m *Manager) submit(t *Task) (*Task, error) {
	t.ID = fmt.Sprintf("%s_%d", shortuuid.New(), time.Now().Unix())
	t.Status = StatusQueued
	t.CreatedAt = time.Now()

	m.tasks.Store(t.ID, t)
	select {
	case m.taskQueue <- t.ID:
	default:
		m.tasks.Delete(t.ID)
		return nil, ErrQueueFull
	}
	m.logger.Info().Str("task", t.ID).Str("kind", string(t.Kind)).Msg("task submitted to queue")
	snapshot := *t
	return &snapshot, nil
}

func (m *Manager) SubmitDownload(videoID string) (*Task, error) {
	if videoID == "" {
		return nil, errors.New("video id is required")
	}
	return m.submit(&Task{Kind: KindDownload, VideoID: videoID})
}

// SubmitClip queues a clip. With an empty source the video is downloaded first.
func (m *Manager) SubmitClip(spec clip.Spec, source string) (*Task, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return m.submit(&Task{Kind: KindClip, VideoID: spec.VideoID, Clip: &spec, SourcePath: source})
}

// Get returns a snapshot of the task.
func (m *Manager) Get(taskID string) (*Task, bool) {
	if val, ok := m.tasks.Load(taskID); ok {
		snapshot := *val.(*Task)
		return &snapshot, true
	}
	return nil, false
}

func (m *Manager) List() []*Task {
	var taskList []*Task
	m.tasks.Range(func(key, value interface{}) bool {
		snapshot := *value.(*Task)
		taskList = append(taskList, &snapshot)
		return true
	})
	sort.Slice(taskList, func(i, j int) bool {
		return taskList[i].CreatedAt.Before(taskList[j].CreatedAt)
	})
	return taskList
}

// Cancel only applies to queued tasks: a running download or encode is
// never interrupted.
func (m *Manager) Cancel(taskID string) error {
	var state Status
	_, ok := m.update(taskID, func(t *Task) bool {
		state = t.Status
		if t.Status != StatusQueued {
			return false
		}
		t.Status = StatusCanceled
		t.Error = "Canceled by user while in queue"
		t.CompletedAt = time.Now()
		return true
	})
	if state == "" {
		return fmt.Errorf("task %s not found", taskID)
	}
	if !ok {
		return fmt.Errorf("cannot cancel task in state: %s", state)
	}
	m.logger.Info().Str("task", taskID).Msg("task marked as canceled in queue")
	return nil
}

// GetFilePath resolves a published artifact name inside the output directory.
func (m *Manager) GetFilePath(filename string) (string, error) {
	// Security: Prevent path traversal
	cleanFilename := filepath.Base(filename)
	if cleanFilename != filename || filename == "." || filename == ".." {
		return "", fmt.Errorf("invalid filename")
	}
	// Hidden files are in-progress temp outputs or locks, never artifacts.
	if cleanFilename[0] == '.' || filepath.Ext(cleanFilename) == ".lock" {
		return "", fmt.Errorf("file not found")
	}

	fullPath := filepath.Join(m.cfg.OutputDir, cleanFilename)
	info, err := os.Stat(fullPath)
	if err != nil || !info.Mode().IsRegular() {
		return "", fmt.Errorf("file not found")
	}
	return fullPath, nil
}
