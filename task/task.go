package task

import (
	"time"

	"clipforge/clip"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped" // recoverable failure, retry later
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

type Kind string

const (
	KindDownload Kind = "download"
	KindClip     Kind = "clip"
)

type Task struct {
	ID           string     `json:"id"`
	Kind         Kind       `json:"kind"`
	Status       Status     `json:"status"`
	VideoID      string     `json:"videoId"`
	Clip         *clip.Spec `json:"clip,omitempty"`
	SourcePath   string     `json:"sourcePath,omitempty"`
	ArtifactPath string     `json:"artifactPath,omitempty"`
	Outcome      string     `json:"outcome,omitempty"`
	DownloadURL  string     `json:"downloadUrl,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	StartedAt    time.Time  `json:"startedAt,omitempty"`
	CompletedAt  time.Time  `json:"completedAt,omitempty"`
}

func (t *Task) finished() bool {
	switch t.Status {
	case StatusCompleted, StatusSkipped, StatusFailed, StatusCanceled:
		return true
	}
	return false
}
