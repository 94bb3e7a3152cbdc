package api

import (
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"clipforge/clip"
	"clipforge/config"
	"clipforge/task"
)

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
}

func NewHandler(tm *task.Manager, cfg *config.Config) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
	}
}

type DownloadRequest struct {
	VideoID string `json:"videoId" binding:"required"`
}

// ClipRequest mirrors clip.Spec. SourcePath is optional; without it the
// video is downloaded first.
type ClipRequest struct {
	clip.Spec
	SourcePath string `json:"sourcePath"`
}

// handleCreateDownload queues a video download.
func (h *Handler) handleCreateDownload(c *gin.Context) {
	var req DownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	t, err := h.taskManager.SubmitDownload(req.VideoID)
	if err != nil {
		h.submitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": t.ID})
}

// handleCreateClip queues a clip, downloading its source when needed.
func (h *Handler) handleCreateClip(c *gin.Context) {
	var req ClipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.Spec.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid clip: %v", err)})
		return
	}
	source := req.SourcePath
	if source != "" {
		// Sources are addressed by artifact name, never by arbitrary path.
		p, err := h.taskManager.GetFilePath(source)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid source: %v", err)})
			return
		}
		source = p
	}

	t, err := h.taskManager.SubmitClip(req.Spec, source)
	if err != nil {
		h.submitError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"jobId": t.ID})
}

func (h *Handler) submitError(c *gin.Context, err error) {
	if errors.Is(err, task.ErrQueueFull) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create job", "details": err.Error()})
}

// handleListJobs lists all known jobs.
func (h *Handler) handleListJobs(c *gin.Context) {
	tasks := h.taskManager.List()
	for _, t := range tasks {
		h.buildDownloadURL(c, t)
	}
	c.JSON(http.StatusOK, tasks)
}

// buildDownloadURL constructs the full URL for a finished job's artifact.
func (h *Handler) buildDownloadURL(c *gin.Context, t *task.Task) {
	if t.Status != task.StatusCompleted || t.ArtifactPath == "" {
		return
	}

	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	filename := filepath.Base(t.ArtifactPath)
	t.DownloadURL = fmt.Sprintf("%s/api/v1/artifacts/%s", baseURL, filename)
}

// handleGetJob retrieves the status of a single job.
func (h *Handler) handleGetJob(c *gin.Context) {
	jobID := c.Param("jobId")
	t, found := h.taskManager.Get(jobID)
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}

	h.buildDownloadURL(c, t)
	c.JSON(http.StatusOK, t)
}

// handleCancelJob cancels a queued job.
func (h *Handler) handleCancelJob(c *gin.Context) {
	jobID := c.Param("jobId")
	if err := h.taskManager.Cancel(jobID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Job canceled"})
}

// handleGetArtifact serves a published artifact.
func (h *Handler) handleGetArtifact(c *gin.Context) {
	filename := c.Param("name")
	filePath, err := h.taskManager.GetFilePath(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.File(filePath)
}
