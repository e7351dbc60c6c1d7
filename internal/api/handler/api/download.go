// internal/api/handler/api/download.go
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/newthinker/dataview/internal/api/job"
	"github.com/newthinker/dataview/internal/api/response"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

const downloadTimeout = 30 * time.Minute

// DownloadRequest is the request body for starting a server-side download.
type DownloadRequest struct {
	Path     string `json:"path"`
	Filename string `json:"filename,omitempty"`
}

// DownloadHandler runs downloads into the server's download directory
// as background jobs.
type DownloadHandler struct {
	conns    Connections
	jobStore *job.Store
	logger   *zap.Logger
}

// NewDownloadHandler creates a new download handler.
func NewDownloadHandler(conns Connections, jobStore *job.Store, logger *zap.Logger) *DownloadHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DownloadHandler{
		conns:    conns,
		jobStore: jobStore,
		logger:   logger,
	}
}

// Create starts a new download job.
func (h *DownloadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req DownloadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest,
			core.WrapError(core.ErrConfigInvalid, err))
		return
	}
	if req.Path == "" {
		response.Error(w, http.StatusBadRequest, core.Errorf(core.ErrConfigMissing, "path is required"))
		return
	}
	if req.Filename == "" {
		req.Filename = path.Base(req.Path)
	}

	name := chi.URLParam(r, "name")
	c, err := h.conns.Get(r.Context(), name)
	if err != nil {
		response.Fail(w, err)
		return
	}
	if _, ok := c.(storage.ProgressDownloader); !ok {
		response.Fail(w, core.Errorf(core.ErrUnsupportedCapability,
			"%s connections cannot download in the background", c.Protocol()))
		return
	}

	j := h.jobStore.Create(job.TypeDownload, name, req.Path, req.Filename)

	// Run download in background
	go h.runDownload(j.ID, c, req.Path, req.Filename)

	response.JSON(w, http.StatusAccepted, map[string]any{
		"job_id": j.ID,
		"status": j.Status,
	})
}

// runDownload executes the download and updates job status.
func (h *DownloadHandler) runDownload(jobID string, c storage.Client, p, filename string) {
	// Mark as running
	h.jobStore.Update(jobID, func(j *job.Job) {
		j.Status = job.StatusRunning
	})

	ctx, cancel := context.WithTimeout(context.Background(), downloadTimeout)
	defer cancel()
	dest, err := storage.DownloadWithProgress(ctx, c, p, filename)
	if err != nil {
		h.logger.Warn("background download failed",
			zap.String("job_id", jobID),
			zap.String("path", p),
			zap.Error(err),
		)
		h.jobStore.Fail(jobID, err)
		return
	}
	h.jobStore.Complete(jobID, dest)
}

// Get returns one download job.
func (h *DownloadHandler) Get(w http.ResponseWriter, r *http.Request) {
	j, err := h.jobStore.Get(chi.URLParam(r, "id"))
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, j)
}

// List returns all known download jobs.
func (h *DownloadHandler) List(w http.ResponseWriter, r *http.Request) {
	jobs := h.jobStore.List()
	response.JSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}
