// internal/api/handler/api/storage.go
package api

import (
	"context"
	"net/http"
	"path"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/newthinker/dataview/internal/api/response"
	"github.com/newthinker/dataview/internal/clients"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
)

// Connections is what the handler needs from clients.Manager.
type Connections interface {
	Get(ctx context.Context, name string) (storage.Client, error)
	List() []clients.Info
}

// StorageHandler serves browsing requests against named connections.
type StorageHandler struct {
	conns Connections
}

// NewStorageHandler creates a new storage handler.
func NewStorageHandler(conns Connections) *StorageHandler {
	return &StorageHandler{conns: conns}
}

// Connections lists the configured connections.
func (h *StorageHandler) Connections(w http.ResponseWriter, r *http.Request) {
	infos := h.conns.List()
	response.JSON(w, http.StatusOK, map[string]any{
		"connections": infos,
		"count":       len(infos),
	})
}

func (h *StorageHandler) client(w http.ResponseWriter, r *http.Request) (storage.Client, bool) {
	c, err := h.conns.Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		response.Fail(w, err)
		return nil, false
	}
	return c, true
}

// filePath returns the required path query parameter.
func filePath(w http.ResponseWriter, r *http.Request) (string, bool) {
	p := r.URL.Query().Get("path")
	if p == "" {
		response.Error(w, http.StatusBadRequest, core.Errorf(core.ErrConfigMissing, "path is required"))
		return "", false
	}
	return p, true
}

func int64Param(r *http.Request, key string) (*int64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return nil, core.Errorf(core.ErrConfigInvalid, "%s must be a non-negative integer", key)
	}
	return &n, nil
}

// List returns one page of a directory.
func (h *StorageHandler) List(w http.ResponseWriter, r *http.Request) {
	c, ok := h.client(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()

	opts := storage.ListOptions{
		Marker:    q.Get("marker"),
		Prefix:    q.Get("prefix"),
		SortBy:    q.Get("sort_by"),
		SortOrder: q.Get("sort_order"),
	}
	if n, err := strconv.Atoi(q.Get("page_size")); err == nil {
		opts.PageSize = n
	}
	if b, err := strconv.ParseBool(q.Get("recursive")); err == nil {
		opts.Recursive = b
	}

	dir := q.Get("path")
	if dir == "" {
		dir = "/"
	}
	result, err := c.ListDirectory(r.Context(), dir, opts)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, result)
}

// Content returns a file, or a byte window of it with start/length.
func (h *StorageHandler) Content(w http.ResponseWriter, r *http.Request) {
	p, ok := filePath(w, r)
	if !ok {
		return
	}
	start, err := int64Param(r, "start")
	if err != nil {
		response.Fail(w, err)
		return
	}
	length, err := int64Param(r, "length")
	if err != nil {
		response.Fail(w, err)
		return
	}
	c, ok := h.client(w, r)
	if !ok {
		return
	}

	content, err := c.ReadFile(r.Context(), p, storage.ReadOptions{Start: start, Length: length})
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, content)
}

// Size returns the size of a file without reading it.
func (h *StorageHandler) Size(w http.ResponseWriter, r *http.Request) {
	p, ok := filePath(w, r)
	if !ok {
		return
	}
	c, ok := h.client(w, r)
	if !ok {
		return
	}

	size, err := c.FileSize(r.Context(), p)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, map[string]any{
		"path": p,
		"size": size,
	})
}

// Download streams the raw bytes of a file as an attachment.
func (h *StorageHandler) Download(w http.ResponseWriter, r *http.Request) {
	p, ok := filePath(w, r)
	if !ok {
		return
	}
	c, ok := h.client(w, r)
	if !ok {
		return
	}

	data, err := c.Download(r.Context(), p)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.Attachment(w, path.Base(p), data)
}

// Archive lists the entries of an archive.
func (h *StorageHandler) Archive(w http.ResponseWriter, r *http.Request) {
	p, ok := filePath(w, r)
	if !ok {
		return
	}
	maxSize, err := int64Param(r, "max_size")
	if err != nil {
		response.Fail(w, err)
		return
	}
	c, ok := h.client(w, r)
	if !ok {
		return
	}

	name := path.Base(p)
	if !c.IsSupportedArchive(name) {
		response.Error(w, http.StatusUnsupportedMediaType,
			core.Errorf(core.ErrUnsupportedFormat, "%s is not a supported archive", name))
		return
	}

	var limit int64
	if maxSize != nil {
		limit = *maxSize
	}
	info, err := c.AnalyzeArchive(r.Context(), p, name, limit)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, info)
}

// ArchivePreview returns the head of one archive entry.
func (h *StorageHandler) ArchivePreview(w http.ResponseWriter, r *http.Request) {
	p, ok := filePath(w, r)
	if !ok {
		return
	}
	entry := r.URL.Query().Get("entry")
	if entry == "" {
		response.Error(w, http.StatusBadRequest, core.Errorf(core.ErrConfigMissing, "entry is required"))
		return
	}
	maxSize, err := int64Param(r, "max_size")
	if err != nil {
		response.Fail(w, err)
		return
	}
	c, ok := h.client(w, r)
	if !ok {
		return
	}

	var limit int64
	if maxSize != nil {
		limit = *maxSize
	}
	preview, err := c.ArchivePreview(r.Context(), p, path.Base(p), entry, limit)
	if err != nil {
		response.Fail(w, err)
		return
	}
	response.JSON(w, http.StatusOK, preview)
}
