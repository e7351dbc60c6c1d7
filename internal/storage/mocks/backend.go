// Package mocks provides a recording implementation of storage.Backend
// for testing protocol clients without a real execution service.
package mocks

import (
	"context"
	"encoding/base64"
	"sync"

	"github.com/newthinker/dataview/internal/storage"
)

// Call records one invocation of the backend.
type Call struct {
	Op       string
	Session  *storage.SessionConfig
	Request  *storage.Request
	Download *storage.DownloadRequest
	List     *storage.ListRequest
	Archive  *storage.ArchiveRequest
}

// Backend records every call and answers with canned values.
type Backend struct {
	mu    sync.Mutex
	calls []Call

	// Canned answers
	ConnectResult bool
	ConnectErr    error
	Response      *storage.Response
	RequestErr    error
	Binary        []byte
	DownloadPath  string
	Listing       *storage.DirectoryResult
	ArchiveInfo   *storage.ArchiveInfo
	Preview       *storage.FilePreview
	ArchiveErr    error
}

// New returns a Backend that accepts sessions and answers empty 200s.
func New() *Backend {
	return &Backend{
		ConnectResult: true,
		Response:      &storage.Response{Status: 200, Headers: map[string]string{}},
		Listing:       &storage.DirectoryResult{},
		ArchiveInfo:   &storage.ArchiveInfo{AnalysisStatus: storage.Complete()},
		Preview:       &storage.FilePreview{},
	}
}

func (b *Backend) record(c Call) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, c)
}

// Calls returns a copy of the recorded calls.
func (b *Backend) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

// CallCount returns how many calls were made.
func (b *Backend) CallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// LastCall returns the most recent call, or the zero Call.
func (b *Backend) LastCall() Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return Call{}
	}
	return b.calls[len(b.calls)-1]
}

// Reset forgets recorded calls.
func (b *Backend) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = nil
}

func (b *Backend) Connect(ctx context.Context, cfg storage.SessionConfig) (bool, error) {
	b.record(Call{Op: "connect", Session: &cfg})
	return b.ConnectResult, b.ConnectErr
}

func (b *Backend) Disconnect(ctx context.Context, protocol storage.Protocol) error {
	b.record(Call{Op: "disconnect", Session: &storage.SessionConfig{Protocol: protocol}})
	return nil
}

func (b *Backend) Request(ctx context.Context, req storage.Request) (*storage.Response, error) {
	b.record(Call{Op: "request", Request: &req})
	if b.RequestErr != nil {
		return nil, b.RequestErr
	}
	return b.Response, nil
}

func (b *Backend) RequestBinary(ctx context.Context, req storage.Request) (string, error) {
	b.record(Call{Op: "request_binary", Request: &req})
	if b.RequestErr != nil {
		return "", b.RequestErr
	}
	return base64.StdEncoding.EncodeToString(b.Binary), nil
}

func (b *Backend) DownloadWithProgress(ctx context.Context, req storage.DownloadRequest) (string, error) {
	b.record(Call{Op: "download", Download: &req})
	if b.RequestErr != nil {
		return "", b.RequestErr
	}
	return b.DownloadPath, nil
}

func (b *Backend) ListDirectory(ctx context.Context, req storage.ListRequest) (*storage.DirectoryResult, error) {
	b.record(Call{Op: "list", List: &req})
	if b.RequestErr != nil {
		return nil, b.RequestErr
	}
	return b.Listing, nil
}

func (b *Backend) AnalyzeArchive(ctx context.Context, req storage.ArchiveRequest) (*storage.ArchiveInfo, error) {
	b.record(Call{Op: "analyze_archive", Archive: &req})
	if b.ArchiveErr != nil {
		return nil, b.ArchiveErr
	}
	return b.ArchiveInfo, nil
}

func (b *Backend) ArchivePreview(ctx context.Context, req storage.ArchiveRequest) (*storage.FilePreview, error) {
	b.record(Call{Op: "archive_preview", Archive: &req})
	if b.ArchiveErr != nil {
		return nil, b.ArchiveErr
	}
	return b.Preview, nil
}

// ArchiveHelper records URL-based archive calls.
type ArchiveHelper struct {
	mu      sync.Mutex
	URLs    []string
	Headers []map[string]string

	InfoResult    *storage.ArchiveInfo
	PreviewResult *storage.FilePreview
	Err           error
}

// NewArchiveHelper returns a helper answering with empty complete results.
func NewArchiveHelper() *ArchiveHelper {
	return &ArchiveHelper{
		InfoResult:    &storage.ArchiveInfo{AnalysisStatus: storage.Complete()},
		PreviewResult: &storage.FilePreview{},
	}
}

func (h *ArchiveHelper) record(url string, headers map[string]string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.URLs = append(h.URLs, url)
	h.Headers = append(h.Headers, headers)
}

func (h *ArchiveHelper) Analyze(ctx context.Context, url string, headers map[string]string, filename string, maxSize int64) (*storage.ArchiveInfo, error) {
	h.record(url, headers)
	if h.Err != nil {
		return nil, h.Err
	}
	return h.InfoResult, nil
}

func (h *ArchiveHelper) Preview(ctx context.Context, url string, headers map[string]string, filename, entryPath string, maxPreviewSize int64) (*storage.FilePreview, error) {
	h.record(url, headers)
	if h.Err != nil {
		return nil, h.Err
	}
	return h.PreviewResult, nil
}

func (h *ArchiveHelper) IsSupported(filename string) bool {
	return true
}

// CallCount returns how many URL-based calls were made.
func (h *ArchiveHelper) CallCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.URLs)
}
