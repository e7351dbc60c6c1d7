// Package storage defines the client contract shared by every storage
// protocol, the request shapes that cross the backend boundary, and the
// archive dispatch every protocol client inherits from Base.
//
// Protocol clients live in sub-packages (oss, webdav, local, hub) and
// embed *Base; callers depend only on the Client interface.
package storage

import (
	"context"
	"encoding/base64"
	"sync/atomic"

	"github.com/newthinker/dataview/internal/core"
	"go.uber.org/zap"
)

// Client is the operation set every storage backend supports.
type Client interface {
	Protocol() Protocol

	// Connect validates and normalizes cfg and opens a backend session.
	Connect(ctx context.Context, cfg ConnectionConfig) error

	// Disconnect drops the session. Calling it twice is a no-op.
	Disconnect(ctx context.Context) error

	IsConnected() bool

	ListDirectory(ctx context.Context, path string, opts ListOptions) (*DirectoryResult, error)

	// ReadFile reads a file; a byte window in opts becomes a Range request.
	ReadFile(ctx context.Context, path string, opts ReadOptions) (*FileContent, error)

	// FileSize probes metadata only.
	FileSize(ctx context.Context, path string) (int64, error)

	Download(ctx context.Context, path string) ([]byte, error)

	// DisplayName is derived from the descriptor, never from network state.
	DisplayName() string

	AnalyzeArchive(ctx context.Context, path, filename string, maxSize int64) (*ArchiveInfo, error)
	ArchivePreview(ctx context.Context, path, filename, entryPath string, maxPreviewSize int64) (*FilePreview, error)
	IsSupportedArchive(filename string) bool
}

// ProgressDownloader is implemented by clients whose backend can stream a
// download to disk while reporting progress.
type ProgressDownloader interface {
	DownloadWithProgress(ctx context.Context, path, filename string) (string, error)
}

// DownloadWithProgress runs c's progress download, or fails with
// ErrUnsupportedCapability so the caller can fall back to Download.
func DownloadWithProgress(ctx context.Context, c Client, path, filename string) (string, error) {
	pd, ok := c.(ProgressDownloader)
	if !ok {
		return "", core.Errorf(core.ErrUnsupportedCapability, "%s client cannot download with progress", c.Protocol())
	}
	return pd.DownloadWithProgress(ctx, path, filename)
}

// Addresser is what a protocol client must provide for URL-based
// archive inspection.
type Addresser interface {
	BuildFileURL(path string) (string, error)
	AuthHeaders() map[string]string
}

// Base carries the behavior shared by all protocol clients. Embed it by
// pointer; it must not be copied.
type Base struct {
	protocol  Protocol
	backend   Backend
	archives  ArchiveHelper
	addresser Addresser
	logger    *zap.Logger
	connected atomic.Bool
}

// NewBase builds the shared part of a protocol client.
func NewBase(protocol Protocol, backend Backend, archives ArchiveHelper, addresser Addresser, logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Base{
		protocol:  protocol,
		backend:   backend,
		archives:  archives,
		addresser: addresser,
		logger:    logger.With(zap.String("protocol", string(protocol))),
	}
}

// Protocol returns the protocol this client speaks.
func (b *Base) Protocol() Protocol {
	return b.protocol
}

// IsConnected reports whether Connect succeeded and Disconnect has not run since.
func (b *Base) IsConnected() bool {
	return b.connected.Load()
}

// SetConnected records the lifecycle state. Only the owning client calls it.
func (b *Base) SetConnected(v bool) {
	b.connected.Store(v)
}

// Backend returns the invocation boundary.
func (b *Base) Backend() Backend {
	return b.backend
}

// Logger returns the client's logger.
func (b *Base) Logger() *zap.Logger {
	return b.logger
}

// NotConnected builds the error returned before any request is constructed.
func (b *Base) NotConnected() error {
	return core.Errorf(core.ErrNotConnected, "not connected to %s", b.protocol)
}

// Fail logs err once and returns it with msg attached.
func (b *Base) Fail(msg string, err error) error {
	b.logger.Error(msg, zap.Error(err))
	return core.Wrap(core.ErrRequest, msg, err)
}

// MakeRequest issues a text request for this protocol.
func (b *Base) MakeRequest(ctx context.Context, method, url string, headers map[string]string) (*Response, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	return b.backend.Request(ctx, Request{
		Protocol: b.protocol,
		Method:   method,
		URL:      url,
		Headers:  headers,
	})
}

// MakeRequestBinary issues a binary request and decodes the base64 body.
func (b *Base) MakeRequestBinary(ctx context.Context, method, url string, headers map[string]string) ([]byte, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	encoded, err := b.backend.RequestBinary(ctx, Request{
		Protocol: b.protocol,
		Method:   method,
		URL:      url,
		Headers:  headers,
	})
	if err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, core.Wrap(core.ErrRequest, "malformed binary response", err)
	}
	return data, nil
}

// DownloadToFile asks the backend for a progress-reporting download.
func (b *Base) DownloadToFile(ctx context.Context, method, url, filename string, headers map[string]string) (string, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	return b.backend.DownloadWithProgress(ctx, DownloadRequest{
		Method:   method,
		URL:      url,
		Headers:  headers,
		Filename: filename,
	})
}

// AnalyzeArchive lists an archive's entries. The local protocol resolves
// paths natively in the backend; every other protocol is inspected by URL
// with range requests.
func (b *Base) AnalyzeArchive(ctx context.Context, path, filename string, maxSize int64) (*ArchiveInfo, error) {
	if !b.IsConnected() {
		return nil, b.NotConnected()
	}

	var (
		info *ArchiveInfo
		err  error
	)
	switch b.protocol {
	case ProtocolLocal:
		info, err = b.backend.AnalyzeArchive(ctx, ArchiveRequest{
			Protocol: b.protocol,
			FilePath: path,
			Filename: filename,
			MaxSize:  maxSize,
		})
	case ProtocolOSS, ProtocolWebDAV, ProtocolHuggingFace:
		var (
			url     string
			headers map[string]string
		)
		url, headers, err = b.target(path)
		if err == nil {
			info, err = b.archives.Analyze(ctx, url, headers, filename, maxSize)
		}
	default:
		err = core.Errorf(core.ErrUnsupportedCapability, "archive analysis not available for %q", b.protocol)
	}

	if err != nil {
		b.logger.Error("failed to analyze archive", zap.String("path", path), zap.Error(err))
		return nil, err
	}
	return info, nil
}

// ArchivePreview returns the leading bytes of one archive entry, using
// the same dispatch as AnalyzeArchive.
func (b *Base) ArchivePreview(ctx context.Context, path, filename, entryPath string, maxPreviewSize int64) (*FilePreview, error) {
	if !b.IsConnected() {
		return nil, b.NotConnected()
	}

	var (
		preview *FilePreview
		err     error
	)
	switch b.protocol {
	case ProtocolLocal:
		preview, err = b.backend.ArchivePreview(ctx, ArchiveRequest{
			Protocol:  b.protocol,
			FilePath:  path,
			Filename:  filename,
			EntryPath: entryPath,
			MaxSize:   maxPreviewSize,
		})
	case ProtocolOSS, ProtocolWebDAV, ProtocolHuggingFace:
		var (
			url     string
			headers map[string]string
		)
		url, headers, err = b.target(path)
		if err == nil {
			preview, err = b.archives.Preview(ctx, url, headers, filename, entryPath, maxPreviewSize)
		}
	default:
		err = core.Errorf(core.ErrUnsupportedCapability, "archive preview not available for %q", b.protocol)
	}

	if err != nil {
		b.logger.Error("failed to get archive file preview",
			zap.String("path", path),
			zap.String("entry", entryPath),
			zap.Error(err),
		)
		return nil, err
	}
	return preview, nil
}

// IsSupportedArchive reports whether filename has a known archive extension.
func (b *Base) IsSupportedArchive(filename string) bool {
	if b.archives == nil {
		return false
	}
	return b.archives.IsSupported(filename)
}

// target resolves the URL and headers of the URL archive branch.
func (b *Base) target(path string) (string, map[string]string, error) {
	if b.archives == nil || b.addresser == nil {
		return "", nil, core.Errorf(core.ErrUnsupportedCapability,
			"%s client has no archive helper for remote archives", b.protocol)
	}
	url, err := b.addresser.BuildFileURL(path)
	if err != nil {
		return "", nil, err
	}
	headers := b.addresser.AuthHeaders()
	if headers == nil {
		headers = map[string]string{}
	}
	return url, headers, nil
}
