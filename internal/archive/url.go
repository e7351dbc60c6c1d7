package archive

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

// URLInspector inspects archives addressed by URL. Every byte it needs
// is fetched with a Range request through the backend, so credentials
// and signing never leave the backend session.
type URLInspector struct {
	backend   storage.Backend
	inspector *Inspector
	logger    *zap.Logger
}

var _ storage.ArchiveHelper = (*URLInspector)(nil)

// NewURLInspector creates a URL-based archive helper.
func NewURLInspector(backend storage.Backend, inspector *Inspector, logger *zap.Logger) *URLInspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &URLInspector{backend: backend, inspector: inspector, logger: logger}
}

// protocolOf picks the session a URL belongs to. Plain http(s) URLs
// carry their own auth headers and need no session.
func protocolOf(url string) storage.Protocol {
	switch {
	case strings.HasPrefix(url, "oss://"):
		return storage.ProtocolOSS
	case strings.HasPrefix(url, "file://"):
		return storage.ProtocolLocal
	}
	return ""
}

func cloneHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	return out
}

// open probes the object size and returns a cached ranged reader.
func (u *URLInspector) open(ctx context.Context, url string, headers map[string]string) (*RangeReader, error) {
	protocol := protocolOf(url)

	resp, err := u.backend.Request(ctx, storage.Request{
		Protocol: protocol,
		Method:   "HEAD",
		URL:      url,
		Headers:  cloneHeaders(headers),
	})
	if err != nil {
		return nil, err
	}
	size := resp.ContentLength()
	if size <= 0 {
		return nil, core.Errorf(core.ErrRequest, "cannot determine size of %s", url)
	}

	fetch := func(ctx context.Context, off, length int64) ([]byte, error) {
		h := cloneHeaders(headers)
		h["Range"] = fmt.Sprintf("bytes=%d-%d", off, off+length-1)
		encoded, err := u.backend.RequestBinary(ctx, storage.Request{
			Protocol: protocol,
			Method:   "GET",
			URL:      url,
			Headers:  h,
		})
		if err != nil {
			return nil, err
		}
		data, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, core.Wrap(core.ErrRequest, "malformed binary response", err)
		}
		if int64(len(data)) > length {
			data = data[:length]
		}
		return data, nil
	}
	return NewRangeReader(ctx, fetch, size), nil
}

// Analyze lists the archive at url.
func (u *URLInspector) Analyze(ctx context.Context, url string, headers map[string]string, filename string, maxSize int64) (*storage.ArchiveInfo, error) {
	r, err := u.open(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	info, err := u.inspector.Analyze(ctx, r, r.Size(), filename, maxSize)
	u.logger.Debug("remote archive inspected",
		zap.String("filename", filename),
		zap.Int("range_requests", r.Requests()),
		zap.Int64("size", r.Size()),
	)
	return info, err
}

// Preview returns the head of one entry of the archive at url.
func (u *URLInspector) Preview(ctx context.Context, url string, headers map[string]string, filename, entryPath string, maxPreviewSize int64) (*storage.FilePreview, error) {
	r, err := u.open(ctx, url, headers)
	if err != nil {
		return nil, err
	}
	return u.inspector.Preview(ctx, r, r.Size(), filename, entryPath, maxPreviewSize)
}

// IsSupported reports whether filename has an archive extension.
func (u *URLInspector) IsSupported(filename string) bool {
	return u.inspector.IsSupported(filename)
}

