// Package backend is the bundled execution service behind
// storage.Backend. It owns one session per protocol and does the actual
// network and disk I/O: S3-compatible object stores through
// aws-sdk-go-v2 or minio-go, WebDAV and the dataset hub over net/http,
// and local directories through os.
package backend

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/newthinker/dataview/internal/archive"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/metrics"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

const (
	S3DriverAWS   = "aws"
	S3DriverMinio = "minio"
)

// Options configures a Service. Zero values take defaults.
type Options struct {
	S3Driver          string
	DownloadDir       string
	HTTPClient        *http.Client
	MaxArchiveEntries int
	MaxPreviewSize    int64
	Metrics           *metrics.Registry
	Progress          ProgressFunc
}

// SessionInfo describes an open session.
type SessionInfo struct {
	ID       string
	Protocol storage.Protocol
	Target   string
	Opened   time.Time
}

type session struct {
	SessionInfo
	exec executor
}

// Service implements storage.Backend.
type Service struct {
	opts      Options
	logger    *zap.Logger
	inspector *archive.Inspector
	direct    *HTTPStore

	mu       sync.RWMutex
	sessions map[storage.Protocol]*session
}

var _ storage.Backend = (*Service)(nil)

// New creates a Service with no open sessions.
func New(opts Options, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.S3Driver == "" {
		opts.S3Driver = S3DriverAWS
	}
	if opts.DownloadDir == "" {
		opts.DownloadDir = filepath.Join(os.TempDir(), "dataview-downloads")
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.MaxPreviewSize <= 0 {
		opts.MaxPreviewSize = archive.DefaultPreviewSize
	}

	inspectorOpts := []archive.Option{archive.WithMaxEntries(opts.MaxArchiveEntries)}
	if opts.Metrics != nil {
		inspectorOpts = append(inspectorOpts, archive.WithRecorder(opts.Metrics))
	}

	return &Service{
		opts:      opts,
		logger:    logger.Named("backend"),
		inspector: archive.NewInspector(logger.Named("archive"), inspectorOpts...),
		direct:    NewHTTP(opts.HTTPClient, nil),
		sessions:  make(map[storage.Protocol]*session),
	}
}

func (s *Service) newExecutor(cfg storage.SessionConfig) (executor, error) {
	switch cfg.Protocol {
	case storage.ProtocolOSS:
		if s.opts.S3Driver == S3DriverMinio {
			return NewMinio(cfg, s.opts.HTTPClient.Transport)
		}
		return NewS3(cfg, s.opts.HTTPClient)
	case storage.ProtocolWebDAV:
		return NewWebDAV(s.opts.HTTPClient, cfg)
	case storage.ProtocolHuggingFace:
		return NewHub(s.opts.HTTPClient, cfg)
	case storage.ProtocolLocal:
		return newLocalFS(cfg.URL)
	}
	return nil, core.Errorf(core.ErrUnsupportedCapability, "no executor for protocol %q", cfg.Protocol)
}

// Connect opens a session for cfg.Protocol, replacing any previous one.
func (s *Service) Connect(ctx context.Context, cfg storage.SessionConfig) (ok bool, err error) {
	start := time.Now()
	defer func() { s.record(cfg.Protocol, "connect", err, start) }()

	exec, err := s.newExecutor(cfg)
	if err != nil {
		return false, err
	}
	ok, err = exec.Ping(ctx)
	if err != nil || !ok {
		exec.Close()
		s.logger.Warn("session declined",
			zap.String("protocol", cfg.Protocol.String()),
			zap.String("target", redact(cfg.URL)),
			zap.Error(err),
		)
		return false, err
	}

	sess := &session{
		SessionInfo: SessionInfo{
			ID:       uuid.NewString(),
			Protocol: cfg.Protocol,
			Target:   redact(cfg.URL),
			Opened:   time.Now(),
		},
		exec: exec,
	}

	s.mu.Lock()
	old := s.sessions[cfg.Protocol]
	s.sessions[cfg.Protocol] = sess
	s.mu.Unlock()

	if old != nil {
		s.closeSession(old)
	}
	s.opts.Metrics.SessionOpened(cfg.Protocol.String())
	s.logger.Info("session opened",
		zap.String("protocol", cfg.Protocol.String()),
		zap.String("session_id", sess.ID),
		zap.String("target", sess.Target),
	)
	return true, nil
}

// Disconnect closes the session for protocol. Unknown sessions are a no-op.
func (s *Service) Disconnect(ctx context.Context, protocol storage.Protocol) error {
	s.mu.Lock()
	sess := s.sessions[protocol]
	delete(s.sessions, protocol)
	s.mu.Unlock()

	if sess != nil {
		s.closeSession(sess)
	}
	return nil
}

func (s *Service) closeSession(sess *session) {
	if err := sess.exec.Close(); err != nil {
		s.logger.Warn("closing session", zap.String("session_id", sess.ID), zap.Error(err))
	}
	s.opts.Metrics.SessionClosed(sess.Protocol.String())
	s.logger.Info("session closed",
		zap.String("protocol", sess.Protocol.String()),
		zap.String("session_id", sess.ID),
	)
}

// Sessions lists open sessions ordered by protocol.
func (s *Service) Sessions() []SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SessionInfo, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.SessionInfo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })
	return out
}

// Close drops every session.
func (s *Service) Close() error {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[storage.Protocol]*session)
	s.mu.Unlock()

	for _, sess := range sessions {
		s.closeSession(sess)
	}
	return nil
}

// schemeProtocol infers the session a URL belongs to.
func schemeProtocol(target string) storage.Protocol {
	switch {
	case strings.HasPrefix(target, "oss://"):
		return storage.ProtocolOSS
	case strings.HasPrefix(target, "file://"):
		return storage.ProtocolLocal
	}
	return ""
}

// executorFor returns the session executor, or the sessionless HTTP
// store when protocol is empty.
func (s *Service) executorFor(protocol storage.Protocol) (executor, error) {
	if protocol == "" {
		return s.direct, nil
	}
	s.mu.RLock()
	sess := s.sessions[protocol]
	s.mu.RUnlock()
	if sess == nil {
		return nil, core.Errorf(core.ErrNotConnected, "no open %s session", protocol)
	}
	return sess.exec, nil
}

// protocolLabel names sessionless requests "http" in metrics and logs.
func protocolLabel(protocol storage.Protocol) string {
	if protocol == "" {
		return "http"
	}
	return protocol.String()
}

func (s *Service) record(protocol storage.Protocol, op string, err error, start time.Time) {
	label := protocolLabel(protocol)
	s.opts.Metrics.RecordBackendRequest(label, op, err, time.Since(start).Seconds())
	if err != nil {
		s.logger.Debug("backend operation failed",
			zap.String("protocol", label),
			zap.String("op", op),
			zap.Error(err),
		)
	}
}

// fetch runs req and reads the whole body.
func (s *Service) fetch(ctx context.Context, req storage.Request) (*object, []byte, storage.Protocol, error) {
	protocol := req.Protocol
	if protocol == "" {
		protocol = schemeProtocol(req.URL)
	}
	exec, err := s.executorFor(protocol)
	if err != nil {
		return nil, nil, protocol, err
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	obj, err := exec.Do(ctx, method, req.URL, req.Headers)
	if err != nil {
		return nil, nil, protocol, err
	}
	defer obj.Close()

	if obj.body == nil {
		return obj, nil, protocol, nil
	}
	data, err := io.ReadAll(obj.body)
	if err != nil {
		return nil, nil, protocol, core.Wrap(core.ErrRequest, "reading response body", err)
	}
	s.opts.Metrics.AddBytes(protocolLabel(protocol), int64(len(data)))
	return obj, data, protocol, nil
}

func (s *Service) Request(ctx context.Context, req storage.Request) (*storage.Response, error) {
	start := time.Now()
	obj, data, protocol, err := s.fetch(ctx, req)
	s.record(protocol, "request", err, start)
	if err != nil {
		return nil, err
	}
	return &storage.Response{
		Status:  obj.status,
		Headers: obj.headers,
		Body:    string(data),
	}, nil
}

func (s *Service) RequestBinary(ctx context.Context, req storage.Request) (string, error) {
	start := time.Now()
	_, data, protocol, err := s.fetch(ctx, req)
	s.record(protocol, "request_binary", err, start)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// DownloadWithProgress streams the object into the download directory.
// The session is picked from the URL scheme.
func (s *Service) DownloadWithProgress(ctx context.Context, req storage.DownloadRequest) (string, error) {
	start := time.Now()
	protocol := schemeProtocol(req.URL)

	exec, err := s.executorFor(protocol)
	var dest string
	if err == nil {
		dest, err = s.download(ctx, exec, req)
	}
	s.record(protocol, "download", err, start)
	s.opts.Metrics.RecordDownload(protocolLabel(protocol), err)
	return dest, err
}

func (s *Service) ListDirectory(ctx context.Context, req storage.ListRequest) (result *storage.DirectoryResult, err error) {
	start := time.Now()
	defer func() { s.record(req.Protocol, "list", err, start) }()

	exec, err := s.executorFor(req.Protocol)
	if err != nil {
		return nil, err
	}
	return exec.List(ctx, req.Path, req.Options.WithDefaults())
}

// localFor returns the local session store. Native archive access only
// exists for local paths.
func (s *Service) localFor(protocol storage.Protocol) (*localFS, error) {
	if protocol != storage.ProtocolLocal {
		return nil, core.Errorf(core.ErrUnsupportedCapability, "native archive access is local only, got %q", protocol)
	}
	exec, err := s.executorFor(protocol)
	if err != nil {
		return nil, err
	}
	fs, ok := exec.(*localFS)
	if !ok {
		return nil, core.Errorf(core.ErrUnsupportedCapability, "session %q has no local files", protocol)
	}
	return fs, nil
}

func archiveName(req storage.ArchiveRequest) string {
	if req.Filename != "" {
		return req.Filename
	}
	return path.Base(req.FilePath)
}

func (s *Service) AnalyzeArchive(ctx context.Context, req storage.ArchiveRequest) (info *storage.ArchiveInfo, err error) {
	start := time.Now()
	defer func() { s.record(req.Protocol, "analyze_archive", err, start) }()

	fs, err := s.localFor(req.Protocol)
	if err != nil {
		return nil, err
	}
	f, size, err := fs.open(req.FilePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return s.inspector.Analyze(ctx, f, size, archiveName(req), req.MaxSize)
}

func (s *Service) ArchivePreview(ctx context.Context, req storage.ArchiveRequest) (preview *storage.FilePreview, err error) {
	start := time.Now()
	defer func() { s.record(req.Protocol, "archive_preview", err, start) }()

	fs, err := s.localFor(req.Protocol)
	if err != nil {
		return nil, err
	}
	f, size, err := fs.open(req.FilePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	maxSize := req.MaxSize
	if maxSize <= 0 {
		maxSize = s.opts.MaxPreviewSize
	}
	return s.inspector.Preview(ctx, f, size, archiveName(req), req.EntryPath, maxSize)
}

// ArchiveHelper returns a URL inspector that reads through this service.
func (s *Service) ArchiveHelper() *archive.URLInspector {
	return archive.NewURLInspector(s, s.inspector, s.logger.Named("archive"))
}
