// Package webdav implements the storage client for WebDAV servers.
package webdav

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

type session struct {
	base     *url.URL
	username string
	password string
}

// Client talks to one WebDAV collection root.
type Client struct {
	*storage.Base

	mu      sync.Mutex
	session atomic.Pointer[session]
}

var (
	_ storage.Client             = (*Client)(nil)
	_ storage.ProgressDownloader = (*Client)(nil)
)

// New creates a disconnected WebDAV client.
func New(backend storage.Backend, archives storage.ArchiveHelper, logger *zap.Logger) *Client {
	c := &Client{}
	c.Base = storage.NewBase(storage.ProtocolWebDAV, backend, archives, c, logger)
	return c
}

// Connect opens a session against cfg.URL. Credentials are optional.
func (c *Client) Connect(ctx context.Context, cfg storage.ConnectionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.Type != "" && cfg.Type != storage.ProtocolWebDAV {
		return core.Errorf(core.ErrConfiguration, "connection type %q is not webdav", cfg.Type)
	}
	if cfg.URL == "" {
		return core.Errorf(core.ErrConfiguration, "WebDAV requires a server url")
	}
	u, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return core.Errorf(core.ErrConfiguration, "WebDAV url %q must be http(s)://host[/path]", cfg.URL)
	}

	s := &session{base: u, username: cfg.Username, password: cfg.Password}
	ok, err := c.Backend().Connect(ctx, storage.SessionConfig{
		Protocol: storage.ProtocolWebDAV,
		URL:      u.String(),
		Username: cfg.Username,
		Password: cfg.Password,
	})
	if err != nil {
		c.Logger().Error("WebDAV connection failed", zap.String("url", u.Redacted()), zap.Error(err))
		return core.Wrap(core.ErrConnection, "WebDAV connection failed", err)
	}
	if !ok {
		return core.Errorf(core.ErrConnection, "backend refused WebDAV session for %s", u.Host)
	}

	c.session.Store(s)
	c.SetConnected(true)
	c.Logger().Info("connected", zap.String("url", u.Redacted()))
	return nil
}

// Disconnect clears the session. It is idempotent.
func (c *Client) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session.Load() == nil {
		return nil
	}
	c.session.Store(nil)
	c.SetConnected(false)

	if err := c.Backend().Disconnect(ctx, storage.ProtocolWebDAV); err != nil {
		return core.Wrap(core.ErrConnection, "WebDAV disconnect failed", err)
	}
	return nil
}

func (c *Client) current() (*session, error) {
	s := c.session.Load()
	if s == nil {
		return nil, c.NotConnected()
	}
	return s, nil
}

// fileURL joins path onto the base URL, escaping each segment.
func (s *session) fileURL(path string) string {
	segs := strings.Split(strings.TrimLeft(path, "/"), "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return s.base.String() + "/" + strings.Join(segs, "/")
}

func (s *session) authHeaders() map[string]string {
	if s.username == "" {
		return map[string]string{}
	}
	token := base64.StdEncoding.EncodeToString([]byte(s.username + ":" + s.password))
	return map[string]string{"Authorization": "Basic " + token}
}

// ListDirectory issues a depth-1 listing of path.
func (c *Client) ListDirectory(ctx context.Context, path string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	result, err := c.Backend().ListDirectory(ctx, storage.ListRequest{
		Protocol: storage.ProtocolWebDAV,
		Path:     "/" + strings.TrimLeft(path, "/"),
		Options:  opts.WithDefaults(),
	})
	if err != nil {
		return nil, c.Fail("failed to list directory", err)
	}
	return result, nil
}

// ReadFile fetches path as text, optionally a byte window of it.
func (c *Client) ReadFile(ctx context.Context, path string, opts storage.ReadOptions) (*storage.FileContent, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	headers := s.authHeaders()
	if opts.IsRange() {
		headers["Range"] = opts.RangeHeader()
	}
	resp, err := c.MakeRequest(ctx, "GET", s.fileURL(path), headers)
	if err != nil {
		return nil, c.Fail("failed to read file", err)
	}
	return &storage.FileContent{Content: resp.Body, Size: resp.ContentLength(), Encoding: "utf-8"}, nil
}

func (c *Client) FileSize(ctx context.Context, path string) (int64, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	resp, err := c.MakeRequest(ctx, "HEAD", s.fileURL(path), s.authHeaders())
	if err != nil {
		return 0, c.Fail("failed to get file size", err)
	}
	return resp.ContentLength(), nil
}

func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	data, err := c.MakeRequestBinary(ctx, "GET", s.fileURL(path), s.authHeaders())
	if err != nil {
		return nil, c.Fail("failed to download file", err)
	}
	return data, nil
}

func (c *Client) DownloadWithProgress(ctx context.Context, path, filename string) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	out, err := c.DownloadToFile(ctx, "GET", s.fileURL(path), filename, s.authHeaders())
	if err != nil {
		return "", c.Fail("failed to download file with progress", err)
	}
	return out, nil
}

// BuildFileURL returns the absolute http(s) URL of path.
func (c *Client) BuildFileURL(path string) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	return s.fileURL(path), nil
}

// AuthHeaders returns Basic credentials when a username is configured.
func (c *Client) AuthHeaders() map[string]string {
	s := c.session.Load()
	if s == nil {
		return map[string]string{}
	}
	return s.authHeaders()
}

func (c *Client) DisplayName() string {
	s := c.session.Load()
	if s == nil {
		return "WebDAV"
	}
	return fmt.Sprintf("WebDAV(%s)", s.base.Host)
}

// ConnectionName generates a default name such as WebDAV(dav.example.com).
func ConnectionName(cfg storage.ConnectionConfig) string {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" {
		return "WebDAV"
	}
	return fmt.Sprintf("WebDAV(%s)", u.Host)
}
