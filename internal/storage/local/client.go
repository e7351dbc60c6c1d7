// Package local implements the storage client for a directory on the
// machine running the backend. Archives are inspected natively by the
// backend rather than through range requests.
package local

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

type session struct {
	root string
}

// Client browses one root directory.
type Client struct {
	*storage.Base

	mu      sync.Mutex
	session atomic.Pointer[session]
}

var _ storage.Client = (*Client)(nil)

// New creates a disconnected local client.
func New(backend storage.Backend, archives storage.ArchiveHelper, logger *zap.Logger) *Client {
	c := &Client{}
	c.Base = storage.NewBase(storage.ProtocolLocal, backend, archives, c, logger)
	return c
}

// Root extracts the root directory from cfg: URL (optionally file://) or
// Extra["root"].
func Root(cfg storage.ConnectionConfig) string {
	root := strings.TrimPrefix(cfg.URL, "file://")
	if root == "" {
		root = cfg.ExtraValue("root")
	}
	if root == "" {
		return ""
	}
	return filepath.Clean(root)
}

// Connect opens a session rooted at the configured directory.
func (c *Client) Connect(ctx context.Context, cfg storage.ConnectionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.Type != "" && cfg.Type != storage.ProtocolLocal {
		return core.Errorf(core.ErrConfiguration, "connection type %q is not local", cfg.Type)
	}
	root := Root(cfg)
	if root == "" {
		return core.Errorf(core.ErrConfiguration, "local storage requires a root directory")
	}

	ok, err := c.Backend().Connect(ctx, storage.SessionConfig{
		Protocol: storage.ProtocolLocal,
		URL:      root,
	})
	if err != nil {
		return core.Wrap(core.ErrConnection, "local connection failed", err)
	}
	if !ok {
		return core.Errorf(core.ErrConnection, "backend refused local root %s", root)
	}

	c.session.Store(&session{root: root})
	c.SetConnected(true)
	c.Logger().Info("connected", zap.String("root", root))
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

	if err := c.Backend().Disconnect(ctx, storage.ProtocolLocal); err != nil {
		return core.Wrap(core.ErrConnection, "local disconnect failed", err)
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

// rel cleans p into a slash path relative to the session root.
func rel(p string) string {
	return path.Clean("/" + p)
}

func (c *Client) ListDirectory(ctx context.Context, p string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	result, err := c.Backend().ListDirectory(ctx, storage.ListRequest{
		Protocol: storage.ProtocolLocal,
		Path:     rel(p),
		Options:  opts.WithDefaults(),
	})
	if err != nil {
		return nil, c.Fail("failed to list directory", err)
	}
	return result, nil
}

func (c *Client) ReadFile(ctx context.Context, p string, opts storage.ReadOptions) (*storage.FileContent, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	headers := map[string]string{}
	if opts.IsRange() {
		headers["Range"] = opts.RangeHeader()
	}
	resp, err := c.MakeRequest(ctx, "GET", rel(p), headers)
	if err != nil {
		return nil, c.Fail("failed to read file", err)
	}
	return &storage.FileContent{Content: resp.Body, Size: resp.ContentLength(), Encoding: "utf-8"}, nil
}

func (c *Client) FileSize(ctx context.Context, p string) (int64, error) {
	if _, err := c.current(); err != nil {
		return 0, err
	}
	resp, err := c.MakeRequest(ctx, "HEAD", rel(p), nil)
	if err != nil {
		return 0, c.Fail("failed to get file size", err)
	}
	return resp.ContentLength(), nil
}

func (c *Client) Download(ctx context.Context, p string) ([]byte, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	data, err := c.MakeRequestBinary(ctx, "GET", rel(p), nil)
	if err != nil {
		return nil, c.Fail("failed to download file", err)
	}
	return data, nil
}

// BuildFileURL returns a file:// URL. Archive calls never use it because
// the local branch resolves paths natively.
func (c *Client) BuildFileURL(p string) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(filepath.Join(s.root, filepath.FromSlash(rel(p)))), nil
}

// AuthHeaders is always empty.
func (c *Client) AuthHeaders() map[string]string {
	return map[string]string{}
}

func (c *Client) DisplayName() string {
	s := c.session.Load()
	if s == nil {
		return "Local"
	}
	return fmt.Sprintf("Local(%s)", s.root)
}

// ConnectionName generates a default name such as Local(/data).
func ConnectionName(cfg storage.ConnectionConfig) string {
	if root := Root(cfg); root != "" {
		return fmt.Sprintf("Local(%s)", root)
	}
	return "Local"
}
