// Package hub implements the storage client for Hugging Face dataset
// repositories. Paths take the form <owner>/<dataset>/<file path>.
package hub

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

const (
	// DefaultEndpoint is the public hub API host.
	DefaultEndpoint = "https://huggingface.co"
	DefaultRevision = "main"
)

type session struct {
	endpoint     string
	token        string
	organization string
	revision     string
}

// Client browses datasets on one hub endpoint.
type Client struct {
	*storage.Base

	mu      sync.Mutex
	session atomic.Pointer[session]
}

var (
	_ storage.Client             = (*Client)(nil)
	_ storage.ProgressDownloader = (*Client)(nil)
)

// New creates a disconnected hub client.
func New(backend storage.Backend, archives storage.ArchiveHelper, logger *zap.Logger) *Client {
	c := &Client{}
	c.Base = storage.NewBase(storage.ProtocolHuggingFace, backend, archives, c, logger)
	return c
}

// Connect opens a hub session. The token (Password) is optional for public
// datasets; URL overrides the API host, e.g. for a mirror.
func (c *Client) Connect(ctx context.Context, cfg storage.ConnectionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.Type != "" && cfg.Type != storage.ProtocolHuggingFace {
		return core.Errorf(core.ErrConfiguration, "connection type %q is not huggingface", cfg.Type)
	}

	endpoint := strings.TrimRight(cfg.URL, "/")
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if u, err := url.Parse(endpoint); err != nil || u.Host == "" {
		return core.Errorf(core.ErrConfiguration, "hub endpoint %q is not a url", cfg.URL)
	}

	s := &session{
		endpoint:     endpoint,
		token:        cfg.Password,
		organization: cfg.ExtraValue("organization"),
		revision:     cfg.ExtraValue("revision"),
	}
	if s.revision == "" {
		s.revision = DefaultRevision
	}

	ok, err := c.Backend().Connect(ctx, storage.SessionConfig{
		Protocol: storage.ProtocolHuggingFace,
		URL:      s.endpoint,
		Password: s.token,
		Extra: map[string]string{
			"organization": s.organization,
			"revision":     s.revision,
		},
	})
	if err != nil {
		return core.Wrap(core.ErrConnection, "hub connection failed", err)
	}
	if !ok {
		return core.Errorf(core.ErrConnection, "backend refused hub session for %s", s.endpoint)
	}

	c.session.Store(s)
	c.SetConnected(true)
	c.Logger().Info("connected",
		zap.String("endpoint", s.endpoint),
		zap.String("organization", s.organization),
	)
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

	if err := c.Backend().Disconnect(ctx, storage.ProtocolHuggingFace); err != nil {
		return core.Wrap(core.ErrConnection, "hub disconnect failed", err)
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

// DatasetPath is a path split into its dataset and in-repo parts.
type DatasetPath struct {
	Owner   string
	Dataset string
	File    string
}

// ParsePath splits <owner>/<dataset>/<file path>. Missing parts are empty.
func ParsePath(p string) DatasetPath {
	parts := strings.SplitN(strings.Trim(p, "/"), "/", 3)
	var dp DatasetPath
	if len(parts) > 0 {
		dp.Owner = parts[0]
	}
	if len(parts) > 1 {
		dp.Dataset = parts[1]
	}
	if len(parts) > 2 {
		dp.File = parts[2]
	}
	return dp
}

func (s *session) fileURL(p string) (string, error) {
	dp := ParsePath(p)
	if dp.Owner == "" || dp.Dataset == "" || dp.File == "" {
		return "", core.Errorf(core.ErrRequest, "path %q does not name a file inside a dataset", p)
	}
	segs := strings.Split(dp.File, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/datasets/%s/%s/resolve/%s/%s",
		s.endpoint,
		url.PathEscape(dp.Owner),
		url.PathEscape(dp.Dataset),
		url.PathEscape(s.revision),
		strings.Join(segs, "/"),
	), nil
}

func (s *session) authHeaders() map[string]string {
	if s.token == "" {
		return map[string]string{}
	}
	return map[string]string{"Authorization": "Bearer " + s.token}
}

// ListDirectory lists datasets of the organization at the root, or the
// repository tree below <owner>/<dataset>.
func (c *Client) ListDirectory(ctx context.Context, p string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	result, err := c.Backend().ListDirectory(ctx, storage.ListRequest{
		Protocol: storage.ProtocolHuggingFace,
		Path:     strings.Trim(p, "/"),
		Options:  opts.WithDefaults(),
	})
	if err != nil {
		return nil, c.Fail("failed to list directory", err)
	}
	return result, nil
}

func (c *Client) ReadFile(ctx context.Context, p string, opts storage.ReadOptions) (*storage.FileContent, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	target, err := s.fileURL(p)
	if err != nil {
		return nil, err
	}
	headers := s.authHeaders()
	if opts.IsRange() {
		headers["Range"] = opts.RangeHeader()
	}
	resp, err := c.MakeRequest(ctx, "GET", target, headers)
	if err != nil {
		return nil, c.Fail("failed to read file", err)
	}
	return &storage.FileContent{Content: resp.Body, Size: resp.ContentLength(), Encoding: "utf-8"}, nil
}

func (c *Client) FileSize(ctx context.Context, p string) (int64, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	target, err := s.fileURL(p)
	if err != nil {
		return 0, err
	}
	resp, err := c.MakeRequest(ctx, "HEAD", target, s.authHeaders())
	if err != nil {
		return 0, c.Fail("failed to get file size", err)
	}
	return resp.ContentLength(), nil
}

func (c *Client) Download(ctx context.Context, p string) ([]byte, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	target, err := s.fileURL(p)
	if err != nil {
		return nil, err
	}
	data, err := c.MakeRequestBinary(ctx, "GET", target, s.authHeaders())
	if err != nil {
		return nil, c.Fail("failed to download file", err)
	}
	return data, nil
}

func (c *Client) DownloadWithProgress(ctx context.Context, p, filename string) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	target, err := s.fileURL(p)
	if err != nil {
		return "", err
	}
	out, err := c.DownloadToFile(ctx, "GET", target, filename, s.authHeaders())
	if err != nil {
		return "", c.Fail("failed to download file with progress", err)
	}
	return out, nil
}

// BuildFileURL returns the resolve URL of a file at the session revision.
func (c *Client) BuildFileURL(p string) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	return s.fileURL(p)
}

// AuthHeaders returns a bearer token header when a token is configured.
func (c *Client) AuthHeaders() map[string]string {
	s := c.session.Load()
	if s == nil {
		return map[string]string{}
	}
	return s.authHeaders()
}

func (c *Client) DisplayName() string {
	s := c.session.Load()
	if s == nil || s.organization == "" {
		return "Hugging Face"
	}
	return fmt.Sprintf("Hugging Face(%s)", s.organization)
}

// ConnectionName generates a default name such as Hugging Face(org).
func ConnectionName(cfg storage.ConnectionConfig) string {
	if org := cfg.ExtraValue("organization"); org != "" {
		return fmt.Sprintf("Hugging Face(%s)", org)
	}
	return "Hugging Face"
}
