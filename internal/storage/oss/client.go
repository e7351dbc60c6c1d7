// Package oss implements the storage client for S3-compatible object
// stores addressed in OSS style. All requests use the canonical address
// oss://<bucket>/<key>; signing happens behind the backend boundary.
package oss

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

type session struct {
	endpoint  string
	accessKey string
	secretKey string
	bucket    string
	region    string
}

// Client talks to one bucket.
type Client struct {
	*storage.Base

	mu      sync.Mutex
	session atomic.Pointer[session]
}

var (
	_ storage.Client             = (*Client)(nil)
	_ storage.ProgressDownloader = (*Client)(nil)
	_ storage.Addresser          = (*Client)(nil)
)

// New creates a disconnected OSS client.
func New(backend storage.Backend, archives storage.ArchiveHelper, logger *zap.Logger) *Client {
	c := &Client{}
	c.Base = storage.NewBase(storage.ProtocolOSS, backend, archives, c, logger)
	return c
}

// Connect resolves endpoint, bucket and region from cfg and opens a
// backend session. Explicit Endpoint, Bucket and Region fields win over
// anything inferred from the URL.
func (c *Client) Connect(ctx context.Context, cfg storage.ConnectionConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cfg.Type != "" && cfg.Type != storage.ProtocolOSS {
		return core.Errorf(core.ErrConfiguration, "connection type %q is not oss", cfg.Type)
	}
	if cfg.URL == "" && cfg.Endpoint == "" {
		return core.Errorf(core.ErrConfiguration, "OSS requires an endpoint url")
	}
	if cfg.Username == "" || cfg.Password == "" {
		return core.Errorf(core.ErrConfiguration, "OSS requires an access key (username) and secret key (password)")
	}

	endpoint, bucket, region := cfg.Endpoint, cfg.Bucket, cfg.Region
	if endpoint == "" || bucket == "" || region == "" {
		raw := cfg.URL
		if raw == "" {
			raw = cfg.Endpoint
		}
		guess := ParseEndpoint(raw)
		if guess.Style == StyleUnknown && endpoint == "" {
			c.Logger().Warn("unrecognized OSS url, using it verbatim as endpoint", zap.String("url", raw))
		}
		if endpoint == "" {
			endpoint = guess.Endpoint
		}
		if bucket == "" {
			bucket = guess.Bucket
		}
		if region == "" {
			region = guess.Region
		}
	}
	if region == "" {
		region = DefaultRegion
	}
	if bucket == "" {
		return core.Errorf(core.ErrConfiguration, "OSS bucket could not be determined from %q", cfg.URL)
	}

	normalized, recognized := NormalizeEndpoint(endpoint, bucket, region)
	if !recognized {
		c.Logger().Warn("endpoint host is not an OSS service host, addressing path-style",
			zap.String("endpoint", normalized))
	}

	s := &session{
		endpoint:  normalized,
		accessKey: cfg.Username,
		secretKey: cfg.Password,
		bucket:    bucket,
		region:    region,
	}

	ok, err := c.Backend().Connect(ctx, storage.SessionConfig{
		Protocol:  storage.ProtocolOSS,
		URL:       s.endpoint,
		AccessKey: s.accessKey,
		SecretKey: s.secretKey,
		Bucket:    s.bucket,
		Region:    s.region,
	})
	if err != nil {
		c.Logger().Error("OSS connection failed", zap.String("bucket", bucket), zap.Error(err))
		return core.Wrap(core.ErrConnection, "OSS connection failed", err)
	}
	if !ok {
		return core.Errorf(core.ErrConnection, "backend refused OSS session for bucket %q", bucket)
	}

	c.session.Store(s)
	c.SetConnected(true)
	c.Logger().Info("connected",
		zap.String("endpoint", s.endpoint),
		zap.String("bucket", s.bucket),
		zap.String("region", s.region),
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

	if err := c.Backend().Disconnect(ctx, storage.ProtocolOSS); err != nil {
		c.Logger().Warn("backend disconnect failed", zap.Error(err))
		return core.Wrap(core.ErrConnection, "OSS disconnect failed", err)
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

// Bucket returns the connected bucket, or "".
func (c *Client) Bucket() string {
	if s := c.session.Load(); s != nil {
		return s.bucket
	}
	return ""
}

// Endpoint returns the normalized endpoint, or "".
func (c *Client) Endpoint() string {
	if s := c.session.Load(); s != nil {
		return s.endpoint
	}
	return ""
}

// Region returns the resolved region, or "".
func (c *Client) Region() string {
	if s := c.session.Load(); s != nil {
		return s.region
	}
	return ""
}

// ListDirectory lists the prefix derived from path.
func (c *Client) ListDirectory(ctx context.Context, path string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	if _, err := c.current(); err != nil {
		return nil, err
	}
	result, err := c.Backend().ListDirectory(ctx, storage.ListRequest{
		Protocol: storage.ProtocolOSS,
		Path:     objectKey(path),
		Options:  opts.WithDefaults(),
	})
	if err != nil {
		return nil, c.Fail("failed to list directory", err)
	}
	return result, nil
}

// ReadFile reads an object as text, optionally a byte window of it.
func (c *Client) ReadFile(ctx context.Context, path string, opts storage.ReadOptions) (*storage.FileContent, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}

	headers := map[string]string{}
	if opts.IsRange() {
		headers["Range"] = opts.RangeHeader()
	}

	resp, err := c.MakeRequest(ctx, "GET", Address(s.bucket, path), headers)
	if err != nil {
		return nil, c.Fail("failed to read file", err)
	}
	return &storage.FileContent{
		Content:  resp.Body,
		Size:     resp.ContentLength(),
		Encoding: "utf-8",
	}, nil
}

// FileSize issues a HEAD request and reports content-length.
func (c *Client) FileSize(ctx context.Context, path string) (int64, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	resp, err := c.MakeRequest(ctx, "HEAD", Address(s.bucket, path), nil)
	if err != nil {
		return 0, c.Fail("failed to get file size", err)
	}
	return resp.ContentLength(), nil
}

// Download fetches a whole object as bytes.
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	s, err := c.current()
	if err != nil {
		return nil, err
	}
	data, err := c.MakeRequestBinary(ctx, "GET", Address(s.bucket, path), nil)
	if err != nil {
		return nil, c.Fail("failed to download file", err)
	}
	return data, nil
}

// DownloadWithProgress streams an object to a local file via the backend.
func (c *Client) DownloadWithProgress(ctx context.Context, path, filename string) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	out, err := c.DownloadToFile(ctx, "GET", Address(s.bucket, path), filename, c.AuthHeaders())
	if err != nil {
		return "", c.Fail("failed to download file with progress", err)
	}
	return out, nil
}

// ToProtocolURL returns the canonical address of path.
func (c *Client) ToProtocolURL(path string) (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	return Address(s.bucket, path), nil
}

// BuildFileURL returns the canonical address; the backend resolves and
// signs it when the archive inspector fetches ranges.
func (c *Client) BuildFileURL(path string) (string, error) {
	return c.ToProtocolURL(path)
}

// AuthHeaders is empty: credentials stay in the backend session.
func (c *Client) AuthHeaders() map[string]string {
	return map[string]string{}
}

// DisplayName is the virtual-hosted host name of the session.
func (c *Client) DisplayName() string {
	s := c.session.Load()
	if s == nil {
		return "OSS"
	}
	u, err := url.Parse(s.endpoint)
	if err != nil || u.Hostname() == "" {
		return s.bucket + " (OSS)"
	}
	host := u.Hostname()
	if strings.HasPrefix(host, s.bucket+".") {
		return host
	}
	return s.bucket + "." + host
}
