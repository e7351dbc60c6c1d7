package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"github.com/newthinker/dataview/internal/storage/oss"
)

// MinioStore serves an OSS session through minio-go. It is safe for
// concurrent use by multiple goroutines.
type MinioStore struct {
	client *miniogo.Client
	bucket string
}

// NewMinio creates a minio-go client for the session. The SDK takes a
// bare host, so the scheme selects TLS and the bucket label selects
// virtual-hosted lookup.
func NewMinio(cfg storage.SessionConfig, transport http.RoundTripper) (*MinioStore, error) {
	if cfg.Bucket == "" {
		return nil, core.Errorf(core.ErrConfiguration, "bucket is required")
	}
	endpoint, pathStyle, err := serviceEndpoint(cfg.URL, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	u, _ := url.Parse(endpoint)

	lookup := miniogo.BucketLookupDNS
	if pathStyle {
		lookup = miniogo.BucketLookupPath
	}
	region := cfg.Region
	if region == "" {
		region = oss.DefaultRegion
	}

	client, err := miniogo.New(u.Host, &miniogo.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       u.Scheme == "https",
		Region:       region,
		BucketLookup: lookup,
		Transport:    transport,
	})
	if err != nil {
		return nil, core.Wrap(core.ErrConnection, "failed to create minio client", err)
	}
	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Ping reports whether the bucket exists. A missing bucket declines the
// session without an error.
func (m *MinioStore) Ping(ctx context.Context) (bool, error) {
	ok, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return false, mapError(err, "ping failed")
	}
	return ok, nil
}

func (m *MinioStore) Do(ctx context.Context, method, target string, headers map[string]string) (*object, error) {
	key := oss.ObjectKeyInBucket(target, m.bucket)
	if key == "" {
		return nil, core.Errorf(core.ErrRequest, "no object key in %s", target)
	}

	if method == http.MethodHead {
		stat, err := m.client.StatObject(ctx, m.bucket, key, miniogo.StatObjectOptions{})
		if err != nil {
			return nil, mapError(err, "failed to stat object")
		}
		return &object{status: http.StatusOK, headers: statHeaders(stat)}, nil
	}

	opts := miniogo.GetObjectOptions{}
	status := http.StatusOK
	if r, ok := parseRange(headers["Range"]); ok && (r.start > 0 || r.end >= 0) {
		end := r.end
		if end < 0 {
			end = 0 // open-ended from start
		}
		if err := opts.SetRange(r.start, end); err != nil {
			return nil, core.Wrap(core.ErrRequest, "invalid range", err)
		}
		status = http.StatusPartialContent
	}

	obj, err := m.client.GetObject(ctx, m.bucket, key, opts)
	if err != nil {
		return nil, mapError(err, "failed to get object")
	}
	stat, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, mapError(err, "failed to stat object after get")
	}
	return &object{status: status, headers: statHeaders(stat), body: obj}, nil
}

func (m *MinioStore) List(ctx context.Context, dir string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prefix := dirPrefix(dir)
	listOpts := miniogo.ListObjectsOptions{
		Prefix:     prefix + opts.Prefix,
		Recursive:  opts.Recursive,
		StartAfter: opts.Marker,
		MaxKeys:    opts.PageSize,
	}

	result := &storage.DirectoryResult{Path: "/" + strings.TrimSuffix(prefix, "/")}
	files := []storage.StorageFile{}
	lastKey := ""

	for obj := range m.client.ListObjects(ctx, m.bucket, listOpts) {
		if obj.Err != nil {
			return nil, mapError(obj.Err, "failed to list objects")
		}
		if obj.Key == prefix {
			continue
		}
		if opts.PageSize > 0 && len(files) >= opts.PageSize {
			result.HasMore = true
			result.NextMarker = lastKey
			break
		}
		mod := obj.LastModified
		files = append(files, keyEntry(obj.Key, obj.Size, &mod, obj.ETag))
		lastKey = obj.Key
	}

	sortFiles(files, opts)
	result.Files = files
	return result, nil
}

// Close is a no-op for MinIO; the SDK client holds no persistent connections.
func (m *MinioStore) Close() error { return nil }

func statHeaders(stat miniogo.ObjectInfo) map[string]string {
	h := map[string]string{
		"content-length": strconv.FormatInt(stat.Size, 10),
		"etag":           stat.ETag,
	}
	if stat.ContentType != "" {
		h["content-type"] = stat.ContentType
	}
	if !stat.LastModified.IsZero() {
		h["last-modified"] = stat.LastModified.UTC().Format(http.TimeFormat)
	}
	return h
}

// mapError translates a MinIO SDK error into the error taxonomy.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	// Context cancellation / deadline
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return core.Wrap(core.ErrRequest, msg, err)
	}

	// MinIO SDK exposes a typed ErrorResponse for S3-protocol errors
	var resp miniogo.ErrorResponse
	if errors.As(err, &resp) {
		switch resp.StatusCode {
		case http.StatusNotFound:
			return core.Wrap(core.ErrNotFound, msg, err)
		case http.StatusForbidden, http.StatusUnauthorized:
			return core.Wrap(core.ErrPermissionDenied, msg, err)
		}

		// S3 error codes for "not found" that may arrive with 200-range status
		switch resp.Code {
		case "NoSuchBucket", "NoSuchKey", "NoSuchUpload":
			return core.Wrap(core.ErrNotFound, msg, err)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return core.Wrap(core.ErrPermissionDenied, msg, err)
		}
	}

	return core.Wrap(core.ErrRequest, msg, err)
}
