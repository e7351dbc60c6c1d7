package backend

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"github.com/newthinker/dataview/internal/storage/oss"
)

// S3Store serves an OSS session through the S3-compatible API.
type S3Store struct {
	client *s3.Client
	bucket string
}

// serviceEndpoint splits a session URL into the endpoint the SDK signs
// against and the addressing style. A host led by the bucket label is
// virtual-hosted; anything else (MinIO, proxies) is addressed path-style.
func serviceEndpoint(raw, bucket string) (endpoint string, pathStyle bool, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "", false, core.Errorf(core.ErrConfiguration, "invalid endpoint %q", raw)
	}
	if host, ok := strings.CutPrefix(u.Host, bucket+"."); ok && bucket != "" {
		return u.Scheme + "://" + host, false, nil
	}
	return u.Scheme + "://" + u.Host + strings.TrimRight(u.Path, "/"), true, nil
}

// NewS3 creates a new S3 storage client
func NewS3(cfg storage.SessionConfig, httpClient *http.Client) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, core.Errorf(core.ErrConfiguration, "bucket is required")
	}
	endpoint, pathStyle, err := serviceEndpoint(cfg.URL, cfg.Bucket)
	if err != nil {
		return nil, err
	}
	region := cfg.Region
	if region == "" {
		region = oss.DefaultRegion
	}

	opts := s3.Options{
		Region:       region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		BaseEndpoint: aws.String(endpoint),
		UsePathStyle: pathStyle,
	}
	if httpClient != nil {
		opts.HTTPClient = httpClient
	}

	return &S3Store{
		client: s3.New(opts),
		bucket: cfg.Bucket,
	}, nil
}

func (s *S3Store) Ping(ctx context.Context) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return false, s3Error(err, "checking bucket "+s.bucket)
	}
	return true, nil
}

func (s *S3Store) Do(ctx context.Context, method, target string, headers map[string]string) (*object, error) {
	key := oss.ObjectKeyInBucket(target, s.bucket)
	if key == "" {
		return nil, core.Errorf(core.ErrRequest, "no object key in %s", target)
	}

	if method == http.MethodHead {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, s3Error(err, "head "+key)
		}
		return &object{
			status:  http.StatusOK,
			headers: objectHeaders(out.ContentLength, out.ContentType, out.ETag, out.LastModified),
		}, nil
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}
	if r := headers["Range"]; r != "" {
		in.Range = aws.String(r)
	}
	out, err := s.client.GetObject(ctx, in)
	if err != nil {
		return nil, s3Error(err, "get "+key)
	}

	obj := &object{
		status:  http.StatusOK,
		headers: objectHeaders(out.ContentLength, out.ContentType, out.ETag, out.LastModified),
		body:    out.Body,
	}
	if out.ContentRange != nil {
		obj.status = http.StatusPartialContent
		obj.headers["content-range"] = aws.ToString(out.ContentRange)
	}
	return obj, nil
}

func (s *S3Store) List(ctx context.Context, dir string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	prefix := dirPrefix(dir)
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix + opts.Prefix),
		MaxKeys: aws.Int32(int32(opts.PageSize)),
	}
	if !opts.Recursive {
		in.Delimiter = aws.String("/")
	}
	if opts.Marker != "" {
		in.ContinuationToken = aws.String(opts.Marker)
	}

	out, err := s.client.ListObjectsV2(ctx, in)
	if err != nil {
		return nil, s3Error(err, "listing "+prefix)
	}

	files := make([]storage.StorageFile, 0, len(out.CommonPrefixes)+len(out.Contents))
	for _, p := range out.CommonPrefixes {
		files = append(files, keyEntry(aws.ToString(p.Prefix), 0, nil, ""))
	}
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		if key == prefix {
			continue
		}
		files = append(files, keyEntry(key, aws.ToInt64(obj.Size), obj.LastModified, aws.ToString(obj.ETag)))
	}
	sortFiles(files, opts)

	return &storage.DirectoryResult{
		Files:      files,
		HasMore:    aws.ToBool(out.IsTruncated),
		NextMarker: aws.ToString(out.NextContinuationToken),
		Path:       "/" + strings.TrimSuffix(prefix, "/"),
	}, nil
}

func (s *S3Store) Close() error { return nil }

// dirPrefix turns a directory path into an object key prefix.
func dirPrefix(dir string) string {
	p := strings.Trim(dir, "/")
	if p == "" {
		return ""
	}
	return p + "/"
}

// keyEntry describes one object key. Keys ending in "/" are directories.
func keyEntry(key string, size int64, mod *time.Time, etag string) storage.StorageFile {
	name := strings.TrimSuffix(key, "/")
	f := storage.StorageFile{
		Filename: "/" + name,
		Basename: path.Base(name),
		Size:     size,
		Type:     "file",
		ETag:     strings.Trim(etag, `"`),
	}
	if strings.HasSuffix(key, "/") {
		f.Type = "directory"
		f.Size = 0
	}
	if mod != nil {
		f.LastMod = mod.UTC().Format(time.RFC3339)
	}
	return f
}

func objectHeaders(length *int64, contentType, etag *string, mod *time.Time) map[string]string {
	h := map[string]string{}
	if length != nil {
		h["content-length"] = strconv.FormatInt(*length, 10)
	}
	if contentType != nil {
		h["content-type"] = *contentType
	}
	if etag != nil {
		h["etag"] = *etag
	}
	if mod != nil {
		h["last-modified"] = mod.UTC().Format(http.TimeFormat)
	}
	return h
}

// s3Error maps SDK errors onto the error taxonomy.
func s3Error(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return core.Wrap(core.ErrRequest, msg, err)
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NoSuchBucket", "NotFound":
			return core.Wrap(core.ErrNotFound, msg, err)
		case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return core.Wrap(core.ErrPermissionDenied, msg, err)
		}
	}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.HTTPStatusCode() {
		case http.StatusNotFound:
			return core.Wrap(core.ErrNotFound, msg, err)
		case http.StatusUnauthorized, http.StatusForbidden:
			return core.Wrap(core.ErrPermissionDenied, msg, err)
		}
	}

	return core.Wrap(core.ErrRequest, msg, err)
}
