package oss

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"github.com/newthinker/dataview/internal/storage/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func validConfig(url string) storage.ConnectionConfig {
	return storage.ConnectionConfig{
		Type:     storage.ProtocolOSS,
		URL:      url,
		Username: "AKID",
		Password: "SECRET",
	}
}

func connected(t *testing.T, url string) (*Client, *mocks.Backend, *mocks.ArchiveHelper) {
	t.Helper()
	backend := mocks.New()
	helper := mocks.NewArchiveHelper()
	c := New(backend, helper, nil)
	require.NoError(t, c.Connect(context.Background(), validConfig(url)))
	backend.Reset()
	return c, backend, helper
}

func TestConnect_ShortForm(t *testing.T) {
	backend := mocks.New()
	c := New(backend, nil, nil)

	err := c.Connect(context.Background(), validConfig("oss://oss-cn-hangzhou.aliyuncs.com/my-bucket"))
	require.NoError(t, err)

	assert.True(t, c.IsConnected())
	assert.Equal(t, "my-bucket", c.Bucket())
	assert.Equal(t, "cn-hangzhou", c.Region())
	assert.Equal(t, "https://my-bucket.oss-cn-hangzhou.aliyuncs.com", c.Endpoint())

	call := backend.LastCall()
	require.Equal(t, "connect", call.Op)
	assert.Equal(t, storage.SessionConfig{
		Protocol:  storage.ProtocolOSS,
		URL:       "https://my-bucket.oss-cn-hangzhou.aliyuncs.com",
		AccessKey: "AKID",
		SecretKey: "SECRET",
		Bucket:    "my-bucket",
		Region:    "cn-hangzhou",
	}, *call.Session)
}

func TestConnect_ExplicitFieldsWin(t *testing.T) {
	backend := mocks.New()
	c := New(backend, nil, nil)

	cfg := validConfig("https://data.oss-cn-beijing.aliyuncs.com")
	cfg.Bucket = "other"
	cfg.Region = "eu-central-1"
	require.NoError(t, c.Connect(context.Background(), cfg))

	assert.Equal(t, "other", c.Bucket())
	assert.Equal(t, "eu-central-1", c.Region())
	assert.Equal(t, "https://other.oss-cn-beijing.aliyuncs.com", c.Endpoint())
}

func TestConnect_DefaultRegion(t *testing.T) {
	c := New(mocks.New(), nil, nil)

	cfg := validConfig("")
	cfg.Endpoint = "http://localhost:9000"
	cfg.Bucket = "data"
	require.NoError(t, c.Connect(context.Background(), cfg))

	assert.Equal(t, DefaultRegion, c.Region())
	assert.Equal(t, "http://localhost:9000", c.Endpoint())
}

func TestConnect_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  storage.ConnectionConfig
	}{
		{"no url", storage.ConnectionConfig{Type: storage.ProtocolOSS, Username: "a", Password: "b"}},
		{"no access key", storage.ConnectionConfig{Type: storage.ProtocolOSS, URL: "https://data.oss-cn-hangzhou.aliyuncs.com", Password: "b"}},
		{"no secret key", storage.ConnectionConfig{Type: storage.ProtocolOSS, URL: "https://data.oss-cn-hangzhou.aliyuncs.com", Username: "a"}},
		{"wrong type", storage.ConnectionConfig{Type: storage.ProtocolWebDAV, URL: "https://data.oss-cn-hangzhou.aliyuncs.com", Username: "a", Password: "b"}},
		{"no bucket", storage.ConnectionConfig{Type: storage.ProtocolOSS, URL: "https://oss-cn-hangzhou.aliyuncs.com", Username: "a", Password: "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := mocks.New()
			c := New(backend, nil, nil)

			err := c.Connect(context.Background(), tt.cfg)
			assert.ErrorIs(t, err, core.ErrConfiguration)
			assert.False(t, c.IsConnected())
			assert.Equal(t, 0, backend.CallCount(), "backend must not be called")
		})
	}
}

func TestConnect_BackendRefuses(t *testing.T) {
	backend := mocks.New()
	backend.ConnectResult = false
	c := New(backend, nil, nil)

	err := c.Connect(context.Background(), validConfig("https://data.oss-cn-hangzhou.aliyuncs.com"))
	assert.ErrorIs(t, err, core.ErrConnection)
	assert.False(t, c.IsConnected())

	backend.ConnectResult = true
	backend.ConnectErr = errors.New("dial tcp: timeout")
	err = c.Connect(context.Background(), validConfig("https://data.oss-cn-hangzhou.aliyuncs.com"))
	assert.ErrorIs(t, err, core.ErrConnection)
	assert.Contains(t, err.Error(), "dial tcp")
}

func TestReadFile_Range(t *testing.T) {
	c, backend, _ := connected(t, "https://data.oss-cn-hangzhou.aliyuncs.com")
	backend.Response = &storage.Response{
		Status:  206,
		Headers: map[string]string{"content-length": "50"},
		Body:    "partial",
	}

	got, err := c.ReadFile(context.Background(), "/logs/app.log", storage.Range(100, 50))
	require.NoError(t, err)
	assert.Equal(t, &storage.FileContent{Content: "partial", Size: 50, Encoding: "utf-8"}, got)

	call := backend.LastCall()
	require.Equal(t, "request", call.Op)
	assert.Equal(t, "GET", call.Request.Method)
	assert.Equal(t, "oss://data/logs/app.log", call.Request.URL)
	assert.Equal(t, "bytes=100-149", call.Request.Headers["Range"])

	_, err = c.ReadFile(context.Background(), "logs/app.log", storage.From(100))
	require.NoError(t, err)
	assert.Equal(t, "bytes=100-", backend.LastCall().Request.Headers["Range"])

	_, err = c.ReadFile(context.Background(), "logs/app.log", storage.ReadOptions{})
	require.NoError(t, err)
	_, hasRange := backend.LastCall().Request.Headers["Range"]
	assert.False(t, hasRange)
}

func TestFileSize_UsesHead(t *testing.T) {
	c, backend, _ := connected(t, "oss://oss-cn-hangzhou.aliyuncs.com/data")
	backend.Response = &storage.Response{Status: 200, Headers: map[string]string{"Content-Length": "1234"}}

	size, err := c.FileSize(context.Background(), "a.bin")
	require.NoError(t, err)
	assert.Equal(t, int64(1234), size)

	call := backend.LastCall()
	assert.Equal(t, "HEAD", call.Request.Method)
	assert.Equal(t, "oss://data/a.bin", call.Request.URL)
}

func TestDownload_Binary(t *testing.T) {
	c, backend, _ := connected(t, "https://data.oss-cn-hangzhou.aliyuncs.com")
	backend.Binary = []byte("\x1f\x8b\x08")

	data, err := c.Download(context.Background(), "a.gz")
	require.NoError(t, err)
	assert.Equal(t, []byte("\x1f\x8b\x08"), data)
	assert.Equal(t, "request_binary", backend.LastCall().Op)
}

func TestDownloadWithProgress(t *testing.T) {
	c, backend, _ := connected(t, "https://data.oss-cn-hangzhou.aliyuncs.com")
	backend.DownloadPath = "/tmp/downloads/a.gz"

	out, err := storage.DownloadWithProgress(context.Background(), c, "dir/a.gz", "a.gz")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/downloads/a.gz", out)

	call := backend.LastCall()
	require.Equal(t, "download", call.Op)
	assert.Equal(t, "oss://data/dir/a.gz", call.Download.URL)
	assert.Equal(t, "a.gz", call.Download.Filename)
}

func TestListDirectory_NormalizesPrefix(t *testing.T) {
	c, backend, _ := connected(t, "https://data.oss-cn-hangzhou.aliyuncs.com")

	_, err := c.ListDirectory(context.Background(), "//logs//2024/", storage.ListOptions{})
	require.NoError(t, err)

	call := backend.LastCall()
	require.Equal(t, "list", call.Op)
	assert.Equal(t, "logs/2024/", call.List.Path)
	assert.Equal(t, 1000, call.List.Options.PageSize)
}

func TestRequestFailure_Wrapped(t *testing.T) {
	c, backend, _ := connected(t, "https://data.oss-cn-hangzhou.aliyuncs.com")
	backend.RequestErr = core.Errorf(core.ErrNotFound, "NoSuchKey")

	_, err := c.ReadFile(context.Background(), "missing.txt", storage.ReadOptions{})
	assert.ErrorIs(t, err, core.ErrRequest)
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Contains(t, err.Error(), "failed to read file")
}

func TestDisconnect_ThenOperationsFail(t *testing.T) {
	c, backend, _ := connected(t, "https://data.oss-cn-hangzhou.aliyuncs.com")
	ctx := context.Background()

	require.NoError(t, c.Disconnect(ctx))
	require.NoError(t, c.Disconnect(ctx), "second disconnect is a no-op")
	assert.False(t, c.IsConnected())
	assert.Equal(t, 1, backend.CallCount(), "only one backend disconnect")
	backend.Reset()

	_, err := c.ReadFile(ctx, "a.txt", storage.ReadOptions{})
	assert.ErrorIs(t, err, core.ErrNotConnected)
	_, err = c.FileSize(ctx, "a.txt")
	assert.ErrorIs(t, err, core.ErrNotConnected)
	_, err = c.Download(ctx, "a.txt")
	assert.ErrorIs(t, err, core.ErrNotConnected)
	_, err = c.ListDirectory(ctx, "", storage.ListOptions{})
	assert.ErrorIs(t, err, core.ErrNotConnected)
	_, err = c.ToProtocolURL("a.txt")
	assert.ErrorIs(t, err, core.ErrNotConnected)
	_, err = c.AnalyzeArchive(ctx, "a.zip", "a.zip", 0)
	assert.ErrorIs(t, err, core.ErrNotConnected)

	assert.Equal(t, 0, backend.CallCount())
}

func TestAnalyzeArchive_UsesCanonicalURL(t *testing.T) {
	c, backend, helper := connected(t, "https://data.oss-cn-hangzhou.aliyuncs.com")

	_, err := c.AnalyzeArchive(context.Background(), "/dumps/a.zip", "a.zip", 0)
	require.NoError(t, err)

	require.Len(t, helper.URLs, 1)
	assert.Equal(t, "oss://data/dumps/a.zip", helper.URLs[0])
	assert.Empty(t, helper.Headers[0])
	assert.Equal(t, 0, backend.CallCount())
}

func TestDisplayName(t *testing.T) {
	c := New(mocks.New(), nil, nil)
	assert.Equal(t, "OSS", c.DisplayName())

	require.NoError(t, c.Connect(context.Background(), validConfig("https://oss-cn-hangzhou.aliyuncs.com/data")))
	assert.Equal(t, "data.oss-cn-hangzhou.aliyuncs.com", c.DisplayName())
}

func TestReconnect_ConcurrentReadsSeeWholeSessions(t *testing.T) {
	c, backend, _ := connected(t, "https://bucket-a.oss-cn-hangzhou.aliyuncs.com")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_, err := c.FileSize(ctx, "/data/file.csv")
				assert.NoError(t, err)
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 5; j++ {
			assert.NoError(t, c.Connect(ctx, validConfig("https://bucket-b.oss-cn-hangzhou.aliyuncs.com")))
			assert.NoError(t, c.Connect(ctx, validConfig("https://bucket-a.oss-cn-hangzhou.aliyuncs.com")))
		}
	}()
	wg.Wait()

	for _, call := range backend.Calls() {
		if call.Op != "request" {
			continue
		}
		url := call.Request.URL
		if !strings.HasPrefix(url, "oss://bucket-a/") && !strings.HasPrefix(url, "oss://bucket-b/") {
			t.Errorf("request built from a torn session: %s", url)
		}
	}
	assert.True(t, c.IsConnected())
}

func TestConnect_UnknownEndpointWarns(t *testing.T) {
	obs, logs := observer.New(zapcore.WarnLevel)
	backend := mocks.New()
	c := New(backend, nil, zap.New(obs))

	cfg := validConfig("http://localhost:9000")
	cfg.Bucket = "data"
	require.NoError(t, c.Connect(context.Background(), cfg))
	assert.Equal(t, "http://localhost:9000", c.Endpoint())

	warnings := logs.FilterLevelExact(zapcore.WarnLevel)
	require.Equal(t, 1, warnings.FilterMessageSnippet("unrecognized OSS url").Len())
	require.Equal(t, 1, warnings.FilterMessageSnippet("not an OSS service host").Len())
	assert.Equal(t, "http://localhost:9000", warnings.FilterMessageSnippet("unrecognized OSS url").All()[0].ContextMap()["url"])
}

func TestConnect_KnownEndpointDoesNotWarn(t *testing.T) {
	obs, logs := observer.New(zapcore.WarnLevel)
	c := New(mocks.New(), nil, zap.New(obs))

	require.NoError(t, c.Connect(context.Background(), validConfig("https://data.oss-cn-beijing.aliyuncs.com")))
	assert.Equal(t, 0, logs.Len())
}
