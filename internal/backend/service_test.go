package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/metrics"
	"github.com/newthinker/dataview/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, name string, data []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, data, 0644))
}

func zipOf(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func localService(t *testing.T) (*Service, string) {
	t.Helper()
	root := t.TempDir()
	svc := New(Options{DownloadDir: filepath.Join(t.TempDir(), "downloads")}, nil)
	ok, err := svc.Connect(context.Background(), storage.SessionConfig{Protocol: storage.ProtocolLocal, URL: root})
	require.NoError(t, err)
	require.True(t, ok)
	t.Cleanup(func() { svc.Close() })
	return svc, root
}

func TestService_LocalRequests(t *testing.T) {
	svc, root := localService(t)
	writeFile(t, root, "docs/readme.md", []byte("hello, world"))
	ctx := context.Background()

	resp, err := svc.Request(ctx, storage.Request{Protocol: storage.ProtocolLocal, Method: "GET", URL: "/docs/readme.md"})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "hello, world", resp.Body)
	assert.Equal(t, int64(12), resp.ContentLength())

	resp, err = svc.Request(ctx, storage.Request{
		Protocol: storage.ProtocolLocal,
		Method:   "GET",
		URL:      "/docs/readme.md",
		Headers:  map[string]string{"Range": "bytes=7-"},
	})
	require.NoError(t, err)
	assert.Equal(t, 206, resp.Status)
	assert.Equal(t, "world", resp.Body)
	assert.Equal(t, "bytes 7-11/12", resp.Header("Content-Range"))

	resp, err = svc.Request(ctx, storage.Request{Protocol: storage.ProtocolLocal, Method: "HEAD", URL: "/docs/readme.md"})
	require.NoError(t, err)
	assert.Equal(t, int64(12), resp.ContentLength())
	assert.Empty(t, resp.Body)

	encoded, err := svc.RequestBinary(ctx, storage.Request{Protocol: storage.ProtocolLocal, Method: "GET", URL: "docs/readme.md"})
	require.NoError(t, err)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, "hello, world", string(decoded))

	_, err = svc.Request(ctx, storage.Request{Protocol: storage.ProtocolLocal, Method: "GET", URL: "/missing.txt"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestService_LocalPathsStayInsideRoot(t *testing.T) {
	svc, root := localService(t)
	outside := filepath.Join(filepath.Dir(root), "secret.txt")
	require.NoError(t, os.WriteFile(outside, []byte("nope"), 0644))
	t.Cleanup(func() { os.Remove(outside) })
	ctx := context.Background()

	_, err := svc.Request(ctx, storage.Request{Protocol: storage.ProtocolLocal, Method: "GET", URL: "/../secret.txt"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.Request(ctx, storage.Request{Protocol: storage.ProtocolLocal, Method: "GET", URL: "file://" + outside})
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
}

func TestService_LocalList(t *testing.T) {
	svc, root := localService(t)
	writeFile(t, root, "b.txt", []byte("bb"))
	writeFile(t, root, "a.txt", []byte("a"))
	writeFile(t, root, "c.txt", []byte("ccc"))
	writeFile(t, root, "sub/inner.txt", []byte("x"))
	ctx := context.Background()

	result, err := svc.ListDirectory(ctx, storage.ListRequest{Protocol: storage.ProtocolLocal, Path: "/"})
	require.NoError(t, err)
	require.Len(t, result.Files, 4)
	assert.Equal(t, "sub", result.Files[0].Basename, "directories first")
	assert.True(t, result.Files[0].IsDir())
	assert.Equal(t, "/a.txt", result.Files[1].Filename)
	assert.Equal(t, int64(4), *result.TotalCount)
	assert.False(t, result.HasMore)

	page, err := svc.ListDirectory(ctx, storage.ListRequest{
		Protocol: storage.ProtocolLocal,
		Path:     "/",
		Options:  storage.ListOptions{PageSize: 2},
	})
	require.NoError(t, err)
	require.Len(t, page.Files, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "/a.txt", page.NextMarker)

	next, err := svc.ListDirectory(ctx, storage.ListRequest{
		Protocol: storage.ProtocolLocal,
		Path:     "/",
		Options:  storage.ListOptions{PageSize: 2, Marker: page.NextMarker},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt", "c.txt"}, []string{next.Files[0].Basename, next.Files[1].Basename})
	assert.False(t, next.HasMore)

	bySize, err := svc.ListDirectory(ctx, storage.ListRequest{
		Protocol: storage.ProtocolLocal,
		Path:     "/",
		Options:  storage.ListOptions{SortBy: "size", SortOrder: "desc"},
	})
	require.NoError(t, err)
	assert.Equal(t, "c.txt", bySize.Files[1].Basename)

	deep, err := svc.ListDirectory(ctx, storage.ListRequest{
		Protocol: storage.ProtocolLocal,
		Path:     "/",
		Options:  storage.ListOptions{Recursive: true},
	})
	require.NoError(t, err)
	assert.Len(t, deep.Files, 5)
}

func TestService_LocalArchive(t *testing.T) {
	svc, root := localService(t)
	writeFile(t, root, "data/bundle.zip", zipOf(t, map[string]string{"notes.txt": "archived text"}))
	ctx := context.Background()

	info, err := svc.AnalyzeArchive(ctx, storage.ArchiveRequest{
		Protocol: storage.ProtocolLocal,
		FilePath: "/data/bundle.zip",
	})
	require.NoError(t, err)
	assert.Equal(t, "zip", info.CompressionType)
	assert.Equal(t, 1, info.TotalEntries)

	preview, err := svc.ArchivePreview(ctx, storage.ArchiveRequest{
		Protocol:  storage.ProtocolLocal,
		FilePath:  "/data/bundle.zip",
		Filename:  "bundle.zip",
		EntryPath: "notes.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "archived text", preview.Content)

	_, err = svc.AnalyzeArchive(ctx, storage.ArchiveRequest{Protocol: storage.ProtocolOSS, FilePath: "x.zip"})
	assert.ErrorIs(t, err, core.ErrUnsupportedCapability)
}

func TestService_NotConnected(t *testing.T) {
	svc := New(Options{}, nil)
	ctx := context.Background()

	_, err := svc.Request(ctx, storage.Request{Protocol: storage.ProtocolWebDAV, Method: "GET", URL: "https://dav.example.com/a"})
	assert.ErrorIs(t, err, core.ErrNotConnected)

	_, err = svc.ListDirectory(ctx, storage.ListRequest{Protocol: storage.ProtocolLocal, Path: "/"})
	assert.ErrorIs(t, err, core.ErrNotConnected)

	_, err = svc.DownloadWithProgress(ctx, storage.DownloadRequest{URL: "oss://data/a.bin"})
	assert.ErrorIs(t, err, core.ErrNotConnected)

	assert.NoError(t, svc.Disconnect(ctx, storage.ProtocolOSS), "unknown sessions are a no-op")
}

func TestService_ConnectDeclinesMissingRoot(t *testing.T) {
	svc := New(Options{}, nil)
	root := t.TempDir()
	file := filepath.Join(root, "plain.txt")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	ok, err := svc.Connect(context.Background(), storage.SessionConfig{Protocol: storage.ProtocolLocal, URL: file})
	assert.NoError(t, err)
	assert.False(t, ok, "a file is not a root")

	_, err = svc.Connect(context.Background(), storage.SessionConfig{Protocol: storage.ProtocolLocal, URL: filepath.Join(root, "nope")})
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.Empty(t, svc.Sessions())
}

func TestService_SessionsAndMetrics(t *testing.T) {
	reg := metrics.NewRegistry()
	svc := New(Options{Metrics: reg}, nil)
	ctx := context.Background()
	cfg := storage.SessionConfig{Protocol: storage.ProtocolLocal, URL: t.TempDir()}

	_, err := svc.Connect(ctx, cfg)
	require.NoError(t, err)
	first := svc.Sessions()
	require.Len(t, first, 1)

	// reconnecting replaces the session
	_, err = svc.Connect(ctx, cfg)
	require.NoError(t, err)
	second := svc.Sessions()
	require.Len(t, second, 1)
	assert.NotEqual(t, first[0].ID, second[0].ID)

	assert.Equal(t, 1.0, gaugeValue(t, reg, "dataview_sessions_active"))

	require.NoError(t, svc.Disconnect(ctx, storage.ProtocolLocal))
	assert.Empty(t, svc.Sessions())
	assert.Equal(t, 0.0, gaugeValue(t, reg, "dataview_sessions_active"))

	count, err := testutil.GatherAndCount(reg, "dataview_backend_requests_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "one connect/ok series")
}

func gaugeValue(t *testing.T, reg *metrics.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() == name {
			var sum float64
			for _, m := range mf.GetMetric() {
				sum += m.GetGauge().GetValue()
			}
			return sum
		}
	}
	return 0
}

func TestService_DownloadWithProgress(t *testing.T) {
	root := t.TempDir()
	payload := bytes.Repeat([]byte("0123456789"), 1000)
	writeFile(t, root, "big/data.bin", payload)

	var seen []Progress
	svc := New(Options{
		DownloadDir: filepath.Join(t.TempDir(), "dl"),
		Progress:    func(p Progress) { seen = append(seen, p) },
	}, nil)
	ctx := context.Background()
	_, err := svc.Connect(ctx, storage.SessionConfig{Protocol: storage.ProtocolLocal, URL: root})
	require.NoError(t, err)

	dest, err := svc.DownloadWithProgress(ctx, storage.DownloadRequest{
		Method:   "GET",
		URL:      "file://" + filepath.ToSlash(filepath.Join(root, "big", "data.bin")),
		Filename: "../../escape/data.bin",
	})
	require.NoError(t, err)
	assert.Equal(t, "data.bin", filepath.Base(dest))
	assert.Equal(t, svc.opts.DownloadDir, filepath.Dir(dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	require.NotEmpty(t, seen)
	last := seen[len(seen)-1]
	assert.Equal(t, int64(len(payload)), last.Downloaded)
	assert.Equal(t, int64(len(payload)), last.Total)

	entries, err := os.ReadDir(svc.opts.DownloadDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial files left behind")
}
