package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_RangeFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dataview", r.Header.Get("User-Agent"))
		// ignores Range on purpose
		w.Header().Set("Content-Length", "10")
		io.WriteString(w, "0123456789")
	}))
	defer server.Close()

	svc := New(Options{}, nil)
	resp, err := svc.Request(context.Background(), storage.Request{
		Method:  "GET",
		URL:     server.URL + "/plain.txt",
		Headers: map[string]string{"Range": "bytes=3-5"},
	})
	require.NoError(t, err)
	assert.Equal(t, 206, resp.Status)
	assert.Equal(t, "345", resp.Body)
	assert.Equal(t, "bytes 3-5/10", resp.Header("Content-Range"))
	assert.Equal(t, int64(3), resp.ContentLength())
}

func TestHTTP_RangeHonored(t *testing.T) {
	modified := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "data.txt", modified, strings.NewReader("abcdefghij"))
	}))
	defer server.Close()

	svc := New(Options{}, nil)
	resp, err := svc.Request(context.Background(), storage.Request{
		Method:  "GET",
		URL:     server.URL + "/data.txt",
		Headers: map[string]string{"Range": "bytes=8-"},
	})
	require.NoError(t, err)
	assert.Equal(t, 206, resp.Status)
	assert.Equal(t, "ij", resp.Body)
	assert.Equal(t, "bytes 8-9/10", resp.Header("content-range"))

	head, err := svc.Request(context.Background(), storage.Request{Method: "HEAD", URL: server.URL + "/data.txt"})
	require.NoError(t, err)
	assert.Equal(t, int64(10), head.ContentLength())
	assert.Empty(t, head.Body)
}

func TestHTTP_StatusMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/missing":
			http.NotFound(w, r)
		case "/private":
			http.Error(w, "forbidden", http.StatusForbidden)
		default:
			http.Error(w, "boom", http.StatusBadGateway)
		}
	}))
	defer server.Close()

	svc := New(Options{}, nil)
	ctx := context.Background()

	_, err := svc.Request(ctx, storage.Request{Method: "GET", URL: server.URL + "/missing"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.RequestBinary(ctx, storage.Request{Method: "GET", URL: server.URL + "/private"})
	assert.ErrorIs(t, err, core.ErrPermissionDenied)

	_, err = svc.Request(ctx, storage.Request{Method: "GET", URL: server.URL + "/other"})
	assert.ErrorIs(t, err, core.ErrRequest)

	_, err = svc.ListDirectory(ctx, storage.ListRequest{Path: "/"})
	assert.ErrorIs(t, err, core.ErrUnsupportedCapability)
}

const davListing = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/dav/docs/</D:href>
    <D:propstat>
      <D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/dav/docs/report%20final.pdf</D:href>
    <D:propstat>
      <D:prop>
        <D:getcontentlength>2048</D:getcontentlength>
        <D:getlastmodified>Mon, 02 Jan 2006 15:04:05 GMT</D:getlastmodified>
        <D:getcontenttype>application/pdf</D:getcontenttype>
        <D:getetag>"abc123"</D:getetag>
        <D:resourcetype/>
      </D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
    <D:propstat>
      <D:prop><D:displayname/></D:prop>
      <D:status>HTTP/1.1 404 Not Found</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>http://example.com/dav/docs/images/</D:href>
    <D:propstat>
      <D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

const davRoot = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
  <D:response>
    <D:href>/dav/</D:href>
    <D:propstat>
      <D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

func davServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "alice" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == "PROPFIND" && r.URL.Path == "/dav/":
			assert.Equal(t, "0", r.Header.Get("Depth"))
			w.WriteHeader(http.StatusMultiStatus)
			io.WriteString(w, davRoot)
		case r.Method == "PROPFIND" && r.URL.Path == "/dav/docs/":
			assert.Equal(t, "1", r.Header.Get("Depth"))
			body, _ := io.ReadAll(r.Body)
			assert.Contains(t, string(body), "getcontentlength")
			w.WriteHeader(http.StatusMultiStatus)
			io.WriteString(w, davListing)
		case r.Method == http.MethodGet && r.URL.Path == "/dav/docs/notes.txt":
			io.WriteString(w, "dav notes")
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestWebDAV_ConnectAndList(t *testing.T) {
	server := davServer(t)
	defer server.Close()

	svc := New(Options{}, nil)
	ctx := context.Background()

	ok, err := svc.Connect(ctx, storage.SessionConfig{
		Protocol: storage.ProtocolWebDAV,
		URL:      server.URL + "/dav/",
		Username: "alice",
		Password: "s3cret",
	})
	require.NoError(t, err)
	require.True(t, ok)

	result, err := svc.ListDirectory(ctx, storage.ListRequest{Protocol: storage.ProtocolWebDAV, Path: "/docs"})
	require.NoError(t, err)
	require.Len(t, result.Files, 2)
	assert.Equal(t, "/docs", result.Path)

	dir := result.Files[0]
	assert.Equal(t, "images", dir.Basename)
	assert.True(t, dir.IsDir())

	file := result.Files[1]
	assert.Equal(t, "/docs/report final.pdf", file.Filename)
	assert.Equal(t, int64(2048), file.Size)
	assert.Equal(t, "application/pdf", file.Mime)
	assert.Equal(t, "abc123", file.ETag)
	assert.Equal(t, "2006-01-02T15:04:05Z", file.LastMod)

	resp, err := svc.Request(ctx, storage.Request{
		Protocol: storage.ProtocolWebDAV,
		Method:   "GET",
		URL:      server.URL + "/dav/docs/notes.txt",
	})
	require.NoError(t, err)
	assert.Equal(t, "dav notes", resp.Body)
}

func TestWebDAV_BadCredentials(t *testing.T) {
	server := davServer(t)
	defer server.Close()

	svc := New(Options{}, nil)
	ok, err := svc.Connect(context.Background(), storage.SessionConfig{
		Protocol: storage.ProtocolWebDAV,
		URL:      server.URL + "/dav",
		Username: "alice",
		Password: "wrong",
	})
	assert.False(t, ok)
	assert.ErrorIs(t, err, core.ErrPermissionDenied)
	assert.Empty(t, svc.Sessions())
}

func TestWebDAV_InvalidURL(t *testing.T) {
	svc := New(Options{}, nil)
	_, err := svc.Connect(context.Background(), storage.SessionConfig{Protocol: storage.ProtocolWebDAV, URL: "ftp://files"})
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func hubServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer hf_token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/datasets":
			assert.Equal(t, "1000", r.URL.Query().Get("limit"))
			json.NewEncoder(w).Encode([]map[string]string{
				{"id": r.URL.Query().Get("author") + "/corpus", "lastModified": "2024-03-01T10:00:00.000Z"},
				{"id": r.URL.Query().Get("author") + "/audio", "lastModified": "2024-02-01T10:00:00.000Z"},
			})
		case "/api/datasets/acme/corpus/tree/main":
			fmt.Fprint(w, `[
				{"type":"directory","path":"data","size":0,"oid":"d1"},
				{"type":"file","path":"README.md","size":512,"oid":"f1"}
			]`)
		case "/api/datasets/acme/corpus/tree/main/data":
			assert.Equal(t, "true", r.URL.Query().Get("recursive"))
			fmt.Fprint(w, `[
				{"type":"file","path":"data/train.parquet","size":4096,"oid":"f2"},
				{"type":"file","path":"data/test.parquet","size":1024,"oid":"f3"}
			]`)
		default:
			http.NotFound(w, r)
		}
	}))
}

func TestHub_List(t *testing.T) {
	server := hubServer(t)
	defer server.Close()

	svc := New(Options{}, nil)
	ctx := context.Background()
	ok, err := svc.Connect(ctx, storage.SessionConfig{
		Protocol: storage.ProtocolHuggingFace,
		URL:      server.URL,
		Password: "hf_token",
		Extra:    map[string]string{"organization": "acme"},
	})
	require.NoError(t, err)
	require.True(t, ok)

	root, err := svc.ListDirectory(ctx, storage.ListRequest{Protocol: storage.ProtocolHuggingFace, Path: "/"})
	require.NoError(t, err)
	assert.Equal(t, []string{"audio", "corpus"}, names(root.Files))
	assert.Equal(t, "/acme/corpus", root.Files[1].Filename)
	assert.Equal(t, "2024-03-01T10:00:00Z", root.Files[1].LastMod)

	tree, err := svc.ListDirectory(ctx, storage.ListRequest{Protocol: storage.ProtocolHuggingFace, Path: "/acme/corpus"})
	require.NoError(t, err)
	require.Len(t, tree.Files, 2)
	assert.True(t, tree.Files[0].IsDir())
	assert.Equal(t, "/acme/corpus/README.md", tree.Files[1].Filename)
	assert.Equal(t, int64(512), tree.Files[1].Size)

	deep, err := svc.ListDirectory(ctx, storage.ListRequest{
		Protocol: storage.ProtocolHuggingFace,
		Path:     "/acme/corpus/data",
		Options:  storage.ListOptions{Recursive: true, SortBy: "size", SortOrder: "desc"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"train.parquet", "test.parquet"}, names(deep.Files))

	_, err = svc.ListDirectory(ctx, storage.ListRequest{Protocol: storage.ProtocolHuggingFace, Path: "/acme/missing"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestHub_RootNeedsOrganization(t *testing.T) {
	server := hubServer(t)
	defer server.Close()

	svc := New(Options{}, nil)
	ctx := context.Background()
	_, err := svc.Connect(ctx, storage.SessionConfig{Protocol: storage.ProtocolHuggingFace, URL: server.URL})
	require.NoError(t, err)

	_, err = svc.ListDirectory(ctx, storage.ListRequest{Protocol: storage.ProtocolHuggingFace, Path: "/"})
	assert.ErrorIs(t, err, core.ErrRequest)

	_, err = svc.ListDirectory(ctx, storage.ListRequest{Protocol: storage.ProtocolHuggingFace, Path: "/acme"})
	assert.ErrorIs(t, err, core.ErrPermissionDenied, "no token")
}
