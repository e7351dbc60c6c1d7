package backend

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
)

const userAgent = "dataview"

// HTTPStore performs plain HTTP(S) requests. It backs sessionless URL
// requests and is embedded by the WebDAV and hub stores.
type HTTPStore struct {
	client   *http.Client
	defaults map[string]string
}

// NewHTTP creates an HTTP store. defaults are sent with every request
// unless the request sets the same header.
func NewHTTP(client *http.Client, defaults map[string]string) *HTTPStore {
	if client == nil {
		client = http.DefaultClient
	}
	if defaults == nil {
		defaults = map[string]string{}
	}
	return &HTTPStore{client: client, defaults: defaults}
}

func (h *HTTPStore) send(ctx context.Context, method, target string, body io.Reader, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, core.Wrap(core.ErrRequest, "building request", err)
	}
	req.Header.Set("User-Agent", userAgent)
	for k, v := range h.defaults {
		req.Header.Set(k, v)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, core.Wrap(core.ErrRequest, method+" "+redact(target), err)
	}
	return resp, nil
}

// Ping always succeeds; plain URLs have no session to check.
func (h *HTTPStore) Ping(ctx context.Context) (bool, error) {
	return true, nil
}

func (h *HTTPStore) Do(ctx context.Context, method, target string, headers map[string]string) (*object, error) {
	resp, err := h.send(ctx, method, target, nil, headers)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		resp.Body.Close()
		return nil, statusError(resp.StatusCode, redact(target))
	}

	obj := &object{status: resp.StatusCode, headers: headerMap(resp.Header), body: resp.Body}
	if resp.ContentLength >= 0 {
		obj.headers["content-length"] = strconv.FormatInt(resp.ContentLength, 10)
	}
	if method == http.MethodHead {
		resp.Body.Close()
		obj.body = nil
		return obj, nil
	}

	if r, ok := parseRange(headers["Range"]); ok && resp.StatusCode == http.StatusOK {
		return sliceBody(obj, r)
	}
	return obj, nil
}

// List is not available for plain URLs.
func (h *HTTPStore) List(ctx context.Context, dir string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	return nil, core.Errorf(core.ErrUnsupportedCapability, "plain URLs cannot be listed")
}

func (h *HTTPStore) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

// redact strips credentials and query strings from target for logs.
func redact(target string) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
