package backend

import (
	"context"
	"encoding/base64"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<D:propfind xmlns:D="DAV:">
  <D:prop>
    <D:displayname/>
    <D:getcontentlength/>
    <D:getlastmodified/>
    <D:getcontenttype/>
    <D:getetag/>
    <D:resourcetype/>
  </D:prop>
</D:propfind>`

type multistatus struct {
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href     string        `xml:"DAV: href"`
	Propstat []davPropstat `xml:"DAV: propstat"`
}

type davPropstat struct {
	Prop   davProp `xml:"DAV: prop"`
	Status string  `xml:"DAV: status"`
}

type davProp struct {
	DisplayName   string `xml:"DAV: displayname"`
	ContentLength int64  `xml:"DAV: getcontentlength"`
	LastModified  string `xml:"DAV: getlastmodified"`
	ContentType   string `xml:"DAV: getcontenttype"`
	ETag          string `xml:"DAV: getetag"`
	ResourceType  struct {
		Collection *struct{} `xml:"DAV: collection"`
	} `xml:"DAV: resourcetype"`
}

// WebDAVStore lists collections with PROPFIND and reads files with plain
// GET requests.
type WebDAVStore struct {
	*HTTPStore
	base *url.URL
}

// NewWebDAV creates a store rooted at cfg.URL, authenticating with basic
// auth when a username is set.
func NewWebDAV(client *http.Client, cfg storage.SessionConfig) (*WebDAVStore, error) {
	base, err := url.Parse(strings.TrimRight(cfg.URL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, core.Errorf(core.ErrConfiguration, "invalid WebDAV URL %q", cfg.URL)
	}
	defaults := map[string]string{}
	if cfg.Username != "" {
		token := base64.StdEncoding.EncodeToString([]byte(cfg.Username + ":" + cfg.Password))
		defaults["Authorization"] = "Basic " + token
	}
	return &WebDAVStore{HTTPStore: NewHTTP(client, defaults), base: base}, nil
}

func (w *WebDAVStore) collectionURL(dir string) string {
	clean := strings.Trim(path.Clean("/"+dir), "/")
	if clean == "" {
		return w.base.String() + "/"
	}
	segs := strings.Split(clean, "/")
	for i, seg := range segs {
		segs[i] = url.PathEscape(seg)
	}
	return w.base.String() + "/" + strings.Join(segs, "/") + "/"
}

func (w *WebDAVStore) propfind(ctx context.Context, target, depth string) (*multistatus, error) {
	resp, err := w.send(ctx, "PROPFIND", target, strings.NewReader(propfindBody), map[string]string{
		"Depth":        depth,
		"Content-Type": "application/xml; charset=utf-8",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMultiStatus {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, statusError(resp.StatusCode, redact(target))
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, core.Wrap(core.ErrRequest, "malformed PROPFIND response", err)
	}
	return &ms, nil
}

// Ping checks that the root collection answers PROPFIND.
func (w *WebDAVStore) Ping(ctx context.Context) (bool, error) {
	if _, err := w.propfind(ctx, w.collectionURL("/"), "0"); err != nil {
		return false, err
	}
	return true, nil
}

// List returns the direct children of dir. Servers commonly refuse
// infinite depth, so Recursive is ignored.
func (w *WebDAVStore) List(ctx context.Context, dir string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	ms, err := w.propfind(ctx, w.collectionURL(dir), "1")
	if err != nil {
		return nil, err
	}

	self := path.Clean("/" + dir)
	files := make([]storage.StorageFile, 0, len(ms.Responses))
	for _, r := range ms.Responses {
		name, ok := w.relative(r.Href)
		if !ok || name == self {
			continue
		}
		files = append(files, davEntry(name, r))
	}
	return paginate(self, files, opts), nil
}

// relative maps an href onto a slash path below the base collection.
func (w *WebDAVStore) relative(href string) (string, bool) {
	u, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	rest, ok := strings.CutPrefix(u.Path, w.base.Path)
	if !ok {
		return "", false
	}
	return path.Clean("/" + rest), true
}

func davEntry(name string, r davResponse) storage.StorageFile {
	f := storage.StorageFile{
		Filename: name,
		Basename: path.Base(name),
		Type:     "file",
	}
	for _, ps := range r.Propstat {
		if ps.Status != "" && !strings.Contains(ps.Status, " 200 ") {
			continue
		}
		p := ps.Prop
		if p.ResourceType.Collection != nil {
			f.Type = "directory"
		}
		f.Size = p.ContentLength
		f.Mime = p.ContentType
		f.ETag = strings.Trim(p.ETag, `"`)
		f.LastMod = p.LastModified
		if t, err := http.ParseTime(p.LastModified); err == nil {
			f.LastMod = t.UTC().Format(time.RFC3339)
		}
	}
	if f.IsDir() {
		f.Size = 0
		f.Mime = ""
	}
	return f
}
