package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
)

// object is one executor response. body is nil for HEAD.
type object struct {
	status  int
	headers map[string]string // lower-case keys
	body    io.ReadCloser
}

func (o *object) Close() error {
	if o.body == nil {
		return nil
	}
	return o.body.Close()
}

// executor performs the I/O for one protocol session.
type executor interface {
	// Ping checks the session target. false declines without an error.
	Ping(ctx context.Context) (bool, error)

	// Do performs a GET or HEAD on target, honoring a Range header.
	Do(ctx context.Context, method, target string, headers map[string]string) (*object, error)

	// List returns one page of the directory dir.
	List(ctx context.Context, dir string, opts storage.ListOptions) (*storage.DirectoryResult, error)

	Close() error
}

// byteRange is an inclusive window; end < 0 means to the end.
type byteRange struct {
	start, end int64
}

// parseRange reads a single "bytes=start-end" window.
func parseRange(v string) (byteRange, bool) {
	window, ok := strings.CutPrefix(strings.TrimSpace(v), "bytes=")
	if !ok || strings.Contains(window, ",") {
		return byteRange{}, false
	}
	from, to, ok := strings.Cut(window, "-")
	if !ok {
		return byteRange{}, false
	}
	start, err := strconv.ParseInt(from, 10, 64)
	if err != nil || start < 0 {
		return byteRange{}, false
	}
	r := byteRange{start: start, end: -1}
	if to != "" {
		end, err := strconv.ParseInt(to, 10, 64)
		if err != nil || end < start {
			return byteRange{}, false
		}
		r.end = end
	}
	return r, true
}

// length returns how many bytes the window covers in an object of size.
func (r byteRange) length(size int64) int64 {
	if r.start >= size {
		return 0
	}
	end := size - 1
	if r.end >= 0 && r.end < end {
		end = r.end
	}
	return end - r.start + 1
}

func (r byteRange) contentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.start, r.start+r.length(size)-1, size)
}

type readCloser struct {
	io.Reader
	io.Closer
}

// sliceBody narrows a full 200 response to the requested window, for
// servers that ignore Range.
func sliceBody(obj *object, r byteRange) (*object, error) {
	size, err := strconv.ParseInt(obj.headers["content-length"], 10, 64)
	if err != nil {
		size = -1
	}
	if obj.body != nil {
		if _, err := io.CopyN(io.Discard, obj.body, r.start); err != nil && !errors.Is(err, io.EOF) {
			obj.Close()
			return nil, core.Wrap(core.ErrRequest, "skipping to range start", err)
		}
		var body io.Reader = obj.body
		if r.end >= 0 {
			body = io.LimitReader(obj.body, r.end-r.start+1)
		}
		obj.body = readCloser{Reader: body, Closer: obj.body}
	}
	if size >= 0 {
		obj.headers["content-length"] = strconv.FormatInt(r.length(size), 10)
		obj.headers["content-range"] = r.contentRange(size)
	} else {
		delete(obj.headers, "content-length")
	}
	obj.status = http.StatusPartialContent
	return obj, nil
}

// headerMap flattens HTTP headers to lower-case keys.
func headerMap(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[strings.ToLower(k)] = strings.Join(v, ", ")
	}
	return out
}

// statusError maps a failed HTTP status onto the error taxonomy.
func statusError(status int, target string) error {
	switch status {
	case http.StatusNotFound:
		return core.Errorf(core.ErrNotFound, "%s: %d %s", target, status, http.StatusText(status))
	case http.StatusUnauthorized, http.StatusForbidden:
		return core.Errorf(core.ErrPermissionDenied, "%s: %d %s", target, status, http.StatusText(status))
	}
	return core.Errorf(core.ErrRequest, "%s: %d %s", target, status, http.StatusText(status))
}

// sortFiles orders a listing by opts, directories first.
func sortFiles(files []storage.StorageFile, opts storage.ListOptions) {
	less := func(a, b storage.StorageFile) bool {
		switch opts.SortBy {
		case "size":
			if a.Size != b.Size {
				return a.Size < b.Size
			}
		case "modified":
			if a.LastMod != b.LastMod {
				return a.LastMod < b.LastMod
			}
		}
		return a.Basename < b.Basename
	}
	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		if opts.SortOrder == "desc" {
			return less(b, a)
		}
		return less(a, b)
	})
}

// paginate sorts a complete listing and cuts the page after opts.Marker.
// The marker is the Filename of the last entry of the previous page.
func paginate(dir string, files []storage.StorageFile, opts storage.ListOptions) *storage.DirectoryResult {
	if opts.Prefix != "" {
		kept := files[:0]
		for _, f := range files {
			if strings.HasPrefix(f.Basename, opts.Prefix) {
				kept = append(kept, f)
			}
		}
		files = kept
	}
	sortFiles(files, opts)

	total := int64(len(files))
	start := 0
	if opts.Marker != "" {
		for i, f := range files {
			if f.Filename == opts.Marker {
				start = i + 1
				break
			}
		}
	}
	files = files[start:]

	result := &storage.DirectoryResult{Path: dir, TotalCount: &total}
	if opts.PageSize > 0 && len(files) > opts.PageSize {
		files = files[:opts.PageSize]
		result.HasMore = true
		result.NextMarker = files[len(files)-1].Filename
	}
	result.Files = files
	if result.Files == nil {
		result.Files = []storage.StorageFile{}
	}
	return result
}
