package backend

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
)

// localFS serves a directory tree. Every path is resolved below root.
type localFS struct {
	root string
}

func newLocalFS(root string) (*localFS, error) {
	if root == "" {
		return nil, core.Errorf(core.ErrConfiguration, "local root is empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, core.Wrap(core.ErrConfiguration, "resolving local root", err)
	}
	return &localFS{root: abs}, nil
}

// fullPath maps a slash path or a file:// URL under root onto disk.
func (l *localFS) fullPath(p string) (string, error) {
	if rest, ok := strings.CutPrefix(p, "file://"); ok {
		rel, err := filepath.Rel(l.root, filepath.FromSlash(rest))
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", core.Errorf(core.ErrPermissionDenied, "%s is outside %s", rest, l.root)
		}
		p = filepath.ToSlash(rel)
	}
	return filepath.Join(l.root, filepath.FromSlash(path.Clean("/"+p))), nil
}

func (l *localFS) Ping(ctx context.Context) (bool, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		return false, fsError(err)
	}
	return info.IsDir(), nil
}

// open returns the file at p with its size. Directories are rejected.
func (l *localFS) open(p string) (*os.File, int64, error) {
	full, err := l.fullPath(p)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, 0, fsError(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fsError(err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, core.Errorf(core.ErrRequest, "%s is a directory", p)
	}
	return f, info.Size(), nil
}

func (l *localFS) Do(ctx context.Context, method, target string, headers map[string]string) (*object, error) {
	f, size, err := l.open(target)
	if err != nil {
		return nil, err
	}
	info, _ := f.Stat()

	obj := &object{
		status: http.StatusOK,
		headers: map[string]string{
			"content-length": strconv.FormatInt(size, 10),
			"last-modified":  info.ModTime().UTC().Format(http.TimeFormat),
		},
	}
	if ct := mime.TypeByExtension(filepath.Ext(target)); ct != "" {
		obj.headers["content-type"] = ct
	}

	if method == http.MethodHead {
		f.Close()
		return obj, nil
	}

	obj.body = f
	if r, ok := parseRange(headers["Range"]); ok {
		if _, err := f.Seek(r.start, io.SeekStart); err != nil {
			f.Close()
			return nil, core.Wrap(core.ErrRequest, "seeking to range start", err)
		}
		obj.body = readCloser{Reader: io.LimitReader(f, r.length(size)), Closer: f}
		obj.headers["content-length"] = strconv.FormatInt(r.length(size), 10)
		obj.headers["content-range"] = r.contentRange(size)
		obj.status = http.StatusPartialContent
	}
	return obj, nil
}

func (l *localFS) List(ctx context.Context, dir string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	full, err := l.fullPath(dir)
	if err != nil {
		return nil, err
	}
	clean := path.Clean("/" + dir)

	var files []storage.StorageFile
	if opts.Recursive {
		err = filepath.WalkDir(full, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if p == full {
				return nil
			}
			rel, _ := filepath.Rel(full, p)
			files = append(files, l.entry(path.Join(clean, filepath.ToSlash(rel)), d))
			return ctx.Err()
		})
	} else {
		var entries []fs.DirEntry
		entries, err = os.ReadDir(full)
		for _, d := range entries {
			files = append(files, l.entry(path.Join(clean, d.Name()), d))
		}
	}
	if err != nil {
		return nil, fsError(err)
	}
	return paginate(clean, files, opts), nil
}

func (l *localFS) entry(name string, d fs.DirEntry) storage.StorageFile {
	f := storage.StorageFile{
		Filename: name,
		Basename: path.Base(name),
		Type:     "file",
	}
	if d.IsDir() {
		f.Type = "directory"
	}
	if info, err := d.Info(); err == nil {
		f.LastMod = info.ModTime().UTC().Format(time.RFC3339)
		if !d.IsDir() {
			f.Size = info.Size()
		}
	}
	if !d.IsDir() {
		f.Mime = mime.TypeByExtension(path.Ext(name))
	}
	return f
}

func (l *localFS) Close() error { return nil }

// fsError maps filesystem errors onto the error taxonomy.
func fsError(err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return core.Wrap(core.ErrNotFound, "no such file or directory", err)
	case errors.Is(err, fs.ErrPermission):
		return core.Wrap(core.ErrPermissionDenied, "permission denied", err)
	}
	return core.Wrap(core.ErrRequest, "filesystem error", err)
}
