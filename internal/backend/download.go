package backend

import (
	"context"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

// Progress reports a running download. Total is -1 when unknown.
type Progress struct {
	Filename   string
	Downloaded int64
	Total      int64
}

// ProgressFunc receives progress after every write.
type ProgressFunc func(Progress)

const progressLogStep = 8 << 20

type progressWriter struct {
	w          io.Writer
	progress   Progress
	fn         ProgressFunc
	logger     *zap.Logger
	lastLogged int64
}

func (pw *progressWriter) Write(b []byte) (int, error) {
	n, err := pw.w.Write(b)
	pw.progress.Downloaded += int64(n)
	if pw.fn != nil {
		pw.fn(pw.progress)
	}
	if pw.progress.Downloaded-pw.lastLogged >= progressLogStep {
		pw.lastLogged = pw.progress.Downloaded
		pw.logger.Debug("download progress",
			zap.String("filename", pw.progress.Filename),
			zap.String("downloaded", humanize.IBytes(uint64(pw.progress.Downloaded))),
			zap.Int64("total", pw.progress.Total),
		)
	}
	return n, err
}

// downloadName picks a safe base name for the local copy.
func downloadName(filename, target string) string {
	name := filepath.Base(filepath.Clean(string(filepath.Separator) + filename))
	if name == "" || name == "." || name == string(filepath.Separator) {
		name = path.Base(strings.SplitN(target, "?", 2)[0])
	}
	if name == "" || name == "." || name == "/" {
		name = "download"
	}
	return name
}

func (s *Service) download(ctx context.Context, exec executor, req storage.DownloadRequest) (string, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	obj, err := exec.Do(ctx, method, req.URL, req.Headers)
	if err != nil {
		return "", err
	}
	defer obj.Close()
	if obj.body == nil {
		return "", core.Errorf(core.ErrRequest, "%s returned no body", method)
	}

	dir := s.opts.DownloadDir
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", core.Wrap(core.ErrRequest, "creating download directory", err)
	}
	name := downloadName(req.Filename, req.URL)
	dest := filepath.Join(dir, name)

	tmp, err := os.CreateTemp(dir, "."+name+".part-*")
	if err != nil {
		return "", core.Wrap(core.ErrRequest, "creating download file", err)
	}
	defer os.Remove(tmp.Name())

	total := int64(-1)
	if n, err := strconv.ParseInt(obj.headers["content-length"], 10, 64); err == nil {
		total = n
	}
	pw := &progressWriter{
		w:        tmp,
		progress: Progress{Filename: name, Total: total},
		fn:       s.opts.Progress,
		logger:   s.logger,
	}

	written, err := io.Copy(pw, obj.body)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", core.Wrap(core.ErrRequest, "writing "+name, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return "", core.Wrap(core.ErrRequest, "saving "+name, err)
	}

	s.logger.Info("download complete",
		zap.String("path", dest),
		zap.String("size", humanize.IBytes(uint64(written))),
	)
	return dest, nil
}
