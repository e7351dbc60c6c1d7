package archive

import (
	"archive/tar"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
)

const (
	DefaultMaxEntries  = 100_000
	DefaultPreviewSize = 1 << 20
)

// Recorder receives one observation per finished analysis.
type Recorder interface {
	RecordArchiveAnalysis(format, status string)
}

// Inspector lists and previews archives read through an io.ReaderAt.
type Inspector struct {
	logger     *zap.Logger
	recorder   Recorder
	maxEntries int
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithRecorder reports each analysis to r.
func WithRecorder(r Recorder) Option {
	return func(i *Inspector) { i.recorder = r }
}

// WithMaxEntries caps how many entries an analysis collects.
func WithMaxEntries(n int) Option {
	return func(i *Inspector) {
		if n > 0 {
			i.maxEntries = n
		}
	}
}

// NewInspector creates an Inspector.
func NewInspector(logger *zap.Logger, opts ...Option) *Inspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Inspector{logger: logger, maxEntries: DefaultMaxEntries}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// IsSupported reports whether filename has an archive extension.
func (i *Inspector) IsSupported(filename string) bool {
	return IsArchive(filename)
}

// Analyze lists the entries of the archive in r. For streamed formats
// at most maxSize bytes of r are consumed; 0 means no limit.
func (i *Inspector) Analyze(ctx context.Context, r io.ReaderAt, size int64, filename string, maxSize int64) (*storage.ArchiveInfo, error) {
	format, err := i.resolve(r, size, filename)
	if err != nil {
		i.record(FormatUnknown, "error")
		return nil, err
	}

	var info *storage.ArchiveInfo
	switch format {
	case FormatZip:
		info, err = i.analyzeZip(r, size)
	case FormatTar, FormatTarGz, FormatTarZstd:
		info, err = i.analyzeTar(ctx, r, size, format, maxSize)
	case FormatGzip:
		info, err = i.analyzeGzip(r, size, filename)
	case FormatZstd:
		info, err = i.analyzeZstd(r, size, filename)
	}
	if err != nil {
		i.record(format, "error")
		return nil, err
	}

	i.record(format, string(info.AnalysisStatus.Kind))
	i.logger.Debug("archive analyzed",
		zap.String("filename", filename),
		zap.String("format", string(format)),
		zap.Int("entries", info.TotalEntries),
		zap.String("status", string(info.AnalysisStatus.Kind)),
	)
	return info, nil
}

// Preview returns up to maxPreviewSize leading bytes of entryPath. For
// single-stream formats entryPath is ignored.
func (i *Inspector) Preview(ctx context.Context, r io.ReaderAt, size int64, filename, entryPath string, maxPreviewSize int64) (*storage.FilePreview, error) {
	if maxPreviewSize <= 0 {
		maxPreviewSize = DefaultPreviewSize
	}
	format, err := i.resolve(r, size, filename)
	if err != nil {
		return nil, err
	}

	switch format {
	case FormatZip:
		return i.previewZip(r, size, entryPath, maxPreviewSize)
	case FormatTar, FormatTarGz, FormatTarZstd:
		return i.previewTar(ctx, r, size, format, entryPath, maxPreviewSize)
	case FormatGzip:
		return i.previewGzip(r, size, filename, maxPreviewSize)
	default:
		return i.previewZstd(r, size, filename, maxPreviewSize)
	}
}

func (i *Inspector) record(f Format, status string) {
	if i.recorder != nil {
		i.recorder.RecordArchiveAnalysis(string(f), status)
	}
}

// resolve picks the format from the extension, falling back to the
// leading bytes. Compressed streams found by sniffing are checked for an
// inner tar header.
func (i *Inspector) resolve(r io.ReaderAt, size int64, filename string) (Format, error) {
	format := FromFilename(filename)
	if format == FormatUnknown {
		header := make([]byte, min(int64(SniffSize), size))
		n, err := r.ReadAt(header, 0)
		if err != nil && !errors.Is(err, io.EOF) {
			return FormatUnknown, core.Wrap(core.ErrRequest, "failed to read archive header", err)
		}
		header = header[:n]
		format = Detect(header)

		switch format {
		case FormatGzip:
			if wrapsTar(r, size, FormatTarGz) {
				format = FormatTarGz
			}
		case FormatZstd:
			if wrapsTar(r, size, FormatTarZstd) {
				format = FormatTarZstd
			}
		}
	}

	if format == FormatUnknown {
		return format, core.Errorf(core.ErrUnsupportedFormat, "unrecognized archive format for %q", filename)
	}
	if !format.Supported() {
		return format, core.Errorf(core.ErrUnsupportedFormat, "%s archives are not supported", format)
	}
	return format, nil
}

func wrapsTar(r io.ReaderAt, size int64, format Format) bool {
	rc, err := decompress(io.NewSectionReader(r, 0, size), format)
	if err != nil {
		return false
	}
	defer rc.Close()
	buf := make([]byte, SniffSize)
	n, _ := io.ReadFull(rc, buf)
	return isTarHeader(buf[:n])
}

func decompress(src io.Reader, format Format) (io.ReadCloser, error) {
	switch format {
	case FormatTarGz, FormatGzip:
		return gzip.NewReader(src)
	case FormatTarZstd, FormatZstd:
		d, err := zstd.NewReader(src)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	}
	return io.NopCloser(src), nil
}

type seekCloser struct {
	io.ReadSeeker
}

func (seekCloser) Close() error { return nil }

// tarStream returns the tar byte stream of src. Plain tars keep the
// io.Seeker so tar.Reader skips entry bodies without reading them.
func tarStream(src *io.SectionReader, format Format) (io.ReadCloser, error) {
	if format == FormatTar {
		return seekCloser{src}, nil
	}
	rc, err := decompress(src, format)
	if err != nil {
		return nil, core.Wrap(core.ErrUnsupportedFormat, fmt.Sprintf("invalid %s stream", format), err)
	}
	return rc, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func (i *Inspector) analyzeZip(r io.ReaderAt, size int64) (*storage.ArchiveInfo, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, core.Wrap(core.ErrUnsupportedFormat, "invalid zip archive", err)
	}

	info := &storage.ArchiveInfo{
		CompressionType:      string(FormatZip),
		SupportsRandomAccess: true,
		AnalysisStatus:       storage.Complete(),
	}
	for n, f := range zr.File {
		if n >= i.maxEntries {
			info.AnalysisStatus = storage.Partial(n)
			break
		}
		compressed := int64(f.CompressedSize64)
		info.Entries = append(info.Entries, storage.ArchiveEntry{
			Path:           f.Name,
			Size:           int64(f.UncompressedSize64),
			IsDir:          f.FileInfo().IsDir() || strings.HasSuffix(f.Name, "/"),
			ModifiedTime:   formatTime(f.Modified),
			CompressedSize: &compressed,
		})
		info.TotalUncompressedSize += int64(f.UncompressedSize64)
		info.TotalCompressedSize += compressed
	}
	info.TotalEntries = len(zr.File)
	return info, nil
}

func (i *Inspector) analyzeTar(ctx context.Context, r io.ReaderAt, size int64, format Format, maxSize int64) (*storage.ArchiveInfo, error) {
	limit := size
	limited := false
	if maxSize > 0 && maxSize < size {
		limit = maxSize
		limited = true
	}

	rc, err := tarStream(io.NewSectionReader(r, 0, limit), format)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	info := &storage.ArchiveInfo{
		CompressionType:     string(format),
		SupportsStreaming:   true,
		TotalCompressedSize: size,
	}

	cr := &countingReader{r: rc}
	tr := tar.NewReader(cr)
	var dataEnd int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(info.Entries) >= i.maxEntries {
			info.AnalysisStatus = storage.Partial(len(info.Entries))
			break
		}

		hdr, err := tr.Next()
		// a cut on a header boundary also ends in a clean EOF; only the
		// two zero blocks after the last entry prove the listing whole
		if errors.Is(err, io.EOF) && (!limited || cr.n-dataEnd >= 2*tarBlockSize) {
			info.AnalysisStatus = storage.Complete()
			break
		}
		if err != nil {
			if limited || len(info.Entries) > 0 {
				// cut short by maxSize or a truncated stream
				info.AnalysisStatus = storage.Partial(len(info.Entries))
				break
			}
			return nil, core.Wrap(core.ErrUnsupportedFormat, fmt.Sprintf("invalid %s archive", format), err)
		}
		dataEnd = cr.n + (hdr.Size+tarBlockSize-1)/tarBlockSize*tarBlockSize

		info.Entries = append(info.Entries, storage.ArchiveEntry{
			Path:         hdr.Name,
			Size:         hdr.Size,
			IsDir:        hdr.Typeflag == tar.TypeDir || strings.HasSuffix(hdr.Name, "/"),
			ModifiedTime: formatTime(hdr.ModTime),
		})
		info.TotalUncompressedSize += hdr.Size
	}

	info.TotalEntries = len(info.Entries)
	if format == FormatTar {
		info.TotalCompressedSize = info.TotalUncompressedSize
	}
	return info, nil
}

const tarBlockSize = 512

// countingReader tracks how far the tar reader got into the stream.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// gzipMeta reads the member name from the header and the ISIZE trailer.
func gzipMeta(r io.ReaderAt, size int64, filename string) (string, int64, error) {
	zr, err := gzip.NewReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return "", 0, core.Wrap(core.ErrUnsupportedFormat, "invalid gzip header", err)
	}
	name := zr.Header.Name
	_ = zr.Close()

	if name == "" {
		name = innerName(filename, ".gz", ".gzip")
	}

	var trailer [4]byte
	if size < 18 {
		return name, 0, nil
	}
	if _, err := r.ReadAt(trailer[:], size-4); err != nil {
		return name, 0, core.Wrap(core.ErrRequest, "failed to read gzip trailer", err)
	}
	// ISIZE is the uncompressed size modulo 2^32.
	return name, int64(binary.LittleEndian.Uint32(trailer[:])), nil
}

func innerName(filename string, exts ...string) string {
	base := path.Base(filename)
	lower := strings.ToLower(base)
	for _, ext := range exts {
		if strings.HasSuffix(lower, ext) {
			return base[:len(base)-len(ext)]
		}
	}
	if base == "." || base == "/" || base == "" {
		return "compressed_content"
	}
	return base
}

func (i *Inspector) analyzeGzip(r io.ReaderAt, size int64, filename string) (*storage.ArchiveInfo, error) {
	name, uncompressed, err := gzipMeta(r, size, filename)
	if err != nil {
		return nil, err
	}
	compressed := size
	return &storage.ArchiveInfo{
		Entries: []storage.ArchiveEntry{{
			Path:           name,
			Size:           uncompressed,
			CompressedSize: &compressed,
		}},
		TotalEntries:          1,
		CompressionType:       string(FormatGzip),
		TotalUncompressedSize: uncompressed,
		TotalCompressedSize:   size,
		SupportsStreaming:     true,
		AnalysisStatus:        storage.Complete(),
	}, nil
}

func (i *Inspector) analyzeZstd(r io.ReaderAt, size int64, filename string) (*storage.ArchiveInfo, error) {
	head := make([]byte, min(int64(zstd.HeaderMaxSize), size))
	n, err := r.ReadAt(head, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, core.Wrap(core.ErrRequest, "failed to read zstd header", err)
	}

	var h zstd.Header
	if err := h.Decode(head[:n]); err != nil {
		return nil, core.Wrap(core.ErrUnsupportedFormat, "invalid zstd frame", err)
	}

	compressed := size
	entry := storage.ArchiveEntry{
		Path:           innerName(filename, ".zst", ".zstd"),
		CompressedSize: &compressed,
	}
	info := &storage.ArchiveInfo{
		TotalEntries:        1,
		CompressionType:     string(FormatZstd),
		TotalCompressedSize: size,
		SupportsStreaming:   true,
		AnalysisStatus:      storage.Complete(),
	}
	if h.HasFCS {
		entry.Size = int64(h.FrameContentSize)
		info.TotalUncompressedSize = entry.Size
	} else {
		one := 1
		info.AnalysisStatus = storage.Streaming(&one)
	}
	info.Entries = []storage.ArchiveEntry{entry}
	return info, nil
}

func entryNotFound(entryPath string) error {
	return core.Errorf(core.ErrNotFound, "entry %q not found in archive", entryPath)
}

func sameEntry(name, want string) bool {
	return strings.TrimPrefix(name, "./") == strings.TrimPrefix(want, "./")
}

func (i *Inspector) previewZip(r io.ReaderAt, size int64, entryPath string, max int64) (*storage.FilePreview, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, core.Wrap(core.ErrUnsupportedFormat, "invalid zip archive", err)
	}
	for _, f := range zr.File {
		if !sameEntry(f.Name, entryPath) {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, core.Wrap(core.ErrRequest, "failed to open zip entry", err)
		}
		defer rc.Close()
		return buildPreview(rc, f.Name, int64(f.UncompressedSize64), max)
	}
	return nil, entryNotFound(entryPath)
}

func (i *Inspector) previewTar(ctx context.Context, r io.ReaderAt, size int64, format Format, entryPath string, max int64) (*storage.FilePreview, error) {
	rc, err := tarStream(io.NewSectionReader(r, 0, size), format)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, entryNotFound(entryPath)
		}
		if err != nil {
			return nil, core.Wrap(core.ErrUnsupportedFormat, fmt.Sprintf("invalid %s archive", format), err)
		}
		if sameEntry(hdr.Name, entryPath) {
			return buildPreview(tr, hdr.Name, hdr.Size, max)
		}
	}
}

func (i *Inspector) previewGzip(r io.ReaderAt, size int64, filename string, max int64) (*storage.FilePreview, error) {
	name, total, err := gzipMeta(r, size, filename)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, core.Wrap(core.ErrUnsupportedFormat, "invalid gzip header", err)
	}
	defer zr.Close()
	return buildPreview(zr, name, total, max)
}

func (i *Inspector) previewZstd(r io.ReaderAt, size int64, filename string, max int64) (*storage.FilePreview, error) {
	d, err := zstd.NewReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, core.Wrap(core.ErrUnsupportedFormat, "invalid zstd stream", err)
	}
	defer d.Close()
	return buildPreview(d, innerName(filename, ".zst", ".zstd"), -1, max)
}
