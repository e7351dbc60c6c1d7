package archive

import (
	"bytes"
	"encoding/base64"
	"io"
	"unicode/utf8"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
)

// buildPreview reads at most max bytes of src. total is the entry's
// uncompressed size, or negative when the format does not record it.
func buildPreview(src io.Reader, name string, total, max int64) (*storage.FilePreview, error) {
	data, err := io.ReadAll(io.LimitReader(src, max+1))
	if err != nil {
		return nil, core.Wrap(core.ErrRequest, "failed to read archive entry", err)
	}

	truncated := int64(len(data)) > max
	if truncated {
		data = data[:max]
	}
	if total < int64(len(data)) {
		// unknown, or a gzip ISIZE that wrapped past 4 GiB
		total = int64(len(data))
	}
	if total > int64(len(data)) {
		truncated = true
	}

	preview := &storage.FilePreview{
		IsTruncated: truncated,
		TotalSize:   total,
		FileType:    FileType(name),
	}

	if text, ok := asText(data, truncated); ok {
		preview.Content = string(text)
		preview.Encoding = "utf-8"
		preview.PreviewSize = int64(len(text))
		if preview.FileType == TypeUnknown {
			preview.FileType = TypeText
		}
		return preview, nil
	}

	preview.Content = base64.StdEncoding.EncodeToString(data)
	preview.Encoding = "base64"
	preview.PreviewSize = int64(len(data))
	if preview.FileType == TypeUnknown {
		preview.FileType = TypeBinary
	}
	return preview, nil
}

// asText reports whether data is UTF-8 without NUL bytes. When the data
// was cut, a rune split at the cut is dropped.
func asText(data []byte, truncated bool) ([]byte, bool) {
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, false
	}
	if utf8.Valid(data) {
		return data, true
	}
	if !truncated {
		return nil, false
	}
	for k := 1; k < utf8.UTFMax && k <= len(data); k++ {
		if head := data[:len(data)-k]; utf8.Valid(head) {
			return head, true
		}
	}
	return nil, false
}
