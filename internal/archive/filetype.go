package archive

import (
	"path"
	"strings"
)

// File types reported in previews.
const (
	TypeText        = "text"
	TypeImage       = "image"
	TypePDF         = "pdf"
	TypeVideo       = "video"
	TypeAudio       = "audio"
	TypeSpreadsheet = "spreadsheet"
	TypeData        = "data"
	TypeArchive     = "archive"
	TypeBinary      = "binary"
	TypeUnknown     = "unknown"
)

var typesByExt = map[string]string{}

func init() {
	register := func(kind string, exts ...string) {
		for _, e := range exts {
			typesByExt[e] = kind
		}
	}
	register(TypeText,
		"txt", "md", "json", "jsonl", "js", "ts", "jsx", "tsx", "html", "css", "scss", "less",
		"py", "java", "cpp", "c", "php", "rb", "go", "rs", "xml", "yaml", "yml",
		"sql", "sh", "bat", "ps1", "log", "config", "ini", "tsv")
	register(TypeImage, "jpg", "jpeg", "png", "gif", "webp", "svg", "bmp", "ico", "tiff", "tif")
	register(TypePDF, "pdf")
	register(TypeVideo, "mp4", "webm", "ogv", "avi", "mov", "wmv", "flv", "mkv", "m4v", "ivf", "av1")
	register(TypeAudio, "mp3", "wav", "oga", "aac", "flac", "ogg", "m4a", "wma")
	register(TypeSpreadsheet, "xlsx", "xls", "ods", "csv")
	register(TypeData, "parquet", "pqt")
	register(TypeArchive, "zip", "tar", "gz", "tgz", "bz2", "xz", "7z", "rar", "lz4", "zst", "zstd", "br")
}

// FileType classifies name by extension.
func FileType(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	if t, ok := typesByExt[ext]; ok {
		return t
	}
	return TypeUnknown
}
