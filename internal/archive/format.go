// Package archive inspects archives without extracting them: entry
// listings from the zip central directory or a bounded tar stream, and
// previews of a single entry's leading bytes. Inputs are io.ReaderAt so
// local files and ranged remote reads share one code path.
package archive

import (
	"bytes"
	"strings"
)

// Format is a container or compression format.
type Format string

const (
	FormatUnknown Format = "unknown"
	FormatZip     Format = "zip"
	FormatTar     Format = "tar"
	FormatTarGz   Format = "tar.gz"
	FormatGzip    Format = "gzip"
	FormatZstd    Format = "zstd"
	FormatTarZstd Format = "tar.zst"
	FormatSevenZ  Format = "7z"
	FormatRar     Format = "rar"
	FormatBrotli  Format = "brotli"
	FormatLz4     Format = "lz4"
	FormatXz      Format = "xz"
	FormatBzip2   Format = "bzip2"
)

// Supported reports whether entries of f can be listed and previewed.
func (f Format) Supported() bool {
	switch f {
	case FormatZip, FormatTar, FormatTarGz, FormatGzip, FormatZstd, FormatTarZstd:
		return true
	}
	return false
}

var suffixes = []struct {
	suffix string
	format Format
}{
	// compound suffixes first
	{".tar.gz", FormatTarGz},
	{".tgz", FormatTarGz},
	{".tar.zst", FormatTarZstd},
	{".tar.zstd", FormatTarZstd},
	{".tzst", FormatTarZstd},
	{".tar.bz2", FormatBzip2},
	{".tbz2", FormatBzip2},
	{".tar.xz", FormatXz},
	{".txz", FormatXz},
	{".zip", FormatZip},
	{".tar", FormatTar},
	{".gz", FormatGzip},
	{".gzip", FormatGzip},
	{".zst", FormatZstd},
	{".zstd", FormatZstd},
	{".7z", FormatSevenZ},
	{".rar", FormatRar},
	{".br", FormatBrotli},
	{".lz4", FormatLz4},
	{".xz", FormatXz},
	{".bz2", FormatBzip2},
}

// FromFilename guesses the format from the file extension.
func FromFilename(name string) Format {
	lower := strings.ToLower(name)
	for _, s := range suffixes {
		if strings.HasSuffix(lower, s.suffix) {
			return s.format
		}
	}
	return FormatUnknown
}

// IsArchive reports whether name has any archive extension, supported or not.
func IsArchive(name string) bool {
	return FromFilename(name) != FormatUnknown
}

// SniffSize is how many leading bytes Detect looks at.
const SniffSize = 512

var (
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magicGzip     = []byte{0x1f, 0x8b}
	magicZstd     = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicSevenZ   = []byte{'7', 'z', 0xbc, 0xaf, 0x27, 0x1c}
	magicRar      = []byte("Rar!\x1a\x07")
	magicXz       = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}
	magicBzip2    = []byte("BZh")
	magicLz4      = []byte{0x04, 0x22, 0x4d, 0x18}
)

// Detect identifies a format from leading bytes. A gzip or zstd stream
// is reported as such even when it wraps a tar; see isTarHeader.
func Detect(header []byte) Format {
	switch {
	case bytes.HasPrefix(header, magicZip), bytes.HasPrefix(header, magicZipEmpty):
		return FormatZip
	case bytes.HasPrefix(header, magicGzip):
		return FormatGzip
	case bytes.HasPrefix(header, magicZstd):
		return FormatZstd
	case bytes.HasPrefix(header, magicSevenZ):
		return FormatSevenZ
	case bytes.HasPrefix(header, magicRar):
		return FormatRar
	case bytes.HasPrefix(header, magicXz):
		return FormatXz
	case bytes.HasPrefix(header, magicBzip2):
		return FormatBzip2
	case bytes.HasPrefix(header, magicLz4):
		return FormatLz4
	case isTarHeader(header):
		return FormatTar
	}
	return FormatUnknown
}

// isTarHeader checks for the ustar magic at offset 257.
func isTarHeader(b []byte) bool {
	return len(b) >= 262 && string(b[257:262]) == "ustar"
}
