package storage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Protocol identifies a storage backend family.
type Protocol string

const (
	ProtocolOSS         Protocol = "oss"
	ProtocolWebDAV      Protocol = "webdav"
	ProtocolLocal       Protocol = "local"
	ProtocolHuggingFace Protocol = "huggingface"
)

// Protocols lists every protocol with a client implementation.
var Protocols = []Protocol{ProtocolOSS, ProtocolWebDAV, ProtocolLocal, ProtocolHuggingFace}

// String returns the protocol name.
func (p Protocol) String() string {
	return string(p)
}

// ParseProtocol maps a configuration string onto a Protocol.
func ParseProtocol(s string) (Protocol, bool) {
	p := Protocol(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case ProtocolOSS, ProtocolWebDAV, ProtocolLocal, ProtocolHuggingFace:
		return p, true
	case "s3":
		return ProtocolOSS, true
	case "hf":
		return ProtocolHuggingFace, true
	}
	return "", false
}

// ConnectionConfig describes how to reach a store. Field meaning depends
// on the protocol: for OSS Username/Password are the access key pair, for
// WebDAV they are real credentials, for the hub Password is the API token.
type ConnectionConfig struct {
	Type     Protocol          `mapstructure:"type" json:"type"`
	URL      string            `mapstructure:"url" json:"url"`
	Username string            `mapstructure:"username" json:"username,omitempty"`
	Password string            `mapstructure:"password" json:"password,omitempty"`
	Endpoint string            `mapstructure:"endpoint" json:"endpoint,omitempty"`
	Bucket   string            `mapstructure:"bucket" json:"bucket,omitempty"`
	Region   string            `mapstructure:"region" json:"region,omitempty"`
	Extra    map[string]string `mapstructure:"extra" json:"extra,omitempty"`
}

// ExtraValue returns cfg.Extra[key] or "".
func (c ConnectionConfig) ExtraValue(key string) string {
	if c.Extra == nil {
		return ""
	}
	return c.Extra[key]
}

// ListOptions controls directory listing.
type ListOptions struct {
	PageSize  int    `json:"page_size,omitempty"`
	Marker    string `json:"marker,omitempty"`
	Prefix    string `json:"prefix,omitempty"`
	Recursive bool   `json:"recursive,omitempty"`
	SortBy    string `json:"sort_by,omitempty"`    // "name", "size", "modified"
	SortOrder string `json:"sort_order,omitempty"` // "asc", "desc"
}

// WithDefaults fills unset fields with the listing defaults.
func (o ListOptions) WithDefaults() ListOptions {
	if o.PageSize <= 0 {
		o.PageSize = 1000
	}
	if o.SortBy == "" {
		o.SortBy = "name"
	}
	if o.SortOrder == "" {
		o.SortOrder = "asc"
	}
	return o
}

// ReadOptions selects a byte window of a file. Nil fields mean unset.
type ReadOptions struct {
	Start  *int64
	Length *int64
}

// Range returns options reading length bytes from start.
func Range(start, length int64) ReadOptions {
	return ReadOptions{Start: &start, Length: &length}
}

// From returns options reading from start to the end of the object.
func From(start int64) ReadOptions {
	return ReadOptions{Start: &start}
}

// IsRange reports whether a byte window was requested.
func (o ReadOptions) IsRange() bool {
	return o.Start != nil || o.Length != nil
}

// RangeHeader renders the HTTP Range header value, "bytes=start-end",
// leaving end open when no positive length is set.
func (o ReadOptions) RangeHeader() string {
	var start int64
	if o.Start != nil {
		start = *o.Start
	}
	if o.Length != nil && *o.Length > 0 {
		return fmt.Sprintf("bytes=%d-%d", start, start+*o.Length-1)
	}
	return fmt.Sprintf("bytes=%d-", start)
}

// StorageFile is one entry of a directory listing.
type StorageFile struct {
	Filename string `json:"filename"`
	Basename string `json:"basename"`
	LastMod  string `json:"lastmod"`
	Size     int64  `json:"size"`
	Type     string `json:"type"` // "file" or "directory"
	Mime     string `json:"mime,omitempty"`
	ETag     string `json:"etag,omitempty"`
}

// IsDir reports whether the entry is a directory.
func (f StorageFile) IsDir() bool {
	return f.Type == "directory"
}

// DirectoryResult is one page of a directory listing.
type DirectoryResult struct {
	Files      []StorageFile `json:"files"`
	HasMore    bool          `json:"has_more"`
	NextMarker string        `json:"next_marker,omitempty"`
	TotalCount *int64        `json:"total_count,omitempty"`
	Path       string        `json:"path"`
}

// FileContent is the textual body of a read.
type FileContent struct {
	Content  string `json:"content"`
	Size     int64  `json:"size"`
	Encoding string `json:"encoding"`
}

// Response is what a text request returns across the backend boundary.
// Header keys are lower-case.
type Response struct {
	Status   int               `json:"status"`
	Headers  map[string]string `json:"headers"`
	Body     string            `json:"body"`
	Metadata map[string]any    `json:"metadata,omitempty"`
}

// Header returns the value of a header, case-insensitively.
func (r *Response) Header(name string) string {
	if r == nil || r.Headers == nil {
		return ""
	}
	if v, ok := r.Headers[strings.ToLower(name)]; ok {
		return v
	}
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// ContentLength parses the content-length header, 0 when absent or bad.
func (r *Response) ContentLength() int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(r.Header("content-length")), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// ArchiveEntry is one member of an archive.
type ArchiveEntry struct {
	Path           string `json:"path"`
	Size           int64  `json:"size"`
	IsDir          bool   `json:"is_dir"`
	ModifiedTime   string `json:"modified_time,omitempty"`
	CompressedSize *int64 `json:"compressed_size,omitempty"`
}

// ArchiveInfo describes an archive's contents as far as it was inspected.
type ArchiveInfo struct {
	Entries               []ArchiveEntry `json:"entries"`
	TotalEntries          int            `json:"total_entries"`
	CompressionType       string         `json:"compression_type"`
	TotalUncompressedSize int64          `json:"total_uncompressed_size"`
	TotalCompressedSize   int64          `json:"total_compressed_size"`
	SupportsStreaming     bool           `json:"supports_streaming"`
	SupportsRandomAccess  bool           `json:"supports_random_access"`
	AnalysisStatus        AnalysisStatus `json:"analysis_status"`
}

// FilePreview is the leading content of one archive entry.
type FilePreview struct {
	Content     string `json:"content"`
	IsTruncated bool   `json:"is_truncated"`
	TotalSize   int64  `json:"total_size"`
	PreviewSize int64  `json:"preview_size"`
	Encoding    string `json:"encoding"`
	FileType    string `json:"file_type"`
}

// StatusKind tags an AnalysisStatus.
type StatusKind string

const (
	StatusComplete  StatusKind = "Complete"
	StatusPartial   StatusKind = "Partial"
	StatusStreaming StatusKind = "Streaming"
	StatusFailed    StatusKind = "Failed"
)

// AnalysisStatus says how completely an archive was inspected. Anything
// other than Complete means the metadata may be incomplete.
type AnalysisStatus struct {
	Kind             StatusKind
	AnalyzedEntries  int
	EstimatedEntries *int
	Error            string
}

func Complete() AnalysisStatus { return AnalysisStatus{Kind: StatusComplete} }

func Partial(analyzed int) AnalysisStatus {
	return AnalysisStatus{Kind: StatusPartial, AnalyzedEntries: analyzed}
}

func Streaming(estimated *int) AnalysisStatus {
	return AnalysisStatus{Kind: StatusStreaming, EstimatedEntries: estimated}
}

func Failed(err string) AnalysisStatus {
	return AnalysisStatus{Kind: StatusFailed, Error: err}
}

// IsComplete reports whether the metadata can be trusted as exhaustive.
func (s AnalysisStatus) IsComplete() bool {
	return s.Kind == StatusComplete
}

type partialBody struct {
	AnalyzedEntries int `json:"analyzed_entries"`
}

type streamingBody struct {
	EstimatedEntries *int `json:"estimated_entries"`
}

type failedBody struct {
	Error string `json:"error"`
}

// MarshalJSON encodes the status externally tagged: {"Partial":{...}}.
func (s AnalysisStatus) MarshalJSON() ([]byte, error) {
	var body any
	switch s.Kind {
	case StatusPartial:
		body = partialBody{AnalyzedEntries: s.AnalyzedEntries}
	case StatusStreaming:
		body = streamingBody{EstimatedEntries: s.EstimatedEntries}
	case StatusFailed:
		body = failedBody{Error: s.Error}
	case StatusComplete, "":
		return []byte(`{"Complete":{}}`), nil
	default:
		return nil, fmt.Errorf("unknown analysis status %q", s.Kind)
	}
	return json.Marshal(map[StatusKind]any{s.Kind: body})
}

// UnmarshalJSON decodes the externally tagged form.
func (s *AnalysisStatus) UnmarshalJSON(data []byte) error {
	var raw map[StatusKind]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw) != 1 {
		return fmt.Errorf("analysis status must have exactly one tag, got %d", len(raw))
	}
	for kind, body := range raw {
		*s = AnalysisStatus{Kind: kind}
		switch kind {
		case StatusComplete:
		case StatusPartial:
			var b partialBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			s.AnalyzedEntries = b.AnalyzedEntries
		case StatusStreaming:
			var b streamingBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			s.EstimatedEntries = b.EstimatedEntries
		case StatusFailed:
			var b failedBody
			if err := json.Unmarshal(body, &b); err != nil {
				return err
			}
			s.Error = b.Error
		default:
			return fmt.Errorf("unknown analysis status %q", kind)
		}
	}
	return nil
}
