package storage

import "context"

// Request is the canonical request shape every client produces before
// crossing the backend boundary.
type Request struct {
	Protocol Protocol
	Method   string
	URL      string
	Headers  map[string]string
	Body     string
	Options  map[string]any
}

// DownloadRequest asks the backend to stream an object to local storage.
type DownloadRequest struct {
	Method   string
	URL      string
	Headers  map[string]string
	Filename string
}

// ListRequest asks the backend to list one directory of a session.
type ListRequest struct {
	Protocol Protocol
	Path     string
	Options  ListOptions
}

// ArchiveRequest addresses an archive by raw path for backend-native
// inspection. EntryPath is only used for previews.
type ArchiveRequest struct {
	Protocol  Protocol
	FilePath  string
	Filename  string
	EntryPath string
	MaxSize   int64
}

// SessionConfig is the normalized descriptor handed to the backend when
// opening a session.
type SessionConfig struct {
	Protocol  Protocol
	URL       string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	Username  string
	Password  string
	Extra     map[string]string
}

// Backend is the single call surface to the execution service that does
// the actual network and disk I/O. Clients never touch either directly.
type Backend interface {
	// Connect opens a session for cfg.Protocol. false means the backend
	// declined without a transport error.
	Connect(ctx context.Context, cfg SessionConfig) (bool, error)

	// Disconnect drops the session for protocol. Unknown sessions are a no-op.
	Disconnect(ctx context.Context, protocol Protocol) error

	// Request performs a text request.
	Request(ctx context.Context, req Request) (*Response, error)

	// RequestBinary performs a request and returns the body base64 encoded.
	RequestBinary(ctx context.Context, req Request) (string, error)

	// DownloadWithProgress streams the object to a local file and returns its path.
	DownloadWithProgress(ctx context.Context, req DownloadRequest) (string, error)

	// ListDirectory lists a directory of the protocol's session.
	ListDirectory(ctx context.Context, req ListRequest) (*DirectoryResult, error)

	// AnalyzeArchive inspects an archive the backend can resolve natively.
	AnalyzeArchive(ctx context.Context, req ArchiveRequest) (*ArchiveInfo, error)

	// ArchivePreview extracts the head of one archive entry natively.
	ArchivePreview(ctx context.Context, req ArchiveRequest) (*FilePreview, error)
}

// ArchiveHelper inspects archives addressed by URL, fetching only the
// byte ranges it needs.
type ArchiveHelper interface {
	Analyze(ctx context.Context, url string, headers map[string]string, filename string, maxSize int64) (*ArchiveInfo, error)
	Preview(ctx context.Context, url string, headers map[string]string, filename, entryPath string, maxPreviewSize int64) (*FilePreview, error)
	IsSupported(filename string) bool
}
