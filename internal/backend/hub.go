package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
)

// HubStore lists datasets and repository trees through the hub REST API.
// File contents are plain GETs on resolve URLs built by the client.
type HubStore struct {
	*HTTPStore
	endpoint     string
	organization string
	revision     string
}

type hubDataset struct {
	ID           string `json:"id"`
	LastModified string `json:"lastModified"`
}

type hubTreeEntry struct {
	Type string `json:"type"` // "file" or "directory"
	Path string `json:"path"`
	Size int64  `json:"size"`
	OID  string `json:"oid"`
}

// NewHub creates a hub store. The token in cfg.Password is sent as a
// bearer token.
func NewHub(client *http.Client, cfg storage.SessionConfig) (*HubStore, error) {
	endpoint := strings.TrimRight(cfg.URL, "/")
	if u, err := url.Parse(endpoint); err != nil || u.Host == "" {
		return nil, core.Errorf(core.ErrConfiguration, "invalid hub endpoint %q", cfg.URL)
	}
	defaults := map[string]string{"Accept": "application/json"}
	if cfg.Password != "" {
		defaults["Authorization"] = "Bearer " + cfg.Password
	}
	revision := cfg.Extra["revision"]
	if revision == "" {
		revision = "main"
	}
	return &HubStore{
		HTTPStore:    NewHTTP(client, defaults),
		endpoint:     endpoint,
		organization: cfg.Extra["organization"],
		revision:     revision,
	}, nil
}

func (h *HubStore) getJSON(ctx context.Context, target string, v any) error {
	resp, err := h.send(ctx, http.MethodGet, target, nil, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return statusError(resp.StatusCode, redact(target))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return core.Wrap(core.ErrRequest, "malformed hub response", err)
	}
	return nil
}

// List maps the hub onto a directory tree: the root lists the datasets
// of the organization, "<owner>" lists that owner's datasets, and
// "<owner>/<dataset>/..." lists the repository tree at the revision.
func (h *HubStore) List(ctx context.Context, dir string, opts storage.ListOptions) (*storage.DirectoryResult, error) {
	clean := strings.Trim(path.Clean("/"+dir), "/")
	var parts []string
	if clean != "" {
		parts = strings.SplitN(clean, "/", 3)
	}

	var (
		files []storage.StorageFile
		err   error
	)
	switch len(parts) {
	case 0:
		if h.organization == "" {
			return nil, core.Errorf(core.ErrRequest, "listing the hub root needs an organization")
		}
		files, err = h.datasets(ctx, h.organization)
	case 1:
		files, err = h.datasets(ctx, parts[0])
	default:
		sub := ""
		if len(parts) == 3 {
			sub = parts[2]
		}
		files, err = h.tree(ctx, parts[0], parts[1], sub, opts.Recursive)
	}
	if err != nil {
		return nil, err
	}
	return paginate("/"+clean, files, opts), nil
}

func (h *HubStore) datasets(ctx context.Context, owner string) ([]storage.StorageFile, error) {
	q := url.Values{}
	q.Set("author", owner)
	q.Set("limit", "1000")

	var raw []hubDataset
	if err := h.getJSON(ctx, h.endpoint+"/api/datasets?"+q.Encode(), &raw); err != nil {
		return nil, err
	}

	files := make([]storage.StorageFile, 0, len(raw))
	for _, d := range raw {
		files = append(files, storage.StorageFile{
			Filename: "/" + d.ID,
			Basename: path.Base(d.ID),
			LastMod:  normalizeTime(d.LastModified),
			Type:     "directory",
		})
	}
	return files, nil
}

func (h *HubStore) tree(ctx context.Context, owner, dataset, sub string, recursive bool) ([]storage.StorageFile, error) {
	target := h.endpoint + "/api/datasets/" + url.PathEscape(owner) + "/" + url.PathEscape(dataset) +
		"/tree/" + url.PathEscape(h.revision)
	if sub != "" {
		segs := strings.Split(sub, "/")
		for i, s := range segs {
			segs[i] = url.PathEscape(s)
		}
		target += "/" + strings.Join(segs, "/")
	}
	if recursive {
		target += "?recursive=true"
	}

	var raw []hubTreeEntry
	if err := h.getJSON(ctx, target, &raw); err != nil {
		return nil, err
	}

	root := "/" + owner + "/" + dataset
	files := make([]storage.StorageFile, 0, len(raw))
	for _, e := range raw {
		f := storage.StorageFile{
			Filename: root + "/" + e.Path,
			Basename: path.Base(e.Path),
			Size:     e.Size,
			Type:     "file",
			ETag:     e.OID,
		}
		if e.Type == "directory" {
			f.Type = "directory"
			f.Size = 0
		}
		files = append(files, f)
	}
	return files, nil
}

func normalizeTime(s string) string {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(time.RFC3339)
	}
	return s
}
