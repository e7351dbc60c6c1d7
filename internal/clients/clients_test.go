package clients

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/newthinker/dataview/internal/backend"
	"github.com/newthinker/dataview/internal/config"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"github.com/newthinker/dataview/internal/storage/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	for _, p := range SupportedProtocols() {
		c, err := New(p, mocks.New(), mocks.NewArchiveHelper(), nil)
		require.NoError(t, err, p)
		assert.Equal(t, p, c.Protocol())
		assert.False(t, c.IsConnected())
	}

	_, err := New("ftp", mocks.New(), nil, nil)
	assert.ErrorIs(t, err, core.ErrConfiguration)
}

func TestSupportedProtocols_IsACopy(t *testing.T) {
	got := SupportedProtocols()
	got[0] = "changed"
	assert.Equal(t, storage.ProtocolOSS, storage.Protocols[0])
}

func TestConnectionName(t *testing.T) {
	tests := []struct {
		cfg  storage.ConnectionConfig
		want string
	}{
		{storage.ConnectionConfig{Type: storage.ProtocolOSS, URL: "https://data.oss-cn-beijing.aliyuncs.com"}, "OSS(data-aliyuncs.com)"},
		{storage.ConnectionConfig{Type: storage.ProtocolLocal, URL: "/srv/data"}, "Local(/srv/data)"},
		{storage.ConnectionConfig{Type: storage.ProtocolHuggingFace, Extra: map[string]string{"organization": "acme"}}, "Hugging Face(acme)"},
		{storage.ConnectionConfig{Type: "ftp"}, "ftp"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ConnectionName(tt.cfg))
	}
}

type closeCounter struct{ n atomic.Int32 }

func (c *closeCounter) Close() error {
	c.n.Add(1)
	return nil
}

type fakeBackends struct {
	mu      sync.Mutex
	created []string
	backend *mocks.Backend
	closer  *closeCounter
}

func newFakeBackends() *fakeBackends {
	return &fakeBackends{backend: mocks.New(), closer: &closeCounter{}}
}

func (f *fakeBackends) fn(name string) (storage.Backend, storage.ArchiveHelper, io.Closer) {
	f.mu.Lock()
	f.created = append(f.created, name)
	f.mu.Unlock()
	return f.backend, mocks.NewArchiveHelper(), f.closer
}

func testConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Connections = map[string]storage.ConnectionConfig{
		"lake": {
			Type:     storage.ProtocolOSS,
			URL:      "https://lake.oss-cn-hangzhou.aliyuncs.com",
			Username: "AKID",
			Password: "SECRET",
		},
		"scratch": {Type: storage.ProtocolLocal, URL: "/tmp/scratch"},
	}
	cfg.DefaultConnection = "lake"
	return cfg
}

func TestManager_GetConnectsOnce(t *testing.T) {
	fb := newFakeBackends()
	m := NewManager(testConfig(), fb.fn, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	got := make([]storage.Client, 8)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Get(ctx, "LAKE")
			assert.NoError(t, err)
			got[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range got[1:] {
		assert.Same(t, got[0], c)
	}
	assert.Equal(t, []string{"lake"}, fb.created)
	assert.Equal(t, storage.ProtocolOSS, got[0].Protocol())

	def, err := m.Get(ctx, "")
	require.NoError(t, err)
	assert.Same(t, got[0], def, "empty name is the default connection")
}

func TestManager_UnknownConnection(t *testing.T) {
	fb := newFakeBackends()
	m := NewManager(testConfig(), fb.fn, nil)

	_, err := m.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, core.ErrConfigMissing)
	assert.Empty(t, fb.created)
}

func TestManager_FailedConnectReleasesBackend(t *testing.T) {
	fb := newFakeBackends()
	fb.backend.ConnectErr = errors.New("dial tcp: refused")
	m := NewManager(testConfig(), fb.fn, nil)

	_, err := m.Get(context.Background(), "lake")
	assert.ErrorIs(t, err, core.ErrConnection)
	assert.Equal(t, int32(1), fb.closer.n.Load())

	fb.backend.ConnectErr = nil
	c, err := m.Get(context.Background(), "lake")
	require.NoError(t, err)
	assert.True(t, c.IsConnected())
	assert.Len(t, fb.created, 2, "a failed connect is retried")
}

func TestManager_DisconnectAndClose(t *testing.T) {
	fb := newFakeBackends()
	m := NewManager(testConfig(), fb.fn, nil)
	ctx := context.Background()

	lake, err := m.Get(ctx, "lake")
	require.NoError(t, err)
	_, err = m.Get(ctx, "scratch")
	require.NoError(t, err)

	require.NoError(t, m.Disconnect(ctx, "lake"))
	assert.False(t, lake.IsConnected())
	assert.Equal(t, int32(1), fb.closer.n.Load())
	assert.NoError(t, m.Disconnect(ctx, "lake"), "second disconnect is a no-op")

	again, err := m.Get(ctx, "lake")
	require.NoError(t, err)
	assert.NotSame(t, lake, again)

	require.NoError(t, m.Close(ctx))
	assert.Equal(t, int32(3), fb.closer.n.Load())
	assert.False(t, again.IsConnected())
}

func TestManager_List(t *testing.T) {
	fb := newFakeBackends()
	m := NewManager(testConfig(), fb.fn, nil)

	_, err := m.Get(context.Background(), "scratch")
	require.NoError(t, err)

	infos := m.List()
	require.Len(t, infos, 2)
	assert.Equal(t, "lake", infos[0].Name)
	assert.True(t, infos[0].Default)
	assert.False(t, infos[0].Connected)
	assert.Equal(t, "OSS(lake-aliyuncs.com)", infos[0].DisplayName)

	assert.Equal(t, "scratch", infos[1].Name)
	assert.True(t, infos[1].Connected)
	assert.Equal(t, storage.ProtocolLocal, infos[1].Protocol)
}

func TestManager_ServiceBackends(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello.txt"), []byte("hi there"), 0644))

	cfg := config.Defaults()
	cfg.Connections = map[string]storage.ConnectionConfig{
		"home": {Type: storage.ProtocolLocal, URL: root},
	}
	cfg.DefaultConnection = "home"

	m := NewManager(cfg, ServiceBackends(backend.Options{DownloadDir: t.TempDir()}, nil), nil)
	t.Cleanup(func() { m.Close(context.Background()) })
	ctx := context.Background()

	c, err := m.Get(ctx, "")
	require.NoError(t, err)

	listing, err := c.ListDirectory(ctx, "/", storage.ListOptions{})
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "hello.txt", listing.Files[0].Basename)

	content, err := c.ReadFile(ctx, "hello.txt", storage.Range(3, 5))
	require.NoError(t, err)
	assert.Equal(t, "there", content.Content)
}
