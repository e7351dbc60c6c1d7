package clients

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/newthinker/dataview/internal/backend"
	"github.com/newthinker/dataview/internal/config"
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/logger"
	"github.com/newthinker/dataview/internal/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// BackendFunc returns the backend a named connection runs on. The closer
// is called when the connection is dropped.
type BackendFunc func(name string) (storage.Backend, storage.ArchiveHelper, io.Closer)

// ServiceBackends gives every connection its own backend.Service. The
// backend keeps one session per protocol, so two connections of the same
// protocol cannot share one.
func ServiceBackends(opts backend.Options, logger *zap.Logger) BackendFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(name string) (storage.Backend, storage.ArchiveHelper, io.Closer) {
		svc := backend.New(opts, logger.With(zap.String("connection", name)))
		return svc, svc.ArchiveHelper(), svc
	}
}

// Info describes a configured connection.
type Info struct {
	Name        string           `json:"name"`
	Protocol    storage.Protocol `json:"protocol"`
	DisplayName string           `json:"display_name"`
	Connected   bool             `json:"connected"`
	Default     bool             `json:"default"`
}

type entry struct {
	client storage.Client
	closer io.Closer
}

// Manager connects named connections lazily and keeps one client per
// name. It is safe for concurrent use.
type Manager struct {
	cfg      *config.Config
	backends BackendFunc
	logger   *zap.Logger

	group singleflight.Group
	mu    sync.Mutex
	open  map[string]*entry
}

// NewManager creates a manager over the connections in cfg.
func NewManager(cfg *config.Config, backends BackendFunc, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		cfg:      cfg,
		backends: backends,
		logger:   logger.Named("clients"),
		open:     make(map[string]*entry),
	}
}

func (m *Manager) key(name string) string {
	if name == "" {
		name = m.cfg.DefaultConnection
	}
	return strings.ToLower(name)
}

// Get returns the connected client for name, connecting on first use.
// An empty name selects the default connection. Concurrent first calls
// share one connect.
func (m *Manager) Get(ctx context.Context, name string) (storage.Client, error) {
	key := m.key(name)

	m.mu.Lock()
	e := m.open[key]
	m.mu.Unlock()
	if e != nil && e.client.IsConnected() {
		return e.client, nil
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.connect(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return v.(storage.Client), nil
}

func (m *Manager) connect(ctx context.Context, key string) (storage.Client, error) {
	m.mu.Lock()
	if e := m.open[key]; e != nil {
		if e.client.IsConnected() {
			m.mu.Unlock()
			return e.client, nil
		}
		delete(m.open, key)
		m.mu.Unlock()
		m.release(key, e)
	} else {
		m.mu.Unlock()
	}

	cfg, err := m.cfg.Connection(key)
	if err != nil {
		return nil, err
	}
	be, archives, closer := m.backends(key)
	client, err := New(cfg.Type, be, archives, logger.ForConnection(m.logger, key, cfg.Type.String()))
	if err != nil {
		closeQuietly(closer)
		return nil, err
	}
	if err := client.Connect(ctx, cfg); err != nil {
		closeQuietly(closer)
		m.logger.Warn("connection failed", zap.String("connection", key), zap.Error(err))
		return nil, err
	}

	m.mu.Lock()
	m.open[key] = &entry{client: client, closer: closer}
	m.mu.Unlock()

	m.logger.Info("connection ready",
		zap.String("connection", key),
		zap.String("protocol", cfg.Type.String()),
		zap.String("display_name", client.DisplayName()),
	)
	return client, nil
}

// Disconnect drops the named connection. Unknown or idle names are a no-op.
func (m *Manager) Disconnect(ctx context.Context, name string) error {
	key := m.key(name)
	m.mu.Lock()
	e := m.open[key]
	delete(m.open, key)
	m.mu.Unlock()

	if e == nil {
		return nil
	}
	err := e.client.Disconnect(ctx)
	m.release(key, e)
	return err
}

func (m *Manager) release(key string, e *entry) {
	if e.closer == nil {
		return
	}
	if err := e.closer.Close(); err != nil {
		m.logger.Warn("closing backend", zap.String("connection", key), zap.Error(err))
	}
}

// Close disconnects every open connection.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	open := m.open
	m.open = make(map[string]*entry)
	m.mu.Unlock()

	var errs []error
	for key, e := range open {
		if err := e.client.Disconnect(ctx); err != nil {
			errs = append(errs, err)
		}
		m.release(key, e)
	}
	if len(errs) > 0 {
		return core.WrapError(core.ErrConnection, errors.Join(errs...))
	}
	return nil
}

// List describes every configured connection in name order.
func (m *Manager) List() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := m.cfg.ConnectionNames()
	out := make([]Info, 0, len(names))
	for _, name := range names {
		cfg := m.cfg.Connections[name]
		info := Info{
			Name:        name,
			Protocol:    cfg.Type,
			DisplayName: ConnectionName(cfg),
			Default:     name == m.key(""),
		}
		if e := m.open[name]; e != nil && e.client.IsConnected() {
			info.Connected = true
			info.DisplayName = e.client.DisplayName()
		}
		out = append(out, info)
	}
	return out
}

func closeQuietly(c io.Closer) {
	if c != nil {
		c.Close()
	}
}
