// Package clients builds protocol clients and manages the named
// connections from the configuration file.
package clients

import (
	"github.com/newthinker/dataview/internal/core"
	"github.com/newthinker/dataview/internal/storage"
	"github.com/newthinker/dataview/internal/storage/hub"
	"github.com/newthinker/dataview/internal/storage/local"
	"github.com/newthinker/dataview/internal/storage/oss"
	"github.com/newthinker/dataview/internal/storage/webdav"
	"go.uber.org/zap"
)

// New creates a disconnected client for protocol.
func New(protocol storage.Protocol, backend storage.Backend, archives storage.ArchiveHelper, logger *zap.Logger) (storage.Client, error) {
	switch protocol {
	case storage.ProtocolOSS:
		return oss.New(backend, archives, logger), nil
	case storage.ProtocolWebDAV:
		return webdav.New(backend, archives, logger), nil
	case storage.ProtocolLocal:
		return local.New(backend, archives, logger), nil
	case storage.ProtocolHuggingFace:
		return hub.New(backend, archives, logger), nil
	}
	return nil, core.Errorf(core.ErrConfiguration, "unsupported protocol %q", protocol)
}

// SupportedProtocols lists the protocols New accepts.
func SupportedProtocols() []storage.Protocol {
	out := make([]storage.Protocol, len(storage.Protocols))
	copy(out, storage.Protocols)
	return out
}

// ConnectionName derives the default display name for cfg without
// connecting.
func ConnectionName(cfg storage.ConnectionConfig) string {
	switch cfg.Type {
	case storage.ProtocolOSS:
		return oss.ConnectionName(cfg)
	case storage.ProtocolWebDAV:
		return webdav.ConnectionName(cfg)
	case storage.ProtocolLocal:
		return local.ConnectionName(cfg)
	case storage.ProtocolHuggingFace:
		return hub.ConnectionName(cfg)
	}
	return string(cfg.Type)
}
