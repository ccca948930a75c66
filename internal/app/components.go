package app

import (
	"github.com/headerkit/source-agent/internal/broadcast"
	"github.com/headerkit/source-agent/internal/events"
	"github.com/headerkit/source-agent/internal/httpengine"
	"github.com/headerkit/source-agent/internal/readers"
	"github.com/headerkit/source-agent/internal/registry"
	"github.com/headerkit/source-agent/internal/storage"
	"github.com/headerkit/source-agent/internal/telemetry"
)

// Components groups the long-lived parts of a running agent
type Components struct {
	// Registry owns the source list
	Registry *registry.Registry

	// Writer persists the list and export files
	Writer *storage.AtomicWriter

	// InstanceLock guards the data directory
	InstanceLock *storage.InstanceLock

	Bus   *events.Bus
	Local *broadcast.LocalChannel

	// WebSocket is nil when network broadcast is disabled
	WebSocket   *broadcast.WSServer
	Broadcaster *broadcast.Broadcaster

	HTTPEngine *httpengine.Engine
	FileReader *readers.FileReader
	EnvReader  *readers.EnvReader

	Telemetry *telemetry.Telemetry
}
