package core

import (
	"pkt.systems/muxrun/schema"
	"pkt.systems/pslog"
)

// Notifier receives notifications addressed to clients.
type Notifier interface {
	Notify(event schema.ClientEvent)
}

// RegistryDeps captures optional dependencies for the registry.
type RegistryDeps struct {
	Notifier Notifier
	Logger   pslog.Logger
	// Hostname overrides os.Hostname for format expansion.
	Hostname string
}
