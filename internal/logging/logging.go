// Package logging builds relayd's process-wide structured logger and tags
// it per subsystem. Grounded on DeBrosOfficial-network's pkg/logging,
// which wraps zap.Logger with a "component" field so a libp2p node's
// logs can be filtered by which subsystem emitted them (NODE, RQLITE,
// LIBP2P, ...); this package adapts that same idea to relayd's own
// long-lived subsystems instead of carrying over the original's ANSI
// console coloring, which doesn't fit a daemon whose logs are JSON-
// shipped rather than read off an interactive terminal.
package logging

import "go.uber.org/zap"

// Component names one of relayd's long-lived subsystems, attached to
// every log line it emits so a multi-instance deployment can filter logs
// by which part of the process produced them.
type Component string

const (
	ComponentServer     Component = "server"
	ComponentSession    Component = "session"
	ComponentDispatcher Component = "dispatcher"
	ComponentAdmin      Component = "admin"
	ComponentBus        Component = "bus"
	ComponentQueue      Component = "queue"
)

// New builds the base logger: JSON production encoding by default, or
// human-readable development encoding (with caller info and DPanic-on-
// error) when dev is true — the same zap.NewProduction/NewDevelopment
// split the teacher's replacement stack (DeBrosOfficial-network,
// SnapdragonPartners-maestro) uses instead of bare log.Printf.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// For returns a child of base tagged with component, so every line it
// emits carries a "component" field without the caller threading a
// string through every log.Warn/log.Error call by hand.
func For(base *zap.Logger, component Component) *zap.Logger {
	return base.With(zap.String("component", string(component)))
}
