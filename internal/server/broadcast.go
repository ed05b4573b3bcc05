package server

import (
	"groupchat/internal/logger"
	"groupchat/internal/registry"
	"groupchat/internal/wire"
)

// Broadcaster fans a frame out to every registered session. It encodes once,
// iterates over a registry snapshot, and never touches the registry itself:
// dead-session cleanup belongs to the receive loops, not the broadcaster.
type Broadcaster struct {
	registry *registry.Registry
	log      logger.Logger
}

// NewBroadcaster returns a Broadcaster over the given registry.
func NewBroadcaster(reg *registry.Registry, log logger.Logger) *Broadcaster {
	return &Broadcaster{registry: reg, log: log}
}

// Broadcast sends the frame to every session in the current snapshot. A send
// failure on one session is logged and does not abort delivery to the rest.
// Per-session sends are serialized, so frames broadcast in sequence arrive in
// order for each recipient; ordering across recipients is unspecified.
func (b *Broadcaster) Broadcast(f wire.Frame) {
	data := wire.Encode(f)
	for _, sess := range b.registry.Snapshot() {
		if err := sess.Send(data); err != nil {
			b.log.Warn("broadcast send failed",
				logger.Field{Key: "session_id", Value: sess.ID()},
				logger.Field{Key: "addr", Value: sess.RemoteAddr()},
				logger.Field{Key: "error", Value: err},
			)
		}
	}
}
