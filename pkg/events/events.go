// Package events is a small connection-lifecycle bus: connect,
// disconnect and inbound-message events fired by the demo server in
// cmd/chunklinkd.
package events

import (
	"net"

	"chunklink/pkg/transport"
)

type Type int

const (
	Connect Type = iota
	Disconnect
	Message
)

// Event carries the peer an event concerns plus type-specific payload.
// Data holds the reassembled message for Message events and is nil
// otherwise.
type Event struct {
	Type Type
	Addr net.Addr
	Peer transport.Peer
	Data []byte
}

type Handler func(Event)

// Manager dispatches lifecycle events to registered handlers, in
// registration order, synchronously on the caller's goroutine.
type Manager struct {
	handlers map[Type][]Handler
}

func NewManager() *Manager {
	return &Manager{handlers: make(map[Type][]Handler)}
}

func (m *Manager) On(t Type, h Handler) {
	m.handlers[t] = append(m.handlers[t], h)
}

func (m *Manager) Fire(e Event) {
	for _, h := range m.handlers[e.Type] {
		h(e)
	}
}
