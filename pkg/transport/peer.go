package transport

import "net"

// Peer is the contract a reliable endpoint offers to a listener or to
// application code driving it directly (the loopback/same-process
// variants in pkg/localconn implement it without a real socket).
type Peer interface {
	// SendData queues an application message for reliable, ordered
	// delivery. It may be split across many chunks on the wire.
	SendData(msg []byte) error

	// HasIncomingData reports whether GetData would return a message.
	HasIncomingData() bool
	// GetData pops and returns the next fully-reassembled inbound
	// message, or nil if none is ready.
	GetData() []byte
	// Peek returns the i-th queued inbound message without removing it.
	Peek(i int) []byte
	// DeleteBufferPacketAt removes the i-th queued inbound message.
	DeleteBufferPacketAt(i int)
	// GetPacketQueueSize reports how many inbound messages are queued.
	GetPacketQueueSize() int

	// Update drives timers, pacing and (for socket-owning connections)
	// socket I/O. Callers invoke it once per tick.
	Update()
	// Flush drives a send attempt of any pending chunks right now.
	// forced true bypasses the chunk-creation pacing gate; forced false
	// applies the same gating as Update.
	Flush(forced bool)

	// CheckTimeout reports whether more than the given number of seconds
	// has elapsed since the last received packet.
	CheckTimeout(seconds int32, initial bool) bool
	// NeedsReconnect reports whether the peer has given up and is
	// waiting to be handed to a fresh transport endpoint.
	NeedsReconnect() bool
	// CanReconnect reports whether ReconnectTo may still be attempted.
	CanReconnect() bool
	// ReconnectTo makes this peer adopt other's transport endpoint
	// (socket and remote address) and resume traffic over it.
	ReconnectTo(other Peer) error

	// Unmute lets the peer start emitting outbound packets; a new
	// Connection is muted until Unmute is called.
	Unmute()
	// Close releases the peer's resources, optionally flushing first.
	Close(flush bool)

	// SetLossFactor adjusts retransmit aggressiveness at runtime.
	SetLossFactor(f LossFactor)
	// GetStatistics returns a snapshot of traffic counters.
	GetStatistics() Statistics
	// GetFullAddress returns a human-readable "ip:port" for the peer.
	GetFullAddress() string
	// RemoteAddr returns the peer's network address, if it has one.
	RemoteAddr() net.Addr
}
