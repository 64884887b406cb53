package transport

import "strconv"

func itoa64(v uint64) string { return strconv.FormatUint(v, 10) }
func ftoa(v float64) string  { return strconv.FormatFloat(v, 'f', 3, 64) }

// Statistics is a point-in-time snapshot of a connection's traffic
// counters, exported to callers (and, via pkg/metrics, to Prometheus).
type Statistics struct {
	BytesSent     uint64
	BytesRecv     uint64
	PacketsSent   uint64
	PacketsRecv   uint64
	ChunksSent    uint64
	ChunksResent  uint64
	ChunksRecv    uint64
	ChunksDropped uint64
	SentOverhead  uint64
	RecvOverhead  uint64
}

func (s Statistics) merge(o Statistics) Statistics {
	return Statistics{
		BytesSent:     s.BytesSent + o.BytesSent,
		BytesRecv:     s.BytesRecv + o.BytesRecv,
		PacketsSent:   s.PacketsSent + o.PacketsSent,
		PacketsRecv:   s.PacketsRecv + o.PacketsRecv,
		ChunksSent:    s.ChunksSent + o.ChunksSent,
		ChunksResent:  s.ChunksResent + o.ChunksResent,
		ChunksRecv:    s.ChunksRecv + o.ChunksRecv,
		ChunksDropped: s.ChunksDropped + o.ChunksDropped,
		SentOverhead:  s.SentOverhead + o.SentOverhead,
		RecvOverhead:  s.RecvOverhead + o.RecvOverhead,
	}
}

// String renders a human-readable summary, modeled on the reference
// connection's get_statistics() dump.
func (s Statistics) String() string {
	bytesPerPktSent := float64(0)
	if s.PacketsSent > 0 {
		bytesPerPktSent = float64(s.BytesSent) / float64(s.PacketsSent)
	}
	bytesPerPktRecv := float64(0)
	if s.PacketsRecv > 0 {
		bytesPerPktRecv = float64(s.BytesRecv) / float64(s.PacketsRecv)
	}
	overheadUp := float64(0)
	if s.BytesSent > 0 {
		overheadUp = float64(s.SentOverhead) / float64(s.BytesSent)
	}
	overheadDown := float64(0)
	if s.BytesRecv > 0 {
		overheadDown = float64(s.RecvOverhead) / float64(s.BytesRecv)
	}

	return "bytes sent " + itoa64(s.BytesSent) + " in " + itoa64(s.PacketsSent) + " packets (" + ftoa(bytesPerPktSent) + " bytes/packet); " +
		"bytes recv'd " + itoa64(s.BytesRecv) + " in " + itoa64(s.PacketsRecv) + " packets (" + ftoa(bytesPerPktRecv) + " bytes/packet); " +
		"overhead {up " + ftoa(overheadUp) + "x, down " + ftoa(overheadDown) + "x}; " +
		"chunks dropped " + itoa64(s.ChunksDropped) + ", resent " + itoa64(s.ChunksResent)
}
