// Package metrics exports a prometheus.Collector that walks a
// listener's active-connection table on every scrape and turns each
// transport.Connection's already-tracked counters into per-connection
// counters, the way go-tcpinfo's TCPInfoCollector walks net.Conns and
// reads kernel TCP_INFO instead.
package metrics

import (
	"net"

	"github.com/prometheus/client_golang/prometheus"

	"chunklink/pkg/transport"
)

// Source supplies the set of connections to scrape, keyed by remote
// address. *listener.Listener satisfies this via its Connections method.
type Source interface {
	Connections() map[string]*transport.Connection
}

type desc struct {
	d        *prometheus.Desc
	value    prometheus.ValueType
	extract  func(transport.Statistics) float64
}

// ConnectionCollector is a prometheus.Collector over a listener's live
// connections. Register it once with a prometheus.Registry.
type ConnectionCollector struct {
	source Source
	descs  []desc
}

func NewConnectionCollector(source Source) *ConnectionCollector {
	const ns = "chunklink"
	labels := []string{"remote_addr"}

	mk := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(ns, "connection", name), help, labels, nil)
	}

	return &ConnectionCollector{
		source: source,
		descs: []desc{
			{mk("bytes_sent_total", "Bytes sent on this connection."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.BytesSent) }},
			{mk("bytes_received_total", "Bytes received on this connection."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.BytesRecv) }},
			{mk("packets_sent_total", "Packets sent on this connection."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.PacketsSent) }},
			{mk("packets_received_total", "Packets received on this connection."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.PacketsRecv) }},
			{mk("chunks_sent_total", "Chunks sent on this connection."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.ChunksSent) }},
			{mk("chunks_resent_total", "Chunks retransmitted on this connection."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.ChunksResent) }},
			{mk("chunks_received_total", "Chunks received on this connection."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.ChunksRecv) }},
			{mk("chunks_dropped_total", "Redundant chunks dropped on this connection (already delivered or already buffered)."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.ChunksDropped) }},
			{mk("send_overhead_bytes_total", "Protocol overhead bytes on the send path."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.SentOverhead) }},
			{mk("recv_overhead_bytes_total", "Protocol overhead bytes on the receive path."), prometheus.CounterValue, func(s transport.Statistics) float64 { return float64(s.RecvOverhead) }},
		},
	}
}

func (c *ConnectionCollector) Describe(out chan<- *prometheus.Desc) {
	for _, d := range c.descs {
		out <- d.d
	}
}

func (c *ConnectionCollector) Collect(out chan<- prometheus.Metric) {
	for addr, conn := range c.source.Connections() {
		stats := conn.GetStatistics()
		label := remoteLabel(addr, conn.RemoteAddr())
		for _, d := range c.descs {
			out <- prometheus.MustNewConstMetric(d.d, d.value, d.extract(stats), label)
		}
	}
}

func remoteLabel(key string, addr net.Addr) string {
	if addr != nil {
		return addr.String()
	}
	return key
}
