// Package listener implements the shared-socket demultiplexer: one UDP
// socket fanning inbound datagrams out to per-peer connections by
// source address, and a handshake-detection path that promotes unknown
// senders into pending connections an application can accept or reject.
package listener

import (
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"chunklink/pkg/registry"
	"chunklink/pkg/transport"
	"chunklink/pkg/wire"
)

// Bind opens a UDP socket on port, preferring the IPv6 any address (which
// also accepts v4-mapped traffic on most stacks) and falling back to the
// IPv4 any address when the host has no IPv6 support. An empty ip binds
// to the wildcard address; otherwise ip is used verbatim.
func Bind(port int, ip string, log *logrus.Entry) (net.PacketConn, error) {
	if ip != "" {
		pc, err := net.ListenPacket("udp", net.JoinHostPort(ip, strconv.Itoa(port)))
		if err != nil {
			return nil, err
		}
		applyTrafficClass(pc, log)
		return pc, nil
	}

	pc, err := net.ListenPacket("udp", net.JoinHostPort("::", strconv.Itoa(port)))
	if err != nil {
		pc, err = net.ListenPacket("udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(port)))
		if err != nil {
			return nil, err
		}
	}

	applyTrafficClass(pc, log)
	return pc, nil
}

// applyTrafficClass is a best-effort attempt to zero the outbound
// DSCP/traffic-class field, mirroring the socket tuning real UDP
// transports do at bind time. Failures are logged, not fatal: plenty of
// platforms and socket types don't support it.
func applyTrafficClass(pc net.PacketConn, log *logrus.Entry) {
	if udpAddr, ok := pc.LocalAddr().(*net.UDPAddr); ok && udpAddr.IP.To4() == nil {
		p6 := ipv6.NewPacketConn(pc)
		if err := p6.SetTrafficClass(0); err != nil && log != nil {
			log.WithError(err).Debug("failed to set IPv6 traffic class")
		}
		return
	}

	p4 := ipv4.NewPacketConn(pc)
	if err := p4.SetTOS(0); err != nil && log != nil {
		log.WithError(err).Debug("failed to set IPv4 TOS")
	}
}

// Listener fans inbound datagrams on a single socket out to the
// connection they belong to, by source address, and detects handshake
// attempts from unknown senders.
type Listener struct {
	log   *logrus.Entry
	proto *registry.Table
	cfg   transport.Config

	conn net.PacketConn

	acceptNew bool

	activeConns  map[string]*transport.Connection
	droppedIPs   map[string]uint32
	waitingConns []*transport.Connection
}

// New wraps an already-bound socket. Use Bind to obtain one.
func New(conn net.PacketConn, cfg transport.Config, proto *registry.Table, log *logrus.Entry) *Listener {
	return &Listener{
		log:         log,
		proto:       proto,
		cfg:         cfg,
		conn:        conn,
		acceptNew:   true,
		activeConns: make(map[string]*transport.Connection),
		droppedIPs:  make(map[string]uint32),
	}
}

func (l *Listener) SetAcceptingConnections(enable bool) { l.acceptNew = enable }
func (l *Listener) IsAcceptingConnections() bool        { return l.acceptNew }
func (l *Listener) HasIncomingConnections() bool        { return len(l.waitingConns) > 0 }

// SpawnConnection initiates an outbound connection over the listener's
// shared socket to addr.
func (l *Listener) SpawnConnection(addr net.Addr) *transport.Connection {
	c := transport.NewConnection(l.conn, addr, true, l.cfg, l.proto, l.log)
	l.activeConns[addr.String()] = c
	return c
}

// PreviewConnection returns the oldest pending inbound connection
// without removing it from the queue, or nil if none is waiting.
func (l *Listener) PreviewConnection() *transport.Connection {
	if len(l.waitingConns) == 0 {
		return nil
	}
	return l.waitingConns[0]
}

// AcceptConnection dequeues and activates the oldest pending inbound
// connection, or returns nil if none is waiting.
func (l *Listener) AcceptConnection() *transport.Connection {
	if len(l.waitingConns) == 0 {
		return nil
	}
	c := l.waitingConns[0]
	l.waitingConns = l.waitingConns[1:]
	l.activeConns[c.RemoteAddr().String()] = c
	return c
}

// RejectConnection drops the oldest pending inbound connection.
func (l *Listener) RejectConnection() {
	if len(l.waitingConns) == 0 {
		return
	}
	l.waitingConns = l.waitingConns[1:]
}

const maxListenerPollTime = 10 * time.Millisecond

// Update drains pending datagrams, dispatching each to its connection
// (or detecting a handshake attempt from an unknown sender), then drives
// every still-open active connection's own Update.
func (l *Listener) Update() {
	started := time.Now()
	buf := make([]byte, wire.MaxPacketSize)

	for {
		if time.Since(started) > maxListenerPollTime {
			break
		}

		l.conn.SetReadDeadline(time.Now())
		n, addr, err := l.conn.ReadFrom(buf)
		if err != nil {
			break
		}
		if n < wire.PacketHeaderSize {
			continue
		}

		key := addr.String()

		if existing, known := l.activeConns[key]; known {
			if existing.IsClosed() {
				continue
			}
			pkt := wire.Parse(buf[:n])
			existing.ProcessRawPacket(pkt)
			continue
		}

		pkt := wire.Parse(buf[:n])

		if l.acceptNew && pkt.LastContinuous == -1 && pkt.NakType == 0 &&
			len(pkt.Chunks) > 0 && pkt.Chunks[0].Number == 0 {
			conn := transport.NewConnection(l.conn, addr, true, l.cfg, l.proto, l.log)
			l.waitingConns = append(l.waitingConns, conn)
			l.activeConns[key] = conn
			conn.ProcessRawPacket(pkt)
			continue
		}

		host, _, splitErr := net.SplitHostPort(key)
		if splitErr != nil {
			host = key
		}
		l.droppedIPs[host]++
	}

	for key, conn := range l.activeConns {
		if conn.IsClosed() {
			delete(l.activeConns, key)
			continue
		}
		conn.Update()
	}
}

// UpdateConnections re-keys any active connection whose remote address
// has changed since it was last indexed (i.e. it reconnected).
func (l *Listener) UpdateConnections() {
	for key, conn := range l.activeConns {
		addr := conn.RemoteAddr()
		if addr == nil {
			continue
		}
		if addr.String() != key {
			l.activeConns[addr.String()] = conn
			delete(l.activeConns, key)
		}
	}
}

// DroppedIPs reports per-source-IP counts of packets dropped because
// they came from an unrecognized sender while not accepting new
// connections (or failed the handshake shape check).
func (l *Listener) DroppedIPs() map[string]uint32 { return l.droppedIPs }

// ActiveConnectionCount reports how many connections are currently
// indexed by source address.
func (l *Listener) ActiveConnectionCount() int { return len(l.activeConns) }

// Connections exposes the live active-connection table, primarily for
// metrics collection.
func (l *Listener) Connections() map[string]*transport.Connection { return l.activeConns }

func (l *Listener) Close() error { return l.conn.Close() }
