// Package transport implements the reliable, ordered, chunk-based
// connection engine: chunking and pacing of outbound application
// messages, ACK/NAK-driven retransmission, and reassembly of inbound
// chunks back into whole messages.
package transport

import (
	"net"
	"time"

	"github.com/gammazero/deque"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"chunklink/pkg/bandwidth"
	"chunklink/pkg/registry"
	"chunklink/pkg/wire"
)

// Connection is a single reliable endpoint, either owning its own UDP
// socket or fed datagrams by a listener's demultiplexer (shared socket).
// All of its methods are intended to be called from a single goroutine;
// it holds no internal locks.
type Connection struct {
	id    uuid.UUID
	log   *logrus.Entry
	proto *registry.Table
	cfg   Config

	conn   net.PacketConn
	remote net.Addr
	shared bool

	outgoingData [][]byte
	waitingPackets orderedMap[[]byte]

	newChunks     deque.Deque
	unackedChunks deque.Deque
	resendReq     orderedMap[*wire.Chunk]

	msgQueue [][]byte

	fragmentBuffer []byte
	droppedPackets []int32

	bw *bandwidth.Tracker

	prvChunkCreatedTime  time.Time
	prvPacketSendTime    time.Time
	prvPacketRecvTime    time.Time
	prvUnackResendTime   time.Time
	prvNakTime           time.Time
	prvUpdateTime        time.Time

	maxTransmissionUnit int32
	reconnectTimeSecs   int32
	netLossFactor       LossFactor

	lastInorder    int32
	lastMidChunk   int32
	packetChunkNum int32

	resendTurn bool
	muted      bool
	closed     bool

	stats Statistics

	netsim *netSim
}

// NewConnection builds a Connection bound to conn, talking to remote.
// shared must be true when conn is a demultiplexing socket owned by a
// listener (in which case the listener, not Update, feeds it datagrams
// via ProcessRawPacket).
func NewConnection(conn net.PacketConn, remote net.Addr, shared bool, cfg Config, proto *registry.Table, log *logrus.Entry) *Connection {
	cfg = cfg.Normalize()
	now := time.Now()
	id := uuid.New()
	if log != nil {
		log = log.WithField("conn_id", id.String())
	}

	c := &Connection{
		id:                  id,
		log:                 log,
		proto:               proto,
		cfg:                 cfg,
		conn:                conn,
		remote:              remote,
		shared:              shared,
		bw:                  bandwidth.NewTracker(),
		prvChunkCreatedTime: now,
		prvPacketSendTime:   now,
		prvPacketRecvTime:   now,
		prvUnackResendTime:  now,
		prvNakTime:          now,
		prvUpdateTime:       now,
		maxTransmissionUnit: cfg.MaxTransmissionUnit,
		reconnectTimeSecs:   cfg.ReconnectTimeSecs,
		netLossFactor:       cfg.NetworkLossFactor,
		lastInorder:         -1,
		lastMidChunk:        -1,
		muted:               true,
		netsim:              newNetSim(int64(now.UnixNano())),
	}
	c.newChunks.SetMinCapacity(4)
	c.unackedChunks.SetMinCapacity(4)
	return c
}

func (c *Connection) useMinLossFactor() bool { return c.netLossFactor == LossMin }

// SendData queues an application message for reliable delivery.
func (c *Connection) SendData(msg []byte) error {
	if len(msg) == 0 {
		return nil
	}
	cp := make([]byte, len(msg))
	copy(cp, msg)
	c.outgoingData = append(c.outgoingData, cp)
	return nil
}

func (c *Connection) Peek(i int) []byte {
	if i < 0 || i >= len(c.msgQueue) {
		return nil
	}
	return c.msgQueue[i]
}

func (c *Connection) GetData() []byte {
	if len(c.msgQueue) == 0 {
		return nil
	}
	msg := c.msgQueue[0]
	c.msgQueue = c.msgQueue[1:]
	return msg
}

func (c *Connection) DeleteBufferPacketAt(i int) {
	if i < 0 || i >= len(c.msgQueue) {
		return
	}
	c.msgQueue = append(c.msgQueue[:i], c.msgQueue[i+1:]...)
}

func (c *Connection) HasIncomingData() bool { return len(c.msgQueue) > 0 }

// GetPacketQueueSize reports the number of fully reassembled messages
// waiting to be consumed.
func (c *Connection) GetPacketQueueSize() int { return len(c.msgQueue) }

func (c *Connection) RemoteAddr() net.Addr { return c.remote }

// ID returns a stable identifier for this connection, assigned once at
// construction. Unlike RemoteAddr it survives ReconnectTo migrating the
// underlying address, so logging and metrics can follow a logical peer
// across a reconnect.
func (c *Connection) ID() uuid.UUID { return c.id }

func (c *Connection) IsUsingAddress(addr net.Addr) bool {
	return addr != nil && c.remote != nil && addr.String() == c.remote.String()
}

func (c *Connection) IsClosed() bool { return c.closed }

// Update advances timers and, for a connection that owns its socket,
// drains pending datagrams before flushing outbound state.
func (c *Connection) Update() {
	curUpdateTime := time.Now()
	c.bw.UpdateTime(curUpdateTime.UnixMilli())

	if !c.shared && !c.closed && c.conn != nil {
		c.pollSocket(curUpdateTime)
	}

	c.prvUpdateTime = curUpdateTime
	c.flush(false)
}

const maxPollTime = 10 * time.Millisecond

func (c *Connection) pollSocket(started time.Time) {
	buf := make([]byte, wire.MaxPacketSize)
	for {
		if time.Since(started) > maxPollTime {
			return
		}

		c.conn.SetReadDeadline(time.Now())
		n, addr, err := c.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		if n < wire.PacketHeaderSize {
			continue
		}
		if !c.IsUsingAddress(addr) {
			continue
		}

		pkt := wire.Parse(buf[:n])
		c.ProcessRawPacket(pkt)
	}
}

// Flush drives an immediate send attempt of any chunkable outbound data.
// forced true bypasses the chunk-creation pacing gate and the per-chunk
// bandwidth check; packets still go out only while the outbound bandwidth
// estimate is within LinkOutgoingBandwidth. forced false applies the same
// pacing/bandwidth gating as the periodic Update tick.
func (c *Connection) Flush(forced bool) { c.flush(forced) }

// flush implements the forced/pacing-gated send decision from update().
func (c *Connection) flush(forced bool) {
	if c.muted {
		return
	}

	curFlushTime := time.Now()
	difFlushTime := curFlushTime.Sub(c.prvChunkCreatedTime)
	maxChunkTime := time.Second / time.Duration(c.cfg.UDPChunksPerSec)
	nlfLimitTime := time.Duration(200>>uint(c.netLossFactor)) * time.Millisecond

	waitMore := !c.prvChunkCreatedTime.Before(curFlushTime.Add(-maxChunkTime))
	requiredLength := int32((nlfLimitTime - difFlushTime) / (10 * time.Millisecond))

	var outgoingLength int32
	if !waitMore {
		for _, msg := range c.outgoingData {
			if outgoingLength > requiredLength {
				break
			}
			outgoingLength += int32(len(msg))
		}
	}

	if forced || (!waitMore && outgoingLength > requiredLength) {
		buffer := make([]byte, wire.MaxChunkPayload)
		pos := 0
		partialPacket := false
		sendMoreData := true

		for {
			sendMoreData = c.bw.GetAverage(true) <= float64(c.cfg.LinkOutgoingBandwidth)
			sendMoreData = sendMoreData || c.cfg.LinkOutgoingBandwidth <= 0 || partialPacket || forced

			if len(c.outgoingData) > 0 && sendMoreData {
				raw := c.outgoingData[0]

				if !partialPacket && !c.proto.IsValidPacket(raw) {
					c.outgoingData = c.outgoingData[1:]
				} else {
					avail := wire.MaxChunkPayload - pos
					numChunkBytes := avail
					if len(raw) < numChunkBytes {
						numChunkBytes = len(raw)
					}

					copy(buffer[pos:pos+numChunkBytes], raw[:numChunkBytes])
					pos += numChunkBytes
					c.stats.RecvOverhead += wire.PacketHeaderSize

					c.bw.DataSent(uint32(numChunkBytes), true)

					partialPacket = numChunkBytes != len(raw)
					if partialPacket {
						c.outgoingData[0] = raw[numChunkBytes:]
					} else {
						c.outgoingData = c.outgoingData[1:]
					}
				}
			}

			if pos > 0 && (len(c.outgoingData) == 0 || pos == wire.MaxChunkPayload || !sendMoreData) {
				c.createChunk(buffer[:pos])
				pos = 0
			}

			if !(len(c.outgoingData) > 0 && sendMoreData) {
				break
			}
		}
	}

	c.sendIfNecessary(forced)
}

func (c *Connection) createChunk(data []byte) {
	payload := make([]byte, len(data))
	copy(payload, data)

	chunk := &wire.Chunk{Number: c.packetChunkNum, Size: uint8(len(payload)), Payload: payload}
	c.packetChunkNum++

	c.newChunks.PushBack(chunk)
	c.prvChunkCreatedTime = time.Now()
}

func (c *Connection) sendIfNecessary(flushed bool) {
	currSendTime := time.Now()
	diffSendTime := currSendTime.Sub(c.prvPacketSendTime)
	maxUnackTime := time.Duration(400>>uint(c.netLossFactor)) * time.Millisecond
	nakWaitTime := time.Duration(200>>uint(c.netLossFactor)) * time.Millisecond / 2
	chunkDeltaTime := currSendTime.Sub(c.prvChunkCreatedTime)
	unackDeltaTime := currSendTime.Sub(c.prvUnackResendTime)

	var nakCount int32

	c.droppedPackets = c.droppedPackets[:0]

	packetNum := c.lastInorder + 1
	for _, key := range c.waitingPackets.Keys() {
		diff := key - packetNum
		for i := int32(0); i < diff; i++ {
			c.droppedPackets = append(c.droppedPackets, packetNum)
			packetNum++
		}
		packetNum++
	}

	for len(c.droppedPackets) > 0 && (c.droppedPackets[len(c.droppedPackets)-1]-(c.lastInorder+1)) > 255 {
		c.droppedPackets = c.droppedPackets[:len(c.droppedPackets)-1]
	}

	numContinuousPkts := 0
	for i, v := range c.droppedPackets {
		if v != c.lastInorder+int32(i)+1 {
			break
		}
		numContinuousPkts++
	}

	if numContinuousPkts < 8 && currSendTime.Sub(c.prvNakTime) > nakWaitTime {
		n := len(c.droppedPackets)
		if n > wire.MaxNakCount {
			n = wire.MaxNakCount
		}
		nakCount = int32(n)
		c.prvNakTime = currSendTime
	} else {
		n := numContinuousPkts
		if n > wire.MaxNakCount {
			n = wire.MaxNakCount
		}
		nakCount = -int32(n)
	}

	if c.unackedChunks.Len() > 0 && chunkDeltaTime > maxUnackTime && unackDeltaTime > maxUnackTime {
		if c.newChunks.Len() == 0 {
			last := c.unackedChunks.Back().(*wire.Chunk)
			c.requestResend(last)
		}
		c.prvUnackResendTime = currSendTime
	}

	flushSend := flushed || c.newChunks.Len() > 0
	otherSend := c.useMinLossFactor() && c.resendReq.Len() > 0
	unackSend := nakCount > 0 || diffSendTime > nakWaitTime

	if !flushSend && !otherSend && !unackSend {
		return
	}

	maxResendSize := c.resendReq.Len()
	unackPrevSize := c.unackedChunks.Len()

	fwdIdx := 0
	revIdx := c.resendReq.Len() - 1
	begIdx, midIdx, endIdx := 0, 0, c.resendReq.Len()
	revIndex := 0

	if !c.useMinLossFactor() {
		limit := int(20 * c.netLossFactor)
		if maxResendSize > limit {
			maxResendSize = limit
		}

		begIdx = (maxResendSize + 3) / 4
		endIdx = c.resendReq.Len() - (maxResendSize+2)/4

		if begIdx < c.resendReq.Len() {
			if k, _, ok := c.resendReq.At(begIdx); ok && c.lastMidChunk < k {
				c.lastMidChunk = k - 1
			}
		}

		midIdx = 0
		for midIdx < c.resendReq.Len() {
			k, _, ok := c.resendReq.At(midIdx)
			if !ok || k > c.lastMidChunk {
				break
			}
			midIdx++
		}

		mk, mok := int32(0), false
		if midIdx < c.resendReq.Len() {
			mk, _, mok = c.resendReq.At(midIdx)
		}
		ek, eok := int32(0), false
		if endIdx < c.resendReq.Len() {
			ek, _, eok = c.resendReq.At(endIdx)
		}
		if !mok || !eok || mk >= ek {
			midIdx = begIdx
		}
	}

	for c.bw.GetAverage(false) <= float64(c.cfg.LinkOutgoingBandwidth) || c.cfg.LinkOutgoingBandwidth <= 0 {
		pkt := wire.NewPacket(c.lastInorder, int8(clampInt32(nakCount, -128, 127)))

		if nakCount > 0 {
			pkt.Naks = make([]uint8, nakCount)
			for i := range pkt.Naks {
				pkt.Naks[i] = uint8(c.droppedPackets[i] - (c.lastInorder + 1))
			}
			nakCount = 0
		}

		sent := false

		for {
			if maxResendSize == 0 && c.newChunks.Len() == 0 {
				break
			}

			bufferSize := pkt.CalcSize()
			resendSize := 0
			if maxResendSize > 0 {
				var ch *wire.Chunk
				switch {
				case c.useMinLossFactor() || revIndex == 0:
					_, ch, _ = c.resendReq.At(fwdIdx)
				case revIndex == 1:
					_, ch, _ = c.resendReq.At(revIdx)
				default:
					_, ch, _ = c.resendReq.At(midIdx)
				}
				if ch != nil {
					resendSize = ch.CalcSize()
				}
			}

			canResend := maxResendSize > 0 && bufferSize+resendSize <= int(c.maxTransmissionUnit)
			canSendNew := c.newChunks.Len() > 0 && bufferSize+c.newChunks.Front().(*wire.Chunk).CalcSize() <= int(c.maxTransmissionUnit)

			if !canResend && !canSendNew {
				break
			}

			c.resendTurn = !c.resendTurn

			if c.resendTurn && canResend {
				if c.useMinLossFactor() {
					key, ch, _ := c.resendReq.At(fwdIdx)
					pkt.Chunks = append(pkt.Chunks, ch)
					c.resendReq.Delete(key)
				} else {
					switch revIndex {
					case 0:
						_, ch, _ := c.resendReq.At(fwdIdx)
						pkt.Chunks = append(pkt.Chunks, ch)
						fwdIdx++
					case 1:
						_, ch, _ := c.resendReq.At(revIdx)
						pkt.Chunks = append(pkt.Chunks, ch)
						revIdx--
					default:
						k, ch, _ := c.resendReq.At(midIdx)
						pkt.Chunks = append(pkt.Chunks, ch)
						c.lastMidChunk = k
						midIdx++
						if midIdx == endIdx {
							midIdx = begIdx
						}
					}
					revIndex = (revIndex + 1) % 4
				}

				c.stats.ChunksResent++
				maxResendSize--
				sent = true
				continue
			}

			if !c.resendTurn && canSendNew {
				ch := c.newChunks.PopFront().(*wire.Chunk)
				pkt.Chunks = append(pkt.Chunks, ch)
				c.unackedChunks.PushBack(ch)
				sent = true
				continue
			}
		}

		pkt.Checksum = pkt.CalcChecksum()
		c.netsim.maybeCorrupt(&pkt.Checksum)
		c.sendPacket(pkt)

		if !sent || (maxResendSize == 0 && c.newChunks.Len() == 0) {
			break
		}
	}

	if !c.useMinLossFactor() {
		for i := unackPrevSize; i < c.unackedChunks.Len(); i++ {
			ch := c.unackedChunks.At(i).(*wire.Chunk)
			c.requestResend(ch)
		}
	}
}

func (c *Connection) sendPacket(pkt *wire.Packet) {
	buf := pkt.Serialize()
	c.bw.DataSent(uint32(len(buf)), false)
	c.stats.ChunksSent += uint64(len(pkt.Chunks))
	c.stats.SentOverhead += wire.PacketHeaderSize + uint64(len(pkt.Naks))

	if !c.netsim.shouldDrop() && c.conn != nil {
		if _, err := c.conn.WriteTo(buf, c.remote); err != nil {
			if c.log != nil {
				c.log.WithError(err).Debug("send failed")
			}
			return
		}
	}

	c.prvPacketSendTime = time.Now()
	c.stats.BytesSent += uint64(len(buf))
	c.stats.PacketsSent++
}

func (c *Connection) requestResend(chunk *wire.Chunk) {
	c.resendReq.Insert(chunk.Number, chunk)
}

func (c *Connection) ackChunks(lastAck int32) {
	for c.unackedChunks.Len() > 0 {
		front := c.unackedChunks.Front().(*wire.Chunk)
		if lastAck < front.Number {
			break
		}
		c.unackedChunks.PopFront()
	}
	c.resendReq.DeleteUpTo(lastAck)
}

// ProcessRawPacket validates and consumes an inbound datagram already
// parsed off the wire: checksum verification, ACK/NAK processing against
// the unacked queue, chunk buffering, and in-order reassembly.
func (c *Connection) ProcessRawPacket(pkt *wire.Packet) {
	c.prvPacketRecvTime = time.Now()
	c.stats.BytesRecv += uint64(pkt.CalcSize())
	c.stats.RecvOverhead += wire.PacketHeaderSize
	c.stats.PacketsRecv++

	if c.netsim.shouldDrop() {
		return
	}

	if pkt.CalcChecksum() != pkt.Checksum {
		if c.log != nil {
			c.log.WithField("checksum", pkt.Checksum).Debug("discarding corrupted packet")
		}
		return
	}

	if pkt.LastContinuous < 0 && c.lastInorder >= 0 &&
		(c.unackedChunks.Len() == 0 || c.unackedChunks.Front().(*wire.Chunk).Number > 0) {
		if c.log != nil {
			c.log.Debug("discarding superfluous reconnection attempt")
		}
		return
	}

	c.ackChunks(pkt.LastContinuous)

	if c.unackedChunks.Len() > 0 {
		nextCont := pkt.LastContinuous + 1
		unackDif := c.unackedChunks.Front().(*wire.Chunk).Number - nextCont

		if unackDif >= -256 && unackDif <= 256 {
			switch {
			case pkt.NakType < 0:
				for i := int32(0); i != int32(-pkt.NakType); i++ {
					unackPos := i + unackDif
					if unackPos >= 0 && int(unackPos) < c.unackedChunks.Len() {
						ch := c.unackedChunks.At(int(unackPos)).(*wire.Chunk)
						c.requestResend(ch)
					}
				}
			case pkt.NakType > 0:
				unackPos := int32(0)
				for _, nakOffset := range pkt.Naks {
					target := unackDif + int32(nakOffset)
					if target < 0 {
						continue
					}
					for unackPos < target {
						if unackPos >= 0 && int(unackPos) < c.unackedChunks.Len() {
							key := c.unackedChunks.At(int(unackPos)).(*wire.Chunk).Number
							c.resendReq.Delete(key)
						}
						unackPos++
					}
					if int(unackPos) < c.unackedChunks.Len() {
						ch := c.unackedChunks.At(int(unackPos)).(*wire.Chunk)
						c.requestResend(ch)
					}
					unackPos++
				}
			}
		}
	}

	for _, chunk := range pkt.Chunks {
		if c.lastInorder >= chunk.Number || c.waitingPackets.Has(chunk.Number) {
			c.stats.ChunksDropped++
			continue
		}
		c.waitingPackets.Insert(chunk.Number, chunk.Payload)
		c.stats.ChunksRecv++
	}

	for {
		payload, ok := c.waitingPackets.Get(c.lastInorder + 1)
		if !ok {
			break
		}

		var waitBuffer []byte
		if c.fragmentBuffer != nil {
			waitBuffer = append(waitBuffer, c.fragmentBuffer...)
			c.fragmentBuffer = nil
		}

		c.lastInorder++
		waitBuffer = append(waitBuffer, payload...)
		c.waitingPackets.Delete(c.lastInorder)

		pos := 0
		for pos < len(waitBuffer) {
			msgLen := len(waitBuffer) - pos
			pktLength := c.proto.PacketLength(waitBuffer[pos:])

			if registry.IsValidLength(pktLength, msgLen) {
				msg := make([]byte, pktLength)
				copy(msg, waitBuffer[pos:pos+int(pktLength)])
				c.msgQueue = append(c.msgQueue, msg)
				pos += int(pktLength)
			} else if pktLength >= 0 {
				c.fragmentBuffer = append([]byte(nil), waitBuffer[pos:]...)
				break
			} else {
				if c.log != nil {
					c.log.WithField("id", waitBuffer[pos]).Debug("discarding invalid packet")
				}
				pos++
			}
		}
	}
}

// CheckTimeout reports whether more than the applicable number of
// seconds has passed since the last packet was received. seconds == 0
// uses the configured steady-state/initial timeout; any negative value
// uses the current reconnect timeout; any positive value is used
// verbatim. A resulting timeout of zero never fires.
func (c *Connection) CheckTimeout(seconds int32, initial bool) bool {
	var timeoutSecs int32

	switch clampInt32(seconds, -1, 1) {
	case 0:
		if c.stats.BytesRecv > 0 && !initial {
			timeoutSecs = c.cfg.NetworkTimeoutSecs
		} else {
			timeoutSecs = c.cfg.InitialNetworkTimeoutSecs
		}
	case 1:
		timeoutSecs = seconds
	case -1:
		timeoutSecs = c.reconnectTimeSecs
	}

	dt := time.Since(c.prvPacketRecvTime)
	return timeoutSecs > 0 && dt > time.Duration(timeoutSecs)*time.Second
}

func (c *Connection) CanReconnect() bool { return c.reconnectTimeSecs > 0 }

func (c *Connection) NeedsReconnect() bool {
	if !c.CanReconnect() {
		return false
	}
	if !c.CheckTimeout(-1, false) {
		c.reconnectTimeSecs = c.cfg.ReconnectTimeSecs
		return false
	}
	if c.CheckTimeout(c.reconnectTimeSecs, false) {
		c.reconnectTimeSecs++
		return true
	}
	return false
}

// ReconnectTo makes this connection adopt other's socket and remote
// address; both connections then share that socket, and this connection
// resumes traffic over it from this point on. other must be a
// *Connection.
func (c *Connection) ReconnectTo(other Peer) error {
	target, ok := other.(*Connection)
	if !ok {
		return errInvalidReconnectPeer
	}
	c.conn = target.conn
	c.remote = target.remote
	c.shared = true
	return nil
}

func (c *Connection) Unmute() { c.muted = false }

func (c *Connection) Close(flush bool) {
	if c.closed {
		return
	}
	c.flush(flush)
	c.muted = true

	if !c.shared && c.conn != nil {
		if err := c.conn.Close(); err != nil && c.log != nil {
			c.log.WithError(err).Debug("failed closing connection socket")
		}
	}

	c.closed = true
}

func (c *Connection) SetLossFactor(f LossFactor) { c.netLossFactor = clampLossFactor(f) }

func (c *Connection) GetStatistics() Statistics { return c.stats }

func (c *Connection) GetFullAddress() string {
	if c.remote == nil {
		return ""
	}
	return c.remote.String()
}
