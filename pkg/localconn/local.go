// Package localconn implements two transport.Peer variants that skip
// the network entirely: Local, a same-process client/server pair that
// hand messages to each other through a pair of mutex-guarded queues,
// and Loopback, a single-sided bounce queue useful for exercising
// application code without a peer at all.
package localconn

import (
	"net"
	"sync"

	"github.com/gammazero/deque"
	"github.com/pkg/errors"

	"chunklink/pkg/registry"
	"chunklink/pkg/transport"
)

const maxLocalInstances = 2

var errInvalidLocalPacket = errors.New("localconn: outgoing message failed protocol validation")

var (
	localMu      [maxLocalInstances]sync.Mutex
	localQueues  [maxLocalInstances]deque.Deque
	localNumUsed int
)

// Local is one side of a same-process connection pair: messages sent on
// one side are delivered directly into the other side's queue, guarded
// by a per-slot mutex since the two sides may run on different
// goroutines. There may be at most two live instances at a time,
// mirroring a single client/server pair.
type Local struct {
	proto    *registry.Table
	instance int

	bytesSent uint64
	bytesRecv uint64
}

// NewLocal claims the next of the two local connection slots. Call it
// exactly twice per logical pair (once for each side); a third call
// panics, since there is no third party to pair it with.
func NewLocal(proto *registry.Table) *Local {
	if localNumUsed >= maxLocalInstances {
		panic("localconn: at most two Local instances may exist at once")
	}

	idx := localNumUsed
	localNumUsed++

	localMu[idx].Lock()
	localQueues[idx].Clear()
	localMu[idx].Unlock()

	return &Local{proto: proto, instance: idx}
}

// ResetLocalInstances releases both local connection slots. Intended
// for tests that construct several pairs in sequence.
func ResetLocalInstances() {
	for i := range localQueues {
		localMu[i].Lock()
		localQueues[i].Clear()
		localMu[i].Unlock()
	}
	localNumUsed = 0
}

func (l *Local) remoteInstance() int { return (l.instance + 1) % maxLocalInstances }

func (l *Local) SendData(msg []byte) error {
	if l.proto != nil && !l.proto.IsValidPacket(msg) {
		return errInvalidLocalPacket
	}

	cp := make([]byte, len(msg))
	copy(cp, msg)
	l.bytesSent += uint64(len(cp))

	remote := l.remoteInstance()
	localMu[remote].Lock()
	localQueues[remote].PushBack(cp)
	localMu[remote].Unlock()
	return nil
}

func (l *Local) GetData() []byte {
	localMu[l.instance].Lock()
	defer localMu[l.instance].Unlock()

	q := &localQueues[l.instance]
	if q.Len() == 0 {
		return nil
	}
	msg := q.PopFront().([]byte)
	l.bytesRecv += uint64(len(msg))
	return msg
}

func (l *Local) Peek(i int) []byte {
	localMu[l.instance].Lock()
	defer localMu[l.instance].Unlock()

	q := &localQueues[l.instance]
	if i < 0 || i >= q.Len() {
		return nil
	}
	return q.At(i).([]byte)
}

func (l *Local) DeleteBufferPacketAt(i int) {
	localMu[l.instance].Lock()
	defer localMu[l.instance].Unlock()

	q := &localQueues[l.instance]
	if i < 0 || i >= q.Len() {
		return
	}

	rebuilt := make([][]byte, 0, q.Len()-1)
	for j := 0; j < q.Len(); j++ {
		if j == i {
			continue
		}
		rebuilt = append(rebuilt, q.At(j).([]byte))
	}
	q.Clear()
	for _, item := range rebuilt {
		q.PushBack(item)
	}
}

func (l *Local) HasIncomingData() bool {
	localMu[l.instance].Lock()
	defer localMu[l.instance].Unlock()
	return localQueues[l.instance].Len() > 0
}

// GetPacketQueueSize reports the actual number of queued messages.
func (l *Local) GetPacketQueueSize() int {
	localMu[l.instance].Lock()
	defer localMu[l.instance].Unlock()
	return localQueues[l.instance].Len()
}

func (l *Local) Update()                                       {}
func (l *Local) Flush(forced bool)                             {}
func (l *Local) CheckTimeout(seconds int32, initial bool) bool { return false }
func (l *Local) NeedsReconnect() bool                          { return false }
func (l *Local) CanReconnect() bool                            { return false }
func (l *Local) ReconnectTo(other transport.Peer) error        { return nil }
func (l *Local) Unmute()                                       {}

func (l *Local) Close(flush bool) {
	if !flush {
		return
	}
	localMu[l.instance].Lock()
	localQueues[l.instance].Clear()
	localMu[l.instance].Unlock()
}

func (l *Local) SetLossFactor(f transport.LossFactor) {}

func (l *Local) GetStatistics() transport.Statistics {
	return transport.Statistics{BytesSent: l.bytesSent, BytesRecv: l.bytesRecv}
}

func (l *Local) GetFullAddress() string   { return "localhost" }
func (l *Local) RemoteAddr() net.Addr     { return localAddr{} }

type localAddr struct{}

func (localAddr) Network() string { return "local" }
func (localAddr) String() string  { return "localhost" }
