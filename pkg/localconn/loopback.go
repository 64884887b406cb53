package localconn

import (
	"net"

	"github.com/gammazero/deque"

	"chunklink/pkg/transport"
)

// Loopback is a dummy queue-like peer that never delivers anywhere:
// whatever is sent into it sits there until read back out by the same
// caller. Useful for driving application code that expects a
// transport.Peer without an actual counterpart.
type Loopback struct {
	queue deque.Deque
}

func NewLoopback() *Loopback { return &Loopback{} }

func (l *Loopback) SendData(msg []byte) error {
	cp := make([]byte, len(msg))
	copy(cp, msg)
	l.queue.PushBack(cp)
	return nil
}

func (l *Loopback) Peek(i int) []byte {
	if i < 0 || i >= l.queue.Len() {
		return nil
	}
	return l.queue.At(i).([]byte)
}

func (l *Loopback) GetData() []byte {
	if l.queue.Len() == 0 {
		return nil
	}
	return l.queue.PopFront().([]byte)
}

func (l *Loopback) DeleteBufferPacketAt(i int) {
	if i < 0 || i >= l.queue.Len() {
		return
	}
	rebuilt := make([][]byte, 0, l.queue.Len()-1)
	for j := 0; j < l.queue.Len(); j++ {
		if j == i {
			continue
		}
		rebuilt = append(rebuilt, l.queue.At(j).([]byte))
	}
	l.queue.Clear()
	for _, item := range rebuilt {
		l.queue.PushBack(item)
	}
}

func (l *Loopback) HasIncomingData() bool { return l.queue.Len() > 0 }
func (l *Loopback) GetPacketQueueSize() int { return l.queue.Len() }

func (l *Loopback) Update()           {}
func (l *Loopback) Flush(forced bool) {}

func (l *Loopback) CheckTimeout(seconds int32, initial bool) bool { return false }
func (l *Loopback) NeedsReconnect() bool                          { return false }
func (l *Loopback) CanReconnect() bool                            { return false }
func (l *Loopback) ReconnectTo(other transport.Peer) error        { return nil }

func (l *Loopback) Unmute()                              {}
func (l *Loopback) Close(flush bool)                     {}
func (l *Loopback) SetLossFactor(f transport.LossFactor) {}

func (l *Loopback) GetStatistics() transport.Statistics { return transport.Statistics{} }
func (l *Loopback) GetFullAddress() string              { return "loopback" }
func (l *Loopback) RemoteAddr() net.Addr                { return loopbackAddr{} }

type loopbackAddr struct{}

func (loopbackAddr) Network() string { return "loopback" }
func (loopbackAddr) String() string  { return "loopback" }
