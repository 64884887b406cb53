package localconn

import (
	"testing"

	"chunklink/pkg/registry"
)

func testProto() *registry.Table {
	t := registry.New()
	t.AddType(1, 4)
	return t
}

func TestLocalPairDeliversAcrossInstances(t *testing.T) {
	ResetLocalInstances()
	defer ResetLocalInstances()

	a := NewLocal(testProto())
	b := NewLocal(testProto())

	if err := a.SendData([]byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendData: %v", err)
	}

	if !b.HasIncomingData() {
		t.Fatal("expected b to have data sent by a")
	}
	got := b.GetData()
	if len(got) != 4 || got[0] != 1 {
		t.Fatalf("unexpected message: %v", got)
	}
	if a.HasIncomingData() {
		t.Fatal("a should not see its own outgoing message")
	}
}

func TestLocalThirdInstancePanics(t *testing.T) {
	ResetLocalInstances()
	defer ResetLocalInstances()

	NewLocal(testProto())
	NewLocal(testProto())

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic on the third Local instance")
		}
	}()
	NewLocal(testProto())
}

func TestLocalSendDataRejectsInvalidMessage(t *testing.T) {
	ResetLocalInstances()
	defer ResetLocalInstances()

	a := NewLocal(testProto())
	NewLocal(testProto())

	if err := a.SendData([]byte{9, 9}); err == nil {
		t.Fatal("expected an error for a message the protocol table rejects")
	}
}

func TestLocalPeekAndDelete(t *testing.T) {
	ResetLocalInstances()
	defer ResetLocalInstances()

	a := NewLocal(testProto())
	b := NewLocal(testProto())

	a.SendData([]byte{1, 1, 1, 1})
	a.SendData([]byte{1, 2, 2, 2})

	if b.GetPacketQueueSize() != 2 {
		t.Fatalf("expected 2 queued messages, got %d", b.GetPacketQueueSize())
	}

	peeked := b.Peek(1)
	if peeked[1] != 2 {
		t.Fatalf("unexpected peeked message: %v", peeked)
	}

	b.DeleteBufferPacketAt(0)
	if b.GetPacketQueueSize() != 1 {
		t.Fatalf("expected 1 queued message after delete, got %d", b.GetPacketQueueSize())
	}
	remaining := b.GetData()
	if remaining[1] != 2 {
		t.Fatalf("unexpected remaining message: %v", remaining)
	}
}

func TestLocalCloseWithoutFlushKeepsQueue(t *testing.T) {
	ResetLocalInstances()
	defer ResetLocalInstances()

	a := NewLocal(testProto())
	b := NewLocal(testProto())

	a.SendData([]byte{1, 1, 1, 1})
	b.Close(false)

	if !b.HasIncomingData() {
		t.Fatal("Close(false) must not clear the queue")
	}

	b.Close(true)
	if b.HasIncomingData() {
		t.Fatal("Close(true) must clear the queue")
	}
}

func TestLocalStatisticsTrackBytes(t *testing.T) {
	ResetLocalInstances()
	defer ResetLocalInstances()

	a := NewLocal(testProto())
	b := NewLocal(testProto())

	a.SendData([]byte{1, 1, 1, 1})
	b.GetData()

	if a.GetStatistics().BytesSent != 4 {
		t.Fatalf("expected 4 bytes sent, got %d", a.GetStatistics().BytesSent)
	}
	if b.GetStatistics().BytesRecv != 4 {
		t.Fatalf("expected 4 bytes received, got %d", b.GetStatistics().BytesRecv)
	}
}
