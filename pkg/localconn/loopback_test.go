package localconn

import "testing"

func TestLoopbackEchoesWhatWasSent(t *testing.T) {
	l := NewLoopback()

	if l.HasIncomingData() {
		t.Fatal("new loopback should start empty")
	}

	l.SendData([]byte{1, 2, 3})
	if !l.HasIncomingData() {
		t.Fatal("expected data after SendData")
	}
	if l.GetPacketQueueSize() != 1 {
		t.Fatalf("expected queue size 1, got %d", l.GetPacketQueueSize())
	}

	got := l.GetData()
	if len(got) != 3 || got[2] != 3 {
		t.Fatalf("unexpected message: %v", got)
	}
	if l.HasIncomingData() {
		t.Fatal("queue should be empty after draining")
	}
}

func TestLoopbackPeekAndDeleteBufferPacketAt(t *testing.T) {
	l := NewLoopback()
	l.SendData([]byte{1})
	l.SendData([]byte{2})
	l.SendData([]byte{3})

	if peeked := l.Peek(1); peeked[0] != 2 {
		t.Fatalf("unexpected peek: %v", peeked)
	}

	l.DeleteBufferPacketAt(1)
	if l.GetPacketQueueSize() != 2 {
		t.Fatalf("expected 2 remaining, got %d", l.GetPacketQueueSize())
	}
	if first := l.GetData(); first[0] != 1 {
		t.Fatalf("unexpected first message: %v", first)
	}
	if second := l.GetData(); second[0] != 3 {
		t.Fatalf("unexpected second message: %v", second)
	}
}

func TestLoopbackLifecycleNoOps(t *testing.T) {
	l := NewLoopback()
	l.Update()
	l.Flush(true)
	l.Unmute()

	if l.CheckTimeout(30, true) {
		t.Fatal("loopback never times out")
	}
	if l.NeedsReconnect() || l.CanReconnect() {
		t.Fatal("loopback never reconnects")
	}
	if err := l.ReconnectTo(nil); err != nil {
		t.Fatal("ReconnectTo must be a no-op")
	}
	if l.GetFullAddress() != "loopback" {
		t.Fatalf("unexpected address: %s", l.GetFullAddress())
	}
}
