package events

import "testing"

func TestFireDispatchesOnlyRegisteredType(t *testing.T) {
	m := NewManager()

	var connectCount, messageCount int
	m.On(Connect, func(e Event) { connectCount++ })
	m.On(Message, func(e Event) { messageCount++ })

	m.Fire(Event{Type: Connect})
	m.Fire(Event{Type: Connect})
	m.Fire(Event{Type: Message})

	if connectCount != 2 {
		t.Fatalf("expected 2 connect dispatches, got %d", connectCount)
	}
	if messageCount != 1 {
		t.Fatalf("expected 1 message dispatch, got %d", messageCount)
	}
}

func TestFireWithNoHandlersIsANoOp(t *testing.T) {
	m := NewManager()
	m.Fire(Event{Type: Disconnect}) // must not panic
}

func TestMultipleHandlersForSameTypeAllRun(t *testing.T) {
	m := NewManager()
	var calls []int
	m.On(Message, func(e Event) { calls = append(calls, 1) })
	m.On(Message, func(e Event) { calls = append(calls, 2) })

	m.Fire(Event{Type: Message})

	if len(calls) != 2 || calls[0] != 1 || calls[1] != 2 {
		t.Fatalf("expected both handlers to run in registration order, got %v", calls)
	}
}
