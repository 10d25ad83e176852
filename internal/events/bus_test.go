package events

import (
	"encoding/json"
	"sync"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	bus := New()
	received := make(chan SessionStateChangedEvent, 1)

	unsub := bus.Subscribe(func(e SessionStateChangedEvent) {
		received <- e
	})
	defer unsub()

	event := SessionStateChangedEvent{
		SessionID: "session-1",
		From:      "negotiating",
		To:        "streaming",
		Timestamp: "2025-01-27T10:30:00Z",
	}
	bus.Publish(event)

	got := <-received
	if got != event {
		t.Errorf("Expected %+v, got %+v", event, got)
	}
}

func TestBus_MultipleSubscribers(_ *testing.T) {
	bus := New()
	received1 := make(chan SessionEndedEvent, 1)
	received2 := make(chan SessionEndedEvent, 1)

	unsub1 := bus.Subscribe(func(e SessionEndedEvent) {
		received1 <- e
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(e SessionEndedEvent) {
		received2 <- e
	})
	defer unsub2()

	bus.Publish(SessionEndedEvent{SessionID: "test"})

	<-received1
	<-received2
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New()
	received := make(chan FrameDroppedEvent, 1)

	unsub := bus.Subscribe(func(e FrameDroppedEvent) {
		received <- e
	})

	bus.Publish(FrameDroppedEvent{Reason: "first"})
	<-received

	unsub()

	bus.Publish(FrameDroppedEvent{Reason: "second"})
	select {
	case <-received:
		t.Fatal("Should not have received event after unsubscribe")
	case <-time.After(10 * time.Millisecond):
		// Expected - no event
	}
}

func TestBus_TypeSafety(t *testing.T) {
	bus := New()

	stateReceived := make(chan bool, 1)
	formatReceived := make(chan bool, 1)

	unsub1 := bus.Subscribe(func(_ SessionStateChangedEvent) {
		stateReceived <- true
	})
	defer unsub1()

	unsub2 := bus.Subscribe(func(_ FormatNegotiatedEvent) {
		formatReceived <- true
	})
	defer unsub2()

	bus.Publish(SessionStateChangedEvent{To: "streaming"})
	<-stateReceived

	select {
	case <-formatReceived:
		t.Fatal("Format subscriber should NOT have received SessionStateChangedEvent")
	case <-time.After(10 * time.Millisecond):
	}

	bus.Publish(FormatNegotiatedEvent{Width: 640, Height: 480})
	<-formatReceived

	select {
	case <-stateReceived:
		t.Fatal("State subscriber should NOT have received FormatNegotiatedEvent")
	case <-time.After(10 * time.Millisecond):
	}
}

func TestBus_ThreadSafety(_ *testing.T) {
	bus := New()
	var wg sync.WaitGroup
	numGoroutines := 10
	eventsPerGoroutine := 100
	expected := numGoroutines * eventsPerGoroutine

	receivedCh := make(chan bool, expected)

	unsub := bus.Subscribe(func(_ FrameDroppedEvent) {
		receivedCh <- true
	})
	defer unsub()

	for range numGoroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range eventsPerGoroutine {
				bus.Publish(FrameDroppedEvent{
					Reason:    "stage",
					Timestamp: time.Now().Format(time.RFC3339),
				})
			}
		}()
	}

	wg.Wait()

	for range expected {
		<-receivedCh
	}
}

func TestBus_AllEventTypes(t *testing.T) {
	bus := New()

	tests := []struct {
		name  string
		event Event
	}{
		{"SessionStateChanged", SessionStateChangedEvent{To: "closed"}},
		{"FormatNegotiated", FormatNegotiatedEvent{PixelFormat: "RGBA"}},
		{"FrameDropped", FrameDroppedEvent{Reason: "test"}},
		{"SessionEnded", SessionEndedEvent{SessionID: "test"}},
		{"LogEntry", LogEntryEvent{Message: "hello"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			received := make(chan Event, 1)

			var unsub func()
			switch tt.event.(type) {
			case SessionStateChangedEvent:
				unsub = bus.Subscribe(func(e SessionStateChangedEvent) { received <- e })
			case FormatNegotiatedEvent:
				unsub = bus.Subscribe(func(e FormatNegotiatedEvent) { received <- e })
			case FrameDroppedEvent:
				unsub = bus.Subscribe(func(e FrameDroppedEvent) { received <- e })
			case SessionEndedEvent:
				unsub = bus.Subscribe(func(e SessionEndedEvent) { received <- e })
			case LogEntryEvent:
				unsub = bus.Subscribe(func(e LogEntryEvent) { received <- e })
			}
			defer unsub()

			bus.Publish(tt.event)
			<-received
		})
	}
}

func TestBus_NilPublish(_ *testing.T) {
	var bus *Bus
	bus.Publish(SessionEndedEvent{SessionID: "ignored"})
}

func TestEventJSONSerialization(t *testing.T) {
	tests := []struct {
		name  string
		event any
		key   string
	}{
		{
			"SessionStateChangedEvent",
			SessionStateChangedEvent{SessionID: "s", From: "created", To: "connecting", Timestamp: "2025-01-27T10:30:00Z"},
			"to",
		},
		{
			"FormatNegotiatedEvent",
			FormatNegotiatedEvent{SessionID: "s", Width: 1920, Height: 1080, PixelFormat: "BGRx"},
			"pixel_format",
		},
		{
			"SessionEndedEvent",
			SessionEndedEvent{SessionID: "s", FramesSent: 10},
			"frames_sent",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Failed to marshal: %v", err)
			}

			var result map[string]any
			if unmarshalErr := json.Unmarshal(data, &result); unmarshalErr != nil {
				t.Fatalf("Failed to unmarshal: %v", unmarshalErr)
			}

			if _, ok := result[tt.key]; !ok {
				t.Errorf("Missing key %q in %s", tt.key, data)
			}
		})
	}
}

func TestSessionEndedEvent_OmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(SessionEndedEvent{SessionID: "s"})
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}
	var result map[string]any
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if _, ok := result["error"]; ok {
		t.Errorf("clean shutdown should omit error, got %s", data)
	}
}

func TestSubscribeToChannel(t *testing.T) {
	bus := New()
	ch := make(chan any, 10)

	unsub := SubscribeToChannel[FormatNegotiatedEvent](bus, ch)
	defer unsub()

	event := FormatNegotiatedEvent{SessionID: "s", Width: 320, Height: 240}
	bus.Publish(event)

	received := <-ch
	got, ok := received.(FormatNegotiatedEvent)
	if !ok {
		t.Fatalf("Expected FormatNegotiatedEvent, got %T", received)
	}
	if got != event {
		t.Errorf("Expected %+v, got %+v", event, got)
	}
}

func TestSubscribeToChannel_NonBlocking(_ *testing.T) {
	bus := New()
	ch := make(chan any) // No buffer

	unsub := SubscribeToChannel[SessionStateChangedEvent](bus, ch)
	defer unsub()

	done := make(chan bool, 1)
	go func() {
		bus.Publish(SessionStateChangedEvent{To: "draining"})
		done <- true
	}()

	<-done // Should complete without blocking
}
