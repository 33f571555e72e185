package eventbus

import (
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe(DocumentDone, received)

	bus.Publish(Event{
		Type:       DocumentDone,
		DocumentID: "d1",
		Data:       map[string]string{"source": "https://example.com/a"},
	})

	select {
	case evt := <-received:
		if evt.Type != DocumentDone {
			t.Errorf("expected %s, got %s", DocumentDone, evt.Type)
		}
		if evt.DocumentID != "d1" {
			t.Errorf("expected document d1, got %s", evt.DocumentID)
		}
		if evt.Timestamp.IsZero() {
			t.Error("expected publish to stamp the event")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10)
	ch2 := make(chan Event, 10)
	bus.Subscribe(DocumentFailed, ch1)
	bus.Subscribe(DocumentFailed, ch2)

	bus.Publish(Event{Type: DocumentFailed, DocumentID: "d2"})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	doneCh := make(chan Event, 10)
	dlqCh := make(chan Event, 10)
	bus.Subscribe(DocumentDone, doneCh)
	bus.Subscribe(DocumentDLQ, dlqCh)

	bus.Publish(Event{Type: DocumentDone, DocumentID: "d3"})

	select {
	case <-doneCh:
	case <-time.After(time.Second):
		t.Fatal("done subscriber did not receive event")
	}

	select {
	case <-dlqCh:
		t.Fatal("dlq subscriber should NOT receive document.done event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}
