package events

import (
	"testing"
	"time"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus(Config{BufferSize: 4})

	ch, cancel := bus.Subscribe(TypeGateOpened)
	defer cancel()

	bus.Publish(TypeGateOpened, "reason")
	bus.Publish(TypeGateClosed, nil) // not subscribed, must not be delivered

	select {
	case evt := <-ch:
		if evt.Type != TypeGateOpened {
			t.Errorf("Type = %s, want %s", evt.Type, TypeGateOpened)
		}
		if evt.Payload != "reason" {
			t.Errorf("Payload = %v, want %q", evt.Payload, "reason")
		}
		if evt.ID == "" {
			t.Error("event ID should not be empty")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	select {
	case evt := <-ch:
		t.Fatalf("unexpected event delivered: %s", evt.Type)
	default:
	}
}

func TestBusSubscribeAll(t *testing.T) {
	bus := NewBus(Config{BufferSize: 4})

	ch, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish(TypeMetricsCollected, nil)
	bus.Publish(TypeRoutingUpdated, nil)

	got := make([]Type, 0, 2)
	for i := 0; i < 2; i++ {
		select {
		case evt := <-ch:
			got = append(got, evt.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	if got[0] != TypeMetricsCollected || got[1] != TypeRoutingUpdated {
		t.Errorf("received %v, want [metrics.collected routing.updated]", got)
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus(Config{BufferSize: 1})

	_, cancel := bus.Subscribe(TypeGateOpened)
	defer cancel()

	// First fills the buffer, second must be dropped without blocking.
	bus.Publish(TypeGateOpened, nil)
	bus.Publish(TypeGateOpened, nil)

	if dropped := bus.DroppedCount(); dropped != 1 {
		t.Errorf("DroppedCount() = %d, want 1", dropped)
	}
}

func TestBusCancelRemovesSubscription(t *testing.T) {
	bus := NewBus(Config{})

	ch, cancel := bus.Subscribe(TypeGateOpened)
	if bus.SubscriberCount() != 1 {
		t.Fatalf("SubscriberCount() = %d, want 1", bus.SubscriberCount())
	}

	cancel()

	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", bus.SubscriberCount())
	}

	// Channel must be closed after cancel.
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after cancel")
	}

	// Cancel twice must not panic.
	cancel()
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus(Config{BufferSize: 256})

	ch, cancel := bus.Subscribe(TypeMetricsCollected)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			bus.Publish(TypeMetricsCollected, i)
		}
		close(done)
	}()

	received := 0
	timeout := time.After(2 * time.Second)
	for received < 100 {
		select {
		case <-ch:
			received++
		case <-timeout:
			t.Fatalf("received %d events before timeout, want 100", received)
		}
	}
	<-done
}

func TestBusCloseClosesAllSubscriptions(t *testing.T) {
	bus := NewBus(Config{})

	ch1, cancel1 := bus.Subscribe(TypeGateOpened)
	ch2, _ := bus.Subscribe()
	defer cancel1()

	bus.Close()

	if bus.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", bus.SubscriberCount())
	}
	if _, ok := <-ch1; ok {
		t.Error("ch1 should be closed after Close")
	}
	if _, ok := <-ch2; ok {
		t.Error("ch2 should be closed after Close")
	}

	// Publish after Close is a no-op, Close twice must not panic.
	bus.Publish(TypeGateOpened, nil)
	bus.Close()
}
