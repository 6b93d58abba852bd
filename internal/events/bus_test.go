package events

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/friendsincode/mpvremote/internal/telemetry"
)

func TestBusPublishSubscribe(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventStatus)
	other := bus.Subscribe(EventSessionEnd)

	bus.Publish(EventStatus, Payload{"running": true})

	select {
	case p := <-sub:
		if p["running"] != true {
			t.Fatalf("unexpected payload %v", p)
		}
	default:
		t.Fatal("expected payload on status subscriber")
	}
	select {
	case p := <-other:
		t.Fatalf("unexpected payload on session.end subscriber: %v", p)
	default:
	}
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe(EventStatus)

	for i := 0; i < cap(sub)+5; i++ {
		bus.Publish(EventStatus, Payload{"i": i})
	}
	if len(sub) != cap(sub) {
		t.Fatalf("expected full buffer, got %d/%d", len(sub), cap(sub))
	}
}

func TestBusUnsubscribe(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(EventStatus)
	b := bus.Subscribe(EventStatus)

	bus.Unsubscribe(EventStatus, a)
	if _, ok := <-a; ok {
		t.Fatal("expected unsubscribed channel to be closed")
	}
	if n := bus.Subscribers(EventStatus); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	// A second unsubscribe must not panic on the closed channel.
	bus.Unsubscribe(EventStatus, a)

	bus.Publish(EventStatus, Payload{})
	if len(b) != 1 {
		t.Fatal("remaining subscriber should still receive events")
	}
}

func TestBusPublishReportsDeliveries(t *testing.T) {
	bus := NewBus()
	if n := bus.Publish(EventSessionStart, Payload{}); n != 0 {
		t.Fatalf("no subscribers, delivered %d", n)
	}
	sub := bus.Subscribe(EventSessionStart)
	for i := 0; i < cap(sub); i++ {
		bus.Publish(EventSessionStart, Payload{})
	}
	before := testutil.ToFloat64(telemetry.EventsDroppedTotal.WithLabelValues(string(EventSessionStart)))
	if n := bus.Publish(EventSessionStart, Payload{}); n != 0 {
		t.Fatalf("full subscriber should not receive, delivered %d", n)
	}
	after := testutil.ToFloat64(telemetry.EventsDroppedTotal.WithLabelValues(string(EventSessionStart)))
	if after-before != 1 {
		t.Fatalf("expected one counted drop, got %v", after-before)
	}
}

func TestBusClose(t *testing.T) {
	bus := NewBus()
	a := bus.Subscribe(EventStatus)
	b := bus.Subscribe(EventSessionEnd)

	bus.Close()
	for _, sub := range []Subscriber{a, b} {
		if _, ok := <-sub; ok {
			t.Fatal("expected closed subscriber")
		}
	}
	bus.Close()
	bus.Unsubscribe(EventStatus, a)

	late := bus.Subscribe(EventStatus)
	if _, ok := <-late; ok {
		t.Fatal("subscribing after close should return a closed channel")
	}
	if n := bus.Publish(EventStatus, Payload{}); n != 0 {
		t.Fatalf("publish after close delivered %d", n)
	}
}
