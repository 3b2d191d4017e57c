package notify

import "testing"

func TestBusFansOut(t *testing.T) {
	bus := New()

	var a, b []Event
	bus.Subscribe(func(e Event) { a = append(a, e) })
	bus.Subscribe(func(e Event) { b = append(b, e) })

	bus.Publish(Event{Kind: KindError, Title: "Sync failed"})
	bus.Publish(Event{Kind: KindInfo, Title: "Mail sent"})

	if len(a) != 2 || len(b) != 2 {
		t.Fatalf("deliveries = %d/%d, want 2/2", len(a), len(b))
	}
	if a[0].Kind != KindError || a[1].Kind != KindInfo {
		t.Errorf("events delivered out of order: %+v", a)
	}
}

func TestBusNoSubscribers(t *testing.T) {
	// Publishing with no subscribers is a no-op, not a panic.
	New().Publish(Event{Kind: KindSuccess, Title: "noop"})
}
