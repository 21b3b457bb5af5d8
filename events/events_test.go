package events

import "testing"

func TestEmitDeliversToDirectListener(t *testing.T) {
	b := New()
	var got Event
	b.On(Insert, func(e Event) { got = e })
	b.Emit(Event{Kind: Insert, ID: "1"})
	if got.ID != "1" || got.Kind != Insert {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestMutationEventsAlsoFireChange(t *testing.T) {
	b := New()
	var changeCount int
	b.On(Change, func(e Event) { changeCount++ })
	b.Emit(Event{Kind: Insert})
	b.Emit(Event{Kind: Update})
	b.Emit(Event{Kind: Remove})
	b.Emit(Event{Kind: Stats})
	if changeCount != 3 {
		t.Fatalf("expected 3 change deliveries for insert/update/remove, got %d", changeCount)
	}
}

func TestOffUnsubscribes(t *testing.T) {
	b := New()
	count := 0
	off := b.On(Hit, func(e Event) { count++ })
	b.Emit(Event{Kind: Hit})
	off()
	b.Emit(Event{Kind: Hit})
	if count != 1 {
		t.Fatalf("expected listener to fire once before unsubscribe, got %d", count)
	}
}

func TestUnsubscribeInRegistrationOrderDoesNotShiftOtherHandles(t *testing.T) {
	b := New()
	var aCount, bCount int
	offA := b.On(Hit, func(e Event) { aCount++ })
	offB := b.On(Hit, func(e Event) { bCount++ })

	offA()
	offB()
	b.Emit(Event{Kind: Hit})

	if aCount != 0 || bCount != 0 {
		t.Fatalf("expected both listeners gone, got aCount=%d bCount=%d", aCount, bCount)
	}
}

func TestDetachRemovesAllListeners(t *testing.T) {
	b := New()
	count := 0
	b.On(Clear, func(e Event) { count++ })
	b.Detach()
	b.Emit(Event{Kind: Clear})
	if count != 0 {
		t.Fatalf("expected no listeners after Detach, got %d calls", count)
	}
}
