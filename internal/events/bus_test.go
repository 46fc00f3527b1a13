package events

import (
	"testing"
	"time"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestBus_SubscribeByType(t *testing.T) {
	bus := NewBus()
	got := make(chan Event, 1)
	bus.Subscribe(EventConsensusDetected, func(ev Event) { got <- ev })

	bus.PublishError("consensus", "boom")
	bus.PublishConsensusDetected("ev-1", "SBER", "long", 2, 64)

	ev := waitEvent(t, got)
	if ev.Type != EventConsensusDetected {
		t.Errorf("type = %q, the ERROR event must not reach this subscriber", ev.Type)
	}
	if ev.Data["ticker"] != "SBER" {
		t.Errorf("ticker = %v, want SBER", ev.Data["ticker"])
	}
	if ev.Timestamp.IsZero() {
		t.Error("publish must stamp the event")
	}
}

func TestBus_PublishErrorReachesSubscribers(t *testing.T) {
	bus := NewBus()
	typed := make(chan Event, 1)
	all := make(chan Event, 1)
	bus.Subscribe(EventError, func(ev Event) { typed <- ev })
	bus.SubscribeAll(func(ev Event) { all <- ev })

	bus.PublishError("backtest", "provider unreachable")

	for _, ch := range []<-chan Event{typed, all} {
		ev := waitEvent(t, ch)
		if ev.Type != EventError {
			t.Errorf("type = %q, want %q", ev.Type, EventError)
		}
		if ev.Data["component"] != "backtest" || ev.Data["message"] != "provider unreachable" {
			t.Errorf("payload = %v, want component and message", ev.Data)
		}
	}
}
