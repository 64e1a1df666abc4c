package events

import (
	"testing"
	"time"
)

func TestBusFiltersByKey(t *testing.T) {
	bus := NewBus(4)
	alerts, cancelAlerts := bus.Subscribe("priceAlerts")
	defer cancelAlerts()
	all, cancelAll := bus.Subscribe()
	defer cancelAll()

	bus.Publish("watchlist", "test")
	bus.Publish("priceAlerts", "test")

	select {
	case ch := <-alerts:
		if ch.Key != "priceAlerts" {
			t.Fatalf("expected priceAlerts change, got %s", ch.Key)
		}
	case <-time.After(time.Second):
		t.Fatal("alerts subscriber should receive its key")
	}
	select {
	case ch := <-alerts:
		t.Fatalf("alerts subscriber should not receive %s", ch.Key)
	default:
	}

	if got := len(all); got != 2 {
		t.Fatalf("wildcard subscriber should receive both changes, got %d", got)
	}
}

func TestBusDropsWhenFull(t *testing.T) {
	bus := NewBus(1)
	_, cancel := bus.Subscribe()
	defer cancel()

	bus.Publish("a", "test")
	bus.Publish("b", "test")

	if bus.Dropped() != 1 {
		t.Fatalf("expected one dropped event, got %d", bus.Dropped())
	}
}

func TestBusCancelAndClose(t *testing.T) {
	bus := NewBus(1)
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatal("cancelled subscription should be closed")
	}

	other, _ := bus.Subscribe()
	bus.Close()
	if _, ok := <-other; ok {
		t.Fatal("Close should close remaining subscriptions")
	}
	bus.Publish("a", "test")

	late, _ := bus.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("subscribing after Close should yield a closed channel")
	}
}
