package logger

import (
	"os"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestCountersSnapshot(t *testing.T) {
	before := Counters()
	IncrementEventCollected("rest", 128)
	IncrementEventDeduped()
	IncrementActionEmitted()
	IncrementClaimSubmitted()
	IncrementHedgeOrder()
	after := Counters()

	if after.EventsCollected != before.EventsCollected+1 {
		t.Fatalf("events_collected not incremented: %+v", after)
	}
	if after.EventsDeduped != before.EventsDeduped+1 {
		t.Fatalf("events_deduped not incremented: %+v", after)
	}
	if after.ActionsEmitted != before.ActionsEmitted+1 {
		t.Fatalf("actions_emitted not incremented: %+v", after)
	}
	if after.ClaimsSubmitted != before.ClaimsSubmitted+1 {
		t.Fatalf("claims_submitted not incremented: %+v", after)
	}
	if after.HedgeOrders != before.HedgeOrders+1 {
		t.Fatalf("hedge_orders not incremented: %+v", after)
	}
}
