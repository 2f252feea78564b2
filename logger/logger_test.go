package logger

import (
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

func TestConfigureInvalidFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid format")
	}
}

func TestPipelineCounters(t *testing.T) {
	before := snapshotCounters()
	IncrementSignalReceived()
	IncrementOrderPlaced()
	IncrementOrderSimulated()
	IncrementRetryCount()
	after := snapshotCounters()

	if after.signalsReceived != before.signalsReceived+1 {
		t.Errorf("signals received not incremented")
	}
	if after.ordersPlaced != before.ordersPlaced+1 {
		t.Errorf("orders placed not incremented")
	}
	if after.ordersSimulated != before.ordersSimulated+1 {
		t.Errorf("orders simulated not incremented")
	}
	if after.retries != before.retries+1 {
		t.Errorf("retry count not incremented")
	}
}
