package flightlog

import "testing"

func TestNewPublisherWithEmptyBrokerDisablesPublishing(t *testing.T) {
	p, err := NewPublisher("", "dronenav/telemetry")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Publish must be a safe no-op with no client configured.
	p.Publish(map[string]int{"x": 1})
	p.Close()
}
