package main

import (
	"testing"

	dto "github.com/prometheus/client_model/go"
)

func TestMetricsConnectionsIncrements(t *testing.T) {
	m := NewMetrics()

	m.Connections.Inc()
	m.Connections.Inc()

	var out dto.Metric
	if err := m.Connections.Write(&out); err != nil {
		t.Fatalf("Write failed: %s", err)
	}
	if got := out.GetCounter().GetValue(); got != 2 {
		t.Errorf("Connections = %v, wanted 2", got)
	}
}

func TestNewMetricsUsesOwnRegistry(t *testing.T) {
	// Building two independent pools' metrics must not panic on duplicate
	// registration against the global default registry.
	NewMetrics()
	NewMetrics()
}
