package telemetry

import (
	"context"
	"testing"
)

func TestInit_MetricsEnabled(t *testing.T) {
	tel, err := Init(context.Background(), Config{MetricsEnabled: true})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	families, err := tel.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) == 0 {
		t.Error("expected runtime collectors to be registered")
	}
}

func TestInit_MetricsDisabled(t *testing.T) {
	tel, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	families, err := tel.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	if len(families) != 0 {
		t.Errorf("expected an empty registry, got %d families", len(families))
	}
}

func TestShutdown_NoTraces(t *testing.T) {
	tel, err := Init(context.Background(), Config{})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown with no tracer provider: %v", err)
	}
}
