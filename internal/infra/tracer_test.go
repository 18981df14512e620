package infra

import (
	"context"
	"testing"

	"schema-migration-service/config"
)

func TestInitTracer_Disabled(t *testing.T) {
	cfg := &config.Config{OtelEnabled: false}

	shutdown, err := InitTracer(context.Background(), cfg, "test")
	if err != nil {
		t.Fatalf("InitTracer failed: %v", err)
	}
	if shutdown == nil {
		t.Fatal("expected shutdown func, got nil")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown failed: %v", err)
	}
}
