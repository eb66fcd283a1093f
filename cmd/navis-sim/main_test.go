package main

import (
	"context"
	"testing"
	"time"
)

func TestRunInvalidConfig(t *testing.T) {
	t.Setenv("NAVIS_CONFIG", "/nonexistent/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := run(ctx, 0.15, 100*time.Millisecond); err == nil {
		t.Fatal("expected error with nonexistent config")
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("NAVIS_CONFIG", "")
	if got := getConfigPath(); got != defaultConfigPath {
		t.Errorf("got %q, want %q", got, defaultConfigPath)
	}

	t.Setenv("NAVIS_CONFIG", "/tmp/custom.yaml")
	if got := getConfigPath(); got != "/tmp/custom.yaml" {
		t.Errorf("got %q, want /tmp/custom.yaml", got)
	}
}
