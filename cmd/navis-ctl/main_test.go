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

	if err := run(ctx); err == nil {
		t.Fatal("expected error with nonexistent config")
	}
}

func TestPathEndsStopped(t *testing.T) {
	last := path[len(path)-1]
	if last.omega != 0 {
		t.Errorf("last scripted leg turns, omega = %v", last.omega)
	}
}
