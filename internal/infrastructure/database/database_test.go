package database

import (
	"context"
	"path/filepath"
	"testing"
)

func tempConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Path:        filepath.Join(t.TempDir(), "navis.db"),
		WALMode:     true,
		BusyTimeout: 5,
	}
}

func TestOpenCreatesDatabase(t *testing.T) {
	db, err := Open(tempConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if err := db.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestOpenCreatesDirectory(t *testing.T) {
	cfg := Config{
		Path:        filepath.Join(t.TempDir(), "nested", "dir", "navis.db"),
		BusyTimeout: 1,
	}
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()

	if got := db.Path(); got != cfg.Path {
		t.Errorf("Path() = %q, want %q", got, cfg.Path)
	}
}

func TestCloseIsIdempotentOnNil(t *testing.T) {
	db := &DB{}
	if err := db.Close(); err != nil {
		t.Errorf("Close() on zero DB error = %v", err)
	}
}

func TestHealthCheckAfterClose(t *testing.T) {
	db, err := Open(tempConfig(t))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() after Close should fail")
	}
}
