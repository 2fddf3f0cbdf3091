package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":8585" {
		t.Errorf("unexpected default addr %q", cfg.Server.Addr)
	}
	if cfg.Search.TTL != time.Hour || cfg.Search.Capacity != 1000 {
		t.Errorf("unexpected search defaults: %+v", cfg.Search)
	}
	if cfg.Tasks.Workers != 4 {
		t.Errorf("unexpected worker default %d", cfg.Tasks.Workers)
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "annostore.yaml")
	raw := []byte("server:\n  addr: ':9999'\nsearch:\n  page_size: 50\nlog:\n  level: debug\n")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("override not applied, got %q", cfg.Server.Addr)
	}
	if cfg.Search.PageSize != 50 {
		t.Errorf("override not applied, got %d", cfg.Search.PageSize)
	}
	if cfg.Search.Capacity != 1000 {
		t.Errorf("untouched field lost its default, got %d", cfg.Search.Capacity)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("override not applied, got %q", cfg.Log.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/annostore.yaml"); err == nil {
		t.Fatal("expected an error for a missing explicit config path")
	}
}
