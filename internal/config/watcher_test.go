package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const testConfigTemplate = `
server:
  address: %q

upstreams:
  - id: backend
    targets:
      - id: backend-1
        url: http://localhost:8080

routes:
  - id: test-route
    methods: [GET]
    paths: ["/api/test"]
    upstream_id: backend
    enabled: true
`

func writeTestConfig(t *testing.T, path, address string) {
	t.Helper()
	if address == "" {
		address = ":9090"
	}
	content := fmt.Sprintf(testConfigTemplate, address)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
}

func TestWatcherLoadsInitialConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	writeTestConfig(t, path, "")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if w.GetConfig() == nil {
		t.Fatal("expected an initial config to be loaded")
	}
	if w.GetConfig().Server.Address != ":9090" {
		t.Errorf("expected address :9090, got %s", w.GetConfig().Server.Address)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	writeTestConfig(t, path, ":9090")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	w.SetDebounce(20 * time.Millisecond)
	defer w.Stop()

	changed := make(chan *Config, 1)
	w.OnChange(func(cfg *Config) {
		changed <- cfg
	})

	if err := w.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	writeTestConfig(t, path, ":9191")

	select {
	case cfg := <-changed:
		if cfg.Server.Address != ":9191" {
			t.Errorf("expected reloaded address :9191, got %s", cfg.Server.Address)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload callback")
	}

	if w.GetConfig().Server.Address != ":9191" {
		t.Errorf("GetConfig should reflect the reloaded value, got %s", w.GetConfig().Server.Address)
	}
}

func TestWatcherReloadIgnoresInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	writeTestConfig(t, path, ":9090")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	if err := os.WriteFile(path, []byte("not: valid: yaml: ["), 0o644); err != nil {
		t.Fatalf("failed to write invalid config: %v", err)
	}

	w.reload()

	if w.GetConfig().Server.Address != ":9090" {
		t.Error("an invalid reload must not replace the last good config")
	}
}

func TestWatcherManualReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.yaml")
	writeTestConfig(t, path, ":9090")

	w, err := NewWatcher(path)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	writeTestConfig(t, path, ":9292")

	called := make(chan struct{}, 1)
	w.OnChange(func(cfg *Config) { called <- struct{}{} })

	w.Reload()

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for manual reload callback")
	}
	if w.GetConfig().Server.Address != ":9292" {
		t.Errorf("expected :9292 after manual reload, got %s", w.GetConfig().Server.Address)
	}
}
