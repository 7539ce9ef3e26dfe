package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, path, doc string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
}

func TestWatcher_InitialLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, minimalYAML)

	w, err := NewWatcher(path, nil, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	cfg := w.Current()
	if cfg == nil || cfg.Database.URL == "" {
		t.Fatalf("Current() = %+v, want loaded config", cfg)
	}
}

func TestWatcher_InitialLoadFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, "server: [not a mapping]")

	if _, err := NewWatcher(path, nil); err == nil {
		t.Fatal("expected error for invalid initial config")
	}
}

func TestWatcher_DetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, minimalYAML)

	var mu sync.Mutex
	var gotOld, gotNew *Config
	onChange := func(old, new *Config) {
		mu.Lock()
		defer mu.Unlock()
		gotOld, gotNew = old, new
	}

	w, err := NewWatcher(path, onChange, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	// Push the mtime forward explicitly; coarse filesystem timestamps can
	// otherwise hide a quick rewrite.
	writeConfigFile(t, path, minimalYAML+"\nserver:\n  log_level: debug\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		done := gotNew != nil
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("watcher did not observe the change")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if gotOld.Server.LogLevel != LogInfo {
		t.Errorf("old log level = %q, want info", gotOld.Server.LogLevel)
	}
	if gotNew.Server.LogLevel != LogDebug {
		t.Errorf("new log level = %q, want debug", gotNew.Server.LogLevel)
	}
	if w.Current().Server.LogLevel != LogDebug {
		t.Errorf("Current() not updated after change")
	}
}

func TestWatcher_KeepsOldConfigOnInvalidEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, minimalYAML)

	var mu sync.Mutex
	changed := false
	w, err := NewWatcher(path, func(_, _ *Config) {
		mu.Lock()
		changed = true
		mu.Unlock()
	}, WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer w.Stop()

	writeConfigFile(t, path, "database:\n  url: ''\n")
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if changed {
		t.Error("onChange fired for an invalid config")
	}
	if w.Current().Database.URL == "" {
		t.Error("Current() lost the last valid config")
	}
}

func TestWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfigFile(t, path, minimalYAML)

	w, err := NewWatcher(path, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	w.Stop()
	w.Stop()
}
