package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultMatchesDocumentedTunables(t *testing.T) {
	d := Default()
	if d.ThreadpoolSize != 10 {
		t.Fatalf("ThreadpoolSize = %d, want 10", d.ThreadpoolSize)
	}
	if d.HeartbeatInterval.Duration() != 5*time.Minute {
		t.Fatalf("HeartbeatInterval = %s, want 5m", d.HeartbeatInterval.Duration())
	}
}

func TestLoadOverridesOnlyProvidedFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.yaml")
	body := "threadpoolSize: 25\nheartbeatInterval: 1m\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got.ThreadpoolSize != 25 {
		t.Fatalf("ThreadpoolSize = %d, want 25", got.ThreadpoolSize)
	}
	if got.HeartbeatInterval.Duration() != time.Minute {
		t.Fatalf("HeartbeatInterval = %s, want 1m", got.HeartbeatInterval.Duration())
	}
	// PollingLimit was not in the file; must keep its default.
	if got.PollingLimit != Default().PollingLimit {
		t.Fatalf("PollingLimit = %d, want default %d", got.PollingLimit, Default().PollingLimit)
	}
}

func TestLoadRejectsMalformedDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.yaml")
	if err := os.WriteFile(path, []byte("heartbeatInterval: not-a-duration\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a malformed duration")
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
