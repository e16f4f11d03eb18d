package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingGivesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := Load(filepath.Join(tmpDir, "wabridge.toml"), tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.MaxReconnectAttempts)
	}
	if cfg.RetryDelay() != 5*time.Second {
		t.Errorf("RetryDelay = %v, want 5s", cfg.RetryDelay())
	}
	if cfg.MediaDir != filepath.Join(tmpDir, "media") {
		t.Errorf("MediaDir = %q, want under data dir", cfg.MediaDir)
	}
}

func TestLoadOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "wabridge.toml")
	content := "max_reconnect_attempts = 2\nreconnect_delay = \"250ms\"\nlisten_addr = \"0.0.0.0:9000\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, tmpDir)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.MaxReconnectAttempts != 2 {
		t.Errorf("MaxReconnectAttempts = %d, want 2", cfg.MaxReconnectAttempts)
	}
	if cfg.RetryDelay() != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 250ms", cfg.RetryDelay())
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	// Unset fields keep defaults.
	if cfg.HistoryChunkSize != 100 {
		t.Errorf("HistoryChunkSize = %d, want 100", cfg.HistoryChunkSize)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "wabridge.toml")
	if err := os.WriteFile(path, []byte("history_chunk_size = 0\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path, tmpDir); err == nil {
		t.Error("Load() expected error for zero chunk size")
	}
}

func TestUserPaths(t *testing.T) {
	cfg := Default("/var/lib/wabridge")
	if got := cfg.CredentialDBPath("42"); got != "/var/lib/wabridge/users/42/session.db" {
		t.Errorf("CredentialDBPath = %q", got)
	}
	if got := cfg.AppDBPath(); got != "/var/lib/wabridge/wabridge.db" {
		t.Errorf("AppDBPath = %q", got)
	}
}
