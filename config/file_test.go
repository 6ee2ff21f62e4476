package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyFileConfig_BasicKeys(t *testing.T) {
	cfg := Default("node1")
	values := map[string]string{
		"server.host":    "10.0.0.5",
		"server.port":    "9191",
		"sync.timeout":   "2.5",
		"vote.enabled":   "true",
		"vote.threshold": "0.8",
		"log.level":      "debug",
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if cfg.Server.Host != "10.0.0.5" || cfg.Server.Port != 9191 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Sync.Timeout != 2500*time.Millisecond {
		t.Errorf("sync.timeout = %v, want 2.5s", cfg.Sync.Timeout)
	}
	if !cfg.Vote.Enabled || cfg.Vote.Threshold != 0.8 {
		t.Errorf("vote = %+v", cfg.Vote)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log.level = %q", cfg.Log.Level)
	}
}

func TestApplyFileConfig_InitialState(t *testing.T) {
	cfg := Default("node1")
	values := map[string]string{
		"initial_state.alice.balance": "100",
		"initial_state.alice.stake":   "10",
		"initial_state.bob.balance":   "50",
	}
	if err := ApplyFileConfig(cfg, values); err != nil {
		t.Fatalf("ApplyFileConfig: %v", err)
	}
	if cfg.InitialState["alice"] != (AccountAlloc{Balance: 100, Stake: 10}) {
		t.Errorf("alice alloc = %+v", cfg.InitialState["alice"])
	}
	if cfg.InitialState["bob"] != (AccountAlloc{Balance: 50, Stake: 0}) {
		t.Errorf("bob alloc = %+v", cfg.InitialState["bob"])
	}
}

func TestApplyFileConfig_UnknownKeyIgnored(t *testing.T) {
	cfg := Default("node1")
	if err := ApplyFileConfig(cfg, map[string]string{"mystery.key": "x"}); err != nil {
		t.Fatalf("unknown keys should be silently ignored: %v", err)
	}
}

func TestLoadFile_MissingFileReturnsEmpty(t *testing.T) {
	values, err := LoadFile(filepath.Join(t.TempDir(), "missing.conf"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("expected empty map, got %v", values)
	}
}

func TestLoadFile_ParsesKeyValueLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "node.conf")
	content := "# comment\nserver.host = 127.0.0.1\nserver.port = 9090\n\nnode.id = \"alice\"\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}

	values, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if values["server.host"] != "127.0.0.1" || values["server.port"] != "9090" {
		t.Fatalf("values = %v", values)
	}
	if values["node.id"] != "alice" {
		t.Fatalf("quoted value not stripped: %q", values["node.id"])
	}
}
