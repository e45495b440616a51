package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Memory.MaxItems != 200 || cfg.Memory.InjectChars != 2000 {
		t.Fatalf("memory defaults wrong: %+v", cfg.Memory)
	}
	if cfg.DrainTimeoutSeconds != 10 {
		t.Fatalf("DrainTimeoutSeconds = %d, want 10", cfg.DrainTimeoutSeconds)
	}
	if cfg.DataDir == "" {
		t.Fatal("DataDir empty")
	}
}

func TestLoadParsesYAMLAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_WARDEN_TOKEN", "tok-123")
	dir := t.TempDir()
	path := filepath.Join(dir, "warden.yaml")
	content := `
data_dir: ` + dir + `
discord:
  token: $TEST_WARDEN_TOKEN
  guild_id: "42"
provider:
  model: some-model
labels:
  channels: ["c1", "c2"]
  debounce_seconds: 3
jobs:
  - name: standup
    schedule: "0 9 * * *"
    channel_id: c1
    message: "daily standup"
drain_timeout_seconds: 5
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Discord.Token != "tok-123" {
		t.Fatalf("token = %q, env not expanded", cfg.Discord.Token)
	}
	if cfg.Discord.GuildID != "42" {
		t.Fatalf("guild id = %q", cfg.Discord.GuildID)
	}
	if cfg.Provider.Model != "some-model" {
		t.Fatalf("model = %q", cfg.Provider.Model)
	}
	if len(cfg.Labels.Channels) != 2 || cfg.Labels.DebounceSeconds != 3 {
		t.Fatalf("labels = %+v", cfg.Labels)
	}
	if len(cfg.Jobs) != 1 || cfg.Jobs[0].Schedule != "0 9 * * *" {
		t.Fatalf("jobs = %+v", cfg.Jobs)
	}
	if cfg.DrainTimeoutSeconds != 5 {
		t.Fatalf("DrainTimeoutSeconds = %d", cfg.DrainTimeoutSeconds)
	}
	// Defaults survive a partial file.
	if cfg.Memory.MaxItems != 200 {
		t.Fatalf("MaxItems default lost: %d", cfg.Memory.MaxItems)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := Default()
	cfg.DataDir = "/data/warden"
	if got := cfg.InFlightLogPath(); got != "/data/warden/inflight.json" {
		t.Errorf("InFlightLogPath = %q", got)
	}
	if got := cfg.DBPath(); got != "/data/warden/warden.db" {
		t.Errorf("DBPath = %q", got)
	}
	if got := cfg.MemoryDir(); got != "/data/warden/memory" {
		t.Errorf("MemoryDir = %q", got)
	}
}
