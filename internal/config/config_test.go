package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bcdn-project/bcdn/internal/jobqueue"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bcdn.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
[cache]
bind = "127.0.0.1:8080"
root_path = "/var/lib/bcdn"

[entries.distro]
base_url = "https://mirror.example/distro/"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Cache.MaxDownloads != 4 {
		t.Errorf("MaxDownloads = %d, want default 4", cfg.Cache.MaxDownloads)
	}
	e := cfg.Entries["distro"]
	if len(e.Patterns) != 1 || e.Patterns[0] != "*" {
		t.Errorf("Patterns = %v, want default [\"*\"]", e.Patterns)
	}
	policy, err := cfg.Cache.OnFailurePolicy()
	if err != nil || policy != jobqueue.OnFailureDrop {
		t.Errorf("OnFailurePolicy() = (%v, %v), want (OnFailureDrop, nil)", policy, err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() expected an error for a missing file")
	}
}

func TestValidateRejectsBadEntryName(t *testing.T) {
	path := writeConfig(t, `
[cache]
bind = "127.0.0.1:8080"
root_path = "/var/lib/bcdn"

[entries."bad name"]
base_url = "https://mirror.example/"
`)

	if _, err := Load(path); err == nil {
		t.Error("Load() expected an error for an entry name with a space")
	}
}

func TestValidateRejectsRelativeBaseURL(t *testing.T) {
	path := writeConfig(t, `
[cache]
bind = "127.0.0.1:8080"
root_path = "/var/lib/bcdn"

[entries.distro]
base_url = "mirror.example/distro"
`)

	if _, err := Load(path); err == nil {
		t.Error("Load() expected an error for a non-absolute base_url")
	}
}

func TestValidateRejectsUnknownOnFailurePolicy(t *testing.T) {
	path := writeConfig(t, `
[cache]
bind = "127.0.0.1:8080"
root_path = "/var/lib/bcdn"
on_failure = "explode"
`)

	if _, err := Load(path); err == nil {
		t.Error("Load() expected an error for an unknown on_failure policy")
	}
}
