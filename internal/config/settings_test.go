package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeSettings(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("config:settings_test - write: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("config:settings_test - chtimes: %v", err)
	}
}

func TestParseSettingsFile(t *testing.T) {
	f, err := ParseSettingsFile([]byte(`
active: staging
environments:
  production:
    userId: 7
    queueUrl: redis://prod:6379/0
  staging:
    queueUrl: redis://staging:6379/0
`))
	if err != nil {
		t.Fatalf("config:settings_test - parse: %v", err)
	}
	if f.Active != EnvStaging {
		t.Errorf("config:settings_test - Active = %q, want staging", f.Active)
	}
	if got := f.Environments[EnvProduction]; got.UserID != 7 || got.QueueURL != "redis://prod:6379/0" {
		t.Errorf("config:settings_test - production = %+v", got)
	}
	staging := f.ActiveSettings()
	if staging.UserID != UnsetUserID {
		t.Errorf("config:settings_test - omitted userId = %d, want %d", staging.UserID, UnsetUserID)
	}
	if staging.Configured() {
		t.Error("config:settings_test - staging without userId should be unconfigured")
	}
	if got := f.Names(); len(got) != 2 || got[0] != EnvProduction || got[1] != EnvStaging {
		t.Errorf("config:settings_test - Names = %v", got)
	}
}

func TestParseSettingsFile_Empty(t *testing.T) {
	f, err := ParseSettingsFile(nil)
	if err != nil {
		t.Fatalf("config:settings_test - parse: %v", err)
	}
	if f.Active != EnvProduction {
		t.Errorf("config:settings_test - Active = %q, want production", f.Active)
	}
	if len(f.Environments) != 2 {
		t.Errorf("config:settings_test - expected default environments, got %v", f.Names())
	}
}

func TestSettings_Configured(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
		want bool
	}{
		{"both set", Settings{UserID: 1, QueueURL: "redis://x"}, true},
		{"user zero", Settings{UserID: 0, QueueURL: "redis://x"}, true},
		{"unset user", Settings{UserID: UnsetUserID, QueueURL: "redis://x"}, false},
		{"no url", Settings{UserID: 1}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.s.Configured(); got != tt.want {
				t.Errorf("config:settings_test - Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSettingsStore_MissingFileUsesDefaults(t *testing.T) {
	store := NewSettingsStore(filepath.Join(t.TempDir(), "settings.yaml"))

	s, err := store.Active()
	if err != nil {
		t.Fatalf("config:settings_test - Active: %v", err)
	}
	if s.Configured() {
		t.Errorf("config:settings_test - defaults should be unconfigured, got %+v", s)
	}
}

func TestSettingsStore_ReloadsOnModTimeChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeSettings(t, path, "environments:\n  production:\n    userId: 1\n    queueUrl: memory://a\n", base)

	store := NewSettingsStore(path)
	s, err := store.Active()
	if err != nil {
		t.Fatalf("config:settings_test - Active: %v", err)
	}
	if s.UserID != 1 || s.QueueURL != "memory://a" {
		t.Fatalf("config:settings_test - first load = %+v", s)
	}

	writeSettings(t, path, "environments:\n  production:\n    userId: 2\n    queueUrl: memory://b\n", base.Add(time.Minute))
	s, err = store.Active()
	if err != nil {
		t.Fatalf("config:settings_test - Active: %v", err)
	}
	if s.UserID != 2 || s.QueueURL != "memory://b" {
		t.Errorf("config:settings_test - reload = %+v", s)
	}
}

func TestSettingsStore_KeepsLastGoodOnParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	base := time.Now().Add(-time.Hour).Truncate(time.Second)
	writeSettings(t, path, "environments:\n  production:\n    userId: 1\n    queueUrl: memory://a\n", base)

	store := NewSettingsStore(path)
	if _, err := store.Active(); err != nil {
		t.Fatalf("config:settings_test - Active: %v", err)
	}

	writeSettings(t, path, "environments: [unclosed\n", base.Add(time.Minute))
	s, err := store.Active()
	if err != nil {
		t.Fatalf("config:settings_test - expected last good settings, got %v", err)
	}
	if s.UserID != 1 {
		t.Errorf("config:settings_test - UserID = %d, want 1", s.UserID)
	}
}

func TestSettingsStore_InitialParseError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	writeSettings(t, path, "environments: [unclosed\n", time.Now())

	if _, err := NewSettingsStore(path).Active(); err == nil {
		t.Error("config:settings_test - expected parse error")
	}
}

func TestSettingsStore_SetEnvironmentAndActive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	store := NewSettingsStore(path)

	if err := store.SetEnvironment("dev", Settings{UserID: 9, QueueURL: "redis://localhost:6379"}); err != nil {
		t.Fatalf("config:settings_test - SetEnvironment: %v", err)
	}
	if err := store.SetActive("dev"); err != nil {
		t.Fatalf("config:settings_test - SetActive: %v", err)
	}
	if err := store.SetActive("nope"); !errors.Is(err, ErrUnknownEnvironment) {
		t.Errorf("config:settings_test - SetActive(nope) = %v, want ErrUnknownEnvironment", err)
	}

	reopened := NewSettingsStore(path)
	f, err := reopened.Load()
	if err != nil {
		t.Fatalf("config:settings_test - Load: %v", err)
	}
	if f.Active != "dev" {
		t.Errorf("config:settings_test - Active = %q, want dev", f.Active)
	}
	if got := f.ActiveSettings(); got.UserID != 9 || got.QueueURL != "redis://localhost:6379" {
		t.Errorf("config:settings_test - dev = %+v", got)
	}
	if _, ok := f.Environments[EnvProduction]; !ok {
		t.Error("config:settings_test - defaults should be kept when adding an environment")
	}
}

func TestResolveSettingsPath(t *testing.T) {
	t.Setenv("BRIDGE_SETTINGS_FILE", "")
	dir := t.TempDir()
	existing := filepath.Join(dir, "exists.yaml")
	writeSettings(t, existing, "active: production\n", time.Now())
	missing := filepath.Join(dir, "missing.yaml")

	if got := ResolveSettingsPath(missing, existing); got != existing {
		t.Errorf("config:settings_test - ResolveSettingsPath = %q, want %q", got, existing)
	}
	if got := ResolveSettingsPath(missing); got != missing {
		t.Errorf("config:settings_test - ResolveSettingsPath = %q, want first candidate %q", got, missing)
	}

	t.Setenv("BRIDGE_SETTINGS_FILE", existing)
	if got := ResolveSettingsPath(missing); got != existing {
		t.Errorf("config:settings_test - env path not used: %q", got)
	}
}
