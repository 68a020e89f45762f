package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const settingsLogPrefix = "config:settings"

// UnsetUserID marks an environment whose user id was never configured.
const UnsetUserID = -1

// Default environment names.
const (
	EnvProduction = "production"
	EnvStaging    = "staging"
)

// ErrUnknownEnvironment is returned when selecting an environment that is
// not defined.
var ErrUnknownEnvironment = errors.New("unknown environment")

// Settings are the connection settings of one environment.
type Settings struct {
	UserID   int    `yaml:"userId"`
	QueueURL string `yaml:"queueUrl"`
}

// UnmarshalYAML treats an omitted userId as unset rather than zero.
func (s *Settings) UnmarshalYAML(node *yaml.Node) error {
	type plain Settings
	p := plain{UserID: UnsetUserID}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*s = Settings(p)
	return nil
}

// Configured reports whether both the user id and the queue URL are set.
func (s Settings) Configured() bool {
	return s.UserID != UnsetUserID && s.QueueURL != ""
}

// SettingsFile is the on-disk set of named environments.
type SettingsFile struct {
	Active       string              `yaml:"active"`
	Environments map[string]Settings `yaml:"environments"`
}

// DefaultSettingsFile returns unconfigured production and staging
// environments with production active.
func DefaultSettingsFile() *SettingsFile {
	return &SettingsFile{
		Active: EnvProduction,
		Environments: map[string]Settings{
			EnvProduction: {UserID: UnsetUserID},
			EnvStaging:    {UserID: UnsetUserID},
		},
	}
}

// ActiveSettings returns the active environment's settings. An unknown
// active name yields unconfigured settings.
func (f *SettingsFile) ActiveSettings() Settings {
	if s, ok := f.Environments[f.Active]; ok {
		return s
	}
	return Settings{UserID: UnsetUserID}
}

// Names returns the environment names, sorted.
func (f *SettingsFile) Names() []string {
	names := make([]string, 0, len(f.Environments))
	for n := range f.Environments {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ParseSettingsFile decodes a settings file, filling in defaults.
func ParseSettingsFile(data []byte) (*SettingsFile, error) {
	f := &SettingsFile{}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, err
	}
	if f.Environments == nil {
		f.Environments = DefaultSettingsFile().Environments
	}
	if f.Active == "" {
		f.Active = EnvProduction
	}
	return f, nil
}

// ResolveSettingsPath picks the settings file to use. It tries paths in
// order: first any paths passed in, then BRIDGE_SETTINGS_FILE env, then
// defaults. The first existing file wins; when none exists the first
// candidate is returned so it can be created.
func ResolveSettingsPath(paths ...string) string {
	all := make([]string, 0, len(paths)+3)
	for _, p := range paths {
		if p != "" {
			all = append(all, p)
		}
	}
	if envPath := os.Getenv("BRIDGE_SETTINGS_FILE"); envPath != "" {
		all = append(all, envPath)
	}
	all = append(all, "config/settings.yaml", "settings.yaml")

	for _, p := range all {
		if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
			return p
		}
	}
	return all[0]
}

// SettingsStore serves the active settings from a file, re-reading it when
// its modification time changes.
type SettingsStore struct {
	path string

	mu      sync.Mutex
	file    *SettingsFile
	modTime time.Time
	loaded  bool
}

// NewSettingsStore creates a store over path. The file need not exist.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Path returns the backing file path.
func (s *SettingsStore) Path() string {
	return s.path
}

// Active returns the settings of the active environment.
func (s *SettingsStore) Active() (Settings, error) {
	f, err := s.Load()
	if err != nil {
		return Settings{UserID: UnsetUserID}, err
	}
	return f.ActiveSettings(), nil
}

// Load returns the current settings file. A missing file yields defaults. A
// file that fails to parse keeps the last good contents and reports the
// error.
func (s *SettingsStore) Load() (*SettingsFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.loaded && !s.modTime.IsZero() {
				slog.Info(fmt.Sprintf("%s - Settings file %s removed, using defaults", settingsLogPrefix, s.path))
			}
			s.file, s.modTime, s.loaded = DefaultSettingsFile(), time.Time{}, true
			return s.copyFile(), nil
		}
		return nil, fmt.Errorf("%s - stat %s: %w", settingsLogPrefix, s.path, err)
	}
	if s.loaded && info.ModTime().Equal(s.modTime) {
		return s.copyFile(), nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("%s - read %s: %w", settingsLogPrefix, s.path, err)
	}
	f, err := ParseSettingsFile(data)
	if err != nil {
		if s.loaded {
			slog.Warn(fmt.Sprintf("%s - Failed to parse settings file %s, keeping previous: %v", settingsLogPrefix, s.path, err))
			return s.copyFile(), nil
		}
		return nil, fmt.Errorf("%s - parse %s: %w", settingsLogPrefix, s.path, err)
	}

	slog.Info(fmt.Sprintf("%s - Loaded settings from %s (active=%s)", settingsLogPrefix, s.path, f.Active))
	s.file, s.modTime, s.loaded = f, info.ModTime(), true
	return s.copyFile(), nil
}

// SetActive selects the active environment and saves the file.
func (s *SettingsStore) SetActive(name string) error {
	return s.update(func(f *SettingsFile) error {
		if _, ok := f.Environments[name]; !ok {
			return fmt.Errorf("%s: %w", name, ErrUnknownEnvironment)
		}
		f.Active = name
		return nil
	})
}

// SetEnvironment creates or replaces an environment and saves the file.
func (s *SettingsStore) SetEnvironment(name string, settings Settings) error {
	if name == "" {
		return fmt.Errorf("%s - environment name is required", settingsLogPrefix)
	}
	return s.update(func(f *SettingsFile) error {
		f.Environments[name] = settings
		return nil
	})
}

func (s *SettingsStore) update(fn func(f *SettingsFile) error) error {
	f, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		return err
	}
	return s.Save(f)
}

// Save writes f to the backing file.
func (s *SettingsStore) Save(f *SettingsFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("%s - encode settings: %w", settingsLogPrefix, err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%s - create %s: %w", settingsLogPrefix, dir, err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("%s - write %s: %w", settingsLogPrefix, s.path, err)
	}

	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
	slog.Info(fmt.Sprintf("%s - Saved settings to %s", settingsLogPrefix, s.path))
	return nil
}

func (s *SettingsStore) copyFile() *SettingsFile {
	out := &SettingsFile{Active: s.file.Active, Environments: make(map[string]Settings, len(s.file.Environments))}
	for k, v := range s.file.Environments {
		out.Environments[k] = v
	}
	return out
}
