package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
)

var (
	ErrStorageWrite       = errors.New("failed to write preferences")
	ErrInvalidKey         = errors.New("invalid preference key")
	ErrPreferencesTooBig  = errors.New("preferences file too large")
	ErrSymlinkNotAllowed  = errors.New("symlinks not allowed for preference files")
	preferenceKeyRegex    = regexp.MustCompile(`^[a-z0-9_.-]{1,64}$`)
	maxPreferenceFileSize = int64(1024 * 1024)
)

const preferencesFile = "preferences.json"

// Well-known preference keys.
const (
	KeyNotificationsEnabled   = "notifications_enabled"
	KeyNotificationPermission = "notification_permission"
	KeyLastProject            = "last_project"
)

// PreferenceStore is a small persistent key-value store for user
// preference flags.
type PreferenceStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// JSONFilePreferences keeps preferences in a single JSON object under
// baseDir. Writes are atomic.
type JSONFilePreferences struct {
	baseDir string

	mu     sync.RWMutex
	values map[string]string
}

func validateKey(key string) error {
	if !preferenceKeyRegex.MatchString(key) {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

func NewJSONFilePreferences(baseDir string) (*JSONFilePreferences, error) {
	if err := os.MkdirAll(baseDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create preferences directory: %w", err)
	}

	// Verify permissions if it already existed
	if info, err := os.Stat(baseDir); err == nil && info.Mode().Perm()&0o077 != 0 {
		_ = os.Chmod(baseDir, 0o700)
	}

	p := &JSONFilePreferences{baseDir: baseDir, values: make(map[string]string)}
	if err := p.Reload(); err != nil {
		return nil, err
	}
	return p, nil
}

// DefaultBaseDir is $ORBITLINK_BASE_DIR, or ~/.orbitlink.
func DefaultBaseDir() string {
	if dir := os.Getenv("ORBITLINK_BASE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".orbitlink"
	}
	return filepath.Join(home, ".orbitlink")
}

func (p *JSONFilePreferences) Path() string {
	return filepath.Join(p.baseDir, preferencesFile)
}

// Reload replaces the in-memory values with the file's contents. A missing
// file is an empty store.
func (p *JSONFilePreferences) Reload() error {
	values, err := p.read()
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.values = values
	p.mu.Unlock()
	return nil
}

func (p *JSONFilePreferences) read() (map[string]string, error) {
	path := p.Path()
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to stat preferences: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, ErrSymlinkNotAllowed
	}
	if info.Size() > maxPreferenceFileSize {
		return nil, ErrPreferencesTooBig
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read preferences: %w", err)
	}
	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse preferences: %w", err)
	}
	return values, nil
}

func (p *JSONFilePreferences) Get(key string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	v, ok := p.values[key]
	return v, ok
}

func (p *JSONFilePreferences) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.values[key]; ok && old == value {
		return nil
	}
	next := cloneValues(p.values)
	next[key] = value
	if err := p.writeLocked(next); err != nil {
		return err
	}
	p.values = next
	return nil
}

func (p *JSONFilePreferences) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.values[key]; !ok {
		return nil
	}
	next := cloneValues(p.values)
	delete(next, key)
	if err := p.writeLocked(next); err != nil {
		return err
	}
	p.values = next
	return nil
}

func (p *JSONFilePreferences) writeLocked(values map[string]string) error {
	jsonData, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}

	f, err := os.CreateTemp(p.baseDir, preferencesFile+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	tmpName := f.Name()
	_ = os.Chmod(tmpName, 0o600)

	defer func() {
		if f != nil {
			f.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := f.Write(jsonData); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := f.Close(); err != nil {
		f = nil
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	f = nil

	if err := os.Rename(tmpName, p.Path()); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	return nil
}

func cloneValues(in map[string]string) map[string]string {
	out := make(map[string]string, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}

// BoolPreference reads key as a boolean, returning def when it is unset or
// unparseable.
func BoolPreference(store PreferenceStore, key string, def bool) bool {
	v, ok := store.Get(key)
	if !ok {
		return def
	}
	switch v {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

func SetBoolPreference(store PreferenceStore, key string, value bool) error {
	if value {
		return store.Set(key, "true")
	}
	return store.Set(key, "false")
}

// MemoryPreferences is a PreferenceStore that is never persisted.
type MemoryPreferences struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryPreferences() *MemoryPreferences {
	return &MemoryPreferences{values: make(map[string]string)}
}

func (m *MemoryPreferences) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryPreferences) Set(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryPreferences) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
