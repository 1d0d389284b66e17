package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewJSONFilePreferences(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "prefs")
	prefs, err := NewJSONFilePreferences(tmpDir)
	if err != nil {
		t.Fatalf("NewJSONFilePreferences failed: %v", err)
	}

	info, err := os.Stat(tmpDir)
	if err != nil {
		t.Fatalf("expected base directory to be created: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("expected mode 0700, got %o", info.Mode().Perm())
	}
	if _, ok := prefs.Get(KeyLastProject); ok {
		t.Error("expected empty store")
	}
}

func TestDefaultBaseDir(t *testing.T) {
	t.Setenv("ORBITLINK_BASE_DIR", "")
	dir := DefaultBaseDir()
	if dir == "" {
		t.Error("expected non-empty default base dir")
	}
	if !filepath.IsAbs(dir) && dir != ".orbitlink" {
		t.Errorf("expected absolute path or fallback, got %q", dir)
	}
}

func TestDefaultBaseDir_EnvOverride(t *testing.T) {
	baseDir := t.TempDir()
	t.Setenv("ORBITLINK_BASE_DIR", baseDir)
	if dir := DefaultBaseDir(); dir != baseDir {
		t.Errorf("expected base dir %q, got %q", baseDir, dir)
	}
}

func TestJSONFilePreferences_SetPersists(t *testing.T) {
	tmpDir := t.TempDir()
	prefs, _ := NewJSONFilePreferences(tmpDir)

	if err := prefs.Set(KeyLastProject, "proj-1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := SetBoolPreference(prefs, KeyNotificationsEnabled, false); err != nil {
		t.Fatalf("SetBoolPreference failed: %v", err)
	}

	info, err := os.Stat(prefs.Path())
	if err != nil {
		t.Fatalf("expected preferences file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("expected mode 0600, got %o", info.Mode().Perm())
	}

	reopened, err := NewJSONFilePreferences(tmpDir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if v, _ := reopened.Get(KeyLastProject); v != "proj-1" {
		t.Errorf("expected last_project proj-1, got %q", v)
	}
	if BoolPreference(reopened, KeyNotificationsEnabled, true) {
		t.Error("expected notifications_enabled to persist as false")
	}

	entries, _ := os.ReadDir(tmpDir)
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestJSONFilePreferences_Delete(t *testing.T) {
	prefs, _ := NewJSONFilePreferences(t.TempDir())
	_ = prefs.Set(KeyLastProject, "proj-1")

	if err := prefs.Delete(KeyLastProject); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok := prefs.Get(KeyLastProject); ok {
		t.Error("expected key to be deleted")
	}
	if err := prefs.Delete(KeyLastProject); err != nil {
		t.Errorf("deleting a missing key should be a no-op, got %v", err)
	}
}

func TestJSONFilePreferences_InvalidKey(t *testing.T) {
	prefs, _ := NewJSONFilePreferences(t.TempDir())
	for _, key := range []string{"", "../escape", "UPPER", "has space"} {
		if err := prefs.Set(key, "x"); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("Set(%q) err = %v, want ErrInvalidKey", key, err)
		}
	}
}

func TestJSONFilePreferences_RejectsSymlink(t *testing.T) {
	tmpDir := t.TempDir()
	target := filepath.Join(t.TempDir(), "elsewhere.json")
	if err := os.WriteFile(target, []byte(`{}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink(target, filepath.Join(tmpDir, preferencesFile)); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if _, err := NewJSONFilePreferences(tmpDir); !errors.Is(err, ErrSymlinkNotAllowed) {
		t.Errorf("expected ErrSymlinkNotAllowed, got %v", err)
	}
}

func TestJSONFilePreferences_CorruptFile(t *testing.T) {
	tmpDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(tmpDir, preferencesFile), []byte("{not json"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := NewJSONFilePreferences(tmpDir); err == nil {
		t.Error("expected parse error for corrupt preferences")
	}
}

func TestBoolPreference_Defaults(t *testing.T) {
	prefs := NewMemoryPreferences()
	if !BoolPreference(prefs, KeyNotificationsEnabled, true) {
		t.Error("unset key should return the default")
	}
	_ = prefs.Set(KeyNotificationsEnabled, "maybe")
	if BoolPreference(prefs, KeyNotificationsEnabled, false) {
		t.Error("unparseable value should return the default")
	}
	_ = prefs.Set(KeyNotificationsEnabled, "0")
	if BoolPreference(prefs, KeyNotificationsEnabled, true) {
		t.Error("expected \"0\" to parse as false")
	}
}

func TestJSONFilePreferences_WatchReloads(t *testing.T) {
	tmpDir := t.TempDir()
	prefs, _ := NewJSONFilePreferences(tmpDir)
	other, _ := NewJSONFilePreferences(tmpDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- prefs.Watch(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}, nil)
	}()

	// Keep writing until the watcher has registered and seen one.
	deadline := time.After(5 * time.Second)
	for {
		if err := other.Set(KeyLastProject, time.Now().Format(time.RFC3339Nano)); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
		select {
		case <-changed:
			if got, _ := prefs.Get(KeyLastProject); got == "" {
				t.Error("expected last_project after reload")
			}
			cancel()
			if err := <-done; err != nil {
				t.Errorf("Watch returned %v", err)
			}
			return
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("watcher never reloaded")
		}
	}
}
