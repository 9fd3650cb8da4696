package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if len(cfg.Typing.Hotkeys) != 26 {
		t.Errorf("expected 26 typing hotkeys, got %d", len(cfg.Typing.Hotkeys))
	}
	if cfg.Typing.Mode != ModeSingleKey {
		t.Errorf("expected single-key mode, got %s", cfg.Typing.Mode)
	}
	if cfg.Typing.AutoTypingSpeedMs != 50 {
		t.Errorf("expected speed 50, got %d", cfg.Typing.AutoTypingSpeedMs)
	}
	if cfg.Shortcuts.ToggleActive != "CommandOrControl+P" {
		t.Errorf("unexpected toggle shortcut %s", cfg.Shortcuts.ToggleActive)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfigPathHonoursLeoDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("LEO_DIR", dir)

	if got := ConfigPath(); got != filepath.Join(dir, "config.toml") {
		t.Errorf("unexpected config path %s", got)
	}
	if !strings.HasPrefix(DefaultConfig().Storage.DatabasePath, dir) {
		t.Errorf("database path should live under LEO_DIR")
	}
}

func TestLoadNonexistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Typing.Mode != ModeSingleKey {
		t.Errorf("expected defaults, got mode %s", cfg.Typing.Mode)
	}
}

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
	}{
		{"toml", "config.toml", "[typing]\nmode = \"auto-run\"\nauto_typing_speed_ms = 80\n\n[keymap]\n\"✂\" = \"Ctrl+X\"\n"},
		{"json", "config.json", `{"typing":{"mode":"auto-run","auto_typing_speed_ms":80},"keymap":{"✂":"Ctrl+X"}}`},
		{"yaml", "config.yaml", "typing:\n  mode: auto-run\n  auto_typing_speed_ms: 80\nkeymap:\n  \"✂\": Ctrl+X\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.content), 0600); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Typing.Mode != ModeAutoRun {
				t.Errorf("mode = %s", cfg.Typing.Mode)
			}
			if cfg.Typing.AutoTypingSpeed() != 80*time.Millisecond {
				t.Errorf("speed = %v", cfg.Typing.AutoTypingSpeed())
			}
			if cfg.Keymap["✂"] != "Ctrl+X" {
				t.Errorf("keymap entry missing: %v", cfg.Keymap)
			}
			if len(cfg.Typing.Hotkeys) != 26 {
				t.Errorf("unspecified fields should keep defaults")
			}
		})
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LEO_HOTKEY_MODE", ModeAutoRun)
	t.Setenv("LEO_AUTO_TYPING_SPEED_MS", "120")
	t.Setenv("LEO_HOTKEYS", "j,k")
	t.Setenv("LEO_BROADCAST_LISTEN", "127.0.0.1:9999")

	cfg, err := Load(filepath.Join(t.TempDir(), "none.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Typing.Mode != ModeAutoRun {
		t.Errorf("mode override not applied")
	}
	if cfg.Typing.AutoTypingSpeedMs != 120 {
		t.Errorf("speed override not applied")
	}
	if got := string(cfg.HotkeyRunes()); got != "jk" {
		t.Errorf("hotkeys override = %q", got)
	}
	if cfg.Broadcast.Listen != "127.0.0.1:9999" {
		t.Errorf("listen override not applied")
	}
}

func TestValidateReportsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Typing.Mode = "turbo"
	cfg.Typing.Hotkeys = []string{"a", "A", "ab"}
	cfg.Typing.AutoTypingSpeedMs = 0
	cfg.Injector.Backend = "uinput"
	cfg.Broadcast.Listen = "nope"
	cfg.Keymap = map[string]string{"xy": "Ctrl+S"}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}

	fields := make(map[string]bool)
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{
		"typing.mode", "typing.hotkeys", "typing.auto_typing_speed_ms",
		"injector.backend", "broadcast.listen", "keymap",
	} {
		if !fields[want] {
			t.Errorf("missing validation error for %s (got %v)", want, err)
		}
	}
}

func TestShortcutBindingsSkipEmpty(t *testing.T) {
	s := DefaultConfig().Shortcuts
	s.ToggleWindow = ""

	b := s.Bindings()
	if _, ok := b["toggle-window"]; ok {
		t.Error("empty binding should be skipped")
	}
	if b["step-forward"] != "CommandOrControl+Right" {
		t.Errorf("unexpected step-forward %q", b["step-forward"])
	}
}

func TestSaveAndLoadOrCreate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("LoadOrCreate: %v", err)
	}
	if !created {
		t.Error("expected file to be created")
	}

	cfg.Typing.Mode = ModeAutoRun
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	again, created, err := LoadOrCreate(path)
	if err != nil {
		t.Fatalf("second LoadOrCreate: %v", err)
	}
	if created {
		t.Error("file should already exist")
	}
	if again.Typing.Mode != ModeAutoRun {
		t.Errorf("saved mode lost, got %s", again.Typing.Mode)
	}
}

func TestCloneIsDeep(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Keymap["✂"] = "Ctrl+X"

	clone := cfg.Clone()
	clone.Typing.Hotkeys[0] = "z"
	clone.Keymap["✂"] = "Ctrl+C"

	if cfg.Typing.Hotkeys[0] != "a" {
		t.Error("clone shares hotkey slice")
	}
	if cfg.Keymap["✂"] != "Ctrl+X" {
		t.Error("clone shares keymap")
	}
}
