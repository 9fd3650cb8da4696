// Package config handles settings loading, validation, and management for leo.
package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Version is the current configuration schema version.
const Version = 1

// Hotkey modes.
const (
	ModeSingleKey = "single-key"
	ModeAutoRun   = "auto-run"
)

// Config holds the complete presenter configuration.
type Config struct {
	Version int `toml:"version" json:"version" yaml:"version"`

	// Typing controls how hotkeys drive the cursor.
	Typing TypingConfig `toml:"typing" json:"typing" yaml:"typing"`

	// Shortcuts are the system-wide bindings that stay registered for
	// the whole process lifetime.
	Shortcuts ShortcutsConfig `toml:"shortcuts" json:"shortcuts" yaml:"shortcuts"`

	// Keymap adds or overrides symbol bindings, e.g. "💾" = "Ctrl+S".
	Keymap map[string]string `toml:"keymap" json:"keymap" yaml:"keymap"`

	Injector  InjectorConfig  `toml:"injector" json:"injector" yaml:"injector"`
	Hotkeys   HotkeysConfig   `toml:"hotkeys" json:"hotkeys" yaml:"hotkeys"`
	Broadcast BroadcastConfig `toml:"broadcast" json:"broadcast" yaml:"broadcast"`
	Storage   StorageConfig   `toml:"storage" json:"storage" yaml:"storage"`
	IPC       IPCConfig       `toml:"ipc" json:"ipc" yaml:"ipc"`
	Logging   LoggingConfig   `toml:"logging" json:"logging" yaml:"logging"`
	Presenter PresenterConfig `toml:"presenter" json:"presenter" yaml:"presenter"`
}

// TypingConfig holds the typing-mode settings.
type TypingConfig struct {
	// Hotkeys are the letters that advance the cursor while active.
	Hotkeys []string `toml:"hotkeys" json:"hotkeys" yaml:"hotkeys"`

	// Mode is "single-key" or "auto-run".
	Mode string `toml:"mode" json:"mode" yaml:"mode"`

	// AutoTypingSpeedMs is the delay between characters of an auto-type run.
	AutoTypingSpeedMs int `toml:"auto_typing_speed_ms" json:"auto_typing_speed_ms" yaml:"auto_typing_speed_ms"`

	// WaitForCompletion holds the visible cursor back until a character
	// has actually been typed.
	WaitForCompletion bool `toml:"wait_for_completion" json:"wait_for_completion" yaml:"wait_for_completion"`

	// SettleDelayMs is slept before and after a hotkey is toggled around
	// an injection. Zero disables settling.
	SettleDelayMs int `toml:"settle_delay_ms" json:"settle_delay_ms" yaml:"settle_delay_ms"`

	// CancelKey stops an auto-type run.
	CancelKey string `toml:"cancel_key" json:"cancel_key" yaml:"cancel_key"`
}

// AutoTypingSpeed returns AutoTypingSpeedMs as a duration.
func (t TypingConfig) AutoTypingSpeed() time.Duration {
	return time.Duration(t.AutoTypingSpeedMs) * time.Millisecond
}

// SettleDelay returns SettleDelayMs as a duration.
func (t TypingConfig) SettleDelay() time.Duration {
	return time.Duration(t.SettleDelayMs) * time.Millisecond
}

// ShortcutsConfig holds the system shortcut accelerators.
type ShortcutsConfig struct {
	ToggleActive       string `toml:"toggle_active" json:"toggle_active" yaml:"toggle_active"`
	StepBackward       string `toml:"step_backward" json:"step_backward" yaml:"step_backward"`
	StepForward        string `toml:"step_forward" json:"step_forward" yaml:"step_forward"`
	AlwaysOnTop        string `toml:"always_on_top" json:"always_on_top" yaml:"always_on_top"`
	ToggleTransparency string `toml:"toggle_transparency" json:"toggle_transparency" yaml:"toggle_transparency"`
	ToggleWindow       string `toml:"toggle_window" json:"toggle_window" yaml:"toggle_window"`
}

// Bindings returns the shortcuts keyed by action name, skipping empty ones.
func (s ShortcutsConfig) Bindings() map[string]string {
	all := map[string]string{
		"toggle-active":       s.ToggleActive,
		"step-backward":       s.StepBackward,
		"step-forward":        s.StepForward,
		"always-on-top":       s.AlwaysOnTop,
		"toggle-transparency": s.ToggleTransparency,
		"toggle-window":       s.ToggleWindow,
	}
	out := make(map[string]string, len(all))
	for action, accel := range all {
		if accel != "" {
			out[action] = accel
		}
	}
	return out
}

// InjectorConfig selects the keystroke backend.
type InjectorConfig struct {
	// Backend is "xdotool" or "log".
	Backend string `toml:"backend" json:"backend" yaml:"backend"`

	// XdotoolPath is the xdotool binary, looked up in PATH when empty.
	XdotoolPath string `toml:"xdotool_path" json:"xdotool_path" yaml:"xdotool_path"`

	// TimeoutMs bounds a single backend call.
	TimeoutMs int `toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`
}

// HotkeysConfig selects the hotkey registrar.
type HotkeysConfig struct {
	// Registrar is "terminal" or "none".
	Registrar string `toml:"registrar" json:"registrar" yaml:"registrar"`
}

// BroadcastConfig holds the student channel settings.
type BroadcastConfig struct {
	Enabled        bool     `toml:"enabled" json:"enabled" yaml:"enabled"`
	Listen         string   `toml:"listen" json:"listen" yaml:"listen"`
	AllowedOrigins []string `toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`

	// RedisURL enables fan-out to other broadcast instances.
	RedisURL     string `toml:"redis_url" json:"redis_url" yaml:"redis_url"`
	RedisChannel string `toml:"redis_channel" json:"redis_channel" yaml:"redis_channel"`
}

// StorageConfig holds persistence settings.
type StorageConfig struct {
	// DatabasePath is the sqlite file holding last positions.
	DatabasePath string `toml:"database_path" json:"database_path" yaml:"database_path"`

	// KeyLogDir overrides where session logs go. Empty means next to the lesson.
	KeyLogDir string `toml:"keylog_dir" json:"keylog_dir" yaml:"keylog_dir"`

	// KeyLogEnabled turns the key-press session log on or off.
	KeyLogEnabled bool `toml:"keylog_enabled" json:"keylog_enabled" yaml:"keylog_enabled"`
}

// IPCConfig holds the control socket settings.
type IPCConfig struct {
	Enabled    bool   `toml:"enabled" json:"enabled" yaml:"enabled"`
	SocketPath string `toml:"socket_path" json:"socket_path" yaml:"socket_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `toml:"level" json:"level" yaml:"level"`
	Format     string `toml:"format" json:"format" yaml:"format"`
	Output     string `toml:"output" json:"output" yaml:"output"`
	FilePath   string `toml:"file_path" json:"file_path" yaml:"file_path"`
	MaxSizeMB  int    `toml:"max_size_mb" json:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" json:"max_backups" yaml:"max_backups"`
}

// PresenterConfig holds per-session presentation settings.
type PresenterConfig struct {
	// LessonPath is opened at startup when no lesson is given on the command line.
	LessonPath string `toml:"lesson_path" json:"lesson_path" yaml:"lesson_path"`

	// DurationMinutes drives the countdown sent to students. Zero disables it.
	DurationMinutes int `toml:"duration_minutes" json:"duration_minutes" yaml:"duration_minutes"`

	// WatchLesson reloads the lesson when the file changes on disk.
	WatchLesson bool `toml:"watch_lesson" json:"watch_lesson" yaml:"watch_lesson"`

	// View renders the lesson in the terminal.
	View bool `toml:"view" json:"view" yaml:"view"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	dir := LeoDir()

	letters := make([]string, 0, 26)
	for c := 'a'; c <= 'z'; c++ {
		letters = append(letters, string(c))
	}

	return &Config{
		Version: Version,
		Typing: TypingConfig{
			Hotkeys:           letters,
			Mode:              ModeSingleKey,
			AutoTypingSpeedMs: 50,
			SettleDelayMs:     defaultSettleDelayMs(),
			CancelKey:         "Escape",
		},
		Shortcuts: ShortcutsConfig{
			ToggleActive:       "CommandOrControl+P",
			StepBackward:       "CommandOrControl+Left",
			StepForward:        "CommandOrControl+Right",
			AlwaysOnTop:        "CommandOrControl+Shift+Space",
			ToggleTransparency: "CommandOrControl+Shift+T",
			ToggleWindow:       "CommandOrControl+Shift+H",
		},
		Keymap: map[string]string{},
		Injector: InjectorConfig{
			Backend:   "xdotool",
			TimeoutMs: 2000,
		},
		Hotkeys: HotkeysConfig{
			Registrar: "terminal",
		},
		Broadcast: BroadcastConfig{
			Enabled:        true,
			Listen:         ":8080",
			AllowedOrigins: []string{"*"},
			RedisChannel:   "leo:broadcast",
		},
		Storage: StorageConfig{
			DatabasePath:  filepath.Join(dir, "leo.db"),
			KeyLogEnabled: true,
		},
		IPC: IPCConfig{
			Enabled:    true,
			SocketPath: defaultSocketPath(),
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stderr",
			FilePath:   filepath.Join(dir, "leo.log"),
			MaxSizeMB:  20,
			MaxBackups: 3,
		},
		Presenter: PresenterConfig{
			View: true,
		},
	}
}

// ConfigPath returns the default configuration file path.
func ConfigPath() string {
	return filepath.Join(LeoDir(), "config.toml")
}

// Load reads configuration from path, falling back to defaults when the
// file does not exist. The format follows the file extension.
func Load(path string) (*Config, error) {
	if path == "" {
		path = ConfigPath()
	}

	cfg, err := loadConfigFromFile(path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	return ValidateConfig(c)
}

// EnsureDirectories creates the directories the daemon writes into.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Storage.DatabasePath),
		filepath.Dir(c.IPC.SocketPath),
		c.Storage.KeyLogDir,
	}
	if c.Logging.Output == "file" || c.Logging.Output == "both" {
		dirs = append(dirs, filepath.Dir(c.Logging.FilePath))
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// LeoDir returns the base data directory, honouring LEO_DIR.
func LeoDir() string {
	if envDir := os.Getenv("LEO_DIR"); envDir != "" {
		return envDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".leo"
	}
	return filepath.Join(home, ".leo")
}

// ApplyEnvOverrides applies LEO_-prefixed environment overrides.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("LEO_HOTKEY_MODE"); v != "" {
		c.Typing.Mode = v
	}
	if v := os.Getenv("LEO_AUTO_TYPING_SPEED_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Typing.AutoTypingSpeedMs = n
		}
	}
	if v := os.Getenv("LEO_HOTKEYS"); v != "" {
		c.Typing.Hotkeys = strings.Split(v, ",")
	}
	if v := os.Getenv("LEO_INJECTOR"); v != "" {
		c.Injector.Backend = v
	}
	if v := os.Getenv("LEO_DB_PATH"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("LEO_BROADCAST_LISTEN"); v != "" {
		c.Broadcast.Listen = v
	}
	if v := os.Getenv("LEO_REDIS_URL"); v != "" {
		c.Broadcast.RedisURL = v
	}
	if v := os.Getenv("LEO_SOCKET_PATH"); v != "" {
		c.IPC.SocketPath = v
	}
	if v := os.Getenv("LEO_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("LEO_LOG_PATH"); v != "" {
		c.Logging.FilePath = v
	}
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Typing.Hotkeys = slices.Clone(c.Typing.Hotkeys)
	clone.Broadcast.AllowedOrigins = slices.Clone(c.Broadcast.AllowedOrigins)
	clone.Keymap = maps.Clone(c.Keymap)
	return &clone
}

// HotkeyRunes returns the typing hotkeys lowercased, one rune each.
func (c *Config) HotkeyRunes() []rune {
	out := make([]rune, 0, len(c.Typing.Hotkeys))
	for _, h := range c.Typing.Hotkeys {
		r := []rune(strings.ToLower(h))
		if len(r) == 1 {
			out = append(out, r[0])
		}
	}
	return out
}

// SaveConfig writes cfg to path as TOML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("create config file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("# leo presenter configuration\n\n"); err != nil {
		return fmt.Errorf("write config header: %w", err)
	}
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encode TOML: %w", err)
	}
	return nil
}

// The settle delay mirrors what macOS needs when a hotkey and the injected
// key share a physical key; other platforms toggle synchronously.
func defaultSettleDelayMs() int {
	if runtime.GOOS == "darwin" {
		return 20
	}
	return 0
}

func defaultSocketPath() string {
	if runtime.GOOS == "linux" {
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			return filepath.Join(xdgRuntime, "leo.sock")
		}
	}
	return filepath.Join(LeoDir(), "leo.sock")
}
