package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"leo/internal/watcher"
)

// ReloadSettle is how long the config file must stay unchanged before a
// reload.
const ReloadSettle = 150 * time.Millisecond

// Loader reads the configuration file and reloads it when it changes.
type Loader struct {
	path string

	mu       sync.RWMutex
	config   *Config
	onChange []func(*Config)

	watcher *watcher.Watcher
	errCh   chan error
	wg      sync.WaitGroup
}

// NewLoader creates a loader for path, or for the default location when
// path is empty.
func NewLoader(path string) *Loader {
	if path == "" {
		path = ConfigPath()
	}
	return &Loader{path: path, errCh: make(chan error, 1)}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads, overrides and validates the configuration file.
func (l *Loader) Load() (*Config, error) {
	cfg, err := l.read()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) read() (*Config, error) {
	cfg, err := loadConfigFromFile(l.path)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	return cfg, nil
}

// Config returns the current configuration.
func (l *Loader) Config() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// Watch reloads the file whenever it settles after a change. Valid
// configurations replace the current one and reach the OnChange
// callbacks; invalid ones are reported on Errors and the previous
// configuration stays. The file must exist.
func (l *Loader) Watch() error {
	if _, err := os.Stat(l.path); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	w, err := watcher.New(l.path, ReloadSettle)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		w.Stop()
		return fmt.Errorf("watch directory: %w", err)
	}
	l.watcher = w

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		events, errs := w.Events(), w.Errors()
		for events != nil || errs != nil {
			select {
			case _, ok := <-events:
				if !ok {
					events = nil
					continue
				}
				l.reload()
			case err, ok := <-errs:
				if !ok {
					errs = nil
					continue
				}
				l.reportError(err)
			}
		}
	}()
	return nil
}

func (l *Loader) reload() {
	cfg, err := l.read()
	if err != nil {
		l.reportError(fmt.Errorf("reload config: %w", err))
		return
	}

	l.mu.Lock()
	l.config = cfg
	callbacks := append([]func(*Config){}, l.onChange...)
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(cfg)
	}
}

func (l *Loader) reportError(err error) {
	select {
	case l.errCh <- err:
	default:
	}
}

// OnChange registers a callback invoked after a successful reload.
func (l *Loader) OnChange(cb func(*Config)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, cb)
}

// Errors returns reload failures. Only the oldest unread one is kept.
func (l *Loader) Errors() <-chan error {
	return l.errCh
}

// Close stops watching.
func (l *Loader) Close() error {
	if l.watcher == nil {
		return nil
	}
	err := l.watcher.Stop()
	l.wg.Wait()
	l.watcher = nil
	return err
}

// Changed lists the top-level sections that differ between a and b, by
// their TOML name.
func Changed(a, b *Config) []string {
	va, vb := reflect.ValueOf(a).Elem(), reflect.ValueOf(b).Elem()
	t := va.Type()
	var out []string
	for i := 0; i < t.NumField(); i++ {
		if reflect.DeepEqual(va.Field(i).Interface(), vb.Field(i).Interface()) {
			continue
		}
		out = append(out, t.Field(i).Tag.Get("toml"))
	}
	return out
}

// loadConfigFromFile parses path by extension. A missing file yields the
// defaults. JSON files may carry comments and trailing commas.
func loadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch filepath.Ext(path) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("decode TOML: %w", err)
		}
	case ".json", ".jsonc":
		if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
			return nil, fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if err := autoDetectAndParse(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	return cfg, nil
}

// autoDetectAndParse tries TOML, then JSON, then YAML, each on fresh
// defaults so a partial decode does not leak into the next attempt.
func autoDetectAndParse(data []byte, cfg *Config) error {
	try := func(decode func(*Config) error) bool {
		c := DefaultConfig()
		if decode(c) != nil {
			return false
		}
		*cfg = *c
		return true
	}
	switch {
	case try(func(c *Config) error { _, err := toml.Decode(string(data), c); return err }):
	case try(func(c *Config) error { return json.Unmarshal(jsonc.ToJSON(data), c) }):
	case try(func(c *Config) error { return yaml.Unmarshal(data, c) }):
	default:
		return errors.New("unable to parse config file (tried TOML, JSON, YAML)")
	}
	return nil
}

// LoadOrCreate loads the configuration at path, writing the defaults
// there first when the file does not exist. The bool reports creation.
func LoadOrCreate(path string) (*Config, bool, error) {
	if path == "" {
		path = ConfigPath()
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg, path); err != nil {
			return nil, false, fmt.Errorf("create default config: %w", err)
		}
		cfg.ApplyEnvOverrides()
		return cfg, true, nil
	}
	cfg, err := NewLoader(path).Load()
	if err != nil {
		return nil, false, err
	}
	return cfg, false, nil
}
