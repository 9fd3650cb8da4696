package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// ValidateConfig validates every section and reports all problems at once.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if c.Version < 1 || c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	errs = append(errs, validateTyping(&c.Typing)...)
	errs = append(errs, validateInjector(&c.Injector)...)
	errs = append(errs, validateHotkeys(&c.Hotkeys)...)
	errs = append(errs, validateBroadcast(&c.Broadcast)...)
	errs = append(errs, validateStorage(&c.Storage)...)
	errs = append(errs, validateIPC(&c.IPC)...)
	errs = append(errs, validateLogging(&c.Logging)...)

	if c.Presenter.DurationMinutes < 0 {
		errs = append(errs, ValidationError{"presenter.duration_minutes", "must not be negative"})
	}
	for symbol, action := range c.Keymap {
		if utf8.RuneCountInString(symbol) != 1 {
			errs = append(errs, ValidationError{"keymap", fmt.Sprintf("symbol %q must be a single character", symbol)})
		}
		if strings.TrimSpace(action) == "" {
			errs = append(errs, ValidationError{"keymap", fmt.Sprintf("symbol %q has an empty action", symbol)})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateTyping(t *TypingConfig) ValidationErrors {
	var errs ValidationErrors

	if len(t.Hotkeys) == 0 {
		errs = append(errs, ValidationError{"typing.hotkeys", "at least one hotkey letter is required"})
	}
	seen := make(map[string]bool, len(t.Hotkeys))
	for _, h := range t.Hotkeys {
		lower := strings.ToLower(h)
		if utf8.RuneCountInString(lower) != 1 {
			errs = append(errs, ValidationError{"typing.hotkeys", fmt.Sprintf("%q is not a single character", h)})
			continue
		}
		if seen[lower] {
			errs = append(errs, ValidationError{"typing.hotkeys", fmt.Sprintf("duplicate hotkey %q", h)})
		}
		seen[lower] = true
	}

	switch t.Mode {
	case ModeSingleKey, ModeAutoRun:
	default:
		errs = append(errs, ValidationError{"typing.mode", fmt.Sprintf("must be %q or %q, got %q", ModeSingleKey, ModeAutoRun, t.Mode)})
	}

	if t.AutoTypingSpeedMs <= 0 || t.AutoTypingSpeedMs > 5000 {
		errs = append(errs, ValidationError{"typing.auto_typing_speed_ms", "must be between 1 and 5000"})
	}
	if t.SettleDelayMs < 0 || t.SettleDelayMs > 1000 {
		errs = append(errs, ValidationError{"typing.settle_delay_ms", "must be between 0 and 1000"})
	}
	if t.CancelKey == "" {
		errs = append(errs, ValidationError{"typing.cancel_key", "is required"})
	}
	return errs
}

func validateInjector(i *InjectorConfig) ValidationErrors {
	var errs ValidationErrors
	switch i.Backend {
	case "xdotool", "log":
	default:
		errs = append(errs, ValidationError{"injector.backend", fmt.Sprintf("unknown backend %q", i.Backend)})
	}
	if i.TimeoutMs < 0 {
		errs = append(errs, ValidationError{"injector.timeout_ms", "must not be negative"})
	}
	return errs
}

func validateHotkeys(h *HotkeysConfig) ValidationErrors {
	switch h.Registrar {
	case "terminal", "none":
		return nil
	default:
		return ValidationErrors{{"hotkeys.registrar", fmt.Sprintf("unknown registrar %q", h.Registrar)}}
	}
}

func validateBroadcast(b *BroadcastConfig) ValidationErrors {
	var errs ValidationErrors
	if !b.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(b.Listen); err != nil {
		errs = append(errs, ValidationError{"broadcast.listen", fmt.Sprintf("invalid address %q: %v", b.Listen, err)})
	}
	if b.RedisURL != "" {
		u, err := url.Parse(b.RedisURL)
		if err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, ValidationError{"broadcast.redis_url", "must be a redis:// or rediss:// URL"})
		}
		if b.RedisChannel == "" {
			errs = append(errs, ValidationError{"broadcast.redis_channel", "is required when redis_url is set"})
		}
	}
	return errs
}

func validateStorage(s *StorageConfig) ValidationErrors {
	if s.DatabasePath == "" {
		return ValidationErrors{{"storage.database_path", "is required"}}
	}
	return nil
}

func validateIPC(i *IPCConfig) ValidationErrors {
	if i.Enabled && i.SocketPath == "" {
		return ValidationErrors{{"ipc.socket_path", "is required when ipc is enabled"}}
	}
	return nil
}

func validateLogging(l *LoggingConfig) ValidationErrors {
	var errs ValidationErrors

	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, ValidationError{"logging.level", fmt.Sprintf("unknown level %q", l.Level)})
	}
	switch strings.ToLower(l.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, ValidationError{"logging.format", fmt.Sprintf("unknown format %q", l.Format)})
	}
	switch l.Output {
	case "stdout", "stderr", "discard":
	case "file", "both":
		if l.FilePath == "" {
			errs = append(errs, ValidationError{"logging.file_path", "is required for file output"})
		}
	default:
		errs = append(errs, ValidationError{"logging.output", fmt.Sprintf("unknown output %q", l.Output)})
	}
	return errs
}
