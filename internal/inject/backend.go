package inject

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"leo/internal/health"
	"leo/internal/keymap"
	"leo/internal/logging"
)

// XdotoolBackend injects through the xdotool command on X11.
type XdotoolBackend struct {
	Path    string
	Timeout time.Duration

	// run executes one command; replaced in tests.
	run func(ctx context.Context, name string, args ...string) ([]byte, error)
}

// NewXdotoolBackend returns a backend using the xdotool binary at path.
func NewXdotoolBackend(path string, timeout time.Duration) *XdotoolBackend {
	if path == "" {
		path = "xdotool"
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &XdotoolBackend{Path: path, Timeout: timeout, run: runCommand}
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
	}
	return out, err
}

func (x *XdotoolBackend) exec(ctx context.Context, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, x.Timeout)
	defer cancel()
	return x.run(ctx, x.Path, args...)
}

// TypeRune implements Backend.
func (x *XdotoolBackend) TypeRune(ctx context.Context, r rune) error {
	_, err := x.exec(ctx, "type", "--clearmodifiers", "--", string(r))
	return err
}

// Tap implements Backend.
func (x *XdotoolBackend) Tap(ctx context.Context, c keymap.Chord) error {
	spec, err := XdotoolKeySpec(c)
	if err != nil {
		return err
	}
	_, err = x.exec(ctx, "key", "--clearmodifiers", spec)
	return err
}

// ActiveWindow returns the title of the window receiving keystrokes.
func (x *XdotoolBackend) ActiveWindow(ctx context.Context) (string, error) {
	out, err := x.exec(ctx, "getactivewindow", "getwindowname")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// Check reports whether xdotool can reach the X server. The focused
// window is named in the message so a presenter can see where keys land.
func (x *XdotoolBackend) Check(ctx context.Context) health.CheckResult {
	title, err := x.ActiveWindow(ctx)
	if err != nil {
		return health.CheckResult{
			Status:  health.StatusUnhealthy,
			Message: "xdotool unavailable",
			Error:   err.Error(),
		}
	}
	return health.CheckResult{Status: health.StatusHealthy, Message: "typing into " + strconv.Quote(title)}
}

var xdotoolKeys = map[keymap.Key]string{
	keymap.KeyEscape:    "Escape",
	keymap.KeyEnter:     "Return",
	keymap.KeyTab:       "Tab",
	keymap.KeyBackspace: "BackSpace",
	keymap.KeyDelete:    "Delete",
	keymap.KeyInsert:    "Insert",
	keymap.KeyHome:      "Home",
	keymap.KeyEnd:       "End",
	keymap.KeyPageUp:    "Prior",
	keymap.KeyPageDown:  "Next",
	keymap.KeyUp:        "Up",
	keymap.KeyDown:      "Down",
	keymap.KeyLeft:      "Left",
	keymap.KeyRight:     "Right",
	keymap.KeySpace:     "space",
}

// XdotoolKeySpec renders c in xdotool's "ctrl+shift+Left" form.
func XdotoolKeySpec(c keymap.Chord) (string, error) {
	var parts []string
	if c.Mods.Has(keymap.ModCtrl) {
		parts = append(parts, "ctrl")
	}
	if c.Mods.Has(keymap.ModShift) {
		parts = append(parts, "shift")
	}
	if c.Mods.Has(keymap.ModAlt) {
		parts = append(parts, "alt")
	}
	if c.Mods.Has(keymap.ModMeta) {
		parts = append(parts, "super")
	}

	switch {
	case c.Key == keymap.KeyRune:
		parts = append(parts, string(c.Rune))
	case c.Key >= keymap.KeyF1 && c.Key <= keymap.KeyF12:
		parts = append(parts, c.Key.String())
	default:
		name, ok := xdotoolKeys[c.Key]
		if !ok {
			return "", fmt.Errorf("no xdotool name for key %s", c.Key)
		}
		parts = append(parts, name)
	}
	return strings.Join(parts, "+"), nil
}

// LogBackend types nothing and logs what it would have sent.
type LogBackend struct {
	log *logging.Logger
}

// NewLogBackend returns a dry-run backend.
func NewLogBackend(log *logging.Logger) *LogBackend {
	if log == nil {
		log = logging.Component("inject")
	}
	return &LogBackend{log: log}
}

// TypeRune implements Backend.
func (b *LogBackend) TypeRune(_ context.Context, r rune) error {
	b.log.Info("type", "char", string(r))
	return nil
}

// Tap implements Backend.
func (b *LogBackend) Tap(_ context.Context, c keymap.Chord) error {
	b.log.Info("tap", "chord", c.String())
	return nil
}

// Keystroke is one action seen by a Recorder.
type Keystroke struct {
	Rune  rune
	Chord keymap.Chord
	Tap   bool
}

// Recorder keeps every keystroke in memory.
type Recorder struct {
	mu      sync.Mutex
	strokes []Keystroke

	// Fail, when set, is consulted before each keystroke.
	Fail func(k Keystroke) error

	// Hook runs inside each keystroke, after Fail.
	Hook func(k Keystroke)
}

// ErrInjected is a convenience failure for tests.
var ErrInjected = errors.New("inject: simulated failure")

// TypeRune implements Backend.
func (r *Recorder) TypeRune(_ context.Context, ch rune) error {
	return r.record(Keystroke{Rune: ch})
}

// Tap implements Backend.
func (r *Recorder) Tap(_ context.Context, c keymap.Chord) error {
	return r.record(Keystroke{Chord: c, Tap: true})
}

func (r *Recorder) record(k Keystroke) error {
	if r.Fail != nil {
		if err := r.Fail(k); err != nil {
			return err
		}
	}
	if r.Hook != nil {
		r.Hook(k)
	}
	r.mu.Lock()
	r.strokes = append(r.strokes, k)
	r.mu.Unlock()
	return nil
}

// Strokes returns the recorded keystrokes.
func (r *Recorder) Strokes() []Keystroke {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Keystroke(nil), r.strokes...)
}

// Typed returns the literal characters typed, in order. Taps render as
// their chord in angle brackets.
func (r *Recorder) Typed() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, k := range r.strokes {
		if k.Tap {
			b.WriteString("<" + k.Chord.String() + ">")
			continue
		}
		b.WriteRune(k.Rune)
	}
	return b.String()
}
