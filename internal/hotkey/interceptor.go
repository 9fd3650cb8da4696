package hotkey

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"unicode"

	"leo/internal/keymap"
	"leo/internal/logging"
	"leo/internal/session"
)

// Mode selects what a typing hotkey does.
type Mode int

const (
	// ModeSingleKey advances one step per trigger.
	ModeSingleKey Mode = iota
	// ModeAutoRun starts an unattended run to the next block boundary.
	ModeAutoRun
)

func (m Mode) String() string {
	if m == ModeAutoRun {
		return "auto-run"
	}
	return "single-key"
}

// ParseMode parses the settings form of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "single-key", "":
		return ModeSingleKey, nil
	case "auto-run":
		return ModeAutoRun, nil
	}
	return ModeSingleKey, fmt.Errorf("hotkey: unknown mode %q", s)
}

// Target receives the cursor requests produced by typing hotkeys.
type Target interface {
	// LockAdvance advances one step, or queues the key while an
	// injection is in flight.
	LockAdvance(ctx context.Context, key rune)

	// StartAutoTyping runs to the next block boundary and returns when
	// the run ends.
	StartAutoTyping(ctx context.Context) error

	// StopAutoTyping cancels a running auto-type run.
	StopAutoTyping()
}

// Shortcut is a system binding that stays registered for the process
// lifetime, independent of typing mode.
type Shortcut struct {
	Action  string
	Chord   keymap.Chord
	Handler func()
}

// Options configures an Interceptor.
type Options struct {
	Mode Mode

	// Cancel stops an auto-type run. Defaults to Escape.
	Cancel keymap.Chord

	Logger *logging.Logger
}

// Interceptor is the exclusive owner of the Registrar.
type Interceptor struct {
	reg   Registrar
	state *session.State
	log   *logging.Logger

	mu         sync.Mutex
	registered map[keymap.Chord]bool
	typing     map[rune]bool
	system     map[keymap.Chord]Shortcut
	cancel     keymap.Chord
	mode       Mode
	target     Target

	runs sync.WaitGroup
}

// New creates an Interceptor over reg.
func New(reg Registrar, state *session.State, opts Options) *Interceptor {
	log := opts.Logger
	if log == nil {
		log = logging.Component("hotkey")
	}
	cancel := opts.Cancel
	if cancel == (keymap.Chord{}) {
		cancel = keymap.Chord{Key: keymap.KeyEscape}
	}
	return &Interceptor{
		reg:        reg,
		state:      state,
		log:        log,
		registered: make(map[keymap.Chord]bool),
		typing:     make(map[rune]bool),
		system:     make(map[keymap.Chord]Shortcut),
		cancel:     cancel,
		mode:       opts.Mode,
	}
}

// SetTarget wires the cursor engine.
func (i *Interceptor) SetTarget(t Target) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.target = t
}

// SetMode switches between single-key and auto-run.
func (i *Interceptor) SetMode(m Mode) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.mode = m
}

// Mode returns the current hotkey mode.
func (i *Interceptor) Mode() Mode {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.mode
}

func (i *Interceptor) registerLocked(c keymap.Chord) error {
	if i.registered[c] {
		return nil
	}
	if err := i.reg.Register(c); err != nil {
		return fmt.Errorf("register %s: %w", c, err)
	}
	i.registered[c] = true
	return nil
}

func (i *Interceptor) unregisterLocked(c keymap.Chord) error {
	if !i.registered[c] {
		return nil
	}
	delete(i.registered, c)
	if err := i.reg.Unregister(c); err != nil {
		return fmt.Errorf("unregister %s: %w", c, err)
	}
	return nil
}

// RegisterKey binds a single letter. It is a no-op when already bound.
func (i *Interceptor) RegisterKey(r rune) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.registerLocked(keymap.RuneChord(r))
}

// UnregisterKey releases a single letter.
func (i *Interceptor) UnregisterKey(r rune) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.unregisterLocked(keymap.RuneChord(r))
}

// RegisterTypingHotkeys binds the typing letters. They are remembered so
// UnregisterTypingHotkeys releases exactly this set.
func (i *Interceptor) RegisterTypingHotkeys(letters []rune) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var errs []error
	for _, r := range letters {
		r = unicode.ToLower(r)
		i.typing[r] = true
		if err := i.registerLocked(keymap.RuneChord(r)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// UnregisterTypingHotkeys releases every typing letter and forgets the set.
func (i *Interceptor) UnregisterTypingHotkeys() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var errs []error
	for r := range i.typing {
		if err := i.unregisterLocked(keymap.RuneChord(r)); err != nil {
			errs = append(errs, err)
		}
	}
	i.typing = make(map[rune]bool)
	return errors.Join(errs...)
}

// RegisterSystemShortcuts binds the process-lifetime shortcuts.
func (i *Interceptor) RegisterSystemShortcuts(shortcuts []Shortcut) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var errs []error
	for _, s := range shortcuts {
		if err := i.registerLocked(s.Chord); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Action, err))
			continue
		}
		i.system[s.Chord] = s
	}
	return errors.Join(errs...)
}

// UnregisterAll releases every binding, system shortcuts included.
func (i *Interceptor) UnregisterAll() error {
	i.mu.Lock()
	defer i.mu.Unlock()

	var errs []error
	for c := range i.registered {
		if err := i.unregisterLocked(c); err != nil {
			errs = append(errs, err)
		}
	}
	i.typing = make(map[rune]bool)
	i.system = make(map[keymap.Chord]Shortcut)
	return errors.Join(errs...)
}

// IsRegistered reports whether the letter r is currently bound.
func (i *Interceptor) IsRegistered(r rune) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.registered[keymap.RuneChord(r)]
}

// Registered lists the bound chords in a stable order.
func (i *Interceptor) Registered() []keymap.Chord {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]keymap.Chord, 0, len(i.registered))
	for c := range i.registered {
		out = append(out, c)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].String() < out[b].String() })
	return out
}

// Suppress releases the typing letter matching r so that injecting r does
// not trigger it. ok is false when r is not a bound typing letter. The
// returned restore re-binds the letter, unless typing hotkeys were
// released in the meantime.
func (i *Interceptor) Suppress(r rune) (restore func() error, ok bool) {
	lower := unicode.ToLower(r)
	c := keymap.RuneChord(lower)

	i.mu.Lock()
	defer i.mu.Unlock()
	if !i.typing[lower] || !i.registered[c] {
		return nil, false
	}
	if err := i.unregisterLocked(c); err != nil {
		i.log.Warn("suppress hotkey failed", "key", string(lower), "error", err)
		return nil, false
	}

	return func() error {
		i.mu.Lock()
		defer i.mu.Unlock()
		if !i.typing[lower] {
			return nil
		}
		return i.registerLocked(c)
	}, true
}

// Run dispatches triggers until ctx is done or the registrar closes.
func (i *Interceptor) Run(ctx context.Context) {
	triggers := i.reg.Triggers()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-triggers:
			if !ok {
				return
			}
			i.HandleTrigger(ctx, c)
		}
	}
}

// Wait blocks until auto-type runs started by triggers have ended.
func (i *Interceptor) Wait() {
	i.runs.Wait()
}

// HandleTrigger acts on one intercepted chord.
func (i *Interceptor) HandleTrigger(ctx context.Context, c keymap.Chord) {
	i.mu.Lock()
	shortcut, isSystem := i.system[c]
	isCancel := c == i.cancel && i.registered[c]
	isTyping := c.Key == keymap.KeyRune && c.Mods == keymap.ModNone && i.typing[c.Rune]
	mode := i.mode
	target := i.target
	i.mu.Unlock()

	switch {
	case isSystem:
		i.log.Debug("system shortcut", "action", shortcut.Action)
		if shortcut.Handler != nil {
			shortcut.Handler()
		}
	case isCancel:
		if target != nil {
			target.StopAutoTyping()
		}
	case isTyping:
		i.handleTyping(ctx, c.Rune, mode, target)
	default:
		i.log.Debug("unhandled trigger", "chord", c.String())
	}
}

func (i *Interceptor) handleTyping(ctx context.Context, key rune, mode Mode, target Target) {
	if target == nil || !i.state.IsActive() {
		return
	}
	if i.state.IsPaused() {
		return
	}

	if mode == ModeSingleKey {
		target.LockAdvance(ctx, key)
		return
	}

	if i.state.IsAutoTyping() {
		return
	}
	i.mu.Lock()
	err := i.registerLocked(i.cancel)
	i.mu.Unlock()
	if err != nil {
		i.log.Warn("register cancel key failed", "error", err)
	}

	i.runs.Add(1)
	go func() {
		defer i.runs.Done()
		if err := target.StartAutoTyping(ctx); err != nil {
			i.log.Info("auto-typing not started", "error", err)
		}
		i.mu.Lock()
		if err := i.unregisterLocked(i.cancel); err != nil {
			i.log.Warn("unregister cancel key failed", "error", err)
		}
		i.mu.Unlock()
	}()
}
