// Package inject turns lesson characters into simulated keystrokes.
//
// Each character is resolved through a keymap.Table into a literal, a
// modifier combination or a pause, and handed to a platform Backend. When
// the character collides with a bound typing hotkey, the Injector asks its
// Suppressor to release that letter for the duration of the keystroke,
// waiting a settle delay before and after the toggle.
package inject

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"leo/internal/keymap"
	"leo/internal/logging"
)

var (
	// ErrBusy is returned when an injection is already in flight.
	ErrBusy = errors.New("inject: already injecting")

	// ErrCanceled is returned by InjectBurst when the run was cancelled.
	ErrCanceled = errors.New("inject: burst canceled")
)

// InjectionError reports a failed keystroke.
type InjectionError struct {
	Char rune
	Err  error
}

func (e *InjectionError) Error() string {
	return fmt.Sprintf("inject %q: %v", e.Char, e.Err)
}

func (e *InjectionError) Unwrap() error { return e.Err }

// Backend is the platform keystroke primitive.
type Backend interface {
	// TypeRune types r into the focused application.
	TypeRune(ctx context.Context, r rune) error

	// Tap presses and releases a chord.
	Tap(ctx context.Context, c keymap.Chord) error
}

// Suppressor releases a typing hotkey while its own letter is injected.
// ok is false when r is not a bound hotkey; restore re-binds it.
type Suppressor interface {
	Suppress(r rune) (restore func() error, ok bool)
}

// Phase is the injector's position in the suppress/inject/restore cycle.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingUnregisterSettle
	PhaseInjecting
	PhaseAwaitingReregisterSettle
)

var phaseNames = [...]string{
	PhaseIdle:                     "idle",
	PhaseAwaitingUnregisterSettle: "awaiting-unregister-settle",
	PhaseInjecting:                "injecting",
	PhaseAwaitingReregisterSettle: "awaiting-reregister-settle",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("Phase(%d)", int(p))
}

// Options configures an Injector.
type Options struct {
	Table       keymap.Table
	Clock       Clock
	SettleDelay time.Duration
	Suppressor  Suppressor
	Logger      *logging.Logger

	// OnPhase observes phase transitions.
	OnPhase func(Phase)

	// HoldTriggers runs when a pause action starts; the returned function
	// runs when it ends. Triggers arriving in between are ignored.
	HoldTriggers func() (release func())
}

// Injector serializes keystrokes to a Backend. Only one Inject or
// InjectBurst call runs at a time.
type Injector struct {
	backend Backend
	table   keymap.Table
	clock   Clock
	settle  time.Duration
	log     *logging.Logger
	onPhase func(Phase)
	hold    func() func()

	mu         sync.Mutex
	suppressor Suppressor
	busy       bool
	phase      Phase
	cancelRun  context.CancelFunc
}

// New creates an Injector.
func New(backend Backend, opts Options) *Injector {
	if opts.Table == nil {
		opts.Table = keymap.DefaultTable()
	}
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("inject")
	}
	return &Injector{
		backend:    backend,
		table:      opts.Table,
		clock:      opts.Clock,
		settle:     opts.SettleDelay,
		log:        opts.Logger,
		onPhase:    opts.OnPhase,
		hold:       opts.HoldTriggers,
		suppressor: opts.Suppressor,
	}
}

// SetSuppressor wires the hotkey interceptor after construction.
func (i *Injector) SetSuppressor(s Suppressor) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.suppressor = s
}

// Phase returns the current phase.
func (i *Injector) Phase() Phase {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.phase
}

// Busy reports whether an injection is in flight.
func (i *Injector) Busy() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.busy
}

// Table returns the symbol table in use.
func (i *Injector) Table() keymap.Table {
	return i.table
}

func (i *Injector) acquire() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.busy {
		return false
	}
	i.busy = true
	return true
}

func (i *Injector) release() {
	i.mu.Lock()
	i.busy = false
	i.cancelRun = nil
	i.mu.Unlock()
}

func (i *Injector) setPhase(p Phase) {
	i.mu.Lock()
	i.phase = p
	i.mu.Unlock()
	if i.onPhase != nil {
		i.onPhase(p)
	}
}

// Inject types one character and blocks until the backend is done.
func (i *Injector) Inject(ctx context.Context, r rune) error {
	if !i.acquire() {
		i.log.Info("already injecting, skipping", "char", string(r))
		return ErrBusy
	}
	defer i.release()

	return i.injectOne(ctx, r)
}

// InjectBurst types chars in order with delay between them. onStep is
// called with the position of each character once it has been typed; an
// error from onStep stops the run. Cancellation through ctx or Cancel takes
// effect at the next character boundary. It returns the number of
// characters typed.
func (i *Injector) InjectBurst(ctx context.Context, chars []rune, delay time.Duration, onStep func(i int) error) (int, error) {
	if !i.acquire() {
		i.log.Info("already injecting, skipping", "chars", len(chars))
		return 0, ErrBusy
	}
	defer i.release()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	i.mu.Lock()
	i.cancelRun = cancel
	i.mu.Unlock()

	typed := 0
	for idx, r := range chars {
		if runCtx.Err() != nil {
			return typed, ErrCanceled
		}
		if idx > 0 && delay > 0 {
			if err := i.clock.Sleep(runCtx, delay); err != nil {
				return typed, ErrCanceled
			}
		}

		// a started keystroke always completes; only the boundary cancels
		if err := i.injectOne(context.WithoutCancel(ctx), r); err != nil {
			return typed, err
		}
		typed++

		if onStep != nil {
			if err := onStep(idx); err != nil {
				return typed, err
			}
		}
	}
	return typed, nil
}

// Cancel stops a running burst after its current character. It reports
// whether a burst was running.
func (i *Injector) Cancel() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.cancelRun == nil {
		return false
	}
	i.cancelRun()
	return true
}

func (i *Injector) injectOne(ctx context.Context, r rune) error {
	action := i.table.Resolve(r)

	i.mu.Lock()
	sup := i.suppressor
	i.mu.Unlock()

	var restore func() error
	suppressed := false
	if sup != nil && action.Kind != keymap.ActionPause {
		restore, suppressed = sup.Suppress(r)
	}

	var err error
	if suppressed {
		i.setPhase(PhaseAwaitingUnregisterSettle)
		err = i.clock.Sleep(ctx, i.settle)
	}
	if err == nil {
		i.setPhase(PhaseInjecting)
		err = i.perform(ctx, action)
	}

	if suppressed {
		i.setPhase(PhaseAwaitingReregisterSettle)
		_ = i.clock.Sleep(context.WithoutCancel(ctx), i.settle)
		if rerr := restore(); rerr != nil {
			i.log.Warn("restore hotkey failed", "char", string(r), "error", rerr)
			if err == nil {
				err = rerr
			}
		}
	}
	i.setPhase(PhaseIdle)

	if err != nil {
		return &InjectionError{Char: r, Err: err}
	}
	return nil
}

func (i *Injector) perform(ctx context.Context, a keymap.Action) error {
	switch a.Kind {
	case keymap.ActionLiteral:
		return i.backend.TypeRune(ctx, a.Rune)
	case keymap.ActionCombo:
		return i.backend.Tap(ctx, a.Chord)
	case keymap.ActionPause:
		if i.hold != nil {
			defer i.hold()()
		}
		return i.clock.Sleep(ctx, a.Duration)
	default:
		return fmt.Errorf("unknown action %s", a.Kind)
	}
}
