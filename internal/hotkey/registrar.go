// Package hotkey owns the global key bindings of the presenter.
//
// The Interceptor is the only component that talks to the platform
// Registrar. It keeps the set of registered chords, turns triggers into
// cursor requests, and briefly releases a typing letter while that same
// letter is being injected.
package hotkey

import (
	"errors"
	"sync"

	"leo/internal/keymap"
)

// Registrar is the platform capability for global key bindings.
type Registrar interface {
	// Register starts intercepting c. Registering an already registered
	// chord is an error at the platform level.
	Register(c keymap.Chord) error

	// Unregister stops intercepting c.
	Unregister(c keymap.Chord) error

	// Triggers delivers intercepted chords.
	Triggers() <-chan keymap.Chord

	// Close releases the platform resources.
	Close() error
}

// ErrAlreadyRegistered is returned by registrars that reject duplicates.
var ErrAlreadyRegistered = errors.New("hotkey: chord already registered")

// ErrNotRegistered is returned when unregistering an unknown chord.
var ErrNotRegistered = errors.New("hotkey: chord not registered")

// Call is one recorded registrar call.
type Call struct {
	Op    string // "register" or "unregister"
	Chord keymap.Chord
}

// MemoryRegistrar keeps bindings in memory. Triggers are injected with
// Fire. It backs the IPC "press" command and the tests.
type MemoryRegistrar struct {
	mu      sync.Mutex
	active  map[keymap.Chord]bool
	calls   []Call
	trigger chan keymap.Chord
	closed  bool

	// FailRegister, when set, makes Register return its result.
	FailRegister func(keymap.Chord) error
}

// NewMemoryRegistrar returns an empty registrar.
func NewMemoryRegistrar() *MemoryRegistrar {
	return &MemoryRegistrar{
		active:  make(map[keymap.Chord]bool),
		trigger: make(chan keymap.Chord, 64),
	}
}

// Register implements Registrar.
func (m *MemoryRegistrar) Register(c keymap.Chord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "register", Chord: c})
	if m.FailRegister != nil {
		if err := m.FailRegister(c); err != nil {
			return err
		}
	}
	if m.active[c] {
		return ErrAlreadyRegistered
	}
	m.active[c] = true
	return nil
}

// Unregister implements Registrar.
func (m *MemoryRegistrar) Unregister(c keymap.Chord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, Call{Op: "unregister", Chord: c})
	if !m.active[c] {
		return ErrNotRegistered
	}
	delete(m.active, c)
	return nil
}

// Triggers implements Registrar.
func (m *MemoryRegistrar) Triggers() <-chan keymap.Chord {
	return m.trigger
}

// Close implements Registrar.
func (m *MemoryRegistrar) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.trigger)
	}
	return nil
}

// Fire delivers c as if it had been pressed. Unregistered chords are
// dropped, as the platform would let them through to the focused app.
// It reports whether the trigger was delivered.
func (m *MemoryRegistrar) Fire(c keymap.Chord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || !m.active[c] {
		return false
	}
	select {
	case m.trigger <- c:
		return true
	default:
		return false
	}
}

// IsRegistered reports whether c is currently bound.
func (m *MemoryRegistrar) IsRegistered(c keymap.Chord) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active[c]
}

// Calls returns the recorded register/unregister calls.
func (m *MemoryRegistrar) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallsFor returns the recorded calls for one chord.
func (m *MemoryRegistrar) CallsFor(c keymap.Chord) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ops []string
	for _, call := range m.calls {
		if call.Chord == c {
			ops = append(ops, call.Op)
		}
	}
	return ops
}

// Active returns the number of bound chords.
func (m *MemoryRegistrar) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// ParseBinding parses an accelerator such as "CommandOrControl+Shift+T".
func ParseBinding(spec string) (keymap.Chord, error) {
	return keymap.ParseChord(spec)
}
