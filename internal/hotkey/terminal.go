package hotkey

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"unicode/utf8"

	"golang.org/x/term"

	"leo/internal/keymap"
	"leo/internal/logging"
)

// TerminalRegistrar reads key presses from the presenter's terminal and
// fires triggers for registered chords. Unregistered presses are dropped.
type TerminalRegistrar struct {
	in  io.Reader
	log *logging.Logger

	fd      int
	managed bool
	saved   *term.State

	mu      sync.Mutex
	active  map[keymap.Chord]bool
	trigger chan keymap.Chord
	running bool
	closed  bool

	// OnInterrupt is called for Ctrl+C, which raw mode no longer turns
	// into a signal.
	OnInterrupt func()
}

// NewTerminalRegistrar creates a registrar reading from in. Raw mode is
// only used when in is a terminal.
func NewTerminalRegistrar(in io.Reader, log *logging.Logger) *TerminalRegistrar {
	if log == nil {
		log = logging.Component("hotkey")
	}
	r := &TerminalRegistrar{
		in:      in,
		log:     log,
		fd:      -1,
		active:  make(map[keymap.Chord]bool),
		trigger: make(chan keymap.Chord, 64),
	}
	if f, ok := in.(interface{ Fd() uintptr }); ok {
		fd := int(f.Fd())
		if term.IsTerminal(fd) {
			r.fd = fd
			r.managed = true
		}
	}
	return r
}

// Start puts the terminal in raw mode and begins reading.
func (r *TerminalRegistrar) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("terminal registrar already running")
	}
	if r.managed {
		state, err := term.MakeRaw(r.fd)
		if err != nil {
			return fmt.Errorf("failed to enable raw mode: %w", err)
		}
		r.saved = state
	}
	r.running = true
	go r.readLoop()
	return nil
}

// Register implements Registrar.
func (r *TerminalRegistrar) Register(c keymap.Chord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[c] {
		return ErrAlreadyRegistered
	}
	r.active[c] = true
	return nil
}

// Unregister implements Registrar.
func (r *TerminalRegistrar) Unregister(c keymap.Chord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active[c] {
		return ErrNotRegistered
	}
	delete(r.active, c)
	return nil
}

// Triggers implements Registrar.
func (r *TerminalRegistrar) Triggers() <-chan keymap.Chord {
	return r.trigger
}

// Close restores the terminal and closes the trigger channel.
func (r *TerminalRegistrar) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.running = false
	close(r.trigger)

	if r.saved != nil {
		if err := term.Restore(r.fd, r.saved); err != nil {
			return fmt.Errorf("failed to restore terminal: %w", err)
		}
		r.saved = nil
	}
	return nil
}

func (r *TerminalRegistrar) readLoop() {
	buf := make([]byte, 256)
	for {
		n, err := r.in.Read(buf)
		if n > 0 {
			for _, c := range DecodeKeys(buf[:n]) {
				r.dispatch(c)
			}
		}
		if err != nil {
			if err != io.EOF {
				r.log.Debug("terminal read stopped", "error", err)
			}
			return
		}
	}
}

func (r *TerminalRegistrar) dispatch(c keymap.Chord) {
	if c.Mods == keymap.ModCtrl && c.Key == keymap.KeyRune && c.Rune == 'c' {
		if r.OnInterrupt != nil {
			r.OnInterrupt()
		}
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || !r.active[c] {
		return
	}
	select {
	case r.trigger <- c:
	default:
		r.log.Warn("trigger dropped, consumer is behind", "chord", c.String())
	}
}

var escapeSequences = map[string]keymap.Chord{
	"\x1b[A": {Key: keymap.KeyUp},
	"\x1b[B": {Key: keymap.KeyDown},
	"\x1b[C": {Key: keymap.KeyRight},
	"\x1b[D": {Key: keymap.KeyLeft},
	"\x1bOA": {Key: keymap.KeyUp},
	"\x1bOB": {Key: keymap.KeyDown},
	"\x1bOC": {Key: keymap.KeyRight},
	"\x1bOD": {Key: keymap.KeyLeft},

	"\x1b[1;2A": {Mods: keymap.ModShift, Key: keymap.KeyUp},
	"\x1b[1;2B": {Mods: keymap.ModShift, Key: keymap.KeyDown},
	"\x1b[1;2C": {Mods: keymap.ModShift, Key: keymap.KeyRight},
	"\x1b[1;2D": {Mods: keymap.ModShift, Key: keymap.KeyLeft},
	"\x1b[1;3A": {Mods: keymap.ModAlt, Key: keymap.KeyUp},
	"\x1b[1;3B": {Mods: keymap.ModAlt, Key: keymap.KeyDown},
	"\x1b[1;3C": {Mods: keymap.ModAlt, Key: keymap.KeyRight},
	"\x1b[1;3D": {Mods: keymap.ModAlt, Key: keymap.KeyLeft},
	"\x1b[1;5A": {Mods: keymap.ModCtrl, Key: keymap.KeyUp},
	"\x1b[1;5B": {Mods: keymap.ModCtrl, Key: keymap.KeyDown},
	"\x1b[1;5C": {Mods: keymap.ModCtrl, Key: keymap.KeyRight},
	"\x1b[1;5D": {Mods: keymap.ModCtrl, Key: keymap.KeyLeft},
	"\x1b[1;6C": {Mods: keymap.ModCtrl | keymap.ModShift, Key: keymap.KeyRight},
	"\x1b[1;6D": {Mods: keymap.ModCtrl | keymap.ModShift, Key: keymap.KeyLeft},
	"\x1b[1;9C": {Mods: keymap.ModMeta, Key: keymap.KeyRight},
	"\x1b[1;9D": {Mods: keymap.ModMeta, Key: keymap.KeyLeft},

	"\x1bOP":   {Key: keymap.KeyF1},
	"\x1bOQ":   {Key: keymap.KeyF2},
	"\x1bOR":   {Key: keymap.KeyF3},
	"\x1bOS":   {Key: keymap.KeyF4},
	"\x1b[15~": {Key: keymap.KeyF5},
	"\x1b[17~": {Key: keymap.KeyF6},
	"\x1b[18~": {Key: keymap.KeyF7},
	"\x1b[19~": {Key: keymap.KeyF8},
	"\x1b[20~": {Key: keymap.KeyF9},
	"\x1b[21~": {Key: keymap.KeyF10},
	"\x1b[23~": {Key: keymap.KeyF11},
	"\x1b[24~": {Key: keymap.KeyF12},

	"\x1b[H":  {Key: keymap.KeyHome},
	"\x1b[F":  {Key: keymap.KeyEnd},
	"\x1b[1~": {Key: keymap.KeyHome},
	"\x1b[4~": {Key: keymap.KeyEnd},
	"\x1b[2~": {Key: keymap.KeyInsert},
	"\x1b[3~": {Key: keymap.KeyDelete},
	"\x1b[5~": {Key: keymap.KeyPageUp},
	"\x1b[6~": {Key: keymap.KeyPageDown},
}

// DecodeKeys turns raw terminal input into chords. Uppercase letters
// decode as Shift plus the lowercase rune; an escape followed by a
// printable character decodes as Alt.
func DecodeKeys(b []byte) []keymap.Chord {
	var out []keymap.Chord
	for len(b) > 0 {
		if b[0] == 0x1b {
			c, n := decodeEscape(b)
			if c != (keymap.Chord{}) {
				out = append(out, c)
			}
			b = b[n:]
			continue
		}

		if b[0] < 0x20 || b[0] == 0x7f {
			if c := controlChord(b[0]); c != (keymap.Chord{}) {
				out = append(out, c)
			}
			b = b[1:]
			continue
		}

		r, n := utf8.DecodeRune(b)
		b = b[n:]
		if r == utf8.RuneError {
			continue
		}
		out = append(out, printableChord(r))
	}
	return out
}

func decodeEscape(b []byte) (keymap.Chord, int) {
	if len(b) == 1 {
		return keymap.Chord{Key: keymap.KeyEscape}, 1
	}

	if b[1] == '[' || b[1] == 'O' {
		// CSI and SS3 sequences end in a letter or '~'
		end := bytes.IndexFunc(b[2:], func(r rune) bool {
			return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '~'
		})
		if end >= 0 {
			seq := string(b[:end+3])
			if c, ok := escapeSequences[seq]; ok {
				return c, len(seq)
			}
			// unknown sequence, swallow it
			return keymap.Chord{}, len(seq)
		}
		return keymap.Chord{Key: keymap.KeyEscape}, 1
	}

	if b[1] == 0x1b {
		return keymap.Chord{Key: keymap.KeyEscape}, 1
	}

	r, n := utf8.DecodeRune(b[1:])
	if r == utf8.RuneError || r < 0x20 {
		return keymap.Chord{Key: keymap.KeyEscape}, 1
	}
	c := printableChord(r)
	c.Mods = c.Mods.With(keymap.ModAlt)
	return c, 1 + n
}

func controlChord(b byte) keymap.Chord {
	switch b {
	case '\r', '\n':
		return keymap.Chord{Key: keymap.KeyEnter}
	case '\t':
		return keymap.Chord{Key: keymap.KeyTab}
	case 0x7f, 0x08:
		return keymap.Chord{Key: keymap.KeyBackspace}
	case 0x00:
		return keymap.Chord{Mods: keymap.ModCtrl, Key: keymap.KeySpace}
	}
	if b >= 0x01 && b <= 0x1a {
		return keymap.Chord{Mods: keymap.ModCtrl, Key: keymap.KeyRune, Rune: rune('a' + b - 1)}
	}
	return keymap.Chord{}
}

func printableChord(r rune) keymap.Chord {
	if r == ' ' {
		return keymap.Chord{Key: keymap.KeySpace}
	}
	if r >= 'A' && r <= 'Z' {
		c := keymap.RuneChord(r)
		c.Mods = keymap.ModShift
		return c
	}
	return keymap.RuneChord(r)
}
