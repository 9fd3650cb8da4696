package keymap

import (
	"fmt"
	"sort"
	"time"
	"unicode/utf8"
)

// Table maps lesson symbols to injection actions.
type Table map[rune]Action

// DefaultTable returns the built-in symbol bindings.
func DefaultTable() Table {
	return Table{
		// navigation
		'←': Combo(ModNone, KeyLeft),
		'→': Combo(ModNone, KeyRight),
		'↑': Combo(ModNone, KeyUp),
		'↓': Combo(ModNone, KeyDown),
		'◄': Combo(ModNone, KeyHome),
		'►': Combo(ModNone, KeyEnd),
		'▲': Combo(ModNone, KeyPageUp),
		'▼': Combo(ModNone, KeyPageDown),

		// editing
		'↢': Combo(ModNone, KeyBackspace),
		'―': Combo(ModNone, KeyTab),
		'‒': Combo(ModNone, KeyTab),
		'↩': Combo(ModNone, KeyEnter),
		'é': Combo(ModNone, KeyEscape),

		// selection
		'⇑': Combo(ModShift, KeyUp),
		'⇓': Combo(ModShift, KeyDown),
		'⇐': Combo(ModShift, KeyHome),
		'⇒': Combo(ModShift, KeyEnd),

		// application shortcuts
		'💾': ComboRune(ModCtrl, 's'),
		'🔁': Combo(ModAlt, KeyTab),
		'Ö':  Combo(ModAlt, KeyTab),
		'ö':  Combo(ModCtrl, KeyF5),
		'Ș':  Combo(ModCtrl, KeyTab),
		'ñ':  ComboRune(ModCtrl, 'n'),
		'🆕': ComboRune(ModCtrl, 'n'),
		'ω':  ComboRune(ModCtrl, 'w'),
		'Ț':  ComboRune(ModCtrl, 'f'),

		'🕛': Pause(time.Second),
	}
}

// Resolve returns the action for r. Unmapped newlines and tabs press
// Enter and Tab; everything else is typed literally.
func (t Table) Resolve(r rune) Action {
	if a, ok := t[r]; ok {
		return a
	}
	switch r {
	case '\n':
		return Combo(ModNone, KeyEnter)
	case '\t':
		return Combo(ModNone, KeyTab)
	}
	return Literal(r)
}

// IsSymbol reports whether r has an explicit binding.
func (t Table) IsSymbol(r rune) bool {
	_, ok := t[r]
	return ok
}

// Merge returns a copy of t with overrides applied on top.
func (t Table) Merge(overrides Table) Table {
	out := make(Table, len(t)+len(overrides))
	for r, a := range t {
		out[r] = a
	}
	for r, a := range overrides {
		out[r] = a
	}
	return out
}

// Symbols returns the bound runes in a stable order.
func (t Table) Symbols() []rune {
	out := make([]rune, 0, len(t))
	for r := range t {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FromConfig builds the default table extended with settings entries
// of the form symbol -> action spec (see ParseAction).
func FromConfig(entries map[string]string) (Table, error) {
	overrides := make(Table, len(entries))
	for symbol, spec := range entries {
		if utf8.RuneCountInString(symbol) != 1 {
			return nil, fmt.Errorf("%w: symbol %q must be a single character", ErrInvalidSpec, symbol)
		}
		r, _ := utf8.DecodeRuneInString(symbol)
		a, err := ParseAction(spec)
		if err != nil {
			return nil, fmt.Errorf("keymap entry %q: %w", symbol, err)
		}
		overrides[r] = a
	}
	return DefaultTable().Merge(overrides), nil
}
