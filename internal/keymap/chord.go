package keymap

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Parse errors.
var (
	ErrEmptySpec   = errors.New("keymap: empty key specification")
	ErrInvalidSpec = errors.New("keymap: invalid key specification")
)

// Chord is a key plus the modifiers held while it is pressed.
// For KeyRune chords Rune holds the lowercase character.
type Chord struct {
	Mods Modifier
	Key  Key
	Rune rune
}

// String renders the chord in accelerator form, e.g. "Ctrl+S".
func (c Chord) String() string {
	var key string
	if c.Key == KeyRune {
		key = strings.ToUpper(string(c.Rune))
	} else {
		key = c.Key.String()
	}
	if c.Mods == ModNone {
		return key
	}
	return c.Mods.String() + "+" + key
}

// Equal reports whether two chords press the same keys.
func (c Chord) Equal(o Chord) bool {
	return c.Mods == o.Mods && c.Key == o.Key && c.Rune == o.Rune
}

// RuneChord returns an unmodified chord for a character key.
func RuneChord(r rune) Chord {
	return Chord{Key: KeyRune, Rune: unicode.ToLower(r)}
}

// ParseChord parses accelerator strings such as "Ctrl+S",
// "CommandOrControl+Shift+Space", "PageUp" or "a".
func ParseChord(spec string) (Chord, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Chord{}, ErrEmptySpec
	}

	// "Ctrl++" names the plus key.
	var parts []string
	if strings.HasSuffix(spec, "++") {
		parts = append(strings.Split(strings.TrimSuffix(spec, "++"), "+"), "+")
	} else {
		parts = strings.Split(spec, "+")
	}

	var c Chord
	for i, part := range parts {
		last := i == len(parts)-1
		if !last {
			mod, ok := ModifierFromName(part)
			if !ok {
				return Chord{}, fmt.Errorf("%w: unknown modifier %q in %q", ErrInvalidSpec, part, spec)
			}
			c.Mods = c.Mods.With(mod)
			continue
		}

		if k, ok := KeyFromName(part); ok {
			c.Key = k
			continue
		}
		if utf8.RuneCountInString(part) == 1 {
			r, _ := utf8.DecodeRuneInString(part)
			c.Key = KeyRune
			c.Rune = unicode.ToLower(r)
			continue
		}
		return Chord{}, fmt.Errorf("%w: unknown key %q in %q", ErrInvalidSpec, part, spec)
	}
	return c, nil
}

// MustParseChord is ParseChord for static tables.
func MustParseChord(spec string) Chord {
	c, err := ParseChord(spec)
	if err != nil {
		panic(err)
	}
	return c
}
