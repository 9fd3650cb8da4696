package keymap

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// ActionKind tags an Action variant.
type ActionKind uint8

const (
	// ActionLiteral types a character as-is.
	ActionLiteral ActionKind = iota
	// ActionCombo presses a key chord.
	ActionCombo
	// ActionPause waits without emitting any keystroke.
	ActionPause
)

func (k ActionKind) String() string {
	switch k {
	case ActionLiteral:
		return "literal"
	case ActionCombo:
		return "combo"
	case ActionPause:
		return "pause"
	default:
		return fmt.Sprintf("ActionKind(%d)", k)
	}
}

// Action is what a single lesson character becomes when injected.
// Exactly one of Rune, Chord and Duration is meaningful, selected by Kind.
type Action struct {
	Kind     ActionKind
	Rune     rune
	Chord    Chord
	Duration time.Duration
}

// Literal types r.
func Literal(r rune) Action {
	return Action{Kind: ActionLiteral, Rune: r}
}

// Combo presses key with mods held.
func Combo(mods Modifier, key Key) Action {
	return Action{Kind: ActionCombo, Chord: Chord{Mods: mods, Key: key}}
}

// ComboRune presses a character key with mods held, e.g. Ctrl+S.
func ComboRune(mods Modifier, r rune) Action {
	c := RuneChord(r)
	c.Mods = mods
	return Action{Kind: ActionCombo, Chord: c}
}

// Pause waits for d.
func Pause(d time.Duration) Action {
	return Action{Kind: ActionPause, Duration: d}
}

func (a Action) String() string {
	switch a.Kind {
	case ActionLiteral:
		return "literal:" + string(a.Rune)
	case ActionCombo:
		return a.Chord.String()
	case ActionPause:
		return "pause:" + a.Duration.String()
	default:
		return a.Kind.String()
	}
}

// ParseAction parses the settings form of an action:
//
//	"Ctrl+S"        combo
//	"pause:1000"    pause in milliseconds
//	"pause:1.5s"    pause as a Go duration
//	"literal:λ"     type a different character
func ParseAction(spec string) (Action, error) {
	spec = strings.TrimSpace(spec)
	switch {
	case strings.HasPrefix(spec, "pause:"):
		v := strings.TrimPrefix(spec, "pause:")
		if ms, err := strconv.Atoi(v); err == nil {
			if ms < 0 {
				return Action{}, fmt.Errorf("%w: negative pause %q", ErrInvalidSpec, spec)
			}
			return Pause(time.Duration(ms) * time.Millisecond), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Action{}, fmt.Errorf("%w: bad pause %q", ErrInvalidSpec, spec)
		}
		return Pause(d), nil

	case strings.HasPrefix(spec, "literal:"):
		v := strings.TrimPrefix(spec, "literal:")
		if utf8.RuneCountInString(v) != 1 {
			return Action{}, fmt.Errorf("%w: literal must be one character, got %q", ErrInvalidSpec, v)
		}
		r, _ := utf8.DecodeRuneInString(v)
		return Literal(r), nil
	}

	c, err := ParseChord(spec)
	if err != nil {
		return Action{}, err
	}
	return Action{Kind: ActionCombo, Chord: c}, nil
}
