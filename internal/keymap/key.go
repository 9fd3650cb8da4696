// Package keymap describes what an injected lesson character turns into.
//
// Most characters are typed literally. A small set of symbols stands for
// key chords (💾 is Ctrl+S, ◄ is Home) or for a pause (🕛). The mapping
// is data: a Table from rune to Action that settings can extend.
package keymap

import (
	"fmt"
	"strings"
)

// Key is a named, non-character key. Character keys use KeyRune and carry
// the rune alongside.
type Key uint16

const (
	KeyNone Key = iota
	KeyEscape
	KeyEnter
	KeyTab
	KeyBackspace
	KeyDelete
	KeyInsert
	KeyHome
	KeyEnd
	KeyPageUp
	KeyPageDown
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeySpace
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyRune
)

var keyNames = map[Key]string{
	KeyNone:      "None",
	KeyEscape:    "Escape",
	KeyEnter:     "Enter",
	KeyTab:       "Tab",
	KeyBackspace: "Backspace",
	KeyDelete:    "Delete",
	KeyInsert:    "Insert",
	KeyHome:      "Home",
	KeyEnd:       "End",
	KeyPageUp:    "PageUp",
	KeyPageDown:  "PageDown",
	KeyUp:        "Up",
	KeyDown:      "Down",
	KeyLeft:      "Left",
	KeyRight:     "Right",
	KeySpace:     "Space",
	KeyF1:        "F1",
	KeyF2:        "F2",
	KeyF3:        "F3",
	KeyF4:        "F4",
	KeyF5:        "F5",
	KeyF6:        "F6",
	KeyF7:        "F7",
	KeyF8:        "F8",
	KeyF9:        "F9",
	KeyF10:       "F10",
	KeyF11:       "F11",
	KeyF12:       "F12",
	KeyRune:      "Rune",
}

// keyByName is keyed by lowercase name and includes common aliases.
var keyByName = func() map[string]Key {
	m := make(map[string]Key, len(keyNames)+8)
	for k, name := range keyNames {
		if k == KeyNone || k == KeyRune {
			continue
		}
		m[strings.ToLower(name)] = k
	}
	m["esc"] = KeyEscape
	m["return"] = KeyEnter
	m["bs"] = KeyBackspace
	m["del"] = KeyDelete
	m["pgup"] = KeyPageUp
	m["pgdn"] = KeyPageDown
	m["arrowup"] = KeyUp
	m["arrowdown"] = KeyDown
	m["arrowleft"] = KeyLeft
	m["arrowright"] = KeyRight
	return m
}()

func (k Key) String() string {
	if name, ok := keyNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Key(%d)", k)
}

// KeyFromName looks up a key by name, case-insensitively.
func KeyFromName(name string) (Key, bool) {
	k, ok := keyByName[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// IsArrow reports whether k is one of the four arrow keys.
func (k Key) IsArrow() bool {
	return k >= KeyUp && k <= KeyRight
}
