package keymap

import (
	"runtime"
	"strings"
)

// Modifier is a bit set of held modifier keys.
type Modifier uint8

const (
	ModNone  Modifier = 0
	ModShift Modifier = 1 << (iota - 1)
	ModCtrl
	ModAlt
	ModMeta
)

// Has reports whether m contains mod.
func (m Modifier) Has(mod Modifier) bool {
	return m&mod != 0
}

// With returns m with mod added.
func (m Modifier) With(mod Modifier) Modifier {
	return m | mod
}

// String renders the set as "Ctrl+Alt+Shift+Meta", in that order.
func (m Modifier) String() string {
	if m == ModNone {
		return ""
	}
	var parts []string
	if m.Has(ModCtrl) {
		parts = append(parts, "Ctrl")
	}
	if m.Has(ModAlt) {
		parts = append(parts, "Alt")
	}
	if m.Has(ModShift) {
		parts = append(parts, "Shift")
	}
	if m.Has(ModMeta) {
		parts = append(parts, "Meta")
	}
	return strings.Join(parts, "+")
}

// commandOrControl resolves the cross-platform accelerator modifier.
func commandOrControl() Modifier {
	if runtime.GOOS == "darwin" {
		return ModMeta
	}
	return ModCtrl
}

// ModifierFromName returns the modifier for a name such as "ctrl",
// "option" or "CommandOrControl". ok is false for unknown names.
func ModifierFromName(name string) (Modifier, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ctrl", "control", "leftcontrol":
		return ModCtrl, true
	case "alt", "option", "opt", "leftalt":
		return ModAlt, true
	case "shift":
		return ModShift, true
	case "meta", "cmd", "command", "super", "win":
		return ModMeta, true
	case "commandorcontrol", "cmdorctrl":
		return commandOrControl(), true
	}
	return ModNone, false
}
