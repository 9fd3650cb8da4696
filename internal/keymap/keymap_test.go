package keymap

import (
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModifierBits(t *testing.T) {
	assert.Equal(t, Modifier(1), ModShift)
	assert.Equal(t, Modifier(2), ModCtrl)
	assert.Equal(t, Modifier(4), ModAlt)
	assert.Equal(t, Modifier(8), ModMeta)

	m := ModCtrl.With(ModShift)
	assert.True(t, m.Has(ModCtrl))
	assert.True(t, m.Has(ModShift))
	assert.False(t, m.Has(ModAlt))
	assert.Equal(t, "Ctrl+Shift", m.String())
}

func TestParseChord(t *testing.T) {
	tests := []struct {
		spec string
		want Chord
	}{
		{"Ctrl+S", Chord{Mods: ModCtrl, Key: KeyRune, Rune: 's'}},
		{"ctrl+shift+t", Chord{Mods: ModCtrl | ModShift, Key: KeyRune, Rune: 't'}},
		{"PageUp", Chord{Key: KeyPageUp}},
		{"Alt+Tab", Chord{Mods: ModAlt, Key: KeyTab}},
		{"Escape", Chord{Key: KeyEscape}},
		{"Esc", Chord{Key: KeyEscape}},
		{"a", Chord{Key: KeyRune, Rune: 'a'}},
		{"Ctrl++", Chord{Mods: ModCtrl, Key: KeyRune, Rune: '+'}},
		{"Ctrl+F5", Chord{Mods: ModCtrl, Key: KeyF5}},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseChord(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseChordCommandOrControl(t *testing.T) {
	c, err := ParseChord("CommandOrControl+Shift+Space")
	require.NoError(t, err)

	want := ModCtrl
	if runtime.GOOS == "darwin" {
		want = ModMeta
	}
	assert.Equal(t, want|ModShift, c.Mods)
	assert.Equal(t, KeySpace, c.Key)
}

func TestParseChordErrors(t *testing.T) {
	for _, spec := range []string{"", "Hyper+S", "Ctrl+Banana"} {
		_, err := ParseChord(spec)
		assert.Error(t, err, spec)
	}
}

func TestChordString(t *testing.T) {
	assert.Equal(t, "Ctrl+S", MustParseChord("ctrl+s").String())
	assert.Equal(t, "Shift+Home", MustParseChord("Shift+Home").String())
	assert.Equal(t, "End", MustParseChord("End").String())
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("pause:250")
	require.NoError(t, err)
	assert.Equal(t, Pause(250*time.Millisecond), a)

	a, err = ParseAction("pause:1.5s")
	require.NoError(t, err)
	assert.Equal(t, Pause(1500*time.Millisecond), a)

	a, err = ParseAction("literal:λ")
	require.NoError(t, err)
	assert.Equal(t, Literal('λ'), a)

	a, err = ParseAction("Ctrl+W")
	require.NoError(t, err)
	assert.Equal(t, ComboRune(ModCtrl, 'w'), a)

	_, err = ParseAction("pause:-3")
	assert.ErrorIs(t, err, ErrInvalidSpec)
	_, err = ParseAction("literal:ab")
	assert.ErrorIs(t, err, ErrInvalidSpec)
}

func TestDefaultTableResolve(t *testing.T) {
	table := DefaultTable()

	tests := []struct {
		in   rune
		want Action
	}{
		{'x', Literal('x')},
		{'\n', Combo(ModNone, KeyEnter)},
		{'\t', Combo(ModNone, KeyTab)},
		{'💾', ComboRune(ModCtrl, 's')},
		{'◄', Combo(ModNone, KeyHome)},
		{'⇒', Combo(ModShift, KeyEnd)},
		{'ö', Combo(ModCtrl, KeyF5)},
		{'🕛', Pause(time.Second)},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, table.Resolve(tt.in), "resolve %q", tt.in)
	}
}

func TestFromConfigOverrides(t *testing.T) {
	table, err := FromConfig(map[string]string{
		"✂": "Ctrl+X",
		"🕛": "pause:2000",
	})
	require.NoError(t, err)

	assert.Equal(t, ComboRune(ModCtrl, 'x'), table.Resolve('✂'))
	assert.Equal(t, Pause(2*time.Second), table.Resolve('🕛'))
	assert.Equal(t, ComboRune(ModCtrl, 's'), table.Resolve('💾'), "defaults kept")

	// the built-in table is not mutated
	assert.Equal(t, Pause(time.Second), DefaultTable().Resolve('🕛'))
}

func TestFromConfigRejectsBadEntries(t *testing.T) {
	_, err := FromConfig(map[string]string{"ab": "Ctrl+X"})
	assert.Error(t, err)

	_, err = FromConfig(map[string]string{"✂": "Hyper+X"})
	assert.Error(t, err)
}

func TestSymbolsSorted(t *testing.T) {
	syms := DefaultTable().Symbols()
	require.NotEmpty(t, syms)
	for i := 1; i < len(syms); i++ {
		assert.Less(t, syms[i-1], syms[i])
	}
}
