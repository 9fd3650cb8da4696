package hotkey

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leo/internal/keymap"
	"leo/internal/logging"
	"leo/internal/session"
)

type fakeTarget struct {
	mu       sync.Mutex
	advanced []rune
	started  int
	stopped  int
	release  chan struct{}
}

func (f *fakeTarget) LockAdvance(_ context.Context, key rune) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanced = append(f.advanced, key)
}

func (f *fakeTarget) StartAutoTyping(ctx context.Context) error {
	f.mu.Lock()
	f.started++
	release := f.release
	f.mu.Unlock()
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
		}
	}
	return nil
}

func (f *fakeTarget) StopAutoTyping() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
}

func (f *fakeTarget) snapshot() (adv []rune, started, stopped int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]rune(nil), f.advanced...), f.started, f.stopped
}

func newTestInterceptor(mode Mode) (*Interceptor, *MemoryRegistrar, *session.State, *fakeTarget) {
	reg := NewMemoryRegistrar()
	state := session.New()
	i := New(reg, state, Options{Mode: mode, Logger: logging.Discard()})
	target := &fakeTarget{}
	i.SetTarget(target)
	return i, reg, state, target
}

func TestRegisterKeyIdempotent(t *testing.T) {
	i, reg, _, _ := newTestInterceptor(ModeSingleKey)

	require.NoError(t, i.RegisterKey('a'))
	require.NoError(t, i.RegisterKey('a'))
	require.NoError(t, i.RegisterKey('A'))

	assert.Equal(t, []string{"register"}, reg.CallsFor(keymap.RuneChord('a')))
	assert.True(t, i.IsRegistered('a'))
}

func TestTypingHotkeysSymmetry(t *testing.T) {
	i, reg, _, _ := newTestInterceptor(ModeSingleKey)
	toggle := keymap.MustParseChord("Ctrl+P")

	require.NoError(t, i.RegisterSystemShortcuts([]Shortcut{{Action: "toggle-active", Chord: toggle}}))
	require.NoError(t, i.RegisterTypingHotkeys([]rune("abc")))
	assert.Equal(t, 4, reg.Active())

	require.NoError(t, i.UnregisterTypingHotkeys())
	assert.Equal(t, 1, reg.Active(), "system shortcut survives")
	assert.True(t, reg.IsRegistered(toggle))

	for _, r := range "abc" {
		assert.Equal(t, []string{"register", "unregister"}, reg.CallsFor(keymap.RuneChord(r)))
	}

	require.NoError(t, i.UnregisterAll())
	assert.Zero(t, reg.Active())
}

func TestRegisterTypingHotkeysPartialFailure(t *testing.T) {
	i, reg, _, _ := newTestInterceptor(ModeSingleKey)
	reg.FailRegister = func(c keymap.Chord) error {
		if c.Rune == 'b' {
			return errors.New("grabbed by another app")
		}
		return nil
	}

	err := i.RegisterTypingHotkeys([]rune("abc"))
	require.Error(t, err)
	assert.True(t, i.IsRegistered('a'))
	assert.False(t, i.IsRegistered('b'))
	assert.True(t, i.IsRegistered('c'))

	require.NoError(t, i.UnregisterTypingHotkeys())
	assert.Zero(t, reg.Active())
	assert.Equal(t, []string{"register"}, reg.CallsFor(keymap.RuneChord('b')), "never unregister what was not registered")
}

func TestSuppressRestore(t *testing.T) {
	i, reg, _, _ := newTestInterceptor(ModeSingleKey)
	require.NoError(t, i.RegisterTypingHotkeys([]rune("ab")))

	restore, ok := i.Suppress('A')
	require.True(t, ok)
	assert.False(t, reg.IsRegistered(keymap.RuneChord('a')))

	require.NoError(t, restore())
	assert.True(t, reg.IsRegistered(keymap.RuneChord('a')))
	assert.Equal(t, []string{"register", "unregister", "register"}, reg.CallsFor(keymap.RuneChord('a')))

	_, ok = i.Suppress('z')
	assert.False(t, ok, "not a typing hotkey")
}

func TestSuppressRestoreAfterDeactivate(t *testing.T) {
	i, reg, _, _ := newTestInterceptor(ModeSingleKey)
	require.NoError(t, i.RegisterTypingHotkeys([]rune("a")))

	restore, ok := i.Suppress('a')
	require.True(t, ok)
	require.NoError(t, i.UnregisterTypingHotkeys())

	require.NoError(t, restore())
	assert.Zero(t, reg.Active(), "restore must not leak a binding after deactivation")
}

func TestTriggerSingleKey(t *testing.T) {
	i, _, state, target := newTestInterceptor(ModeSingleKey)
	require.NoError(t, i.RegisterTypingHotkeys([]rune("j")))
	ctx := context.Background()

	i.HandleTrigger(ctx, keymap.RuneChord('j'))
	adv, _, _ := target.snapshot()
	assert.Empty(t, adv, "inactive triggers are ignored")

	state.SetActive(true)
	i.HandleTrigger(ctx, keymap.RuneChord('j'))

	state.SetPaused(true)
	i.HandleTrigger(ctx, keymap.RuneChord('j'))

	adv, _, _ = target.snapshot()
	assert.Equal(t, []rune{'j'}, adv)
}

func TestTriggerAutoRunRegistersCancel(t *testing.T) {
	i, reg, state, target := newTestInterceptor(ModeAutoRun)
	target.release = make(chan struct{})
	require.NoError(t, i.RegisterTypingHotkeys([]rune("j")))
	state.SetActive(true)
	escape := keymap.Chord{Key: keymap.KeyEscape}

	i.HandleTrigger(context.Background(), keymap.RuneChord('j'))
	require.Eventually(t, func() bool {
		_, started, _ := target.snapshot()
		return started == 1
	}, time.Second, 5*time.Millisecond)
	assert.True(t, reg.IsRegistered(escape))

	i.HandleTrigger(context.Background(), escape)
	_, _, stopped := target.snapshot()
	assert.Equal(t, 1, stopped)

	close(target.release)
	i.Wait()
	assert.False(t, reg.IsRegistered(escape), "cancel key released when the run ends")
}

func TestTriggerAutoRunIgnoredWhileRunning(t *testing.T) {
	i, _, state, target := newTestInterceptor(ModeAutoRun)
	require.NoError(t, i.RegisterTypingHotkeys([]rune("j")))
	state.SetActive(true)
	require.True(t, state.BeginAutoTyping())

	i.HandleTrigger(context.Background(), keymap.RuneChord('j'))
	i.Wait()
	_, started, _ := target.snapshot()
	assert.Zero(t, started)
}

func TestSystemShortcutHandler(t *testing.T) {
	i, reg, _, _ := newTestInterceptor(ModeSingleKey)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fired := make(chan string, 1)
	chord := keymap.MustParseChord("Ctrl+Right")
	require.NoError(t, i.RegisterSystemShortcuts([]Shortcut{{
		Action:  "step-forward",
		Chord:   chord,
		Handler: func() { fired <- "step-forward" },
	}}))

	go i.Run(ctx)
	require.True(t, reg.Fire(chord))

	select {
	case got := <-fired:
		assert.Equal(t, "step-forward", got)
	case <-time.After(time.Second):
		t.Fatal("shortcut handler not called")
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("auto-run")
	require.NoError(t, err)
	assert.Equal(t, ModeAutoRun, m)
	assert.Equal(t, "auto-run", m.String())

	_, err = ParseMode("turbo")
	assert.Error(t, err)
}
