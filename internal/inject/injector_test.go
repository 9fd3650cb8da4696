package inject

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leo/internal/health"
	"leo/internal/hotkey"
	"leo/internal/keymap"
	"leo/internal/logging"
	"leo/internal/session"
)

func newTestInjector(rec *Recorder, sup Suppressor, settle time.Duration) (*Injector, *RecordingClock) {
	clock := &RecordingClock{}
	inj := New(rec, Options{
		Clock:       clock,
		SettleDelay: settle,
		Suppressor:  sup,
		Logger:      logging.Discard(),
	})
	return inj, clock
}

func typingInterceptor(t *testing.T, letters string) (*hotkey.Interceptor, *hotkey.MemoryRegistrar) {
	t.Helper()
	reg := hotkey.NewMemoryRegistrar()
	i := hotkey.New(reg, session.New(), hotkey.Options{Logger: logging.Discard()})
	require.NoError(t, i.RegisterTypingHotkeys([]rune(letters)))
	return i, reg
}

func TestInjectResolvesTable(t *testing.T) {
	rec := &Recorder{}
	inj, clock := newTestInjector(rec, nil, 0)
	ctx := context.Background()

	for _, r := range "x💾\n🕛" {
		require.NoError(t, inj.Inject(ctx, r))
	}

	assert.Equal(t, "x<Ctrl+S><Enter>", rec.Typed())
	assert.Equal(t, []time.Duration{time.Second}, clock.Sleeps(), "pause emits no keystroke")
}

func TestPauseHoldsTriggers(t *testing.T) {
	state := session.New()
	clock := &RecordingClock{}
	var pausedDuringSleep []bool
	clock.OnSleep = func(time.Duration) { pausedDuringSleep = append(pausedDuringSleep, state.IsPaused()) }
	inj := New(&Recorder{}, Options{
		Clock:        clock,
		Logger:       logging.Discard(),
		HoldTriggers: state.HoldPause,
	})

	require.NoError(t, inj.Inject(context.Background(), '🕛'))
	require.NoError(t, inj.Inject(context.Background(), 'x'))

	assert.Equal(t, []bool{true}, pausedDuringSleep)
	assert.False(t, state.IsPaused())
}

func TestSuppressionSymmetry(t *testing.T) {
	i, reg := typingInterceptor(t, "ab")
	rec := &Recorder{}
	var phases []Phase
	inj := New(rec, Options{
		Clock:       &RecordingClock{},
		SettleDelay: 20 * time.Millisecond,
		Suppressor:  i,
		Logger:      logging.Discard(),
		OnPhase:     func(p Phase) { phases = append(phases, p) },
	})

	// the letter must be released while it is typed
	rec.Hook = func(k Keystroke) {
		assert.False(t, reg.IsRegistered(keymap.RuneChord(k.Rune)))
	}

	require.NoError(t, inj.Inject(context.Background(), 'A'))

	assert.Equal(t, []string{"register", "unregister", "register"}, reg.CallsFor(keymap.RuneChord('a')))
	assert.Equal(t, []string{"register"}, reg.CallsFor(keymap.RuneChord('b')))
	assert.Equal(t, []Phase{
		PhaseAwaitingUnregisterSettle,
		PhaseInjecting,
		PhaseAwaitingReregisterSettle,
		PhaseIdle,
	}, phases)
}

func TestSuppressionSymmetryOnError(t *testing.T) {
	i, reg := typingInterceptor(t, "a")
	rec := &Recorder{Fail: func(Keystroke) error { return ErrInjected }}
	inj, clock := newTestInjector(rec, i, 20*time.Millisecond)

	err := inj.Inject(context.Background(), 'a')

	var ierr *InjectionError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 'a', ierr.Char)
	assert.ErrorIs(t, err, ErrInjected)

	assert.Equal(t, []string{"register", "unregister", "register"}, reg.CallsFor(keymap.RuneChord('a')))
	assert.True(t, reg.IsRegistered(keymap.RuneChord('a')))
	assert.Equal(t, []time.Duration{20 * time.Millisecond, 20 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, PhaseIdle, inj.Phase())
}

func TestNonHotkeyCharNotSuppressed(t *testing.T) {
	i, reg := typingInterceptor(t, "a")
	inj, clock := newTestInjector(&Recorder{}, i, 20*time.Millisecond)

	require.NoError(t, inj.Inject(context.Background(), 'z'))
	assert.Equal(t, []string{"register"}, reg.CallsFor(keymap.RuneChord('a')))
	assert.Empty(t, clock.Sleeps())
}

func TestSingleInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var inFlight, maxInFlight int32

	rec := &Recorder{}
	rec.Hook = func(Keystroke) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
	}
	inj, _ := newTestInjector(rec, nil, 0)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() { done <- inj.Inject(ctx, 'x') }()
	<-entered

	var wg sync.WaitGroup
	var busy int32
	for n := 0; n < 10; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if errors.Is(inj.Inject(ctx, 'y'), ErrBusy) {
				atomic.AddInt32(&busy, 1)
			}
		}()
	}
	wg.Wait()
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, int32(10), busy)
	assert.Equal(t, int32(1), maxInFlight)
	assert.Equal(t, "x", rec.Typed())
}

func TestInjectBurstOrderAndDelay(t *testing.T) {
	rec := &Recorder{}
	inj, clock := newTestInjector(rec, nil, 0)

	var seen []int
	n, err := inj.InjectBurst(context.Background(), []rune("abc"), 50*time.Millisecond, func(i int) error {
		seen = append(seen, i)
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, "abc", rec.Typed())
	assert.Equal(t, []int{0, 1, 2}, seen)
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clock.Sleeps())
}

func TestInjectBurstCancelAtBoundary(t *testing.T) {
	rec := &Recorder{}
	inj, _ := newTestInjector(rec, nil, 0)

	n, err := inj.InjectBurst(context.Background(), []rune("abcd"), 0, func(i int) error {
		if i == 1 {
			assert.True(t, inj.Cancel())
		}
		return nil
	})

	assert.ErrorIs(t, err, ErrCanceled)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ab", rec.Typed())
	assert.False(t, inj.Cancel(), "no burst running")
	assert.False(t, inj.Busy())
}

func TestInjectBurstStopsOnError(t *testing.T) {
	rec := &Recorder{Fail: func(k Keystroke) error {
		if k.Rune == 'c' {
			return ErrInjected
		}
		return nil
	}}
	inj, _ := newTestInjector(rec, nil, 0)

	n, err := inj.InjectBurst(context.Background(), []rune("abcd"), 0, nil)

	var ierr *InjectionError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 'c', ierr.Char)
	assert.Equal(t, 2, n)
	assert.Equal(t, "ab", rec.Typed())
}

func TestXdotoolArgs(t *testing.T) {
	var calls [][]string
	x := NewXdotoolBackend("", time.Second)
	x.run = func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		return []byte("editor\n"), nil
	}
	ctx := context.Background()

	require.NoError(t, x.TypeRune(ctx, 'λ'))
	require.NoError(t, x.Tap(ctx, keymap.MustParseChord("Ctrl+Shift+Left")))
	require.NoError(t, x.Tap(ctx, keymap.Chord{Key: keymap.KeyPageDown}))
	title, err := x.ActiveWindow(ctx)
	require.NoError(t, err)

	assert.Equal(t, [][]string{
		{"xdotool", "type", "--clearmodifiers", "--", "λ"},
		{"xdotool", "key", "--clearmodifiers", "ctrl+shift+Left"},
		{"xdotool", "key", "--clearmodifiers", "Next"},
		{"xdotool", "getactivewindow", "getwindowname"},
	}, calls)
	assert.Equal(t, "editor", title)
}

func TestXdotoolCheck(t *testing.T) {
	x := NewXdotoolBackend("", time.Second)
	x.run = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("main.go - editor\n"), nil
	}
	r := x.Check(context.Background())
	assert.Equal(t, health.StatusHealthy, r.Status)
	assert.Equal(t, `typing into "main.go - editor"`, r.Message)

	x.run = func(context.Context, string, ...string) ([]byte, error) {
		return nil, errors.New("Can't open display")
	}
	r = x.Check(context.Background())
	assert.Equal(t, health.StatusUnhealthy, r.Status)
	assert.Equal(t, "Can't open display", r.Error)
}

func TestXdotoolKeySpec(t *testing.T) {
	spec, err := XdotoolKeySpec(keymap.ComboRune(keymap.ModCtrl, 's').Chord)
	require.NoError(t, err)
	assert.Equal(t, "ctrl+s", spec)

	spec, err = XdotoolKeySpec(keymap.Chord{Mods: keymap.ModCtrl, Key: keymap.KeyF5})
	require.NoError(t, err)
	assert.Equal(t, "ctrl+F5", spec)
}
