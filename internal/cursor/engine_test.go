package cursor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leo/internal/inject"
	"leo/internal/lesson"
	"leo/internal/logging"
	"leo/internal/session"
	"leo/internal/steps"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) finished() []AutoTypeFinished {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []AutoTypeFinished
	for _, e := range r.events {
		if f, ok := e.(AutoTypeFinished); ok {
			out = append(out, f)
		}
	}
	return out
}

func (r *recorder) count(match func(Event) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if match(e) {
			n++
		}
	}
	return n
}

type sessionLog struct {
	mu           sync.Mutex
	chars        []rune
	interactions [][2]string
}

func (l *sessionLog) LogChar(r rune) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chars = append(l.chars, r)
}

func (l *sessionLog) LogInteraction(kind, info string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.interactions = append(l.interactions, [2]string{kind, info})
}

type fixture struct {
	engine *Engine
	state  *session.State
	keys   *inject.Recorder
	events *recorder
	log    *sessionLog
}

func newFixture(t *testing.T, blocks []lesson.Block, opts Options) *fixture {
	t.Helper()
	state := session.New()
	keys := &inject.Recorder{}
	inj := inject.New(keys, inject.Options{Clock: &inject.RecordingClock{}, Logger: logging.Discard()})

	log := &sessionLog{}
	opts.SessionLog = log
	opts.Logger = logging.Discard()
	e := New(state, inj, opts)

	events := &recorder{}
	e.Subscribe(events)
	e.Load(blocks, steps.NoEditing)

	return &fixture{engine: e, state: state, keys: keys, events: events, log: log}
}

// [Block0 "title", 'a', 'b', Block1, Block2 "next"]
func sampleBlocks() []lesson.Block {
	return []lesson.Block{
		{Type: lesson.Comment, Text: "title"},
		{Type: lesson.Code, Text: "ab"},
		{Type: lesson.Comment, Text: "next"},
	}
}

func TestAutoTypeBoundary(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	f.engine.JumpTo(1)

	require.NoError(t, f.engine.StartAutoTyping(context.Background()))

	assert.Equal(t, "ab", f.keys.Typed())
	snap := f.engine.Snapshot()
	assert.Equal(t, 4, snap.Index, "boundary consumed, next block left alone")
	assert.Equal(t, []bool{true, true, true, true, false}, snap.Consumed)
	assert.Equal(t, []AutoTypeFinished{{Completed: true, Typed: 2}}, f.events.finished())
	assert.False(t, f.state.IsLocked())
	assert.False(t, f.state.IsAutoTyping())
}

func TestAutoTypeCancelMidBurst(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	f.engine.JumpTo(1)

	f.keys.Hook = func(k inject.Keystroke) {
		if k.Rune == 'a' {
			f.engine.StopAutoTyping()
		}
	}

	require.NoError(t, f.engine.StartAutoTyping(context.Background()))

	assert.Equal(t, "a", f.keys.Typed())
	snap := f.engine.Snapshot()
	assert.Equal(t, 2, snap.Index)
	assert.Equal(t, []bool{true, true, false, false, false}, snap.Consumed, "boundary not consumed")
	assert.Equal(t, []AutoTypeFinished{{Completed: false, Typed: 1}}, f.events.finished())
}

func TestAutoTypeFromBlockStep(t *testing.T) {
	blocks := append([]lesson.Block{{Type: lesson.Comment, Text: "❓ What does it print?"}}, sampleBlocks()[1:]...)
	f := newFixture(t, blocks, Options{})

	require.NoError(t, f.engine.StartAutoTyping(context.Background()))

	assert.Equal(t, "ab", f.keys.Typed())
	assert.Equal(t, 4, f.engine.Position().Index)
	assert.Equal(t, [][2]string{{InteractionQuestion, "What does it print?"}}, f.log.interactions)
	assert.Equal(t, []rune("ab"), f.log.chars)
}

func TestAutoTypeRejectsSecondRun(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	require.True(t, f.state.BeginAutoTyping())

	assert.ErrorIs(t, f.engine.StartAutoTyping(context.Background()), ErrAutoTyping)
	assert.Empty(t, f.keys.Typed())
}

func TestAutoTypeRejectsWhileLocked(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	require.True(t, f.state.TryLock())

	assert.ErrorIs(t, f.engine.StartAutoTyping(context.Background()), ErrLocked)
	assert.False(t, f.state.IsAutoTyping())
}

func TestAutoTypeErrorStopsAtLastTyped(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	f.engine.JumpTo(1)
	f.keys.Fail = func(k inject.Keystroke) error {
		if k.Rune == 'b' {
			return inject.ErrInjected
		}
		return nil
	}

	require.NoError(t, f.engine.StartAutoTyping(context.Background()))

	assert.Equal(t, 2, f.engine.Position().Index)
	assert.Equal(t, []AutoTypeFinished{{Completed: false, Typed: 1}}, f.events.finished())
	assert.Equal(t, 1, f.events.count(func(e Event) bool {
		_, ok := e.(InjectionFailed)
		return ok
	}))
	assert.False(t, f.state.IsLocked())
}

func TestAutoTypeErrorFromBlockReportsFailingStep(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	f.keys.Fail = func(k inject.Keystroke) error {
		if k.Rune == 'b' {
			return inject.ErrInjected
		}
		return nil
	}

	require.NoError(t, f.engine.StartAutoTyping(context.Background()))

	assert.Equal(t, 2, f.engine.Position().Index)
	var failed []int
	f.events.count(func(e Event) bool {
		if ev, ok := e.(InjectionFailed); ok {
			failed = append(failed, ev.Index)
		}
		return false
	})
	assert.Equal(t, []int{2}, failed, "index of 'b', not of the run's first char")
}

func TestAutoTypeStopsAfterEmptyBlock(t *testing.T) {
	// [Block0 "one", Block1 "two", 'x', Block2]
	blocks := []lesson.Block{
		{Type: lesson.Comment, Text: "one"},
		{Type: lesson.Comment, Text: "two"},
		{Type: lesson.Code, Text: "x"},
	}
	f := newFixture(t, blocks, Options{})

	require.NoError(t, f.engine.StartAutoTyping(context.Background()))

	snap := f.engine.Snapshot()
	assert.Equal(t, 1, snap.Index, "second comment left for the next run")
	assert.Equal(t, []bool{true, false, false, false}, snap.Consumed)
	assert.Empty(t, f.keys.Typed())
	assert.Equal(t, []AutoTypeFinished{{Completed: true, Typed: 0}}, f.events.finished())

	require.NoError(t, f.engine.StartAutoTyping(context.Background()))
	assert.Equal(t, "x", f.keys.Typed())
	assert.Equal(t, 4, f.engine.Position().Index)
}

func TestAdvanceBlockStep(t *testing.T) {
	f := newFixture(t, []lesson.Block{
		{Type: lesson.Comment, Text: "❓ Why?"},
		{Type: lesson.Code, Text: "x"},
	}, Options{})

	require.NoError(t, f.engine.Advance(context.Background(), false))

	assert.Equal(t, 1, f.engine.Position().Index)
	assert.Empty(t, f.keys.Strokes(), "block steps never type")
	assert.Equal(t, [][2]string{{InteractionQuestion, "Why?"}}, f.log.interactions)
	assert.Equal(t, 1, f.events.count(func(e Event) bool {
		_, ok := e.(InputComplete)
		return ok
	}))
}

func TestAdvanceAtEndIsNoop(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	f.engine.JumpTo(5)

	require.NoError(t, f.engine.Advance(context.Background(), false))
	assert.Equal(t, 5, f.engine.Position().Index)
}

func TestAdvanceWaitForCompletion(t *testing.T) {
	f := newFixture(t, []lesson.Block{{Type: lesson.Code, Text: "xy"}}, Options{})

	var during []int
	f.keys.Hook = func(inject.Keystroke) {
		during = append(during, f.engine.Position().Index)
	}

	require.NoError(t, f.engine.Advance(context.Background(), true))
	require.NoError(t, f.engine.Advance(context.Background(), false))

	assert.Equal(t, []int{0, 2}, during, "wait keeps the cursor on the char being typed")
	assert.Equal(t, 2, f.engine.Position().Index)
}

func TestAdvanceFailureRollsBack(t *testing.T) {
	f := newFixture(t, []lesson.Block{{Type: lesson.Code, Text: "x"}}, Options{})
	f.keys.Fail = func(inject.Keystroke) error { return inject.ErrInjected }

	err := f.engine.Advance(context.Background(), false)

	var ierr *inject.InjectionError
	require.ErrorAs(t, err, &ierr)
	snap := f.engine.Snapshot()
	assert.Equal(t, 0, snap.Index)
	assert.Zero(t, snap.ConsumedCount())
}

func TestLockExclusivityAndOrder(t *testing.T) {
	f := newFixture(t, []lesson.Block{{Type: lesson.Code, Text: "hello"}}, Options{})

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var inFlight, maxInFlight int32
	f.keys.Hook = func(inject.Keystroke) {
		n := atomic.AddInt32(&inFlight, 1)
		if n > atomic.LoadInt32(&maxInFlight) {
			atomic.StoreInt32(&maxInFlight, n)
		}
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		atomic.AddInt32(&inFlight, -1)
	}

	ctx := context.Background()
	f.engine.LockAdvance(ctx, 'j')
	<-entered

	for i := 0; i < 4; i++ {
		f.engine.LockAdvance(ctx, 'k')
	}
	assert.Equal(t, 4, f.state.QueueLen())
	assert.True(t, f.state.IsLocked())

	close(release)
	f.engine.Wait()

	assert.Equal(t, "hello", f.keys.Typed(), "strictly increasing step order")
	assert.Equal(t, int32(1), maxInFlight)
	assert.Equal(t, 5, f.engine.Position().Index)
	assert.False(t, f.state.IsLocked())
	assert.Zero(t, f.state.QueueLen())
}

func TestLockAdvanceFailureDropsQueue(t *testing.T) {
	f := newFixture(t, []lesson.Block{{Type: lesson.Code, Text: "abc"}}, Options{})

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	f.keys.Fail = func(inject.Keystroke) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return inject.ErrInjected
	}

	ctx := context.Background()
	f.engine.LockAdvance(ctx, 'j')
	<-entered
	f.engine.LockAdvance(ctx, 'j')
	f.engine.LockAdvance(ctx, 'j')

	close(release)
	f.engine.Wait()

	assert.False(t, f.state.IsLocked())
	assert.Zero(t, f.state.QueueLen(), "queued triggers are not retried")
	assert.Equal(t, 0, f.engine.Position().Index)
	assert.Equal(t, 1, f.events.count(func(e Event) bool {
		_, ok := e.(InjectionFailed)
		return ok
	}))
}

func TestJumpToIdempotent(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})

	assert.Equal(t, 3, f.engine.JumpTo(3))
	first := f.engine.Snapshot()
	f.engine.JumpTo(3)
	assert.Equal(t, first, f.engine.Snapshot())
	assert.Equal(t, []bool{true, true, true, false, false}, first.Consumed)

	assert.Equal(t, 0, f.engine.JumpTo(-4))
	assert.Equal(t, 5, f.engine.JumpTo(99))
	assert.Empty(t, f.keys.Strokes(), "seeking never types")
}

func TestStepForwardBackward(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})

	assert.Equal(t, 0, f.engine.StepBackward())
	assert.Equal(t, 1, f.engine.StepForward())
	assert.Equal(t, 2, f.engine.StepForward())
	assert.Equal(t, 1, f.engine.StepBackward())

	f.engine.JumpTo(5)
	assert.Equal(t, 5, f.engine.StepForward())
}

func TestRebuildClampsAndRestores(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	f.engine.JumpTo(4)

	f.engine.Rebuild([]lesson.Block{{Type: lesson.Code, Text: "xyz"}}, steps.NoEditing)
	snap := f.engine.Snapshot()
	assert.Equal(t, 4, snap.Index)
	assert.Equal(t, []bool{true, true, true, true}, snap.Consumed)

	f.engine.Rebuild([]lesson.Block{{Type: lesson.Comment, Text: "only"}}, steps.NoEditing)
	snap = f.engine.Snapshot()
	assert.Equal(t, 1, snap.Index)
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, []bool{true}, snap.Consumed)
}

func TestResetProgress(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	f.engine.JumpTo(3)

	f.engine.ResetProgress()

	snap := f.engine.Snapshot()
	assert.Equal(t, 0, snap.Index)
	assert.Zero(t, snap.ConsumedCount())
}

func TestSetActiveOffResetsSession(t *testing.T) {
	f := newFixture(t, sampleBlocks(), Options{})
	require.True(t, f.engine.SetActive(true))
	f.state.LockOrEnqueue('a')
	f.state.LockOrEnqueue('b')

	require.True(t, f.engine.SetActive(false))
	assert.False(t, f.state.IsLocked())
	assert.Zero(t, f.state.QueueLen())
	assert.Equal(t, 2, f.events.count(func(e Event) bool {
		_, ok := e.(ActiveChanged)
		return ok
	}))
}

func TestStaleInjectionDoesNotMoveCursor(t *testing.T) {
	f := newFixture(t, []lesson.Block{{Type: lesson.Code, Text: "xy"}}, Options{})
	f.keys.Hook = func(inject.Keystroke) {
		f.engine.JumpTo(0)
	}

	require.NoError(t, f.engine.Advance(context.Background(), true))
	assert.Equal(t, 0, f.engine.Position().Index, "jump during injection wins")
}

func TestRealClockRun(t *testing.T) {
	state := session.New()
	keys := &inject.Recorder{}
	inj := inject.New(keys, inject.Options{Logger: logging.Discard()})
	e := New(state, inj, Options{AutoTypingSpeed: time.Millisecond, Logger: logging.Discard()})
	e.Load(sampleBlocks(), steps.NoEditing)
	e.JumpTo(1)

	require.NoError(t, e.StartAutoTyping(context.Background()))
	assert.Equal(t, 4, e.Position().Index)
}
