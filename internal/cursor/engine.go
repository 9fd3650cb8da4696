// Package cursor implements the execution-step cursor engine.
//
// The Engine owns the flattened step list and the cursor index into it.
// Triggers reach it through LockAdvance, which takes the shared session
// lock or queues behind it, and through StartAutoTyping for unattended
// runs up to the next block boundary. Every change is reported to the
// registered Observers as typed events.
//
// Any operation that moves the cursor without typing (JumpTo, Rebuild,
// ResetProgress) starts a new epoch. Injections that finish after an epoch
// change do not touch the cursor, so a result computed against an old step
// list is never applied to a new one.
package cursor

import (
	"context"
	"errors"
	"sync"
	"time"

	"leo/internal/inject"
	"leo/internal/lesson"
	"leo/internal/logging"
	"leo/internal/session"
	"leo/internal/steps"
)

var (
	// ErrReentrantAdvance is returned when an advance is requested while
	// another one is in flight outside the queue path.
	ErrReentrantAdvance = errors.New("cursor: advance already in progress")

	// ErrAutoTyping is returned when an auto-type run is already active.
	ErrAutoTyping = errors.New("cursor: auto-typing already active")

	// ErrLocked is returned when an auto-type run cannot take the
	// injection lock.
	ErrLocked = errors.New("cursor: injection in progress")

	errStale = errors.New("cursor: step list changed")
)

// Injector is the keystroke capability the engine drives.
type Injector interface {
	Inject(ctx context.Context, r rune) error
	InjectBurst(ctx context.Context, chars []rune, delay time.Duration, onStep func(i int) error) (int, error)
	Cancel() bool
}

// SessionLog records what was typed during a session.
type SessionLog interface {
	LogChar(r rune)
	LogInteraction(kind, info string)
}

// InteractionQuestion is logged when a question block is consumed.
const InteractionQuestion = "teacher-question"

// Options configures an Engine.
type Options struct {
	// WaitForCompletion delays the cursor update of a manual advance
	// until the character has been typed.
	WaitForCompletion bool

	// AutoTypingSpeed is the delay between characters of a run.
	AutoTypingSpeed time.Duration

	SessionLog SessionLog
	Logger     *logging.Logger
}

// Position is the cursor and the length of the step list.
type Position struct {
	Index int `json:"index"`
	Total int `json:"total"`
}

// Percent returns Index/Total as a percentage.
func (p Position) Percent() float64 {
	return steps.Progress(p.Index, p.Total)
}

// Snapshot is a copy of the engine state.
type Snapshot struct {
	Position
	Consumed   []bool `json:"consumed"`
	AutoTyping bool   `json:"autoTyping"`
	Advancing  bool   `json:"advancing"`
}

// ConsumedCount returns the number of consumed steps.
func (s Snapshot) ConsumedCount() int {
	n := 0
	for _, c := range s.Consumed {
		if c {
			n++
		}
	}
	return n
}

// Engine is the cursor state machine.
type Engine struct {
	state *session.State
	inj   Injector
	log   *logging.Logger

	mu        sync.Mutex
	list      []steps.Step
	blocks    []lesson.Block
	index     int
	consumed  []bool
	epoch     uint64
	advancing bool
	running   bool
	stopping  bool
	wait      bool
	speed     time.Duration
	session   SessionLog
	observers []Observer

	drivers sync.WaitGroup
}

// New creates an Engine with an empty step list.
func New(state *session.State, inj Injector, opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logging.Component("cursor")
	}
	return &Engine{
		state:   state,
		inj:     inj,
		log:     log,
		wait:    opts.WaitForCompletion,
		speed:   opts.AutoTypingSpeed,
		session: opts.SessionLog,
	}
}

// Subscribe registers o and returns a function removing it.
func (e *Engine) Subscribe(o Observer) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, cur := range e.observers {
			if cur == o {
				e.observers = append(e.observers[:i:i], e.observers[i+1:]...)
				return
			}
		}
	}
}

// SetSessionLog swaps the session log, e.g. when a new lesson is loaded.
func (e *Engine) SetSessionLog(l SessionLog) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.session = l
}

// SetAutoTypingSpeed changes the run delay for the next run.
func (e *Engine) SetAutoTypingSpeed(d time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.speed = d
}

// SetWaitForCompletion changes the manual advance mode.
func (e *Engine) SetWaitForCompletion(wait bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wait = wait
}

func (e *Engine) emit(events ...Event) {
	if len(events) == 0 {
		return
	}
	e.mu.Lock()
	obs := append([]Observer(nil), e.observers...)
	e.mu.Unlock()
	for _, ev := range events {
		for _, o := range obs {
			o.OnEvent(ev)
		}
	}
}

func (e *Engine) positionLocked() []Event {
	total := len(e.list)
	return []Event{
		CursorChanged{Index: e.index, Total: total},
		ProgressChanged{Percent: steps.Progress(e.index, total), Index: e.index, Total: total},
	}
}

func (e *Engine) logChar(r rune) {
	e.mu.Lock()
	l := e.session
	e.mu.Unlock()
	if l != nil {
		l.LogChar(r)
	}
}

func (e *Engine) logQuestion(q string) {
	if q == "" {
		return
	}
	e.mu.Lock()
	l := e.session
	e.mu.Unlock()
	if l != nil {
		l.LogInteraction(InteractionQuestion, q)
	}
}

// consumeBlockLocked consumes the block step at idx and moves the cursor
// past it. It returns the events to emit and the question text, if any.
func (e *Engine) consumeBlockLocked(idx int) ([]Event, string) {
	step := e.list[idx]
	e.consumed[idx] = true
	e.index = idx + 1

	var question string
	if step.BlockIndex < len(e.blocks) {
		if b := e.blocks[step.BlockIndex]; b.IsQuestion() {
			question = b.Question()
		}
	}

	events := []Event{StepConsumed{Step: step}}
	events = append(events, e.positionLocked()...)
	events = append(events, InputComplete{Index: e.index})
	return events, question
}

// Load replaces the lesson and resets the cursor to the start.
func (e *Engine) Load(blocks []lesson.Block, opts steps.Options) {
	e.mu.Lock()
	e.blocks = append([]lesson.Block(nil), blocks...)
	e.list = steps.Build(e.blocks, opts)
	e.consumed = make([]bool, len(e.list))
	e.index = 0
	e.epoch++
	events := e.positionLocked()
	e.mu.Unlock()

	e.emit(events...)
}

// Rebuild re-flattens blocks after an edit or a mode toggle. The cursor
// is clamped to the new list and the steps before it are marked consumed.
func (e *Engine) Rebuild(blocks []lesson.Block, opts steps.Options) {
	e.mu.Lock()
	e.blocks = append([]lesson.Block(nil), blocks...)
	e.list = steps.Build(e.blocks, opts)
	e.index = clamp(e.index, len(e.list))
	e.consumed = make([]bool, len(e.list))
	for i := 0; i < e.index; i++ {
		e.consumed[i] = true
	}
	e.epoch++
	events := e.positionLocked()
	e.mu.Unlock()

	e.emit(events...)
}

// Advance performs the step under the cursor. The caller must own the
// session lock; LockAdvance is the usual entry point.
//
// A character step is typed through the injector. With wait set the
// cursor moves once the keystroke is done; otherwise it moves first and is
// rolled back if the keystroke fails. A block step is consumed at once.
func (e *Engine) Advance(ctx context.Context, wait bool) error {
	e.mu.Lock()
	if e.advancing || e.running {
		e.mu.Unlock()
		e.log.Warn("already processing, skipping")
		return ErrReentrantAdvance
	}
	if e.index >= len(e.list) {
		e.mu.Unlock()
		return nil
	}

	idx := e.index
	step := e.list[idx]
	if step.IsBlock() {
		events, question := e.consumeBlockLocked(idx)
		e.mu.Unlock()
		e.logQuestion(question)
		e.emit(events...)
		return nil
	}

	e.consumed[idx] = true
	e.advancing = true
	epoch := e.epoch
	var events []Event
	if !wait {
		e.index = idx + 1
		events = append([]Event{StepConsumed{Step: step}}, e.positionLocked()...)
	}
	e.mu.Unlock()

	e.logChar(step.Char)
	e.emit(events...)

	err := e.inj.Inject(ctx, step.Char)

	e.mu.Lock()
	e.advancing = false
	events = nil
	if e.epoch == epoch {
		switch {
		case err == nil && wait:
			e.index = idx + 1
			events = append([]Event{StepConsumed{Step: step}}, e.positionLocked()...)
		case err != nil:
			e.consumed[idx] = false
			if !wait {
				e.index = idx
				events = e.positionLocked()
			}
		}
	}
	e.mu.Unlock()
	e.emit(events...)

	return err
}

// LockAdvance is the trigger entry point. With the session lock free it
// takes it and advances in the background, draining queued triggers
// afterwards; otherwise it queues key. Queued keys are fungible: each one
// advances one step regardless of which letter it was.
func (e *Engine) LockAdvance(ctx context.Context, key rune) {
	if !e.state.LockOrEnqueue(key) {
		e.log.Debug("trigger queued", "key", string(key), "pending", e.state.QueueLen())
		return
	}

	e.mu.Lock()
	wait := e.wait
	e.mu.Unlock()

	e.drivers.Add(1)
	go func() {
		defer e.drivers.Done()
		if err := e.Advance(ctx, wait); err != nil && !errors.Is(err, ErrReentrantAdvance) {
			e.fail(err)
			return
		}
		e.ProcessQueue(ctx)
	}()
}

// ProcessQueue runs after an advance completes. Each queued trigger
// advances once more; with the queue empty the lock is released.
func (e *Engine) ProcessQueue(ctx context.Context) {
	for {
		if _, ok := e.state.ReleaseOrDequeue(); !ok {
			return
		}
		e.mu.Lock()
		wait := e.wait
		e.mu.Unlock()
		if err := e.Advance(ctx, wait); err != nil && !errors.Is(err, ErrReentrantAdvance) {
			e.fail(err)
			return
		}
	}
}

// fail recovers from a manual injection error: the queue is dropped and
// the lock released so the presenter can retry.
func (e *Engine) fail(err error) {
	e.state.Reset()

	e.mu.Lock()
	idx := e.index
	e.mu.Unlock()

	e.log.Warn("injection failed", "index", idx, "error", err)
	e.emit(InjectionFailed{Index: idx, Err: err})
}

// Wait blocks until background advances started by LockAdvance are done.
func (e *Engine) Wait() {
	e.drivers.Wait()
}

// JumpTo moves the cursor to index, clamped to [0, total], without typing
// anything. Steps before the target are marked consumed, the rest are
// cleared. It returns the clamped index.
func (e *Engine) JumpTo(index int) int {
	e.mu.Lock()
	index = clamp(index, len(e.list))
	e.index = index
	for i := range e.consumed {
		e.consumed[i] = i < index
	}
	e.epoch++
	events := e.positionLocked()
	e.mu.Unlock()

	e.emit(events...)
	return index
}

// StepForward moves the cursor one step ahead without typing.
func (e *Engine) StepForward() int {
	e.mu.Lock()
	idx := e.index
	e.mu.Unlock()
	return e.JumpTo(idx + 1)
}

// StepBackward moves the cursor one step back.
func (e *Engine) StepBackward() int {
	e.mu.Lock()
	idx := e.index
	e.mu.Unlock()
	return e.JumpTo(idx - 1)
}

// ResetProgress returns the cursor to the start and clears every flag.
func (e *Engine) ResetProgress() {
	e.JumpTo(0)
}

// SetActive switches typing mode. Turning it off stops a running
// auto-type run and drops the session lock and queue.
func (e *Engine) SetActive(active bool) bool {
	changed := e.state.SetActive(active)
	if !active {
		e.StopAutoTyping()
		e.state.Reset()
	}
	if changed {
		e.emit(ActiveChanged{Active: active})
	}
	return changed
}

// StartAutoTyping types from the cursor up to the next block boundary and
// returns when the run ends. A block step under the cursor is consumed
// first. A run that types to the boundary also consumes the boundary step;
// a run with nothing to type stops after the block it started on. A
// cancelled or failed run leaves the cursor after the last character
// actually typed.
func (e *Engine) StartAutoTyping(ctx context.Context) error {
	if !e.state.BeginAutoTyping() {
		e.log.Info("auto-typing already active")
		return ErrAutoTyping
	}
	defer e.state.EndAutoTyping()

	if !e.state.TryLock() {
		return ErrLocked
	}
	defer func() {
		e.state.ClearQueue()
		e.state.Unlock()
	}()

	e.mu.Lock()
	if e.advancing {
		e.mu.Unlock()
		return ErrReentrantAdvance
	}
	start := e.index
	if start >= len(e.list) {
		e.mu.Unlock()
		e.emit(AutoTypeFinished{Completed: true})
		return nil
	}

	var events []Event
	var question string
	if e.list[start].IsBlock() {
		events, question = e.consumeBlockLocked(start)
	}
	end := steps.NextBoundary(e.list, start)

	var chars []rune
	var at []int
	for i := e.index; i < end; i++ {
		if s := e.list[i]; s.IsChar() {
			chars = append(chars, s.Char)
			at = append(at, i)
		}
	}
	epoch := e.epoch
	speed := e.speed
	e.running = true
	e.stopping = false
	e.mu.Unlock()

	e.logQuestion(question)
	e.emit(events...)
	e.log.Debug("auto-typing", "from", start, "to", end, "chars", len(chars))

	typed, err := e.inj.InjectBurst(ctx, chars, speed, func(k int) error {
		e.mu.Lock()
		if e.epoch != epoch {
			e.mu.Unlock()
			return errStale
		}
		idx := at[k]
		e.consumed[idx] = true
		e.index = idx + 1
		evs := append([]Event{StepConsumed{Step: e.list[idx]}}, e.positionLocked()...)
		stop := e.stopping
		e.mu.Unlock()

		e.logChar(chars[k])
		e.emit(evs...)
		if stop {
			return inject.ErrCanceled
		}
		return nil
	})

	e.mu.Lock()
	e.running = false
	stopped := e.stopping
	e.stopping = false
	completed := err == nil && !stopped && e.epoch == epoch
	events, question = nil, ""
	if completed && len(chars) > 0 && end < len(e.list) && e.index == end {
		events, question = e.consumeBlockLocked(end)
	}
	failedAt := e.index
	if typed < len(at) {
		failedAt = at[typed]
	}
	e.mu.Unlock()

	switch {
	case err == nil, errors.Is(err, inject.ErrCanceled), errors.Is(err, errStale):
		if !completed {
			e.log.Info("auto-typing stopped", "typed", typed, "of", len(chars))
		}
	default:
		e.log.Warn("auto-typing failed", "typed", typed, "error", err)
		e.emit(InjectionFailed{Index: failedAt, Err: err})
	}

	e.logQuestion(question)
	e.emit(events...)
	e.emit(AutoTypeFinished{Completed: completed, Typed: typed})
	return nil
}

// StopAutoTyping cancels a running auto-type run after its current
// character.
func (e *Engine) StopAutoTyping() {
	e.mu.Lock()
	running := e.running
	if running {
		e.stopping = true
	}
	e.mu.Unlock()

	if running {
		e.log.Info("stopping auto-typing")
		e.inj.Cancel()
	}
}

// Position returns the cursor position.
func (e *Engine) Position() Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Position{Index: e.index, Total: len(e.list)}
}

// Current returns the step under the cursor; ok is false at the end.
func (e *Engine) Current() (steps.Step, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.index >= len(e.list) {
		return steps.Step{}, false
	}
	return e.list[e.index], true
}

// Steps returns a copy of the live step list.
func (e *Engine) Steps() []steps.Step {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]steps.Step(nil), e.list...)
}

// Snapshot returns a copy of the engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		Position:   Position{Index: e.index, Total: len(e.list)},
		Consumed:   append([]bool(nil), e.consumed...),
		AutoTyping: e.running,
		Advancing:  e.advancing,
	}
}

func clamp(i, total int) int {
	if i < 0 {
		return 0
	}
	if i > total {
		return total
	}
	return i
}
