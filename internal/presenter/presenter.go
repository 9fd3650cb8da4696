// Package presenter assembles a running presenter: the cursor engine and
// the hotkeys that drive it, the keystroke injector, the sinks that mirror
// the cursor, the lesson file and its session records. It implements the
// IPC Controller so leoctl and the student channel reach the same state
// as the typing hotkeys.
package presenter

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"leo/internal/broadcast"
	"leo/internal/config"
	"leo/internal/cursor"
	"leo/internal/health"
	"leo/internal/hotkey"
	"leo/internal/inject"
	"leo/internal/ipc"
	"leo/internal/keylog"
	"leo/internal/keymap"
	"leo/internal/lesson"
	"leo/internal/logging"
	"leo/internal/metrics"
	"leo/internal/mirror"
	"leo/internal/session"
	"leo/internal/steps"
	"leo/internal/store"
	"leo/internal/view"
	"leo/internal/watcher"
)

// ErrInactive is returned by typing commands while typing mode is off.
var ErrInactive = errors.New("presenter: typing mode is off")

// EventSink receives presenter events for IPC subscribers.
type EventSink interface {
	Broadcast(event *ipc.Event)
}

// Options configures a Presenter. Config, Registrar and Backend are
// required; the sinks are optional.
type Options struct {
	Config    *config.Config
	Registrar hotkey.Registrar
	Backend   inject.Backend
	Clock     inject.Clock

	Store  *store.Store
	Hub    *broadcast.Hub
	View   *view.Renderer
	Events EventSink

	// Metrics defaults to a private registry.
	Metrics *metrics.PresenterMetrics

	Version string
	Logger  *logging.Logger
}

// Settings is the part of the configuration published to students.
type Settings struct {
	TypingMode        string   `json:"typingMode"`
	AutoTypingSpeed   int      `json:"autoTypingSpeed"`
	WaitForCompletion bool     `json:"waitForCompletion"`
	Hotkeys           []string `json:"hotkeys"`
}

// Presenter is one presenting session.
type Presenter struct {
	log       *logging.Logger
	version   string
	startedAt time.Time

	state   *session.State
	inj     *inject.Injector
	engine  *cursor.Engine
	hotkeys *hotkey.Interceptor
	mirror  *mirror.Mirror
	timer   *Timer

	store   *store.Store
	hub     *broadcast.Hub
	view    *view.Renderer
	events  EventSink
	metrics *metrics.PresenterMetrics

	toggleMu sync.Mutex

	mu        sync.Mutex
	cfg       *config.Config
	ctx       context.Context
	cancel    context.CancelFunc
	lesson    *lesson.Lesson
	keylog    *keylog.Log
	sessionID string
	watcher   *watcher.Watcher

	loop      sync.WaitGroup
	runs      sync.WaitGroup
	closeOnce sync.Once
}

// New builds a presenter from its configuration. No lesson is loaded and
// nothing runs until OpenLesson and Start.
func New(opts Options) (*Presenter, error) {
	if opts.Config == nil {
		return nil, errors.New("presenter: config is required")
	}
	if opts.Registrar == nil || opts.Backend == nil {
		return nil, errors.New("presenter: registrar and backend are required")
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	cfg := opts.Config.Clone()

	overrides, err := keymap.FromConfig(cfg.Keymap)
	if err != nil {
		return nil, fmt.Errorf("keymap: %w", err)
	}
	mode, err := hotkey.ParseMode(cfg.Typing.Mode)
	if err != nil {
		return nil, err
	}
	var cancelKey keymap.Chord
	if cfg.Typing.CancelKey != "" {
		if cancelKey, err = hotkey.ParseBinding(cfg.Typing.CancelKey); err != nil {
			return nil, fmt.Errorf("cancel key: %w", err)
		}
	}

	p := &Presenter{
		log:       log.WithComponent("presenter"),
		version:   opts.Version,
		startedAt: time.Now(),
		state:     session.New(),
		store:     opts.Store,
		hub:       opts.Hub,
		view:      opts.View,
		events:    opts.Events,
		metrics:   opts.Metrics,
		cfg:       cfg,
	}
	if p.metrics == nil {
		p.metrics = metrics.NewPresenterMetrics(nil)
	}

	p.hotkeys = hotkey.New(opts.Registrar, p.state, hotkey.Options{
		Mode:   mode,
		Cancel: cancelKey,
		Logger: log.WithComponent("hotkey"),
	})
	p.inj = inject.New(opts.Backend, inject.Options{
		Table:       keymap.DefaultTable().Merge(overrides),
		Clock:       opts.Clock,
		SettleDelay: cfg.Typing.SettleDelay(),
		Suppressor:  p.hotkeys,
		Logger:      log.WithComponent("inject"),

		HoldTriggers: p.state.HoldPause,
	})
	p.engine = cursor.New(p.state, p.inj, cursor.Options{
		WaitForCompletion: cfg.Typing.WaitForCompletion,
		AutoTypingSpeed:   cfg.Typing.AutoTypingSpeed(),
		Logger:            log.WithComponent("cursor"),
	})
	p.hotkeys.SetTarget(p.engine)

	p.mirror = mirror.New(mirror.Options{Logger: log.WithComponent("mirror")})
	if p.view != nil {
		p.mirror.AddHighlighter(p.view)
	}
	if p.store != nil {
		p.mirror.AddStore(p.store)
	}
	if p.hub != nil {
		p.mirror.AddPublisher("broadcast", p.hub)
		p.hub.OnClientMessage(p.handleClientMessage)
	}
	p.engine.Subscribe(p.mirror)
	p.engine.Subscribe(cursor.ObserverFunc(p.onEngineEvent))

	p.timer = NewTimer(p.onTimerTick, p.onTimerStop)
	return p, nil
}

// Metrics exposes the presenter metrics.
func (p *Presenter) Metrics() *metrics.PresenterMetrics { return p.metrics }

// Engine exposes the cursor engine.
func (p *Presenter) Engine() *cursor.Engine { return p.engine }

// Hotkeys exposes the interceptor.
func (p *Presenter) Hotkeys() *hotkey.Interceptor { return p.hotkeys }

// Timer exposes the presentation countdown.
func (p *Presenter) Timer() *Timer { return p.timer }

func (p *Presenter) config() *config.Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg
}

func (p *Presenter) baseCtx() context.Context {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ctx == nil {
		return context.Background()
	}
	return p.ctx
}

func (p *Presenter) currentLesson() *lesson.Lesson {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lesson
}

func (p *Presenter) stepOptions() steps.Options {
	return steps.Options{EditingIndex: -1, Active: p.state.IsActive()}
}

// Start runs the sinks and the hotkey loop, binds the system shortcuts
// and publishes the settings. Close undoes it.
func (p *Presenter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.ctx, p.cancel = ctx, cancel
	p.mu.Unlock()

	p.mirror.Start(ctx)
	if err := p.registerShortcuts(); err != nil {
		p.log.Warn("some shortcuts could not be bound", "error", err)
	}
	p.publishSettings(ctx)

	p.loop.Add(1)
	go func() {
		defer p.loop.Done()
		p.hotkeys.Run(ctx)
	}()

	if minutes := p.config().Presenter.DurationMinutes; minutes > 0 {
		p.timer.Start(minutes)
	}
	p.log.Info("presenter started", "mode", p.hotkeys.Mode().String())
	return nil
}

// Run starts the presenter and blocks until ctx is done.
func (p *Presenter) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Close()
	return nil
}

// Close stops typing, releases every binding, ends the session and
// flushes the sinks. It is safe to call more than once.
func (p *Presenter) Close() {
	p.closeOnce.Do(func() {
		p.timer.Stop()
		p.timer.Wait()

		p.engine.StopAutoTyping()
		p.hotkeys.Wait()
		p.runs.Wait()
		p.engine.Wait()

		if err := p.hotkeys.UnregisterAll(); err != nil {
			p.log.Warn("unregister hotkeys failed", "error", err)
		}
		p.stopWatcher()
		p.endSession()
		p.mirror.Close()

		p.mu.Lock()
		cancel := p.cancel
		p.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		p.loop.Wait()

		p.emit(&ipc.Event{Type: ipc.EventShutdown})
		p.log.Info("presenter stopped")
	})
}

// OpenLesson loads the lesson at path, creating it with the default blocks
// when it does not exist. An empty path opens an unsaved lesson. Typing
// mode is switched off and the last saved position is restored.
func (p *Presenter) OpenLesson(path string) error {
	var l *lesson.Lesson
	if path == "" {
		l = lesson.New(lesson.DefaultBlocks())
	} else {
		loaded, err := lesson.Load(path)
		if errors.Is(err, fs.ErrNotExist) {
			loaded, err = lesson.Create(path)
		}
		if err != nil {
			return err
		}
		l = loaded
	}
	return p.SetLesson(l)
}

// SetLesson makes l the presented lesson.
func (p *Presenter) SetLesson(l *lesson.Lesson) error {
	if _, err := p.setActive(false); err != nil {
		return err
	}
	p.stopWatcher()
	p.endSession()

	l.SetEditGuard(p.state.IsActive)
	l.OnChange(func(blocks []lesson.Block) {
		if p.currentLesson() == l {
			p.onLessonChange(l, blocks)
		}
	})

	id := lessonKey(l)
	saved := 0
	if p.store != nil && id != "" {
		idx, ok, err := p.store.GetPosition(id)
		switch {
		case err != nil:
			p.log.Warn("read saved position failed", "lesson", id, "error", err)
		case ok:
			saved = idx
		}
	}

	// the reset to zero must not overwrite the stored position
	p.mirror.SetLesson("")
	p.engine.Load(l.Blocks(), p.stepOptions())
	if saved > 0 {
		restored := p.engine.JumpTo(saved)
		p.log.Info("restored position", "lesson", id, "index", restored)
	}
	p.mirror.SetLesson(id)

	p.mu.Lock()
	p.lesson = l
	p.mu.Unlock()

	p.startSession(l)
	p.publishLesson(l, l.Blocks())
	p.watch(l)

	p.metrics.LessonsLoaded.Inc()
	pos := p.engine.Position()
	p.emit(&ipc.Event{Type: ipc.EventLessonLoaded, Lesson: l.Name(), Index: pos.Index, Total: pos.Total})
	p.log.Info("lesson loaded", "name", l.Name(), "blocks", l.Len(), "steps", pos.Total)
	return nil
}

// lessonKey is the storage key of l; unsaved lessons have none.
func lessonKey(l *lesson.Lesson) string {
	if l.Path() == "" {
		return ""
	}
	return l.ID()
}

func (p *Presenter) onLessonChange(l *lesson.Lesson, blocks []lesson.Block) {
	p.engine.Rebuild(blocks, p.stepOptions())
	p.publishLesson(l, blocks)
}

func (p *Presenter) publishLesson(l *lesson.Lesson, blocks []lesson.Block) {
	name := l.Name()
	if p.view != nil {
		p.view.SetLesson(name, blocks, p.engine.Steps())
	}
	if p.hub == nil {
		return
	}
	ctx := p.baseCtx()
	if err := p.hub.UpdateLessonName(ctx, name); err != nil {
		p.log.Warn("publish lesson name failed", "error", err)
	}
	if err := p.hub.UpdateLessonData(ctx, blocks); err != nil {
		p.log.Warn("publish lesson data failed", "error", err)
	}
}

// ReloadLesson re-reads the lesson file. The cursor keeps its index,
// clamped to the new step list.
func (p *Presenter) ReloadLesson(context.Context) error {
	l := p.currentLesson()
	if l == nil || l.Path() == "" {
		return ipc.ErrNoLessonLoaded
	}
	if p.state.IsAutoTyping() {
		return ipc.ErrCommandBusy
	}
	fresh, err := lesson.Load(l.Path())
	if err != nil {
		return err
	}
	l.Replace(fresh.Blocks())
	p.log.Info("lesson reloaded", "name", l.Name(), "blocks", l.Len())
	return nil
}

func (p *Presenter) watch(l *lesson.Lesson) {
	if !p.config().Presenter.WatchLesson || l.Path() == "" {
		return
	}
	w, err := watcher.New(l.Path(), 0)
	if err != nil {
		p.log.Warn("lesson watcher unavailable", "error", err)
		return
	}
	if err := w.Start(); err != nil {
		p.log.Warn("lesson watcher unavailable", "error", err)
		w.Stop()
		return
	}

	p.mu.Lock()
	p.watcher = w
	p.mu.Unlock()

	go func() {
		for ev := range w.Events() {
			p.log.Info("lesson changed on disk", "path", ev.Path)
			if err := p.ReloadLesson(p.baseCtx()); err != nil {
				p.log.Warn("reload lesson failed", "error", err)
			}
		}
	}()
	go func() {
		for err := range w.Errors() {
			p.log.Warn("lesson watcher error", "error", err)
		}
	}()
}

func (p *Presenter) stopWatcher() {
	p.mu.Lock()
	w := p.watcher
	p.watcher = nil
	p.mu.Unlock()
	if w != nil {
		if err := w.Stop(); err != nil {
			p.log.Debug("stop lesson watcher", "error", err)
		}
	}
}

func (p *Presenter) startSession(l *lesson.Lesson) {
	cfg := p.config()
	id := uuid.NewString()
	var logPath string

	if cfg.Storage.KeyLogEnabled {
		kl, err := keylog.Open(l.Path(), keylog.Options{
			Dir:           cfg.Storage.KeyLogDir,
			OnInteraction: p.recordInteraction,
			Logger:        p.log.WithComponent("keylog"),
		})
		if err != nil {
			p.log.Warn("key log unavailable", "error", err)
		} else {
			id, logPath = kl.ID(), kl.Path()
			p.mu.Lock()
			p.keylog = kl
			p.mu.Unlock()
			p.engine.SetSessionLog(kl)
		}
	}

	p.mu.Lock()
	p.sessionID = id
	p.mu.Unlock()

	if p.store != nil {
		sess := &store.Session{ID: id, LessonID: l.ID(), LogPath: logPath}
		if err := p.store.StartSession(sess); err != nil {
			p.log.Warn("record session failed", "error", err)
		}
	}
}

func (p *Presenter) endSession() {
	p.mu.Lock()
	kl, id := p.keylog, p.sessionID
	p.keylog, p.sessionID = nil, ""
	p.mu.Unlock()
	if id == "" {
		return
	}

	p.engine.SetSessionLog(nil)
	presses := 0
	if kl != nil {
		presses = kl.Count()
		if err := kl.Close(); err != nil {
			p.log.Warn("close key log failed", "error", err)
		}
	}
	if p.store != nil {
		if err := p.store.EndSession(id, presses); err != nil {
			p.log.Warn("end session failed", "session", id, "error", err)
		}
	}
}

func (p *Presenter) recordInteraction(kind, info string) {
	if kind == cursor.InteractionQuestion {
		p.metrics.Questions.Inc()
	}
	p.mu.Lock()
	id := p.sessionID
	p.mu.Unlock()
	if p.store == nil || id == "" {
		return
	}
	in := &store.Interaction{
		SessionID: id,
		Kind:      kind,
		Info:      info,
		StepIndex: p.engine.Position().Index,
		Timestamp: time.Now(),
	}
	if _, err := p.store.InsertInteraction(in); err != nil {
		p.log.Warn("record interaction failed", "kind", kind, "error", err)
	}
}

// setActive switches typing mode: the typing letters are bound while it
// is on and the step list is rebuilt for the new mode.
func (p *Presenter) setActive(active bool) (bool, error) {
	p.toggleMu.Lock()
	defer p.toggleMu.Unlock()

	l := p.currentLesson()
	if active && l == nil {
		return false, ipc.ErrNoLessonLoaded
	}
	if active == p.state.IsActive() {
		return false, nil
	}

	if active {
		if err := p.hotkeys.RegisterTypingHotkeys(p.config().HotkeyRunes()); err != nil {
			p.log.Warn("some typing hotkeys could not be bound", "error", err)
		}
	}
	changed := p.engine.SetActive(active)
	if !active {
		if err := p.hotkeys.UnregisterTypingHotkeys(); err != nil {
			p.log.Warn("release typing hotkeys failed", "error", err)
		}
	}
	if l != nil {
		p.engine.Rebuild(l.Blocks(), p.stepOptions())
	}
	p.log.Info("typing mode", "active", active)
	return changed, nil
}

// SetActive turns typing mode on or off.
func (p *Presenter) SetActive(active bool) error {
	_, err := p.setActive(active)
	return err
}

// ToggleActive flips typing mode and returns the new state.
func (p *Presenter) ToggleActive(context.Context) (bool, error) {
	active := !p.state.IsActive()
	if _, err := p.setActive(active); err != nil {
		return p.state.IsActive(), err
	}
	return active, nil
}

func (p *Presenter) requireTyping() error {
	if p.currentLesson() == nil {
		return ipc.ErrNoLessonLoaded
	}
	if !p.state.IsActive() {
		return ErrInactive
	}
	return nil
}

// Advance performs one step as a typing trigger would, and waits for it.
func (p *Presenter) Advance(context.Context) error {
	if err := p.requireTyping(); err != nil {
		return err
	}
	p.engine.LockAdvance(p.baseCtx(), 0)
	p.engine.Wait()
	return nil
}

// Press simulates the typing hotkey key. It goes through the interceptor,
// so the typing mode and the pause flag apply.
func (p *Presenter) Press(_ context.Context, key rune) error {
	if err := p.requireTyping(); err != nil {
		return err
	}
	p.hotkeys.HandleTrigger(p.baseCtx(), keymap.RuneChord(unicode.ToLower(key)))
	p.engine.Wait()
	return nil
}

// JumpTo moves the cursor without typing.
func (p *Presenter) JumpTo(index int) int { return p.engine.JumpTo(index) }

// StepForward moves the cursor one step ahead without typing.
func (p *Presenter) StepForward() int { return p.engine.StepForward() }

// StepBackward moves the cursor one step back.
func (p *Presenter) StepBackward() int { return p.engine.StepBackward() }

// ResetProgress returns the cursor to the start.
func (p *Presenter) ResetProgress() { p.engine.ResetProgress() }

// StartAutoTyping begins a run to the next block boundary in the
// background.
func (p *Presenter) StartAutoTyping(context.Context) error {
	if err := p.requireTyping(); err != nil {
		return err
	}
	if p.state.IsAutoTyping() {
		return ipc.ErrCommandBusy
	}
	ctx := p.baseCtx()
	p.runs.Add(1)
	go func() {
		defer p.runs.Done()
		if err := p.engine.StartAutoTyping(ctx); err != nil {
			p.log.Info("auto-typing not started", "error", err)
		}
	}()
	return nil
}

// StopAutoTyping cancels a running auto-type run.
func (p *Presenter) StopAutoTyping() { p.engine.StopAutoTyping() }

// SetPaused suspends the typing hotkeys without leaving typing mode.
func (p *Presenter) SetPaused(paused bool) {
	p.state.SetPaused(paused)
	p.log.Info("hotkeys paused", "paused", paused)
}

// Status reports the presenter state.
func (p *Presenter) Status() ipc.StatusResponse {
	snap := p.engine.Snapshot()
	st := ipc.StatusResponse{
		Version:    p.version,
		Uptime:     time.Since(p.startedAt),
		StartedAt:  p.startedAt,
		LessonName: broadcast.NoLesson,
		Index:      snap.Index,
		Total:      snap.Total,
		Progress:   snap.Percent(),
		Active:     p.state.IsActive(),
		Paused:     p.state.IsPaused(),
		AutoTyping: snap.AutoTyping,
		Mode:       p.hotkeys.Mode().String(),
	}
	if cur, ok := p.engine.Current(); ok {
		st.Current = cur.String()
	}
	if p.hub != nil {
		st.Students = p.hub.ClientCount()
	}

	p.mu.Lock()
	l, kl, sid := p.lesson, p.keylog, p.sessionID
	p.mu.Unlock()
	if l != nil {
		st.LessonPath = l.Path()
		st.Blocks = l.Len()
		if name := l.Name(); name != "" {
			st.LessonName = name
		}
	}
	st.SessionID = sid
	if kl != nil {
		st.KeyPresses = kl.Count()
	}
	return st
}

// RegisterHealth adds the presenter's checks to c.
func (p *Presenter) RegisterHealth(c *health.Checker) {
	c.RegisterFunc("lesson", true, health.CustomCheck(func() error {
		if p.currentLesson() == nil {
			return ipc.ErrNoLessonLoaded
		}
		return nil
	}))
	c.RegisterFunc("typing", false, func(context.Context) health.CheckResult {
		st := p.Status()
		status := health.StatusHealthy
		if st.Paused {
			status = health.StatusDegraded
		}
		return health.CheckResult{
			Status: status,
			Details: map[string]any{
				"active": st.Active,
				"paused": st.Paused,
				"mode":   st.Mode,
				"index":  st.Index,
				"total":  st.Total,
			},
		}
	})
}

func (p *Presenter) onEngineEvent(e cursor.Event) {
	switch ev := e.(type) {
	case cursor.CursorChanged:
		p.metrics.RecordCursor(ev.Index, ev.Total)
		p.emit(&ipc.Event{Type: ipc.EventCursor, Index: ev.Index, Total: ev.Total})
	case cursor.StepConsumed:
		p.metrics.RecordStep(ev.Step.IsBlock())
	case cursor.ActiveChanged:
		p.metrics.Active.SetBool(ev.Active)
		p.metrics.ResetCadence()
		p.emit(&ipc.Event{Type: ipc.EventActive, Active: ev.Active})
	case cursor.AutoTypeFinished:
		p.metrics.AutoTypeRuns.Inc()
		p.metrics.AutoTypedChars.Add(uint64(ev.Typed))
		p.emit(&ipc.Event{Type: ipc.EventAutoTypeDone, Completed: ev.Completed, Typed: ev.Typed})
	case cursor.InjectionFailed:
		p.metrics.InjectionErrors.Inc()
		p.emit(&ipc.Event{Type: ipc.EventInjectionFailed, Index: ev.Index, Error: ev.Err.Error()})
	case cursor.InputComplete:
		p.log.Debug("block consumed", "index", ev.Index)
	}
}

func (p *Presenter) emit(e *ipc.Event) {
	if p.events != nil {
		p.events.Broadcast(e)
	}
}

func (p *Presenter) handleClientMessage(m broadcast.ClientMessage) {
	p.log.Debug("student request", "type", m.Type)
	p.metrics.StudentRequests.Inc()
	switch m.Type {
	case broadcast.ClientToggleActive:
		if _, err := p.ToggleActive(p.baseCtx()); err != nil {
			p.log.Warn("toggle from student channel failed", "error", err)
		}
	case broadcast.ClientJumpTo:
		p.JumpTo(m.StepIndex)
	case broadcast.ClientTimerStart:
		p.StartTimer(0)
	case broadcast.ClientTimerStop:
		p.timer.Stop()
	case broadcast.ClientTimerAdjust:
		p.timer.Adjust(m.Minutes)
	}
}

// StartTimer starts the countdown. Zero minutes uses the configured
// duration, or DefaultTimerMinutes.
func (p *Presenter) StartTimer(minutes int) {
	if minutes <= 0 {
		minutes = p.config().Presenter.DurationMinutes
	}
	p.timer.Start(minutes)
}

func (p *Presenter) onTimerTick(remaining int) {
	if p.hub == nil {
		return
	}
	if err := p.hub.UpdateTimer(p.baseCtx(), remaining); err != nil {
		p.log.Debug("publish timer failed", "error", err)
	}
}

func (p *Presenter) onTimerStop() {
	if p.hub == nil {
		return
	}
	if err := p.hub.ClearTimer(p.baseCtx()); err != nil {
		p.log.Debug("publish timer failed", "error", err)
	}
}

func (p *Presenter) registerShortcuts() error {
	bindings := p.config().Shortcuts.Bindings()
	actions := make([]string, 0, len(bindings))
	for action := range bindings {
		actions = append(actions, action)
	}
	slices.Sort(actions)

	var list []hotkey.Shortcut
	for _, action := range actions {
		handler := p.shortcutHandler(action)
		if handler == nil {
			p.log.Debug("shortcut has no effect without a window", "action", action)
			continue
		}
		chord, err := hotkey.ParseBinding(bindings[action])
		if err != nil {
			p.log.Warn("invalid shortcut", "action", action, "binding", bindings[action], "error", err)
			continue
		}
		list = append(list, hotkey.Shortcut{Action: action, Chord: chord, Handler: handler})
	}
	return p.hotkeys.RegisterSystemShortcuts(list)
}

func (p *Presenter) shortcutHandler(action string) func() {
	switch action {
	case "toggle-active":
		return func() {
			if _, err := p.ToggleActive(p.baseCtx()); err != nil {
				p.log.Warn("toggle failed", "error", err)
			}
		}
	case "step-forward":
		return func() { p.StepForward() }
	case "step-backward":
		return func() { p.StepBackward() }
	}
	return nil
}

// ApplyConfig takes over settings changed at runtime: typing mode,
// auto-typing speed, wait-for-completion and the typing letters. Keymap,
// backend and shortcut changes need a restart.
func (p *Presenter) ApplyConfig(cfg *config.Config) {
	next := cfg.Clone()
	p.mu.Lock()
	prev := p.cfg
	p.cfg = next
	p.mu.Unlock()

	p.engine.SetAutoTypingSpeed(next.Typing.AutoTypingSpeed())
	p.engine.SetWaitForCompletion(next.Typing.WaitForCompletion)
	if mode, err := hotkey.ParseMode(next.Typing.Mode); err == nil {
		p.hotkeys.SetMode(mode)
	} else {
		p.log.Warn("ignoring typing mode", "error", err)
	}

	if !slices.Equal(prev.HotkeyRunes(), next.HotkeyRunes()) {
		p.toggleMu.Lock()
		if p.state.IsActive() {
			if err := p.hotkeys.UnregisterTypingHotkeys(); err != nil {
				p.log.Warn("release typing hotkeys failed", "error", err)
			}
			if err := p.hotkeys.RegisterTypingHotkeys(next.HotkeyRunes()); err != nil {
				p.log.Warn("some typing hotkeys could not be bound", "error", err)
			}
		}
		p.toggleMu.Unlock()
	}

	p.publishSettings(p.baseCtx())
	p.log.Info("settings applied", "mode", next.Typing.Mode, "speed_ms", next.Typing.AutoTypingSpeedMs)
}

// Settings returns the published settings.
func (p *Presenter) Settings() Settings {
	cfg := p.config()
	return Settings{
		TypingMode:        cfg.Typing.Mode,
		AutoTypingSpeed:   cfg.Typing.AutoTypingSpeedMs,
		WaitForCompletion: cfg.Typing.WaitForCompletion,
		Hotkeys:           append([]string(nil), cfg.Typing.Hotkeys...),
	}
}

func (p *Presenter) publishSettings(ctx context.Context) {
	if p.hub == nil {
		return
	}
	if err := p.hub.UpdateSettings(ctx, p.Settings()); err != nil {
		p.log.Warn("publish settings failed", "error", err)
	}
}

var _ ipc.Controller = (*Presenter)(nil)
