// Package mirror reflects cursor engine events to the presenter view, the
// position store and the broadcast channel.
//
// Every sink gets its own bounded queue drained by its own goroutine, so a
// slow sink never holds up the engine. When a queue is full, cursor and
// progress updates are coalesced: a new one replaces the newest pending
// update of its kind, or the oldest positional update when none of its
// kind is waiting. Typing-mode updates are never dropped; they may push a
// queue past its bound.
package mirror

import (
	"context"
	"slices"
	"sync"

	"leo/internal/cursor"
	"leo/internal/logging"
)

// DefaultBuffer is the per-sink queue length.
const DefaultBuffer = 64

// Highlighter is the local view.
type Highlighter interface {
	Highlight(index, total int)
	SetActive(active bool)
}

// PositionStore persists the cursor per lesson.
type PositionStore interface {
	SetPosition(lessonID string, index, total int) error
}

// Publisher forwards state to remote viewers.
type Publisher interface {
	UpdateCursor(ctx context.Context, index int) error
	UpdateProgress(ctx context.Context, index, total int) error
	UpdateActiveState(ctx context.Context, active bool) error
}

type kind uint8

const (
	kindCursor kind = iota
	kindProgress
	kindActive
)

type update struct {
	kind     kind
	lessonID string
	index    int
	total    int
	active   bool
}

// Options configures a Mirror.
type Options struct {
	Buffer int
	Logger *logging.Logger
}

// Mirror implements cursor.Observer.
type Mirror struct {
	log    *logging.Logger
	buffer int

	mu       sync.RWMutex
	lessonID string
	workers  []*worker
	started  bool
	closed   bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a Mirror without sinks.
func New(opts Options) *Mirror {
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("mirror")
	}
	return &Mirror{log: opts.Logger, buffer: opts.Buffer}
}

// AddHighlighter adds the view sink. Sinks must be added before Start.
func (m *Mirror) AddHighlighter(h Highlighter) {
	m.add("highlighter", func(k kind) bool { return k != kindProgress }, func(_ context.Context, u update) error {
		switch u.kind {
		case kindCursor:
			h.Highlight(u.index, u.total)
		case kindActive:
			h.SetActive(u.active)
		}
		return nil
	})
}

// AddStore adds the position persistence sink.
func (m *Mirror) AddStore(s PositionStore) {
	m.add("store", func(k kind) bool { return k == kindCursor }, func(_ context.Context, u update) error {
		if u.lessonID == "" {
			return nil
		}
		return s.SetPosition(u.lessonID, u.index, u.total)
	})
}

// AddPublisher adds a broadcast sink.
func (m *Mirror) AddPublisher(name string, p Publisher) {
	m.add(name, func(kind) bool { return true }, func(ctx context.Context, u update) error {
		switch u.kind {
		case kindCursor:
			return p.UpdateCursor(ctx, u.index)
		case kindProgress:
			return p.UpdateProgress(ctx, u.index, u.total)
		case kindActive:
			return p.UpdateActiveState(ctx, u.active)
		}
		return nil
	})
}

func (m *Mirror) add(name string, accepts func(kind) bool, apply func(context.Context, update) error) {
	w := &worker{
		name:    name,
		limit:   m.buffer,
		accepts: accepts,
		apply:   apply,
		log:     m.log,
	}
	w.cond = sync.NewCond(&w.mu)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers = append(m.workers, w)
}

// Start launches one goroutine per sink.
func (m *Mirror) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true
	ctx, m.cancel = context.WithCancel(ctx)
	for _, w := range m.workers {
		m.wg.Add(1)
		go func(w *worker) {
			defer m.wg.Done()
			w.run(ctx)
		}(w)
	}
}

// SetLesson sets the identity later cursor updates are stored under.
func (m *Mirror) SetLesson(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lessonID = id
}

// OnEvent implements cursor.Observer.
func (m *Mirror) OnEvent(e cursor.Event) {
	switch ev := e.(type) {
	case cursor.CursorChanged:
		m.OnCursorChanged(ev.Index, ev.Total)
	case cursor.ProgressChanged:
		m.OnProgress(ev.Index, ev.Total)
	case cursor.ActiveChanged:
		m.OnActiveStateChanged(ev.Active)
	}
}

// OnCursorChanged forwards a cursor move.
func (m *Mirror) OnCursorChanged(index, total int) {
	m.offer(update{kind: kindCursor, index: index, total: total})
}

// OnProgress forwards a progress change.
func (m *Mirror) OnProgress(index, total int) {
	m.offer(update{kind: kindProgress, index: index, total: total})
}

// OnActiveStateChanged forwards a typing-mode toggle.
func (m *Mirror) OnActiveStateChanged(active bool) {
	m.offer(update{kind: kindActive, active: active})
}

func (m *Mirror) offer(u update) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	u.lessonID = m.lessonID
	for _, w := range m.workers {
		if w.accepts(u.kind) {
			w.offer(u)
		}
	}
}

// Sync blocks until every update offered so far has been applied or
// dropped. The Mirror must be started.
func (m *Mirror) Sync() {
	m.mu.RLock()
	workers := append([]*worker(nil), m.workers...)
	m.mu.RUnlock()
	for _, w := range workers {
		w.sync()
	}
}

// Dropped returns the number of updates dropped per sink.
func (m *Mirror) Dropped() map[string]uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]uint64, len(m.workers))
	for _, w := range m.workers {
		w.mu.Lock()
		out[w.name] = w.dropped
		w.mu.Unlock()
	}
	return out
}

// Close drains the queues and stops the sinks.
func (m *Mirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	for _, w := range m.workers {
		w.close()
	}
	started := m.started
	m.mu.Unlock()

	if started {
		m.wg.Wait()
		m.cancel()
	}
}

type worker struct {
	name    string
	limit   int
	accepts func(kind) bool
	apply   func(context.Context, update) error
	log     *logging.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []update
	closed   bool
	enqueued uint64
	finished uint64
	dropped  uint64
}

func positional(k kind) bool { return k == kindCursor || k == kindProgress }

func (w *worker) offer(u update) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.enqueued++

	if len(w.queue) >= w.limit {
		victim := -1
		for i := len(w.queue) - 1; i >= 0 && positional(u.kind); i-- {
			if w.queue[i].kind == u.kind {
				victim = i
				break
			}
		}
		if victim < 0 {
			victim = slices.IndexFunc(w.queue, func(q update) bool { return positional(q.kind) })
		}
		switch {
		case victim >= 0 && w.queue[victim].kind == u.kind:
			w.queue[victim] = u
			w.coalescedLocked()
			return
		case victim >= 0:
			w.queue = slices.Delete(w.queue, victim, victim+1)
			w.coalescedLocked()
		}
	}
	w.queue = append(w.queue, u)
	w.cond.Broadcast()
}

// coalescedLocked accounts for a pending update that will never be applied.
func (w *worker) coalescedLocked() {
	w.dropped++
	w.finished++
	w.cond.Broadcast()
	w.log.Warn("mirror queue full, coalescing update", "sink", w.name)
}

func (w *worker) close() {
	w.mu.Lock()
	w.closed = true
	w.cond.Broadcast()
	w.mu.Unlock()
}

// run applies queued updates in order until the worker is closed and
// drained.
func (w *worker) run(ctx context.Context) {
	for {
		w.mu.Lock()
		for len(w.queue) == 0 && !w.closed {
			w.cond.Wait()
		}
		if len(w.queue) == 0 {
			w.mu.Unlock()
			return
		}
		u := w.queue[0]
		w.queue = w.queue[1:]
		w.mu.Unlock()

		if err := w.apply(ctx, u); err != nil {
			w.log.Warn("mirror sink failed", "sink", w.name, "error", err)
		}
		w.done()
	}
}

func (w *worker) done() {
	w.mu.Lock()
	w.finished++
	w.cond.Broadcast()
	w.mu.Unlock()
}

func (w *worker) sync() {
	w.mu.Lock()
	defer w.mu.Unlock()
	target := w.enqueued
	for w.finished < target {
		w.cond.Wait()
	}
}
