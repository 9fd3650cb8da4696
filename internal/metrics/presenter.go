package metrics

import (
	"sync"
	"time"
)

// PresenterMetrics holds the presenter's counters, gauges and histograms.
type PresenterMetrics struct {
	registry *Registry

	CharsTyped       *Counter
	BlocksConsumed   *Counter
	InjectionErrors  *Counter
	AutoTypeRuns     *Counter
	AutoTypedChars   *Counter
	Questions        *Counter
	LessonsLoaded    *Counter
	StudentRequests  *Counter
	Active           *Gauge
	CursorIndex      *Gauge
	CursorTotal      *Gauge
	KeyPressInterval *Histogram

	mu        sync.Mutex
	lastPress time.Time
	now       func() time.Time
}

// NewPresenterMetrics registers the presenter metrics on registry.
func NewPresenterMetrics(registry *Registry) *PresenterMetrics {
	if registry == nil {
		registry = NewRegistry("leo")
	}
	return &PresenterMetrics{
		registry: registry,

		CharsTyped: registry.Counter("steps_consumed_total",
			"Lesson steps performed by the presenter", Labels{"kind": "char"}),
		BlocksConsumed: registry.Counter("steps_consumed_total",
			"Lesson steps performed by the presenter", Labels{"kind": "block"}),
		InjectionErrors: registry.Counter("injection_errors_total",
			"Keystroke injections that failed", nil),
		AutoTypeRuns: registry.Counter("auto_type_runs_total",
			"Auto-typing runs finished or stopped", nil),
		AutoTypedChars: registry.Counter("auto_typed_chars_total",
			"Characters typed by auto-typing", nil),
		Questions: registry.Counter("questions_total",
			"Questions shown to the audience", nil),
		LessonsLoaded: registry.Counter("lessons_loaded_total",
			"Lessons opened", nil),
		StudentRequests: registry.Counter("student_requests_total",
			"Requests received from the student channel", nil),

		Active: registry.Gauge("typing_active",
			"1 while typing mode is on", nil),
		CursorIndex: registry.Gauge("cursor_index",
			"Index of the next lesson step", nil),
		CursorTotal: registry.Gauge("cursor_total",
			"Number of steps in the lesson", nil),

		KeyPressInterval: registry.Histogram("key_press_interval_seconds",
			"Time between consecutive presenter steps", nil, IntervalBuckets),

		now: time.Now,
	}
}

// Registry returns the registry the metrics live on.
func (m *PresenterMetrics) Registry() *Registry { return m.registry }

// RecordStep counts a consumed step and the gap since the previous one.
func (m *PresenterMetrics) RecordStep(block bool) {
	if block {
		m.BlocksConsumed.Inc()
	} else {
		m.CharsTyped.Inc()
	}

	m.mu.Lock()
	now := m.now()
	last := m.lastPress
	m.lastPress = now
	m.mu.Unlock()

	if !last.IsZero() {
		m.KeyPressInterval.ObserveDuration(now.Sub(last))
	}
}

// RecordCursor stores the cursor position.
func (m *PresenterMetrics) RecordCursor(index, total int) {
	m.CursorIndex.Set(int64(index))
	m.CursorTotal.Set(int64(total))
}

// ResetCadence forgets the last step time so pauses between typing
// sessions are not measured.
func (m *PresenterMetrics) ResetCadence() {
	m.mu.Lock()
	m.lastPress = time.Time{}
	m.mu.Unlock()
}
