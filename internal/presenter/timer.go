package presenter

import (
	"sync"
	"time"
)

// Timer defaults, in minutes.
const (
	DefaultTimerMinutes = 90
	TimerAdjustMinutes  = 10
)

// Timer counts down the remaining presentation time. OnTick receives the
// whole seconds left once per second; OnStop fires when the countdown is
// stopped or runs out.
type Timer struct {
	onTick func(remaining int)
	onStop func()

	now      func() time.Time
	interval time.Duration

	mu   sync.Mutex
	end  time.Time
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewTimer creates a stopped timer.
func NewTimer(onTick func(int), onStop func()) *Timer {
	if onTick == nil {
		onTick = func(int) {}
	}
	if onStop == nil {
		onStop = func() {}
	}
	return &Timer{
		onTick:   onTick,
		onStop:   onStop,
		now:      time.Now,
		interval: time.Second,
	}
}

// Start (re)starts the countdown at minutes, DefaultTimerMinutes when
// minutes is not positive.
func (t *Timer) Start(minutes int) {
	if minutes <= 0 {
		minutes = DefaultTimerMinutes
	}
	t.halt()

	t.mu.Lock()
	t.end = t.now().Add(time.Duration(minutes) * time.Minute)
	t.stop = make(chan struct{})
	stop := t.stop
	t.mu.Unlock()

	t.wg.Add(1)
	go t.loop(stop)
	t.tick()
}

func (t *Timer) loop(stop chan struct{}) {
	defer t.wg.Done()
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

// halt ends the ticking goroutine without notifying.
func (t *Timer) halt() bool {
	t.mu.Lock()
	stop := t.stop
	t.stop = nil
	t.end = time.Time{}
	t.mu.Unlock()

	if stop == nil {
		return false
	}
	close(stop)
	return true
}

// Stop ends the countdown. It is a no-op on a stopped timer.
func (t *Timer) Stop() {
	if t.halt() {
		t.onStop()
	}
}

// Wait blocks until the ticking goroutine has exited.
func (t *Timer) Wait() {
	t.wg.Wait()
}

// Adjust moves the end of a running countdown by minutes, which may be
// negative. A countdown adjusted past zero stops.
func (t *Timer) Adjust(minutes int) {
	t.mu.Lock()
	if t.stop == nil {
		t.mu.Unlock()
		return
	}
	t.end = t.end.Add(time.Duration(minutes) * time.Minute)
	t.mu.Unlock()
	t.tick()
}

// Remaining returns the whole seconds left, zero when stopped.
func (t *Timer) Remaining() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.remainingLocked()
}

func (t *Timer) remainingLocked() int {
	if t.stop == nil {
		return 0
	}
	left := t.end.Sub(t.now())
	if left <= 0 {
		return 0
	}
	return int(left / time.Second)
}

// Running reports whether a countdown is in progress.
func (t *Timer) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stop != nil
}

func (t *Timer) tick() {
	t.mu.Lock()
	running := t.stop != nil
	remaining := t.remainingLocked()
	t.mu.Unlock()

	if !running {
		return
	}
	if remaining <= 0 {
		t.Stop()
		return
	}
	t.onTick(remaining)
}
