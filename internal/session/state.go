// Package session holds the per-process presenter state shared by the
// hotkey interceptor, the injector and the cursor engine: the injection
// lock with its queue of pending triggers, and the typing-mode flags.
//
// One State is created at startup and handed to each component's
// constructor. Check-and-act pairs (LockOrEnqueue, ReleaseOrDequeue) are
// single critical sections so no trigger can slip between the check and
// the update.
package session

import "sync"

// State is the lock/queue plus mode flags.
type State struct {
	mu sync.Mutex

	locked  bool
	pending []rune

	active     bool
	paused     bool
	held       int
	autoTyping bool
}

// New returns an idle, inactive state.
func New() *State {
	return &State{}
}

// Snapshot is a point-in-time copy of State.
type Snapshot struct {
	Locked     bool `json:"locked"`
	Pending    int  `json:"pending"`
	Active     bool `json:"active"`
	Paused     bool `json:"paused"`
	AutoTyping bool `json:"autoTyping"`
}

// Snapshot returns a copy of the current flags.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Locked:     s.locked,
		Pending:    len(s.pending),
		Active:     s.active,
		Paused:     s.paused || s.held > 0,
		AutoTyping: s.autoTyping,
	}
}

// TryLock acquires the injection lock if it is free.
func (s *State) TryLock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return false
	}
	s.locked = true
	return true
}

// LockOrEnqueue acquires the lock, or queues key when it is already held.
// It reports whether the caller now owns the lock.
func (s *State) LockOrEnqueue(key rune) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		s.pending = append(s.pending, key)
		return false
	}
	s.locked = true
	return true
}

// ReleaseOrDequeue is called by the lock owner when its injection is done.
// With keys pending it pops one and keeps the lock (ok is true); with an
// empty queue it releases the lock.
func (s *State) ReleaseOrDequeue() (key rune, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		s.locked = false
		return 0, false
	}
	key = s.pending[0]
	s.pending = s.pending[1:]
	return key, true
}

// Unlock releases the lock without touching the queue.
func (s *State) Unlock() {
	s.mu.Lock()
	s.locked = false
	s.mu.Unlock()
}

// IsLocked reports whether an injection holds the lock.
func (s *State) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Enqueue appends a pending trigger.
func (s *State) Enqueue(key rune) {
	s.mu.Lock()
	s.pending = append(s.pending, key)
	s.mu.Unlock()
}

// QueueLen returns the number of pending triggers.
func (s *State) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// ClearQueue drops all pending triggers.
func (s *State) ClearQueue() {
	s.mu.Lock()
	s.pending = nil
	s.mu.Unlock()
}

// Reset releases the lock and drops the queue. Used when typing mode is
// turned off and after an injection error.
func (s *State) Reset() {
	s.mu.Lock()
	s.locked = false
	s.pending = nil
	s.mu.Unlock()
}

// SetActive sets typing mode and reports whether it changed.
func (s *State) SetActive(active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := s.active != active
	s.active = active
	return changed
}

// ToggleActive flips typing mode and returns the new value.
func (s *State) ToggleActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = !s.active
	return s.active
}

// IsActive reports typing mode.
func (s *State) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// SetPaused sets the pause flag. Paused triggers are ignored outright,
// unlike locked ones which queue.
func (s *State) SetPaused(paused bool) {
	s.mu.Lock()
	s.paused = paused
	s.mu.Unlock()
}

// IsPaused reports whether triggers are ignored, either because the
// pause flag is set or because a hold is in effect.
func (s *State) IsPaused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused || s.held > 0
}

// HoldPause ignores triggers until release is called and drops the ones
// already queued. It leaves the pause flag alone, so a presenter pause set
// meanwhile survives the release. release is idempotent.
func (s *State) HoldPause() (release func()) {
	s.mu.Lock()
	s.held++
	s.pending = nil
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			s.held--
			s.mu.Unlock()
		})
	}
}

// BeginAutoTyping marks an auto-type run as started. It returns false if
// one is already running.
func (s *State) BeginAutoTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.autoTyping {
		return false
	}
	s.autoTyping = true
	return true
}

// EndAutoTyping clears the auto-typing flag.
func (s *State) EndAutoTyping() {
	s.mu.Lock()
	s.autoTyping = false
	s.mu.Unlock()
}

// IsAutoTyping reports whether an auto-type run is in progress.
func (s *State) IsAutoTyping() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoTyping
}
