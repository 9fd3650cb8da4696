package cursor

import "leo/internal/steps"

// Event is a notification from the Engine. The concrete types below are
// the only implementations.
type Event interface {
	event()
}

// CursorChanged reports a new cursor position.
type CursorChanged struct {
	Index int
	Total int
}

// ProgressChanged reports the consumed share of the lesson.
type ProgressChanged struct {
	Percent float64
	Index   int
	Total   int
}

// StepConsumed reports a step marked consumed by an advance.
type StepConsumed struct {
	Step steps.Step
}

// AutoTypeFinished reports the end of an auto-type run. Completed is false
// when the run was cancelled or failed before the block boundary.
type AutoTypeFinished struct {
	Completed bool
	Typed     int
}

// InputComplete signals that a block was consumed and the presenter may
// continue.
type InputComplete struct {
	Index int
}

// ActiveChanged reports a typing-mode toggle.
type ActiveChanged struct {
	Active bool
}

// InjectionFailed reports a keystroke that could not be sent.
type InjectionFailed struct {
	Index int
	Err   error
}

func (CursorChanged) event()    {}
func (ProgressChanged) event()  {}
func (StepConsumed) event()     {}
func (AutoTypeFinished) event() {}
func (InputComplete) event()    {}
func (ActiveChanged) event()    {}
func (InjectionFailed) event()  {}

// Observer receives engine events. OnEvent is called synchronously from
// the goroutine that changed the state and must not block.
type Observer interface {
	OnEvent(e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(e Event) { f(e) }
