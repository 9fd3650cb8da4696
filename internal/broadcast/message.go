// Package broadcast serves the student channel: a read-mostly HTTP view of
// the presenter state streamed over server-sent events.
package broadcast

import (
	"encoding/json"
	"fmt"

	"leo/internal/lesson"
)

// Message types sent to students.
const (
	TypeState      = "state"
	TypeLessonData = "lesson-data"
	TypeCursor     = "cursor"
	TypeProgress   = "progress"
	TypeTimer      = "timer"
	TypeActive     = "active"
	TypeLesson     = "lesson"
	TypeSettings   = "settings"
)

// Message types accepted from students.
const (
	ClientToggleActive = "toggle-active"
	ClientJumpTo       = "jump-to"
	ClientTimerStart   = "timer-start"
	ClientTimerStop    = "timer-stop"
	ClientTimerAdjust  = "timer-adjust"
)

// NoLesson is the lesson name shown before anything is loaded.
const NoLesson = "No lesson loaded"

// Message is one server-to-client update.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// NewMessage encodes data under the given type.
func NewMessage(typ string, data any) (Message, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s message: %w", typ, err)
	}
	return Message{Type: typ, Data: raw}, nil
}

// State is the full snapshot a client receives on connect.
type State struct {
	Progress      float64     `json:"progress"`
	TimeRemaining *int        `json:"timeRemaining"`
	IsActive      bool        `json:"isActive"`
	TotalSteps    int         `json:"totalSteps"`
	CurrentStep   int         `json:"currentStep"`
	LessonName    string      `json:"lessonName"`
	LessonData    *LessonData `json:"lessonData"`
	Settings      any         `json:"settings"`
}

// LessonData is the lesson as students see it.
type LessonData struct {
	Blocks []BlockView `json:"blocks"`
}

// BlockView is a block with its comment text rendered to HTML.
type BlockView struct {
	Type    lesson.BlockType `json:"type"`
	Text    string           `json:"text"`
	Subtype lesson.Subtype   `json:"subtype,omitempty"`
	HTML    string           `json:"html,omitempty"`
}

// CursorData is the payload of a cursor message.
type CursorData struct {
	CurrentStep int `json:"currentStep"`
}

// ProgressData is the payload of a progress message.
type ProgressData struct {
	Progress    float64 `json:"progress"`
	CurrentStep int     `json:"currentStep"`
	TotalSteps  int     `json:"totalSteps"`
}

// TimerData is the payload of a timer message.
type TimerData struct {
	TimeRemaining *int `json:"timeRemaining"`
}

// ActiveData is the payload of an active message.
type ActiveData struct {
	IsActive bool `json:"isActive"`
}

// LessonNameData is the payload of a lesson message.
type LessonNameData struct {
	LessonName string `json:"lessonName"`
}

// ClientMessage is a request from a student browser.
type ClientMessage struct {
	Type      string `json:"type"`
	StepIndex int    `json:"-"`
	Minutes   int    `json:"-"`
}

// UnmarshalJSON decodes {"type": ..., "data": {"stepIndex": N}} and
// {"type": "timer-adjust", "data": {"minutes": N}}.
func (m *ClientMessage) UnmarshalJSON(b []byte) error {
	var wire struct {
		Type string `json:"type"`
		Data *struct {
			StepIndex *int `json:"stepIndex"`
			Minutes   *int `json:"minutes"`
		} `json:"data"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return err
	}
	switch wire.Type {
	case ClientToggleActive, ClientTimerStart, ClientTimerStop:
	case ClientTimerAdjust:
		if wire.Data == nil || wire.Data.Minutes == nil {
			return fmt.Errorf("timer-adjust: missing minutes")
		}
		m.Minutes = *wire.Data.Minutes
	case ClientJumpTo:
		if wire.Data == nil || wire.Data.StepIndex == nil {
			return fmt.Errorf("jump-to: missing stepIndex")
		}
		if *wire.Data.StepIndex < 0 {
			return fmt.Errorf("jump-to: negative stepIndex %d", *wire.Data.StepIndex)
		}
		m.StepIndex = *wire.Data.StepIndex
	default:
		return fmt.Errorf("unknown message type %q", wire.Type)
	}
	m.Type = wire.Type
	return nil
}
