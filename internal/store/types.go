// Package store provides SQLite-based storage for presenter state: the
// last cursor position per lesson, presentation sessions and the
// interactions raised during them.
package store

import "time"

// Position is the persisted cursor of one lesson.
type Position struct {
	LessonID  string
	Index     int
	Total     int
	UpdatedAt time.Time
}

// Session is one presentation run of a lesson.
type Session struct {
	ID         string
	LessonID   string
	StartedAt  time.Time
	EndedAt    *time.Time
	KeyPresses int
	LogPath    string
}

// Interaction is a classroom event recorded during a session, such as a
// question put to students.
type Interaction struct {
	ID        int64
	SessionID string
	Kind      string
	Info      string
	StepIndex int
	Timestamp time.Time
}
