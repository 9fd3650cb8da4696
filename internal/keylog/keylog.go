// Package keylog writes the key-press record of a presentation session.
//
// The record is a JSON file next to the lesson, under logs/, rewritten in
// full every SaveInterval entries and after every interaction.
package keylog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"leo/internal/logging"
)

// DefaultSaveInterval is the number of entries between automatic saves.
const DefaultSaveInterval = 10

// UnnamedLesson is the file prefix used when no lesson file is loaded.
const UnnamedLesson = "unnamed_lesson"

// Entry is one key press or interaction.
type Entry struct {
	Timestamp   int64  `json:"timestamp"`
	Char        string `json:"char,omitempty"`
	Interaction string `json:"interaction,omitempty"`
	Info        string `json:"info,omitempty"`
}

// File is the on-disk record.
type File struct {
	LessonFile      string  `json:"lessonFile"`
	SessionStart    int64   `json:"sessionStart"`
	TotalKeyPresses int     `json:"totalKeyPresses"`
	KeyPresses      []Entry `json:"keyPresses"`
}

// Options configures a Log.
type Options struct {
	// Dir overrides the log directory. By default logs go to a logs/
	// directory next to the lesson, or to a temp directory when unnamed.
	Dir string

	SaveInterval int

	// OnInteraction observes interactions after they are recorded.
	OnInteraction func(kind, info string)

	Now    func() time.Time
	Logger *logging.Logger
}

// Log is the session key-press record.
type Log struct {
	mu         sync.Mutex
	id         string
	path       string
	lessonFile string
	start      time.Time
	entries    []Entry
	interval   int
	now        func() time.Time
	log        *logging.Logger
	onInteract func(kind, info string)
	closed     bool
}

// Paths returns the directory and file prefix for a lesson's logs.
func Paths(lessonPath string) (dir, base string) {
	if lessonPath == "" {
		return filepath.Join(os.TempDir(), "leo-logs"), UnnamedLesson
	}
	return filepath.Join(filepath.Dir(lessonPath), "logs"),
		strings.TrimSuffix(filepath.Base(lessonPath), filepath.Ext(lessonPath))
}

// Timestamp renders t the way log file names carry it.
func Timestamp(t time.Time) string {
	s := t.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

// Open starts a new session record for lessonPath, which may be empty,
// and writes the initial empty file.
func Open(lessonPath string, opts Options) (*Log, error) {
	if opts.SaveInterval <= 0 {
		opts.SaveInterval = DefaultSaveInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Component("keylog")
	}

	dir, base := Paths(lessonPath)
	if opts.Dir != "" {
		dir = opts.Dir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	start := opts.Now()
	l := &Log{
		id:         uuid.NewString(),
		path:       filepath.Join(dir, fmt.Sprintf("%s_key_presses_%s.json", base, Timestamp(start))),
		lessonFile: lessonPath,
		start:      start,
		interval:   opts.SaveInterval,
		now:        opts.Now,
		log:        opts.Logger,
		onInteract: opts.OnInteraction,
	}
	if err := l.Save(); err != nil {
		return nil, err
	}
	return l, nil
}

// ID returns the session identifier.
func (l *Log) ID() string { return l.id }

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Start returns the session start time.
func (l *Log) Start() time.Time { return l.start }

// LogChar records a typed character.
func (l *Log) LogChar(r rune) {
	l.add(Entry{Char: string(r)}, false)
}

// LogInteraction records an interaction such as a question and saves
// the file at once.
func (l *Log) LogInteraction(kind, info string) {
	l.add(Entry{Interaction: kind, Info: info}, true)
	if l.onInteract != nil {
		l.onInteract(kind, info)
	}
}

func (l *Log) add(e Entry, save bool) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		l.log.Warn("entry after close dropped")
		return
	}
	e.Timestamp = l.now().UnixMilli()
	l.entries = append(l.entries, e)
	if len(l.entries)%l.interval == 0 {
		save = true
	}
	l.mu.Unlock()

	if save {
		if err := l.Save(); err != nil {
			l.log.Error("failed to save key press log", "path", l.path, "error", err)
		}
	}
}

// Count returns the number of recorded entries.
func (l *Log) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns a copy of the recorded entries.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Entry(nil), l.entries...)
}

// Save writes the full record.
func (l *Log) Save() error {
	l.mu.Lock()
	lessonFile := l.lessonFile
	if lessonFile == "" {
		lessonFile = "No file loaded"
	}
	data, err := json.MarshalIndent(File{
		LessonFile:      lessonFile,
		SessionStart:    l.start.UnixMilli(),
		TotalKeyPresses: len(l.entries),
		KeyPresses:      append([]Entry{}, l.entries...),
	}, "", "  ")
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode key press log: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write key press log: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write key press log: %w", err)
	}
	return nil
}

// Close flushes the record. Later entries are dropped.
func (l *Log) Close() error {
	err := l.Save()
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return err
}

// Read loads a record from disk.
func Read(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode key press log: %w", err)
	}
	return &f, nil
}
