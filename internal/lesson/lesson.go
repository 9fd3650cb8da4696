package lesson

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Errors returned by lesson operations.
var (
	ErrNoPath  = errors.New("lesson: no file path set")
	ErrIndex   = errors.New("lesson: block index out of range")
	ErrLocked  = errors.New("lesson: editing is disabled while typing mode is active")
	ErrInvalid = errors.New("lesson: invalid lesson file")
	ErrType    = errors.New("lesson: unknown block type")
)

// Lesson is the in-memory lesson document bound to a file.
//
// Edits notify OnChange subscribers with a copy of the new block list.
// An edit guard, when set, rejects edits while typing mode is active.
type Lesson struct {
	mu       sync.RWMutex
	path     string
	blocks   []Block
	dirty    bool
	guard    func() bool
	onChange []func([]Block)
}

// New returns an unsaved lesson holding blocks.
func New(blocks []Block) *Lesson {
	return &Lesson{blocks: cloneBlocks(blocks)}
}

// Load reads and validates the lesson file at path.
func Load(path string) (*Lesson, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read lesson: %w", err)
	}
	blocks, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", filepath.Base(path), err)
	}
	return &Lesson{path: path, blocks: blocks}, nil
}

// Create writes a new lesson with the default blocks to path.
func Create(path string) (*Lesson, error) {
	l := &Lesson{path: path, blocks: DefaultBlocks(), dirty: true}
	if err := l.Save(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the backing file, empty for unsaved lessons.
func (l *Lesson) Path() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.path
}

// ID identifies the lesson for per-lesson storage. It is the absolute
// file path, or "unnamed" for lessons without a file.
func (l *Lesson) ID() string {
	p := l.Path()
	if p == "" {
		return "unnamed"
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// Name is the file name without extension, used as a display title.
func (l *Lesson) Name() string {
	p := l.Path()
	if p == "" {
		return ""
	}
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Save writes the lesson to its file.
func (l *Lesson) Save() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked()
}

// SaveAs rebinds the lesson to path and writes it there.
func (l *Lesson) SaveAs(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.path = path
	return l.saveLocked()
}

func (l *Lesson) saveLocked() error {
	if l.path == "" {
		return ErrNoPath
	}
	data, err := Encode(l.blocks)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("create lesson dir: %w", err)
	}

	// Write through a temp file so a crash never leaves a truncated lesson.
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write lesson: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace lesson: %w", err)
	}
	l.dirty = false
	return nil
}

// Blocks returns a copy of the block list.
func (l *Lesson) Blocks() []Block {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneBlocks(l.blocks)
}

// Len returns the number of blocks.
func (l *Lesson) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.blocks)
}

// Block returns the block at i.
func (l *Lesson) Block(i int) (Block, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if i < 0 || i >= len(l.blocks) {
		return Block{}, false
	}
	return l.blocks[i], true
}

// HasChanges reports unsaved edits.
func (l *Lesson) HasChanges() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.dirty
}

// SetEditGuard installs a predicate that, when true, rejects edits.
func (l *Lesson) SetEditGuard(locked func() bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.guard = locked
}

// OnChange registers a callback invoked after every edit.
func (l *Lesson) OnChange(fn func([]Block)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Add inserts a placeholder block of type t after index after (-1 appends
// at the end) and returns the new block's index.
func (l *Lesson) Add(t BlockType, after int) (int, error) {
	if !t.Valid() {
		return 0, ErrType
	}
	var idx int
	err := l.edit(func(blocks []Block) ([]Block, error) {
		if after < -1 || after >= len(blocks) {
			return nil, ErrIndex
		}
		if after == -1 {
			idx = len(blocks)
			return append(blocks, newBlock(t)), nil
		}
		idx = after + 1
		blocks = append(blocks, Block{})
		copy(blocks[idx+1:], blocks[idx:])
		blocks[idx] = newBlock(t)
		return blocks, nil
	})
	return idx, err
}

// Remove deletes the block at i.
func (l *Lesson) Remove(i int) error {
	return l.edit(func(blocks []Block) ([]Block, error) {
		if i < 0 || i >= len(blocks) {
			return nil, ErrIndex
		}
		return append(blocks[:i], blocks[i+1:]...), nil
	})
}

// Update replaces the text of block i.
func (l *Lesson) Update(i int, text string) error {
	return l.edit(func(blocks []Block) ([]Block, error) {
		if i < 0 || i >= len(blocks) {
			return nil, ErrIndex
		}
		blocks[i].Text = text
		return blocks, nil
	})
}

// Move relocates block from to index to.
func (l *Lesson) Move(from, to int) error {
	return l.edit(func(blocks []Block) ([]Block, error) {
		if from < 0 || from >= len(blocks) || to < 0 || to >= len(blocks) {
			return nil, ErrIndex
		}
		b := blocks[from]
		blocks = append(blocks[:from], blocks[from+1:]...)
		blocks = append(blocks[:to], append([]Block{b}, blocks[to:]...)...)
		return blocks, nil
	})
}

// Replace swaps in a whole new block list, e.g. after the file changed on
// disk. It bypasses the edit guard and leaves the lesson clean.
func (l *Lesson) Replace(blocks []Block) {
	l.mu.Lock()
	l.blocks = cloneBlocks(blocks)
	l.dirty = false
	snapshot, callbacks := l.notifyLocked()
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(snapshot)
	}
}

func (l *Lesson) edit(fn func([]Block) ([]Block, error)) error {
	l.mu.Lock()
	if l.guard != nil && l.guard() {
		l.mu.Unlock()
		return ErrLocked
	}
	next, err := fn(cloneBlocks(l.blocks))
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.blocks = next
	l.dirty = true
	snapshot, callbacks := l.notifyLocked()
	l.mu.Unlock()

	for _, cb := range callbacks {
		cb(snapshot)
	}
	return nil
}

func (l *Lesson) notifyLocked() ([]Block, []func([]Block)) {
	if len(l.onChange) == 0 {
		return nil, nil
	}
	return cloneBlocks(l.blocks), append([]func([]Block){}, l.onChange...)
}

func cloneBlocks(in []Block) []Block {
	out := make([]Block, len(in))
	copy(out, in)
	return out
}
