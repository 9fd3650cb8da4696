// Package watcher reports when a file has settled after changing on
// disk. The presenter uses it to reload an externally edited lesson and
// the configuration file.
package watcher

import (
	"crypto/sha256"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Event describes a settled change of the watched file.
type Event struct {
	Path      string
	Hash      [32]byte
	Size      int64
	Timestamp time.Time
}

// Watcher monitors a single file. Content identical to the last reported
// (or Acknowledge'd) hash is not reported again, so the presenter's own
// saves do not bounce back as reloads.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	path      string
	settle    time.Duration

	mu       sync.Mutex
	pending  bool
	lastMod  time.Time
	lastHash [32]byte

	events chan Event
	errors chan error

	done chan struct{}
	wg   sync.WaitGroup
}

// New creates a watcher for path. A change is reported once the file has
// not been written to for settle.
func New(path string, settle time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = 300 * time.Millisecond
	}

	w := &Watcher{
		fsWatcher: fsWatcher,
		path:      abs,
		settle:    settle,
		events:    make(chan Event, 8),
		errors:    make(chan error, 4),
		done:      make(chan struct{}),
	}
	if hash, _, err := HashFile(abs); err == nil {
		w.lastHash = hash
	}
	return w, nil
}

// Events returns the channel of settled changes.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel of watch errors.
func (w *Watcher) Errors() <-chan error {
	return w.errors
}

// Start begins watching. The parent directory is watched because editors
// commonly replace files by rename.
func (w *Watcher) Start() error {
	if err := w.fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.eventLoop()
	go w.settleLoop()
	return nil
}

// Stop shuts the watcher down and closes its channels.
func (w *Watcher) Stop() error {
	close(w.done)
	w.wg.Wait()
	close(w.events)
	close(w.errors)
	return w.fsWatcher.Close()
}

// Acknowledge records content written by the presenter itself.
func (w *Watcher) Acknowledge(data []byte) {
	w.mu.Lock()
	w.lastHash = sha256.Sum256(data)
	w.mu.Unlock()
}

func (w *Watcher) eventLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = true
			w.lastMod = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			select {
			case w.errors <- err:
			default:
			}
		}
	}
}

func (w *Watcher) settleLoop() {
	defer w.wg.Done()

	tick := w.settle / 3
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case now := <-ticker.C:
			w.checkSettled(now)
		}
	}
}

func (w *Watcher) checkSettled(now time.Time) {
	w.mu.Lock()
	if !w.pending || now.Sub(w.lastMod) < w.settle {
		w.mu.Unlock()
		return
	}
	lastMod := w.lastMod
	w.mu.Unlock()

	// Hash without holding the lock; a write during hashing restarts settling.
	hash, size, err := HashFile(w.path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if err != nil {
		if os.IsNotExist(err) {
			// Mid-rename; the Create event will follow.
			return
		}
		w.pending = false
		select {
		case w.errors <- err:
		default:
		}
		return
	}
	if w.lastMod != lastMod {
		return
	}
	w.pending = false
	if hash == w.lastHash {
		return
	}

	select {
	case w.events <- Event{Path: w.path, Hash: hash, Size: size, Timestamp: now}:
		w.lastHash = hash
	default:
		// Channel full; retry on the next tick.
		w.pending = true
	}
}

// HashFile computes the SHA-256 of a file by streaming it.
func HashFile(path string) ([32]byte, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return [32]byte{}, 0, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return [32]byte{}, 0, err
	}

	var hash [32]byte
	copy(hash[:], h.Sum(nil))
	return hash, size, nil
}

// Path returns the watched file.
func (w *Watcher) Path() string {
	return w.path
}
