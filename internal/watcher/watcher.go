// Package watcher surfaces on-disk changes to the project memory file as
// engine events.
package watcher

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/codebuddy-ai/codebuddy-memory/internal/event"
)

// MemoryFileName is the project memory file watched for changes.
const MemoryFileName = "MEMORY.md"

// Watcher watches the working directory for changes to MEMORY.md. Writes
// from other processes (editors, other conversations) surface as
// memory.file.updated events so consumers can re-read the file.
type Watcher struct {
	watcher  *fsnotify.Watcher
	workDir  string
	path     string
	lastSize int64
	bus      *event.Bus
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	mu       sync.RWMutex
}

// NewWatcher creates a watcher for workDir. The directory is watched rather
// than the file itself so atomic replace-by-rename writes are still
// observed.
func NewWatcher(workDir string, bus *event.Bus) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(workDir); err != nil {
		w.Close()
		return nil, err
	}

	path := filepath.Join(workDir, MemoryFileName)
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	log.Debug().Str("path", path).Int64("size", size).Msg("memory file watcher initialized")

	return &Watcher{
		watcher:  w,
		workDir:  workDir,
		path:     path,
		lastSize: size,
		bus:      bus,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching for memory file changes.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()
	go w.run()
}

func (w *Watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 && filepath.Base(ev.Name) == MemoryFileName {
				w.checkMemoryFile()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("memory file watcher error")
		}
	}
}

// checkMemoryFile publishes an update event when the file size moved since
// the last observation. Size comparison collapses the burst of events one
// write can produce into a single notification.
func (w *Watcher) checkMemoryFile() {
	info, err := os.Stat(w.path)
	if err != nil {
		return
	}
	newSize := info.Size()

	w.mu.Lock()
	changed := newSize != w.lastSize
	if changed {
		w.lastSize = newSize
	}
	w.mu.Unlock()

	if changed {
		log.Info().
			Str("path", w.path).
			Int64("size", newSize).
			Msg("memory file updated")

		w.bus.PublishSync(event.Event{
			Type: event.MemoryFileUpdated,
			Data: event.MemoryFileUpdatedData{Path: w.path, Size: newSize},
		})
	}
}

// LastSize returns the most recently observed size of the memory file.
func (w *Watcher) LastSize() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastSize
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.mu.Unlock()

	// Signal stop
	select {
	case <-w.stopCh:
		// Already stopped
	default:
		close(w.stopCh)
	}

	// Wait for run() to finish if it was started
	if started {
		<-w.doneCh
	}

	return w.watcher.Close()
}
