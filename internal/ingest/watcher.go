package ingest

import (
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debouncedelay batches the rapid write events editors emit while saving.
const debounceDelay = 500 * time.Millisecond

// Watcher watches the document roots and invokes a callback when an ingest-
// eligible file is created or written. Events for one path are debounced so
// a save that produces several WRITE events triggers one re-ingest.
type Watcher struct {
	roots      []string
	extensions map[string]bool
	callback   func(path string)
	watcher    *fsnotify.Watcher
	done       chan struct{}

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher over the given roots. extensions must
// include the leading dot.
func NewWatcher(roots, extensions []string, callback func(path string)) *Watcher {
	exts := make(map[string]bool, len(extensions))
	for _, e := range extensions {
		exts[strings.ToLower(e)] = true
	}
	return &Watcher{
		roots:      roots,
		extensions: exts,
		callback:   callback,
		done:       make(chan struct{}),
		pending:    make(map[string]*time.Timer),
	}
}

// Start begins watching. Call Stop() to clean up.
func (w *Watcher) Start() error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	for _, root := range w.roots {
		if err := fw.Add(root); err != nil {
			_ = fw.Close()
			return err
		}
	}
	w.watcher = fw

	go w.loop()
	log.Printf("Watcher: watching %d roots for document changes", len(w.roots))
	return nil
}

// Stop shuts down the watcher and cancels pending debounce timers.
func (w *Watcher) Stop() {
	if w.watcher != nil {
		_ = w.watcher.Close()
	}
	<-w.done

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	w.pending = make(map[string]*time.Timer)
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !w.extensions[strings.ToLower(filepath.Ext(evt.Name))] {
				continue
			}
			w.schedule(evt.Name)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("Watcher: error: %v", err)
		}
	}
}

// schedule arms (or re-arms) the debounce timer for one path.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.pending[path]; ok {
		timer.Stop()
	}
	w.pending[path] = time.AfterFunc(debounceDelay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		if w.callback != nil {
			w.callback(path)
		}
	})
}
