package source

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/nao1215/adsweep/internal/dom"
)

// Watcher reloads a snapshot file into a Document whenever it changes on
// disk. Each reload replaces the tree and so reaches the scheduler as a host
// mutation.
//
// The parent directory is watched, not the file: saves that rename a
// temporary file over the original would drop a file-level watch.
type Watcher struct {
	path    string
	doc     *dom.Document
	logger  *slog.Logger
	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	reloads int
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher creates a Watcher that feeds doc from path.
func NewWatcher(path string, doc *dom.Document, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		path:    abs,
		doc:     doc,
		logger:  logger,
		watcher: fw,
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.run(ctx)
	w.logger.Debug("watching snapshot", "path", w.path)
	return nil
}

// Stop ends the watch and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.logger.Warn("failed to close file watcher", "error", err)
	}
}

// Reloads returns the number of successful reloads.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	if err := w.Reload(); err != nil {
		// A half-written file is common; the next write event retries.
		w.logger.Debug("snapshot reload failed", "error", err)
	}
}

// Reload parses the file and replaces the document tree.
func (w *Watcher) Reload() error {
	root, err := parseFile(w.path)
	if err != nil {
		return err
	}
	w.doc.Replace(root)
	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()
	w.logger.Debug("snapshot reloaded", "path", w.path)
	return nil
}
