package research

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"winterfox/internal/logging"
	"winterfox/internal/store"
)

// DocWatcher keeps workspace context documents in sync with a watched
// directory. Markdown and text files dropped into the directory are
// upserted into the store between cycles; removed files are deleted.
type DocWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	store       *store.Store
	workspaceID string
	dir         string
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
}

// NewDocWatcher creates a watcher over dir for the given workspace.
func NewDocWatcher(s *store.Store, workspaceID, dir string) (*DocWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DocWatcher{
		watcher:     watcher,
		store:       s,
		workspaceID: workspaceID,
		dir:         dir,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Sync performs a full scan of the directory, upserting every document
// file. Called at startup before the event loop takes over.
func (w *DocWatcher) Sync() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || !isDocumentFile(entry.Name()) {
			continue
		}
		w.upsert(filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// Start begins watching. Non-blocking; the event loop runs in its own
// goroutine until Stop or context cancellation.
func (w *DocWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		logging.Get(logging.CategoryContext).Warn("DocWatcher: failed to create %s: %v", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		logging.Get(logging.CategoryContext).Warn("DocWatcher: watch failed for %s: %v", w.dir, err)
	} else {
		logging.Context("DocWatcher: watching %s", w.dir)
	}

	go w.run(ctx)
	return nil
}

// Stop halts the watcher and waits for the event loop to exit.
func (w *DocWatcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *DocWatcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

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
			logging.Get(logging.CategoryContext).Error("DocWatcher error: %v", err)
		case <-debounceTicker.C:
			w.processDebouncedEvents()
		}
	}
}

func (w *DocWatcher) handleEvent(event fsnotify.Event) {
	if !isDocumentFile(event.Name) {
		return
	}

	switch {
	case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
		w.mu.Lock()
		w.debounceMap[event.Name] = time.Now()
		w.mu.Unlock()
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.mu.Lock()
		delete(w.debounceMap, event.Name)
		w.mu.Unlock()
		filename := filepath.Base(event.Name)
		if err := w.store.DeleteContextDocument(w.workspaceID, filename); err != nil {
			logging.Get(logging.CategoryContext).Error("DocWatcher: failed to delete %s: %v", filename, err)
		} else {
			logging.Context("DocWatcher: removed context document %s", filename)
		}
	}
}

func (w *DocWatcher) processDebouncedEvents() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounceMap, path)
		}
	}
	w.mu.Unlock()

	for _, path := range settled {
		w.upsert(path)
	}
}

func (w *DocWatcher) upsert(path string) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return
		}
		logging.Get(logging.CategoryContext).Error("DocWatcher: failed to read %s: %v", path, err)
		return
	}
	filename := filepath.Base(path)
	if err := w.store.UpsertContextDocument(w.workspaceID, filename, string(content)); err != nil {
		logging.Get(logging.CategoryContext).Error("DocWatcher: failed to upsert %s: %v", filename, err)
		return
	}
	logging.ContextDebug("DocWatcher: upserted context document %s (%d bytes)", filename, len(content))
}

func isDocumentFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".md", ".txt", ".markdown":
		return true
	}
	return false
}
