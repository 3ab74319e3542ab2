package tokencache

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"azbroker/pkg/logging"
)

const watcherSubsystem = "SlotWatcher"

// pollInterval is the fallback polling cadence when fsnotify is unavailable.
const pollInterval = 5 * time.Second

// debounceInterval is the time to wait after the last slot change before
// notifying, so a remove-then-rewrite sequence triggers once.
const debounceInterval = 200 * time.Millisecond

// slotWatcher monitors the cache slot file for out-of-band changes (for
// example, another process clearing the slot) and notifies via onChange.
// It watches the slot's parent directory because removal and recreation of
// the file itself would break a direct file watch.
type slotWatcher struct {
	slotPath string
	onChange func()

	mu        sync.Mutex
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	stopped   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer

	lastModTime time.Time
}

// newSlotWatcher starts watching the slot file. The parent directory must
// exist; callers that create the slot lazily should also create the
// directory before enabling watching.
func newSlotWatcher(slotPath string, onChange func()) (*slotWatcher, error) {
	dir := filepath.Dir(slotPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create slot directory: %w", err)
	}

	w := &slotWatcher{
		slotPath: slotPath,
		onChange: onChange,
		stopCh:   make(chan struct{}),
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn(watcherSubsystem, "fsnotify not available, falling back to polling: %v", err)
		go w.pollForChanges()
		return w, nil
	}
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		logging.Warn(watcherSubsystem, "Failed to watch %s, falling back to polling: %v", dir, err)
		go w.pollForChanges()
		return w, nil
	}

	w.fsWatcher = fsWatcher
	go w.processEvents(fsWatcher.Events, fsWatcher.Errors)

	logging.Debug(watcherSubsystem, "Watching %s", slotPath)
	return w, nil
}

// stop halts the watcher. Safe to call once.
func (w *slotWatcher) stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

// processEvents handles fsnotify events for the slot's directory.
func (w *slotWatcher) processEvents(eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if event.Name != w.slotPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logging.Debug(watcherSubsystem, "Slot changed on disk (%s)", event.Op)
			w.notifyDebounced()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Warn(watcherSubsystem, "fsnotify error: %v", err)
		}
	}
}

// notifyDebounced fires onChange after the debounce window.
func (w *slotWatcher) notifyDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(debounceInterval, func() {
		w.mu.Lock()
		stopped := w.stopped
		w.mu.Unlock()
		if !stopped {
			w.onChange()
		}
	})
}

// pollForChanges is the fallback when fsnotify cannot be used: compare the
// slot's modification time (or its absence) on a fixed interval.
func (w *slotWatcher) pollForChanges() {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	if info, err := os.Stat(w.slotPath); err == nil {
		w.lastModTime = info.ModTime()
	}

	for {
		select {
		case <-w.stopCh:
			return

		case <-ticker.C:
			var modTime time.Time
			if info, err := os.Stat(w.slotPath); err == nil {
				modTime = info.ModTime()
			}
			if !modTime.Equal(w.lastModTime) {
				w.lastModTime = modTime
				w.notifyDebounced()
			}
		}
	}
}
