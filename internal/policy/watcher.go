package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Store whenever the configuration or profile files
// change.
type Watcher struct {
	loader   Loader
	store    *Store
	debounce time.Duration
	onReload func(m *Model, err error)

	watcher *fsnotify.Watcher
	running atomic.Bool
	stats   WatcherStats
}

// WatcherStats tracks reload statistics.
type WatcherStats struct {
	mu             sync.RWMutex
	ReloadsTotal   int64
	ReloadsSuccess int64
	ReloadsFailed  int64
	LastReload     time.Time
	LastError      string
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Loader   Loader
	Store    *Store
	Debounce time.Duration
	OnReload func(m *Model, err error)
}

// NewWatcher creates a watcher. It does nothing until Start is called.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("policy store is required")
	}
	if cfg.Loader.ConfigDir == "" {
		return nil, fmt.Errorf("config directory is required")
	}
	debounce := cfg.Debounce
	if debounce == 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		loader:   cfg.Loader,
		store:    cfg.Store,
		debounce: debounce,
		onReload: cfg.OnReload,
	}, nil
}

// Start begins watching. Watching stops when ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return fmt.Errorf("watcher already running")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.running.Store(false)
		return fmt.Errorf("creating watcher: %w", err)
	}
	w.watcher = fw

	watched := 0
	for _, dir := range w.loader.Paths() {
		if err := w.addRecursive(dir); err != nil {
			continue
		}
		watched++
	}
	if watched == 0 {
		fw.Close()
		w.running.Store(false)
		return fmt.Errorf("no policy directory could be watched")
	}

	go w.processEvents(ctx)
	return nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer func() {
		w.watcher.Close()
		w.running.Store(false)
	}()

	var pending time.Time
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 && isProfileFile(event.Name) {
				pending = time.Now()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.stats.mu.Lock()
			w.stats.LastError = fmt.Sprintf("watcher error: %v", err)
			w.stats.mu.Unlock()

		case <-ticker.C:
			if !pending.IsZero() && time.Since(pending) >= w.debounce {
				pending = time.Time{}
				w.Reload()
			}

		case <-ctx.Done():
			return
		}
	}
}

// Reload rebuilds the model and swaps it into the store. A failed reload
// marks the store broken so that no evaluation runs on a policy the user
// no longer has.
func (w *Watcher) Reload() {
	m, _, err := w.loader.Load()

	w.stats.mu.Lock()
	w.stats.ReloadsTotal++
	if err != nil {
		w.stats.ReloadsFailed++
		w.stats.LastError = err.Error()
	} else {
		w.stats.ReloadsSuccess++
		w.stats.LastReload = time.Now()
	}
	w.stats.mu.Unlock()

	if err != nil {
		w.store.Fail(err)
	} else {
		w.store.Swap(m)
	}
	if w.onReload != nil {
		w.onReload(m, err)
	}
}

// Stats returns a copy of the reload statistics.
func (w *Watcher) Stats() (total, success, failed int64, lastErr string) {
	w.stats.mu.RLock()
	defer w.stats.mu.RUnlock()
	return w.stats.ReloadsTotal, w.stats.ReloadsSuccess, w.stats.ReloadsFailed, w.stats.LastError
}

// IsRunning reports whether the watcher is active.
func (w *Watcher) IsRunning() bool {
	return w.running.Load()
}
