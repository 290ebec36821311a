package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// defaultReloadDebounce coalesces the burst of events a single save
// produces (editors commonly emit Write followed by Create/Rename) into
// one reload.
const defaultReloadDebounce = 250 * time.Millisecond

// OnReload is called after path changes and is re-loaded through Load.
// err is non-nil when the new file failed to parse or validate; cfg is
// nil in that case and the previously loaded Config remains in effect —
// callers own deciding whether to keep running or exit.
type OnReload func(cfg *Config, err error)

// Watcher reloads a config file on every write and hands the result to
// an OnReload callback ("hot-reload"), grounded on
// internal/skills/manager.go's watch/debounce/refresh loop.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload OnReload

	mu     sync.Mutex
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger zerolog.Logger
}

// NewWatcher constructs a Watcher for path. debounce defaults to 250ms
// when non-positive.
func NewWatcher(path string, debounce time.Duration, onReload OnReload, logger zerolog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = defaultReloadDebounce
	}
	return &Watcher{path: path, debounce: debounce, onReload: onReload, logger: logger}
}

// Start begins watching the config file's directory (fsnotify does not
// reliably track a single renamed-over file, so the directory is
// watched and events are filtered by basename) until ctx is done or
// Close is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fsw != nil {
		w.mu.Unlock()
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		w.mu.Unlock()
		return err
	}
	w.fsw = fsw
	watchCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.mu.Unlock()

	w.wg.Add(1)
	go w.loop(watchCtx)
	return nil
}

// Close stops the watch loop and releases the underlying fsnotify
// watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.cancel != nil {
		w.cancel()
		w.cancel = nil
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()

	if fsw != nil {
		_ = fsw.Close()
	}
	w.wg.Wait()
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return
	}

	base := filepath.Base(w.path)
	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(w.debounce, func() {
			cfg, err := Load(w.path)
			w.onReload(cfg, err)
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Str("path", w.path).Msg("config watch error")
		}
	}
}
