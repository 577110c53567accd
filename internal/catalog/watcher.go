package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc is notified after every reload attempt.
type ReloadFunc func(checksum string, err error)

// Watcher reloads the store when catalog files change on disk. A reload
// that fails to parse or validate leaves the previous snapshot in place.
type Watcher struct {
	dirs      []string
	loader    *Loader
	validator *Validator
	store     *Store
	logger    *zap.Logger
	debounce  time.Duration
	onReload  ReloadFunc

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a Watcher for the given directories. Subdirectories are
// watched as well.
func NewWatcher(dirs []string, store *Store, logger *zap.Logger, onReload ReloadFunc) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		dirs:      dirs,
		loader:    NewLoader(),
		validator: NewValidator(),
		store:     store,
		logger:    logger,
		debounce:  500 * time.Millisecond,
		onReload:  onReload,
	}
}

// Reload loads, validates, and swaps in all catalog files.
func (w *Watcher) Reload() error {
	defs, err := w.loader.LoadAll(w.dirs)
	if err == nil {
		if verrs := w.validator.Validate(defs); len(verrs) > 0 {
			errs := make([]error, len(verrs))
			for i, ve := range verrs {
				errs[i] = ve
			}
			err = fmt.Errorf("catalog: %d validation errors: %w", len(verrs), errors.Join(errs...))
		}
	}
	if err != nil {
		w.logger.Warn("catalog reload rejected", zap.Error(err))
		if w.onReload != nil {
			w.onReload(w.store.Checksum(), err)
		}
		return err
	}

	w.store.Replace(defs)
	w.logger.Info("catalog reloaded",
		zap.Int("files", len(defs)),
		zap.String("checksum", w.store.Checksum()),
	)
	if w.onReload != nil {
		w.onReload(w.store.Checksum(), nil)
	}
	return nil
}

// Start begins watching. It returns once the watches are registered; events
// are handled on a background goroutine until ctx is cancelled or Close is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog: creating watcher: %w", err)
	}
	for _, dir := range w.dirs {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return fw.Add(path)
			}
			return nil
		})
		if err != nil {
			_ = fw.Close()
			return fmt.Errorf("catalog: watching %s: %w", dir, err)
		}
	}

	w.watcher = fw
	w.done = make(chan struct{})
	go w.loop(ctx, fw, w.done)
	return nil
}

// Close stops watching and waits for the event loop to exit.
func (w *Watcher) Close() error {
	w.mu.Lock()
	fw, done := w.watcher, w.done
	w.watcher = nil
	w.mu.Unlock()

	if fw == nil {
		return nil
	}
	err := fw.Close()
	<-done
	return err
}

func (w *Watcher) loop(ctx context.Context, fw *fsnotify.Watcher, done chan struct{}) {
	defer close(done)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !isCatalogFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("catalog watcher error", zap.Error(err))
		case <-fire:
			fire = nil
			_ = w.Reload()
		}
	}
}
