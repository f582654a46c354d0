package subagents

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cexll/subagentsdk/pkg/logging"
	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 150 * time.Millisecond

// Watcher reloads a Registry whenever definition files under the loader's
// search paths are added, changed or removed.
type Watcher struct {
	registry *Registry
	loader   *Loader
	debounce time.Duration

	fsw *fsnotify.Watcher

	stop      chan struct{}
	done      chan struct{}
	started   atomic.Bool
	closeOnce sync.Once

	mu      sync.Mutex
	watched map[string]struct{}
	timer   *time.Timer

	onReload func(ReloadResult)
	onError  func(error)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides the default debounce window.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// OnReload registers a callback fired after every successful reload.
func OnReload(fn func(ReloadResult)) WatcherOption {
	return func(w *Watcher) { w.onReload = fn }
}

// OnError registers a callback for watch and reload failures.
func OnError(fn func(error)) WatcherOption {
	return func(w *Watcher) { w.onError = fn }
}

// NewWatcher wires an fsnotify watcher around loader and registry.
func NewWatcher(registry *Registry, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if loader == nil {
		return nil, errors.New("loader is nil")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	w := &Watcher{
		registry: registry,
		loader:   loader,
		debounce: defaultDebounce,
		fsw:      fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		watched:  map[string]struct{}{},
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.debounce <= 0 {
		w.debounce = defaultDebounce
	}
	return w, nil
}

// Start performs an initial reload and then watches until ctx is cancelled or
// Close is called.
func (w *Watcher) Start(ctx context.Context) (ReloadResult, error) {
	res, err := w.registry.Reload(w.loader)
	if err != nil {
		return res, err
	}
	if err := w.watchPaths(); err != nil {
		return res, err
	}
	w.started.Store(true)
	go w.loop(ctx)
	return res, nil
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stop)
		if w.started.Load() {
			<-w.done
		}
		err = w.fsw.Close()
	})
	return err
}

// watchPaths covers every search path. A path that does not exist yet is
// watched through its nearest existing ancestor so creating it later is seen.
func (w *Watcher) watchPaths() error {
	for _, sp := range w.loader.Paths() {
		if err := w.addTree(sp.Dir); err != nil {
			return err
		}
	}
	return nil
}

// addTree watches root and every directory below it; fsnotify is not recursive.
func (w *Watcher) addTree(root string) error {
	if root == "" {
		return nil
	}
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return w.watchAncestor(root)
		}
		return err
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.addWatch(path)
	})
}

func (w *Watcher) watchAncestor(missing string) error {
	dir := missing
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil
		}
		dir = parent
		info, err := os.Stat(dir)
		if err == nil {
			if !info.IsDir() {
				return nil
			}
			return w.addWatch(dir)
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
}

func (w *Watcher) addWatch(path string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.watched[path]; ok {
		return nil
	}
	if err := w.fsw.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	w.watched[path] = struct{}{}
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)
	if ctx == nil {
		ctx = context.Background()
	}

	for {
		select {
		case <-w.stop:
			w.stopTimer()
			return
		case <-ctx.Done():
			w.stopTimer()
			return
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.reportError(err)
			}
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(evt)
		}
	}
}

func (w *Watcher) handle(evt fsnotify.Event) {
	if evt.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(evt.Name); err == nil && info.IsDir() {
			if err := w.watchPaths(); err != nil {
				w.reportError(err)
			}
			w.schedule()
			return
		}
	}
	if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.mu.Lock()
		_, wasDir := w.watched[evt.Name]
		delete(w.watched, evt.Name)
		w.mu.Unlock()
		if wasDir {
			if err := w.watchPaths(); err != nil {
				w.reportError(err)
			}
			w.schedule()
			return
		}
	}
	if !IsDefinitionFile(evt.Name) {
		return
	}
	w.schedule()
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer == nil {
		w.timer = time.AfterFunc(w.debounce, w.reload)
		return
	}
	w.timer.Reset(w.debounce)
}

func (w *Watcher) stopTimer() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
}

func (w *Watcher) reload() {
	res, err := w.registry.Reload(w.loader)
	if err != nil {
		w.reportError(err)
		return
	}
	logging.With("subagents.watcher").Debug().
		Int("added", len(res.Added)).
		Int("removed", len(res.Removed)).
		Msg("reload after file change")
	if w.onReload != nil {
		w.onReload(res)
	}
}

func (w *Watcher) reportError(err error) {
	logging.With("subagents.watcher").Warn().Err(err).Msg("watch error")
	if w.onError != nil {
		w.onError(err)
	}
}
