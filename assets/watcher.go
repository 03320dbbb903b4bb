package assets

import (
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/btree"
	"github.com/pkg/errors"
)

// DefaultDebounce is how long a Watcher waits for a burst of file events to
// settle before reloading.
const DefaultDebounce = 100 * time.Millisecond

// Reloader re-runs the load for a cached key. *kura.SwappableCache[string, T]
// implements it.
type Reloader interface {
	Reload(key string) error
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	Debounce time.Duration
	// Logger receives reload failures. Nil means log.Default().
	Logger *log.Logger
}

// Watcher reloads tracked keys when the files under root change. It watches
// directories rather than files, so editors that replace a file through a
// rename are still seen.
type Watcher struct {
	fs       *fsnotify.Watcher
	root     string
	target   Reloader
	debounce time.Duration
	logger   *log.Logger

	mu   sync.Mutex
	keys *btree.BTreeG[string]
	dirs map[string]int

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewWatcher starts watching root for changes to tracked keys.
func NewWatcher(root string, target Reloader, cfg WatcherConfig) (*Watcher, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.Wrapf(err, "assets: resolve root %q", root)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "assets: create watcher")
	}
	w := &Watcher{
		fs:       fw,
		root:     abs,
		target:   target,
		debounce: cfg.Debounce,
		logger:   cfg.Logger,
		keys:     btree.NewG(8, func(a, b string) bool { return a < b }),
		dirs:     make(map[string]int),
		done:     make(chan struct{}),
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	if w.logger == nil {
		w.logger = log.Default()
	}
	w.wg.Add(1)
	go w.run()
	return w, nil
}

func cleanKey(key string) (string, error) {
	k := path.Clean(filepath.ToSlash(key))
	if !filepath.IsLocal(filepath.FromSlash(k)) {
		return "", errors.Errorf("assets: key %q escapes the asset root", key)
	}
	return k, nil
}

// Track starts reloading key when its file changes.
func (w *Watcher) Track(key string) error {
	k, err := cleanKey(key)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.keys.Has(k) {
		return nil
	}
	dir := filepath.Dir(filepath.Join(w.root, filepath.FromSlash(k)))
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return errors.Wrapf(err, "assets: watch %s", dir)
		}
	}
	w.dirs[dir]++
	w.keys.ReplaceOrInsert(k)
	return nil
}

// TrackAll tracks every key, stopping at the first error.
func (w *Watcher) TrackAll(keys []string) error {
	for _, k := range keys {
		if err := w.Track(k); err != nil {
			return err
		}
	}
	return nil
}

// Untrack stops reloading key.
func (w *Watcher) Untrack(key string) {
	k, err := cleanKey(key)
	if err != nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.keys.Delete(k); !ok {
		return
	}
	dir := filepath.Dir(filepath.Join(w.root, filepath.FromSlash(k)))
	w.dirs[dir]--
	if w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		_ = w.fs.Remove(dir)
	}
}

// Tracked returns the tracked keys in order.
func (w *Watcher) Tracked() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	keys := make([]string, 0, w.keys.Len())
	w.keys.Ascend(func(k string) bool {
		keys = append(keys, k)
		return true
	})
	return keys
}

// match returns the tracked keys affected by a change to name: the key
// itself, or every key below it when name is a directory.
func (w *Watcher) match(name string) []string {
	rel, err := filepath.Rel(w.root, name)
	if err != nil || !filepath.IsLocal(rel) {
		return nil
	}
	rel = filepath.ToSlash(rel)
	w.mu.Lock()
	defer w.mu.Unlock()
	var keys []string
	if w.keys.Has(rel) {
		keys = append(keys, rel)
	}
	prefix := rel + "/"
	w.keys.AscendGreaterOrEqual(prefix, func(k string) bool {
		if !strings.HasPrefix(k, prefix) {
			return false
		}
		keys = append(keys, k)
		return true
	})
	return keys
}

func (w *Watcher) run() {
	defer w.wg.Done()
	pending := make(map[string]struct{})
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write | fsnotify.Create | fsnotify.Rename | fsnotify.Remove) {
				continue
			}
			keys := w.match(ev.Name)
			if len(keys) == 0 {
				continue
			}
			for _, k := range keys {
				pending[k] = struct{}{}
			}
			timer.Reset(w.debounce)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Printf("assets: watch %s: %v", w.root, err)
		case <-timer.C:
			for k := range pending {
				if err := w.target.Reload(k); err != nil {
					w.logger.Printf("assets: reload %s: %v", k, err)
				}
			}
			clear(pending)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher and waits for a reload in progress to finish.
// Calls after the first return os.ErrClosed.
func (w *Watcher) Close() error {
	err := os.ErrClosed
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}
