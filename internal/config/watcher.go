package config

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// errEmptyFile reports a config file without content.
var errEmptyFile = errors.New("config: file is empty")

// Watcher monitors a config file and calls a callback when its content changes
// to a new valid configuration. It watches the file's directory with fsnotify,
// so editors that replace the file atomically are handled, and falls back to
// polling when fsnotify is unavailable. A slow poll also runs alongside
// fsnotify to catch events lost on network filesystems.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once

	// last known file state for change detection
	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher creates a config file watcher. It subscribes to file events and
// loads the initial config before returning, then watches in a background
// goroutine. Unlike [Load], the watcher rejects an empty file.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	// The directory is watched before the initial load so that no write after
	// NewWatcher returns can slip past the event path.
	fsw := w.watchDir()

	cfg, hash, mtime, err := w.loadAndHash()
	if err != nil {
		if fsw != nil {
			_ = fsw.Close()
		}
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime

	go w.run(fsw)
	return w, nil
}

// watchDir subscribes to events in the config file's directory. It returns
// nil when fsnotify cannot serve, in which case the watcher only polls.
func (w *Watcher) watchDir() *fsnotify.Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("config watcher: fsnotify not available, falling back to polling", "err", err)
		return nil
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		slog.Warn("config watcher: cannot watch directory, falling back to polling", "path", w.path, "err", err)
		_ = fsw.Close()
		return nil
	}
	return fsw
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	<-w.stopped
}

func (w *Watcher) run(fsw *fsnotify.Watcher) {
	defer close(w.stopped)

	if fsw == nil {
		w.poll(nil, nil)
		return
	}
	defer func() {
		if err := fsw.Close(); err != nil {
			slog.Warn("config watcher: close fsnotify", "err", err)
		}
	}()
	w.poll(fsw.Events, fsw.Errors)
}

// settleDelay is how long the watcher waits after the last fsnotify event for
// the file before reading it. Editors emit several events per save.
const settleDelay = 100 * time.Millisecond

// poll checks the file on every tick and once events for it have settled.
// Nil channels disable the event path.
func (w *Watcher) poll(events <-chan fsnotify.Event, errs <-chan error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	var settle <-chan time.Time
	target := filepath.Clean(w.path)
	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		case <-settle:
			settle = nil
			w.check()
		case ev, ok := <-events:
			if !ok {
				slog.Warn("config watcher: fsnotify closed, switching to polling")
				events = nil
				continue
			}
			if filepath.Clean(ev.Name) == target && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				settle = time.After(settleDelay)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("config watcher: fsnotify error", "err", err)
		}
	}
}

// check reads the config file and, if it has changed and is valid, calls
// onChange and updates the current config.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	mtime := w.lastMtime
	w.mu.Unlock()

	if info.ModTime().Equal(mtime) {
		return
	}

	cfg, hash, newMtime, err := w.loadAndHash()
	if errors.Is(err, errEmptyFile) {
		// Most likely caught between truncate and write; the next event or
		// tick reads the finished file.
		slog.Debug("config watcher: file is empty, waiting for content", "path", w.path)
		return
	}
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash {
		// Touched, same content.
		w.lastMtime = newMtime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = newMtime
	w.mu.Unlock()

	slog.Info("config watcher: configuration reloaded", "path", w.path)

	// Outside the lock so the callback can call Current.
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

// loadAndHash reads, parses and validates the config file and returns it with
// the file's SHA-256 hash and modification time.
func (w *Watcher) loadAndHash() (*Config, [sha256.Size]byte, time.Time, error) {
	var zeroHash [sha256.Size]byte

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, zeroHash, time.Time{}, errEmptyFile
	}

	cfg, err := loadBytes(data)
	if err != nil {
		return nil, zeroHash, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
