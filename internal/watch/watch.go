// Package watch hands new recordings in a directory to a handler, one at a
// time, once they have stopped changing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tiroq/speakerscribe/internal/diaglog"
	"github.com/tiroq/speakerscribe/internal/logger"
)

// Handler processes one settled file. Errors are logged and the watcher
// keeps going.
type Handler func(ctx context.Context, path string) error

// Config configures a Watcher.
type Config struct {
	Dir        string
	Extensions []string      // lower-case with dot, e.g. ".wav"; empty accepts all
	Debounce   time.Duration // quiet period before a file is handled; default 2s
	Poll       time.Duration // rescan interval; default 5s
	NoFSNotify bool          // poll only
}

type fileState struct {
	size int64
	mod  time.Time
}

func (a fileState) equal(b fileState) bool {
	return a.size == b.size && a.mod.Equal(b.mod)
}

type pendingFile struct {
	seen  time.Time
	state fileState
}

// Watcher tracks the directory. Files present when Run starts are treated
// as already handled.
type Watcher struct {
	cfg     Config
	handle  Handler
	log     *logger.Logger
	diag    *diaglog.Logger
	now     func() time.Time
	pending map[string]pendingFile
	done    map[string]fileState
}

// New validates cfg and returns a Watcher.
func New(cfg Config, h Handler, log *logger.Logger, diag *diaglog.Logger) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errors.New("watch: directory is required")
	}
	info, err := os.Stat(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", cfg.Dir)
	}
	if h == nil {
		return nil, errors.New("watch: handler is required")
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.Poll <= 0 {
		cfg.Poll = 5 * time.Second
	}
	for i, ext := range cfg.Extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		cfg.Extensions[i] = ext
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Watcher{
		cfg:     cfg,
		handle:  h,
		log:     log.Named("watch"),
		diag:    diag,
		now:     time.Now,
		pending: make(map[string]pendingFile),
		done:    make(map[string]fileState),
	}, nil
}

// Run watches until ctx is cancelled and returns ctx.Err(). fsnotify is
// preferred; the periodic rescan catches events it misses and takes over
// entirely when fsnotify is unavailable.
func (w *Watcher) Run(ctx context.Context) error {
	for path, st := range w.scan() {
		w.done[path] = st
	}

	var events chan fsnotify.Event
	var errs chan error
	if !w.cfg.NoFSNotify {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			w.log.Warnw("fsnotify not available, falling back to polling", "error", err)
		} else {
			defer func() {
				if err := fw.Close(); err != nil {
					w.log.Warnw("Failed to close watcher", "error", err)
				}
			}()
			if err := fw.Add(w.cfg.Dir); err != nil {
				w.log.Warnw("Failed to watch directory, falling back to polling", "dir", w.cfg.Dir, "error", err)
			} else {
				events, errs = fw.Events, fw.Errors
			}
		}
	}
	if events != nil {
		w.log.Infow("Watching for recordings", "dir", w.cfg.Dir, "mode", "fsnotify")
	} else {
		w.log.Infow("Watching for recordings", "dir", w.cfg.Dir, "mode", "polling", "interval", w.cfg.Poll)
	}

	pollTicker := time.NewTicker(w.cfg.Poll)
	defer pollTicker.Stop()
	settleTicker := time.NewTicker(settleInterval(w.cfg.Debounce))
	defer settleTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-events:
			if !ok {
				w.log.Warnw("fsnotify watcher closed, switching to polling")
				events, errs = nil, nil
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				w.touch(event.Name)
			}

		case err, ok := <-errs:
			if !ok {
				events, errs = nil, nil
				continue
			}
			w.log.Warnw("File watcher error", "error", err)

		case <-pollTicker.C:
			for path := range w.scan() {
				w.touch(path)
			}

		case <-settleTicker.C:
			w.settle(ctx)
		}
	}
}

func settleInterval(debounce time.Duration) time.Duration {
	d := debounce / 4
	if d < 10*time.Millisecond {
		d = 10 * time.Millisecond
	}
	return d
}

// Accepts reports whether path has one of the configured extensions.
func (w *Watcher) Accepts(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}
	if len(w.cfg.Extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range w.cfg.Extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// touch records activity on path. Unchanged files that were already handled
// are ignored.
func (w *Watcher) touch(path string) {
	if !w.Accepts(path) {
		return
	}
	st, ok := stat(path)
	if !ok {
		delete(w.pending, path)
		return
	}
	if prev, handled := w.done[path]; handled && prev.equal(st) {
		return
	}
	if p, queued := w.pending[path]; queued && p.state.equal(st) {
		return
	}
	w.pending[path] = pendingFile{seen: w.now(), state: st}
}

// settle hands every file that has been quiet for the debounce period to
// the handler, oldest first.
func (w *Watcher) settle(ctx context.Context) {
	now := w.now()
	var ready []string
	for path, p := range w.pending {
		if now.Sub(p.seen) < w.cfg.Debounce {
			continue
		}
		st, ok := stat(path)
		if !ok {
			delete(w.pending, path)
			continue
		}
		if !st.equal(p.state) {
			w.pending[path] = pendingFile{seen: now, state: st}
			continue
		}
		ready = append(ready, path)
	}
	sort.Slice(ready, func(i, j int) bool {
		return w.pending[ready[i]].seen.Before(w.pending[ready[j]].seen)
	})

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		st := w.pending[path].state
		delete(w.pending, path)
		w.done[path] = st

		w.log.Infow("Processing recording", "file", path)
		w.diag.Log(diaglog.LogEntry{
			Component: diaglog.ComponentWatcher,
			Event:     diaglog.EventWatchQueued,
			Payload:   map[string]interface{}{"file": path, "size": st.size},
		})
		if err := w.handle(ctx, path); err != nil {
			w.log.Errorw("Failed to process recording", "file", path, "error", err)
		}
	}
}

// scan lists accepted regular files in the directory.
func (w *Watcher) scan() map[string]fileState {
	out := make(map[string]fileState)
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		w.log.Warnw("Failed to scan directory", "dir", w.cfg.Dir, "error", err)
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.Dir, e.Name())
		if !w.Accepts(path) {
			continue
		}
		if st, ok := stat(path); ok {
			out[path] = st
		}
	}
	return out
}

func stat(path string) (fileState, bool) {
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fileState{}, false
	}
	return fileState{size: info.Size(), mod: info.ModTime()}, true
}
