package storage

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// Watcher reports guide directories that disappear from a Local root.
// Events are debounced so a burst from one move or removal is reported once
// per directory, after the burst settles.
type Watcher struct {
	w        *fsnotify.Watcher
	root     string
	debounce time.Duration
	onGone   func(ctx context.Context, dir string)
}

// NewWatcher starts watching l's root. onGone runs on the watcher goroutine.
func NewWatcher(l *Local, debounce time.Duration, onGone func(ctx context.Context, dir string)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(l.Root()); err != nil {
		_ = w.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{w: w, root: filepath.Clean(l.Root()), debounce: debounce, onGone: onGone}, nil
}

// Run blocks until ctx is done or the watcher fails, then closes it.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.w.Close()

	pending := map[string]time.Time{}
	tick := w.debounce / 2
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.w.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if filepath.Dir(filepath.Clean(ev.Name)) != w.root {
				continue
			}
			pending[filepath.Base(ev.Name)] = time.Now()
		case <-ticker.C:
			now := time.Now()
			for dir, t := range pending {
				if now.Sub(t) >= w.debounce {
					delete(pending, dir)
					w.onGone(ctx, dir)
				}
			}
		case err, ok := <-w.w.Errors:
			if !ok {
				return nil
			}
			klog.Warningf("storage watch error: %v", err)
		}
	}
}
