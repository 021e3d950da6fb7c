package main

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// settle is how long a burst of events must be quiet before reloading,
// so that half-written files are not read
const settle = 100 * time.Millisecond

// watch reloads the session whenever one of paths changes and calls
// onReload with the outcome. It returns when ctx is done.
func watch(ctx context.Context, s *session, paths []string, onReload func(error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	// Editors replace files by renaming, so watch directories and filter by name.
	wanted := make(map[string]bool, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		wanted[abs] = true
		if err := w.Add(filepath.Dir(abs)); err != nil {
			return err
		}
	}
	s.log.Info("watching for changes", zap.Strings("paths", paths))

	var timer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			abs, _ := filepath.Abs(ev.Name)
			if !wanted[abs] || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			timer = time.After(settle)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn("watch error", zap.Error(err))
		case <-timer:
			timer = nil
			err := s.reload(ctx)
			if err != nil {
				s.log.Warn("reload failed", zap.Error(err))
			} else {
				s.log.Info("reloaded", zap.Uint64("generation", s.bridge.Generation()))
			}
			onReload(err)
		}
	}
}
