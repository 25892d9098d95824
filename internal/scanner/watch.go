package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"tagify/pkg/utils"
)

// Debounce is how long a file must stay quiet before it is re-indexed.
// Tag writers and copy tools emit many write events per file.
var Debounce = 2 * time.Second

// Watch keeps the index current with filesystem changes under dirs until ctx
// is cancelled. New directories are watched as they appear. Hidden files,
// which include in-flight shadow copies, are ignored.
func (s *Scanner) Watch(ctx context.Context, dirs ...string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	for _, dir := range dirs {
		if err := addRecursive(w, dir); err != nil {
			return err
		}
	}
	s.log.Info("Watching %s for changes", strings.Join(dirs, ", "))

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	defer func() {
		mu.Lock()
		for _, t := range timers {
			t.Stop()
		}
		mu.Unlock()
	}()

	schedule := func(path string) {
		mu.Lock()
		defer mu.Unlock()
		if t, ok := timers[path]; ok {
			t.Reset(Debounce)
			return
		}
		timers[path] = time.AfterFunc(Debounce, func() {
			mu.Lock()
			delete(timers, path)
			mu.Unlock()
			if ctx.Err() != nil {
				return
			}
			if _, err := s.IndexFile(ctx, path); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.log.Warn("Failed to index %s: %v", path, err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if strings.HasPrefix(filepath.Base(event.Name), ".") {
				continue
			}

			switch {
			case event.Has(fsnotify.Create):
				if fi, err := os.Stat(event.Name); err == nil && fi.IsDir() {
					if err := addRecursive(w, event.Name); err != nil {
						s.log.Warn("Failed to watch %s: %v", event.Name, err)
					}
					s.scanNewDir(ctx, event.Name, schedule)
					continue
				}
				if utils.IsAudioFile(event.Name) {
					schedule(event.Name)
				}
			case event.Has(fsnotify.Write):
				if utils.IsAudioFile(event.Name) {
					schedule(event.Name)
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				if utils.IsAudioFile(event.Name) {
					if err := s.Remove(ctx, event.Name); err != nil {
						s.log.Warn("Failed to drop %s from index: %v", event.Name, err)
					}
				}
			}

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Error("File watcher error: %v", err)
		}
	}
}

// scanNewDir schedules the audio files of a directory that was moved into
// the library, since no per-file events are delivered for them.
func (s *Scanner) scanNewDir(ctx context.Context, dir string, schedule func(string)) {
	files, err := utils.FindAudioFiles(dir)
	if err != nil {
		return
	}
	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		schedule(f)
	}
}

func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.Add(path)
	})
}
