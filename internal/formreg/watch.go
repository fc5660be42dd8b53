package formreg

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the registry whenever a YAML file under dir changes. Bursts of
// events within debounce trigger one reload. It blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, dir string, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("formreg: new watcher: %w", err)
	}
	defer w.Close()

	if err := addTree(w, dir); err != nil {
		return err
	}
	r.logger.Info("watching forms", zap.String("dir", dir))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&fsnotify.Create != 0 {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					r.watchTree(w, ev.Name)
				}
			}
			if !isFormFile(ev.Name) || ev.Op == fsnotify.Chmod {
				continue
			}
			r.logger.Debug("form file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			timer.Reset(debounce)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("watcher error", zap.Error(err))

		case <-timer.C:
			if err := r.Reload(dir); err != nil {
				r.logger.Warn("form reload failed, keeping previous forms", zap.Error(err))
				continue
			}
			r.logger.Info("forms reloaded", zap.Int("count", len(r.List())))
		}
	}
}

// watchTree adds a directory created after Watch started.
func (r *Registry) watchTree(w *fsnotify.Watcher, root string) {
	if err := addTree(w, root); err != nil {
		r.logger.Warn("cannot watch new directory", zap.String("dir", root), zap.Error(err))
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := w.Add(path); err != nil {
				return fmt.Errorf("formreg: watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func isFormFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
