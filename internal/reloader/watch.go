package reloader

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultSettle is how long a file has to stay quiet before fn runs. Editors
// tend to write a file in several steps.
const DefaultSettle = 250 * time.Millisecond

// WatchFile calls fn once path stops changing. The parent directory is
// watched so that rename-on-save editors are picked up too. The returned
// channel is closed when the watcher has shut down after ctx is done.
func WatchFile(ctx context.Context, path string, settle time.Duration, log *zap.Logger, fn func()) (<-chan struct{}, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		_ = w.Close()
		return nil, err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer w.Close()

		timer := time.NewTimer(settle)
		if !timer.Stop() {
			<-timer.C
		}
		for {
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				timer.Reset(settle)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warn("config watch error", zap.Error(err))
			case <-timer.C:
				log.Info("config file changed", zap.String("path", abs))
				fn()
			}
		}
	}()
	return done, nil
}
