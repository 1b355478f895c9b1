package emotion

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// Watch reloads the model whenever its file changes on disk, until ctx is
// cancelled. Events are debounced because editors fire several writes per
// save. The watch is optional; callers that skip it keep the weights loaded
// at startup.
func (a *Analyzer) Watch(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create model watcher: %w", err)
	}

	// Watch the directory, not the file: rename-on-save replaces the inode.
	dir := filepath.Dir(a.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer fsw.Close()
		var timer *time.Timer
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(a.path) {
					continue
				}
				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}
				if timer != nil {
					timer.Stop()
				}
				timer = time.AfterFunc(reloadDebounce, a.Reload)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				a.log.Warn("model watcher error", "error", err)
			}
		}
	}()

	return nil
}
