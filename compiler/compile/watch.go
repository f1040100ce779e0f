package compile

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch drops index entries whose plugin file is removed or renamed. It
// returns when ctx is done. ready, when non-nil, is closed once the watcher
// is active.
func (p *Plugin) Watch(ctx context.Context, ready chan<- struct{}) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(p.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", p.Dir, err)
	}
	if ready != nil {
		close(ready)
	}
	log := logger(p.Logger)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Ext(ev.Name) != ".so" || !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			n, err := p.Invalidate(ctx, ev.Name)
			if err != nil {
				log.Warn("forge: invalidate artifact", "path", ev.Name, "error", err)
				continue
			}
			if n > 0 {
				log.Info("forge: artifact removed, index entry dropped", "path", ev.Name, "entries", n)
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("forge: artifact watcher", "error", err)
		}
	}
}
