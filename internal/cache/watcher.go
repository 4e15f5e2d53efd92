package cache

import (
	"context"
	"fmt"

	"github.com/fsnotify/fsnotify"

	"divrecon/internal/logging"
)

// Watch invalidates the whole cache whenever a file in dir changes. Cached
// results are keyed by input fingerprint, so a changed export would miss
// anyway; watching just reclaims the stale entries early. Blocks until ctx
// is done.
func (c *Cache) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	log := logging.Get(logging.CategoryCache)
	log.Infow("watching data directory", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				log.Infow("data file changed, invalidating cache", "file", ev.Name)
				c.InvalidateAll()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnw("watch error", "error", err)
		}
	}
}
