package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 150 * time.Millisecond

// Watch reloads the config file whenever it changes and hands every
// successfully loaded version to fn. It watches the parent directory so
// editors that replace the file by rename are seen. Watch blocks until ctx
// is done.
func Watch(ctx context.Context, path string, logger *log.Logger, fn func(Config)) error {
	if logger == nil {
		logger = log.Default()
	}
	resolved, err := expandHome(path)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		_ = watcher.Close()
	}()
	if err := watcher.Add(filepath.Dir(resolved)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(resolved), err)
	}

	debounce := time.NewTimer(reloadDebounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != resolved {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			debounce.Reset(reloadDebounce)
		case <-debounce.C:
			cfg, err := Load(resolved)
			if err != nil {
				logger.Printf("config reload %s: %v", resolved, err)
				continue
			}
			fn(cfg)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Printf("config watcher error: %v", err)
		}
	}
}
