package flow

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watch hot-reloads the registry when the flow configuration document
// changes on disk. Parse failures keep the previous snapshot, so a bad
// edit degrades to stale config rather than broken sessions. Blocks until
// ctx is cancelled.
func Watch(ctx context.Context, path string, reg *Registry) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	// Watch the directory, not the file: editors replace files on save,
	// which drops a file-level watch.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return err
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			doc, err := Load(ctx, path)
			if err != nil {
				log.Warn().Err(err).
					Str("path", path).
					Msg("flow_config_reload_failed_keeping_previous")
				continue
			}
			reg.Reload(doc)
			log.Info().
				Str("path", path).
				Int("flows", len(doc.Flows)).
				Msg("flow_config_reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("flow_config_watch_error")
		}
	}
}
