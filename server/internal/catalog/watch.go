package catalog

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// WatchDir monitors dir and calls onChange with the network id of every
// supported file that is written, created, renamed or removed. It runs until ctx is
// cancelled.
func WatchDir(ctx context.Context, dir string, onChange func(id string)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}

	slog.Info("catalog: watching for changes", "dir", dir)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
				continue
			}
			name := filepath.Base(event.Name)
			if _, ok := formatOf(name); !ok || strings.HasPrefix(name, ".") {
				continue
			}
			id := strings.TrimSuffix(name, filepath.Ext(name))
			slog.Debug("catalog: network file changed", "id", id, "op", event.Op.String())
			onChange(id)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("catalog: watcher error", "err", err)
		}
	}
}
