package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceWindow coalesces editor write storms into a single reload.
const debounceWindow = 250 * time.Millisecond

// Watch monitors the config root and the active preset directory, sending a
// coalesced notification on changed for every burst of modifications.
// Blocks until ctx is done. Editors replace files by rename, so the root
// directories are watched rather than the files themselves.
func (s *Store) Watch(ctx context.Context, preset string, changed chan<- struct{}, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.root); err != nil {
		return err
	}
	if preset != "" {
		if err := watcher.Add(s.presetDir(preset)); err != nil && !os.IsNotExist(err) {
			logger.Warn("watch preset dir", "preset", preset, "error", err)
		}
	}

	var debounce *time.Timer
	var debounceCh <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !watchRelevant(event) {
				continue
			}
			logger.Debug("config changed", "file", event.Name, "op", event.Op.String())
			if debounce == nil {
				debounce = time.NewTimer(debounceWindow)
				debounceCh = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceWindow)
			}

		case <-debounceCh:
			debounce, debounceCh = nil, nil
			select {
			case changed <- struct{}{}:
			case <-ctx.Done():
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher", "error", err)
		}
	}
}

// watchRelevant filters watcher noise down to modifications of the files the
// store actually reads.
func watchRelevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return false
	}
	switch filepath.Base(event.Name) {
	case "sunsetr.toml", "geo.toml":
		return true
	}
	return false
}
