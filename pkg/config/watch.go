package config

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const watchDebounce = 200 * time.Millisecond

// ErrNoConfigFile is returned by Watch when the loader runs on defaults.
var ErrNoConfigFile = errors.New("no config file to watch")

// Watch re-reads the config file whenever it changes and passes each valid
// result to onChange. Invalid edits are logged and skipped. The directory is
// watched rather than the file so editors that replace files by rename are
// still seen. Watch blocks until ctx is cancelled.
func (l *Loader) Watch(ctx context.Context, logger zerolog.Logger, onChange func(*Config)) error {
	if l.file == "" {
		return ErrNoConfigFile
	}
	target, err := filepath.Abs(l.file)
	if err != nil {
		return err
	}
	logger = logger.With().Str("component", "config").Str("file", target).Logger()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return err
	}

	var (
		mu       sync.Mutex
		debounce *time.Timer
	)
	reload := func() {
		mu.Lock()
		defer mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		cfg, err := l.Load()
		if err != nil {
			logger.Warn().Err(err).Msg("ignoring config change")
			return
		}
		logger.Info().Int("servers", len(cfg.Servers)).Msg("config reloaded")
		onChange(cfg)
	}
	defer func() {
		mu.Lock()
		if debounce != nil {
			debounce.Stop()
		}
		mu.Unlock()
	}()

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
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
				continue
			}
			mu.Lock()
			if debounce == nil {
				debounce = time.AfterFunc(watchDebounce, reload)
			} else {
				debounce.Reset(watchDebounce)
			}
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("config watcher error")
		}
	}
}
