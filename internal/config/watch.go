package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watcher reloads the config file when it changes on disk and hands every
// valid new version to a callback. Invalid edits are logged and skipped; the
// previous config stays in effect.
type Watcher struct {
	path     string
	onChange func(*Config)
	debounce time.Duration

	last [sha256.Size]byte
}

// NewWatcher creates a watcher for path. current is the config already in
// effect; file contents matching it are not republished. With a nil current
// the first check publishes whatever is on disk. onChange runs on the watcher
// goroutine.
func NewWatcher(path string, current *Config, onChange func(*Config)) *Watcher {
	w := &Watcher{path: path, onChange: onChange, debounce: reloadDebounce}
	if current != nil {
		w.last = current.Digest()
	}
	return w
}

// Name returns the worker identifier.
func (w *Watcher) Name() string { return "config_watcher" }

// Run watches the parent directory of the config file, so editors that
// replace the file by rename keep triggering reloads. Bursts of events are
// coalesced into one reload. Once the watch is registered the file is checked
// once, which picks up edits made after the current config was loaded.
func (w *Watcher) Run(ctx context.Context) error {
	abs, err := filepath.Abs(w.path)
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("config watcher: watch %s: %w", filepath.Dir(abs), err)
	}

	base := filepath.Base(abs)
	reload := make(chan struct{}, 1)
	reload <- struct{}{}
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.LogAttrs(ctx, slog.LevelWarn, "config watcher error", slog.String("error", err.Error()))

		case <-reload:
			w.reload(ctx, abs)
		}
	}
}

func (w *Watcher) reload(ctx context.Context, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Mid-rename: the next event retries.
		slog.LogAttrs(ctx, slog.LevelDebug, "config reload skipped", slog.String("error", err.Error()))
		return
	}
	sum := sha256.Sum256(data)
	if bytes.Equal(sum[:], w.last[:]) {
		return
	}
	cfg, err := Parse(data)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "config reload rejected",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	w.last = sum
	slog.LogAttrs(ctx, slog.LevelInfo, "config reloaded", slog.String("path", path))
	w.onChange(cfg)
}
