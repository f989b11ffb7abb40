package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDelay coalesces the burst of events editors emit for one save.
const reloadDelay = 250 * time.Millisecond

// Watch reloads path whenever it changes and calls onChange with the new
// Config. It runs until ctx is cancelled.
//
// The parent directory is watched rather than the file itself so that
// rename-based saves are seen. A reload that fails to parse or validate is
// logged and skipped; onChange only ever sees valid configs.
func Watch(ctx context.Context, path string, onChange func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}
	slog.Info("config: watching for changes", "path", abs)

	var (
		timer   *time.Timer
		trigger <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDelay)
			} else {
				timer.Reset(reloadDelay)
			}
			trigger = timer.C

		case <-trigger:
			trigger = nil
			cfg, err := Load(abs)
			if err != nil {
				slog.Error("config: reload failed, keeping previous config", "path", abs, "err", err)
				continue
			}
			slog.Info("config: reloaded", "path", abs)
			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("config: watcher error", "err", err)
		}
	}
}

// RestartRequired lists the top-level sections that differ between old and
// next in ways that cannot be applied to a running engine. Calibration and
// limits are applied live and never appear here.
func RestartRequired(old, next *Config) []string {
	var out []string
	if old.Sampling != next.Sampling {
		out = append(out, "sampling")
	}
	if old.LEDs != next.LEDs {
		out = append(out, "leds")
	}
	if old.Misc != next.Misc {
		out = append(out, "misc")
	}
	if old.Logging != next.Logging {
		out = append(out, "logging")
	}
	if !samePlugins(old.Sensors, next.Sensors) {
		out = append(out, "sensors")
	}
	if len(old.Outputs) != len(next.Outputs) {
		out = append(out, "outputs")
	} else {
		for i := range old.Outputs {
			a, b := old.Outputs[i], next.Outputs[i]
			if !samePlugin(a.Plugin, b.Plugin) || a.Calibration != b.Calibration || a.Limits != b.Limits ||
				a.Metadata != b.Metadata || a.Async != b.Async || a.BufferSize != b.BufferSize ||
				a.NeedsInternet != b.NeedsInternet {
				out = append(out, "outputs")
				break
			}
		}
	}
	if !samePlugins(old.Notifications, next.Notifications) {
		out = append(out, "notifications")
	}
	return out
}

func samePlugins(a, b []Plugin) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !samePlugin(a[i], b[i]) {
			return false
		}
	}
	return true
}

func samePlugin(a, b Plugin) bool {
	if a.Name != b.Name || a.Type != b.Type || a.IsEnabled() != b.IsEnabled() || len(a.Params) != len(b.Params) {
		return false
	}
	for k, v := range a.Params {
		if w, ok := b.Params[k]; !ok || paramString(v) != paramString(w) {
			return false
		}
	}
	return true
}
