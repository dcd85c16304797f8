// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/unshackle-dl/unshackle/internal/log"
)

// debounce coalesces editor write bursts into one reload.
const debounce = 250 * time.Millisecond

// WatchServices watches dir for changes to *.yaml files and calls reload
// after each burst of events. It blocks until ctx is done. A missing or
// empty dir disables watching without error.
func WatchServices(ctx context.Context, dir string, reload func()) error {
	if dir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	logger := log.WithComponent("config")
	if err := watcher.Add(dir); err != nil {
		logger.Warn().Err(err).Str("dir", dir).Msg("cannot watch services dir")
		<-ctx.Done()
		return nil
	}
	logger.Info().Str("dir", dir).Msg("watching service configs")

	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !strings.EqualFold(filepath.Ext(ev.Name), ".yaml") {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("watch error")

		case <-timerC:
			timer = nil
			timerC = nil
			logger.Info().Msg("service configs changed, reloading")
			reload()
		}
	}
}
