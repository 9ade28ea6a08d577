package keystore

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dss-platform/auth/pkg/slogx"
)

// watchDebounce batches bursts of file events (a rotation touches three
// files) into one reload.
const watchDebounce = 500 * time.Millisecond

// Watch reloads the store whenever the key directory changes, so a rotation
// performed by the key CLI becomes visible to a running service without a
// restart. It blocks until ctx is cancelled.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	log := slogx.FromContext(ctx)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Reset(watchDebounce)
			} else {
				timer = time.NewTimer(watchDebounce)
				fire = timer.C
			}

		case <-fire:
			timer = nil
			fire = nil
			if err := s.Reload(); err != nil {
				// Keep serving the previous snapshot; a half-written
				// rotation will trigger another event when it completes.
				log.Warn("key directory reload failed", "dir", s.dir, "err", err)
				continue
			}
			log.Info("key directory reloaded", "dir", s.dir, "active_kid", s.ActiveKid())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn("key directory watch error", "err", err)
		}
	}
}
