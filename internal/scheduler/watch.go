package scheduler

import (
	"context"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "vigil/pkg/logx"
)

const (
	watchDebounce    = 250 * time.Millisecond
	watchBackoffBase = 250 * time.Millisecond
	watchBackoffMax  = 5 * time.Second
)

// watch reloads the schedule when the file changes. Editors replace
// files via rename, so the watcher sits on the directory and matches
// events by basename. When fsnotify stops delivering (closed channels,
// bad filesystem state) the watcher is rebuilt with jittered backoff.
// A reload that fails here only flags the job set stale; the tick loop
// retries it.
func (s *Service) watch(ctx context.Context) {
	dir := filepath.Dir(s.store.Path())
	file := filepath.Base(s.store.Path())

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	backoff := watchBackoffBase
	// sleep waits out the current backoff (plus jitter), growing it for
	// next time. False means ctx ended while waiting.
	sleep := func() bool {
		wait := backoff + time.Duration(rng.Int63n(int64(backoff/2)+1))
		if backoff < watchBackoffMax {
			backoff *= 2
			if backoff > watchBackoffMax {
				backoff = watchBackoffMax
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
			return true
		}
	}

	// Debounce so an editor's write/rename/chmod burst lands as one
	// reload after the file has settled.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			if err := s.reload(); err != nil {
				s.stale.Store(true)
				s.log.Warn("schedule reload failed, will retry",
					logx.String("path", s.store.Path()),
					logx.Err(err),
				)
			}
		})
	}

	for {
		if ctx.Err() != nil {
			return
		}

		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.log.Warn("schedule watch init failed", logx.Err(err))
			if !sleep() {
				return
			}
			continue
		}
		if err := w.Add(dir); err != nil {
			_ = w.Close()
			s.log.Warn("schedule watch add failed", logx.String("dir", dir), logx.Err(err))
			if !sleep() {
				return
			}
			continue
		}
		backoff = watchBackoffBase
		s.log.Debug("schedule watcher started", logx.String("dir", dir), logx.String("file", file))

		broken := false
		for !broken {
			select {
			case <-ctx.Done():
				_ = w.Close()
				return
			case ev, ok := <-w.Events:
				if !ok {
					broken = true
					break
				}
				if !strings.EqualFold(filepath.Base(ev.Name), file) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove|fsnotify.Chmod) != 0 {
					debounce()
				}
			case err, ok := <-w.Errors:
				if !ok {
					broken = true
					break
				}
				if err == nil {
					continue
				}
				// Overflow means events were dropped; reload once rather
				// than trust what arrived.
				if strings.Contains(strings.ToLower(err.Error()), "overflow") {
					s.log.Warn("schedule watch overflow, forcing reload", logx.Err(err))
					debounce()
					continue
				}
				s.log.Warn("schedule watch error", logx.Err(err))
				if strings.Contains(strings.ToLower(err.Error()), "closed") {
					broken = true
				}
			}
		}

		_ = w.Close()
		if ctx.Err() != nil {
			return
		}
		s.log.Warn("schedule watcher stopped, restarting", logx.String("dir", dir))
		if !sleep() {
			return
		}
	}
}
