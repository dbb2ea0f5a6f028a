package compiler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/fluxbase-eu/bundlebridge/internal/webpack"
)

type buildFunc func(ctx context.Context, req webpack.ServiceRequest, watched bool) (*Result, error)

// watchedBuild keeps the latest stats for one request shape and rebuilds
// them after its inputs settle for the request's watch delay.
type watchedBuild struct {
	req    webpack.ServiceRequest
	build  buildFunc
	delay  time.Duration
	logger zerolog.Logger
	fsw    *fsnotify.Watcher

	mu       sync.RWMutex
	stats    *webpack.CompilerStats
	files    map[string]struct{}
	dirs     map[string]struct{}
	lastUsed time.Time

	done      chan struct{}
	closeOnce sync.Once
}

func newWatchedBuild(ctx context.Context, req webpack.ServiceRequest, build buildFunc, logger zerolog.Logger, now time.Time) (*watchedBuild, error) {
	res, err := build(ctx, req, true)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	delay := time.Duration(req.WatchDelay) * time.Millisecond
	if delay <= 0 {
		delay = webpack.WatchDelayMs * time.Millisecond
	}

	w := &watchedBuild{
		req:      req,
		build:    build,
		delay:    delay,
		logger:   logger.With().Str("config", req.Config).Logger(),
		fsw:      fsw,
		stats:    res.Stats,
		files:    make(map[string]struct{}),
		dirs:     make(map[string]struct{}),
		lastUsed: now,
		done:     make(chan struct{}),
	}
	w.track(res.Inputs)

	go w.run()
	return w, nil
}

// track replaces the watched file set. Parent directories are watched so
// editors that replace files on save are still seen.
func (w *watchedBuild) track(inputs []string) {
	files := make(map[string]struct{})
	if w.req.WatchConfig {
		files[filepath.Clean(w.req.Config)] = struct{}{}
	}
	if w.req.Watch {
		for _, in := range inputs {
			files[filepath.Clean(in)] = struct{}{}
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.files = files
	for f := range files {
		dir := filepath.Dir(f)
		if _, ok := w.dirs[dir]; ok {
			continue
		}
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Warn().Err(err).Str("dir", dir).Msg("Failed to watch directory")
			continue
		}
		w.dirs[dir] = struct{}{}
	}
}

func (w *watchedBuild) tracks(name string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.files[filepath.Clean(name)]
	return ok
}

func (w *watchedBuild) run() {
	timer := time.NewTimer(w.delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod || !w.tracks(ev.Name) {
				continue
			}
			w.logger.Debug().Str("file", ev.Name).Str("op", ev.Op.String()).Msg("Bundle input changed")
			timer.Reset(w.delay)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		case <-timer.C:
			w.rebuild()
		}
	}
}

func (w *watchedBuild) rebuild() {
	res, err := w.build(context.Background(), w.req, true)
	if err != nil {
		w.logger.Error().Err(err).Msg("Rebuild failed")
		return
	}

	w.mu.Lock()
	w.stats = res.Stats
	w.mu.Unlock()
	w.track(res.Inputs)
}

// Stats returns the stats of the latest finished build.
func (w *watchedBuild) Stats() *webpack.CompilerStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *watchedBuild) touch(now time.Time) {
	w.mu.Lock()
	w.lastUsed = now
	w.mu.Unlock()
}

func (w *watchedBuild) LastUsed() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastUsed
}

func (w *watchedBuild) Close() {
	w.closeOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
}
