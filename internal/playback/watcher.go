// Package playback plays segment files as they appear in a directory,
// strictly in file-name order.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

type Options struct {
	Directory    string
	Extension    string
	PollInterval time.Duration
}

// Watcher couples a directory observer with a playback loop through a
// sorted Queue. Queued files left at shutdown are abandoned.
type Watcher struct {
	dir    string
	ext    string
	poll   time.Duration
	queue  *Queue
	player Player
	logger *slog.Logger
}

func NewWatcher(opts Options, player Player, log *slog.Logger) *Watcher {
	ext := strings.TrimPrefix(opts.Extension, ".")
	if ext == "" {
		ext = "mp3"
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &Watcher{
		dir:    opts.Directory,
		ext:    "." + ext,
		poll:   poll,
		queue:  NewQueue(),
		player: player,
		logger: log.With(slog.String("component", "playback")),
	}
}

func (w *Watcher) Queue() *Queue { return w.queue }

// Run watches the directory and plays files until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()
	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch directory: %w", err)
	}
	w.logger.Info("watching for audio", slog.String("dir", w.dir), slog.String("ext", w.ext))

	go w.observe(ctx, fw)
	w.playLoop(ctx)
	return nil
}

func (w *Watcher) observe(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

// handleEvent queues newly created files. A rename into the directory is
// reported as Create for the new name.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != fsnotify.Create {
		return
	}
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !strings.EqualFold(filepath.Ext(name), w.ext) {
		return
	}
	if w.queue.Push(event.Name) {
		w.logger.Debug("queued file", slog.String("file", name))
	}
}

func (w *Watcher) playLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if w.playNext(ctx) {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// playNext plays the smallest queued file. It returns false when the queue
// was empty.
func (w *Watcher) playNext(ctx context.Context) bool {
	path, ok := w.queue.Pop()
	if !ok {
		return false
	}
	name := filepath.Base(path)
	start := time.Now()
	err := w.player.Play(ctx, path)
	switch {
	case err == nil:
		w.logger.Info("played file", slog.String("file", name), slog.Duration("took", time.Since(start)))
	case errors.Is(err, ErrVanished):
		w.logger.Warn("file vanished before playback", slog.String("file", name))
	case ctx.Err() != nil:
		// shutting down
	default:
		w.logger.Error("playback failed", slog.String("file", name), slog.String("error", err.Error()))
	}
	return true
}
