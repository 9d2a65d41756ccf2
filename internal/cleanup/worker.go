// Package cleanup removes transient segment files in the background,
// retrying files that are still held open by a reader.
package cleanup

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ErrLocked marks a removal that failed because the file is in use.
// Removers may return it (or wrap it) to request a retry.
var ErrLocked = errors.New("file is in use")

// Remover deletes one file.
type Remover func(path string) error

// Outcome describes what ProcessNext did with the head of the queue.
type Outcome int

const (
	Idle Outcome = iota
	Removed
	Missing
	Requeued
	Dropped
)

func (o Outcome) String() string {
	switch o {
	case Removed:
		return "removed"
	case Missing:
		return "missing"
	case Requeued:
		return "requeued"
	case Dropped:
		return "dropped"
	default:
		return "idle"
	}
}

type Option func(*Worker)

// WithRemover replaces os.Remove.
func WithRemover(r Remover) Option {
	return func(w *Worker) { w.remove = r }
}

// Worker owns a FIFO of paths pending deletion. One entry is attempted per
// tick; a locked file goes to the back of the queue.
type Worker struct {
	interval time.Duration
	remove   Remover
	logger   *slog.Logger

	// mu is held across each removal so Withdraw never races a delete.
	mu    sync.Mutex
	queue []string

	deletions metric.Int64Counter
}

func New(interval time.Duration, log *slog.Logger, opts ...Option) *Worker {
	w := &Worker{
		interval: interval,
		remove:   os.Remove,
		logger:   log.With(slog.String("component", "cleanup")),
	}
	for _, opt := range opts {
		opt(w)
	}
	if err := w.initMetrics(); err != nil {
		w.logger.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return w
}

func (w *Worker) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-tts/cleanup")
	counter, err := meter.Int64Counter("loqa.tts.cleanup.deletions", metric.WithDescription("Deletion attempts by outcome"))
	if err != nil {
		return err
	}
	w.deletions = counter
	gauge, err := meter.Int64ObservableGauge("loqa.tts.cleanup.pending", metric.WithDescription("Files waiting for deletion"))
	if err != nil {
		return err
	}
	_, err = meter.RegisterCallback(func(ctx context.Context, obs metric.Observer) error {
		obs.ObserveInt64(gauge, int64(w.Pending()))
		return nil
	}, gauge)
	return err
}

// Enqueue appends paths to the back of the queue.
func (w *Worker) Enqueue(paths ...string) {
	if len(paths) == 0 {
		return
	}
	w.mu.Lock()
	w.queue = append(w.queue, paths...)
	w.mu.Unlock()
}

// Withdraw drops every pending entry for path. It is called before a path is
// rewritten so a stale deletion cannot remove the new file. Reports whether
// anything was dropped.
func (w *Worker) Withdraw(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	kept := w.queue[:0]
	for _, p := range w.queue {
		if p != path {
			kept = append(kept, p)
		}
	}
	dropped := len(kept) != len(w.queue)
	clear(w.queue[len(kept):])
	w.queue = kept
	return dropped
}

// Pending returns the number of queued paths.
func (w *Worker) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Snapshot returns a copy of the queue in processing order.
func (w *Worker) Snapshot() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.queue...)
}

// ProcessNext attempts to delete the head of the queue.
func (w *Worker) ProcessNext(ctx context.Context) (string, Outcome) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		return "", Idle
	}
	path := w.queue[0]
	w.queue[0] = ""
	w.queue = w.queue[1:]

	outcome := Removed
	err := w.remove(path)
	switch {
	case err == nil:
		w.logger.Debug("deleted file", slog.String("path", path))
	case errors.Is(err, fs.ErrNotExist):
		outcome = Missing
	case isLocked(err):
		outcome = Requeued
		w.queue = append(w.queue, path)
		w.logger.Debug("file in use, retrying later", slog.String("path", path))
	default:
		outcome = Dropped
		w.logger.Warn("failed to delete file", slog.String("path", path), slog.String("error", err.Error()))
	}
	if w.deletions != nil {
		w.deletions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome.String())))
	}
	return path, outcome
}

// Run processes one entry per interval until ctx is cancelled. Entries still
// queued at shutdown are abandoned; the next start sweeps them again.
func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	w.logger.Info("cleanup worker started", slog.Duration("interval", w.interval))
	for {
		select {
		case <-ctx.Done():
			if n := w.Pending(); n > 0 {
				w.logger.Info("cleanup worker stopping", slog.Int("pending", n))
			}
			return
		case <-ticker.C:
			w.ProcessNext(ctx)
		}
	}
}

// Windows refuses to delete a file another process holds open with an
// access-denied error. Elsewhere a permission error is final.
var permissionMeansLocked = runtime.GOOS == "windows"

func isLocked(err error) bool {
	if errors.Is(err, ErrLocked) || errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) {
		return true
	}
	return permissionMeansLocked && errors.Is(err, fs.ErrPermission)
}
