package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/literaq/paperchat/internal/logging"
	"github.com/literaq/paperchat/internal/storage"
)

// DefaultDebounce is how long a file must stay quiet before it is ingested.
const DefaultDebounce = 500 * time.Millisecond

// Uploader ingests one file's bytes.
type Uploader interface {
	Upload(ctx context.Context, filename string, data []byte) (*storage.Document, *Result, error)
}

// WatchOptions configures a Watcher.
type WatchOptions struct {
	Debounce time.Duration
	Existing bool // ingest files already in the directory on start
}

// Watcher ingests paper files as they appear in a directory.
type Watcher struct {
	uploader Uploader
	opts     WatchOptions
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
	seen   map[string]string // path -> content hash of the last ingested version
}

// NewWatcher creates a Watcher that hands files to uploader.
func NewWatcher(uploader Uploader, opts WatchOptions, logger *slog.Logger) *Watcher {
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	return &Watcher{
		uploader: uploader,
		opts:     opts,
		logger:   logging.OrDefault(logger),
		timers:   make(map[string]*time.Timer),
		seen:     make(map[string]string),
	}
}

// IsWatchedFile reports whether name has a paper extension.
func IsWatchedFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf", ".md", ".markdown", ".txt":
		return true
	}
	return false
}

// Run watches dir until ctx is cancelled. Files are ingested one at a time.
func (w *Watcher) Run(ctx context.Context, dir string) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("Watching directory", "dir", dir)

	ready := make(chan string, 16)
	if w.opts.Existing {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("read %s: %w", dir, err)
		}
		for _, e := range entries {
			if !e.IsDir() && IsWatchedFile(e.Name()) {
				w.ingest(ctx, filepath.Join(dir, e.Name()))
			}
		}
	}

	defer w.stopTimers()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				if IsWatchedFile(event.Name) {
					w.schedule(ctx, event.Name, ready)
				}
			}
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("Watcher error", "error", err)
		case path := <-ready:
			w.ingest(ctx, path)
		}
	}
}

func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, ok := w.timers[path]; ok {
		timer.Stop()
	}
	w.timers[path] = time.AfterFunc(w.opts.Debounce, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, timer := range w.timers {
		timer.Stop()
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	logger := w.logger.With("file", path)

	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("Failed to read file", "error", err)
		return
	}
	if len(data) == 0 {
		return
	}

	hash := contentHash(string(data))
	w.mu.Lock()
	unchanged := w.seen[path] == hash
	w.mu.Unlock()
	if unchanged {
		logger.Debug("File unchanged, skipping")
		return
	}

	doc, result, err := w.uploader.Upload(ctx, filepath.Base(path), data)
	if err != nil {
		logger.Error("Failed to ingest file", "error", err)
		return
	}

	w.mu.Lock()
	w.seen[path] = hash
	w.mu.Unlock()
	logger.Info("Ingested file", "document_id", doc.ID, "title", doc.Title, "chunks", result.Chunks)
}
