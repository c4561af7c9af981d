// Package inbox turns photos dropped into a watch folder into
// submissions. The folder layout carries the metadata:
//
//	<inbox>/<ciclo>/<sector>/<ruta>/<tecnico>/<photo>
//
// A photo is removed from the folder once it has been delivered or
// queued. Anything else stays put for a person to look at.
package inbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/solara-sync/internal/uploader"
	"github.com/fsnotify/fsnotify"
)

const (
	// inboxDirPerm is the permission mode for the inbox when it is
	// created at startup.
	inboxDirPerm = fs.FileMode(0o755)

	// debounceInterval is how often pending events are checked.
	debounceInterval = 500 * time.Millisecond

	// settleTime is how long a file must go without writes before it is
	// picked up, so half-copied photos are not submitted.
	settleTime = 300 * time.Millisecond

	// metadataDepth is the number of directory levels between the inbox
	// root and a photo.
	metadataDepth = 4
)

// Submitter accepts a batch. *uploader.Orchestrator satisfies it.
type Submitter interface {
	Submit(ctx context.Context, batch uploader.Batch, progress uploader.ProgressFunc) (uploader.BatchResult, error)
}

// Watcher monitors the inbox directory.
type Watcher struct {
	dir       string
	submitter Submitter
	logger    *slog.Logger
	watcher   *fsnotify.Watcher

	interval time.Duration
	settle   time.Duration
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, submitter Submitter, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:       dir,
		submitter: submitter,
		logger:    logger.With(slog.String("component", "inbox")),
		interval:  debounceInterval,
		settle:    settleTime,
	}
}

// Watch processes photos already in the inbox, then watches for new
// ones until ctx is cancelled. Directories are watched recursively.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	w.watcher = watcher
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, inboxDirPerm); err != nil {
		return fmt.Errorf("creating inbox dir: %w", err)
	}

	if err := w.addRecursive(w.dir); err != nil {
		return fmt.Errorf("watching inbox dir: %w", err)
	}

	w.logger.Info("inbox watcher started", slog.String("dir", w.dir))

	pending := make(map[string]time.Time)
	w.scan(ctx, pending)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				// A new directory may already hold photos copied in
				// with it, so scan it as well as watching it.
				if event.Has(fsnotify.Create) {
					info, err := os.Lstat(event.Name)
					if err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
						_ = w.addRecursive(event.Name)
						w.markTree(event.Name, pending)

						continue
					}
				}

				pending[event.Name] = time.Now()
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				_ = watcher.Remove(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			now := time.Now()
			for path, t := range pending {
				if now.Sub(t) < w.settle {
					continue
				}

				delete(pending, path)
				w.handleFile(ctx, path)
			}
		}
	}
}

// Scan submits every settled photo currently in the inbox. Files
// modified within the settle time may still be open for writing and are
// left for the watch loop.
func (w *Watcher) Scan(ctx context.Context) {
	w.scan(ctx, make(map[string]time.Time))
}

// scan submits settled files and records the rest in pending, keyed by
// modification time so the watch loop's settle check applies to them.
func (w *Watcher) scan(ctx context.Context, pending map[string]time.Time) {
	now := time.Now()

	_ = filepath.WalkDir(w.dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || ctx.Err() != nil {
			return nil //nolint:nilerr // keep walking past unreadable entries
		}

		if path != w.dir && shouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil //nolint:nilerr // vanished since listing
		}

		if now.Sub(info.ModTime()) < w.settle {
			pending[path] = info.ModTime()
			return nil
		}

		w.handleFile(ctx, path)

		return nil
	})
}

func (w *Watcher) markTree(dir string, pending map[string]time.Time) {
	now := time.Now()

	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil //nolint:nilerr // best effort
		}

		if shouldIgnore(path) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.Type().IsRegular() {
			pending[path] = now
		}

		return nil
	})
}

// handleFile submits one photo and removes it once it is safe.
func (w *Watcher) handleFile(ctx context.Context, absPath string) {
	info, err := os.Lstat(absPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("stat failed", slog.String("path", absPath), slog.String("error", err.Error()))
		}

		return
	}

	if !info.Mode().IsRegular() {
		return
	}

	batch, err := batchFor(w.dir, absPath)
	if err != nil {
		w.logger.Warn("skipping file", slog.String("path", absPath), slog.String("reason", err.Error()))
		return
	}

	res, err := w.submitter.Submit(ctx, batch, nil)
	if err != nil {
		w.logger.Warn("submission rejected", slog.String("path", absPath), slog.String("error", err.Error()))
		return
	}

	if len(res.Items) != 1 {
		return
	}

	switch res.Items[0].Outcome {
	case uploader.OutcomeDelivered, uploader.OutcomeQueued:
		if err := os.Remove(absPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("removing submitted file", slog.String("path", absPath), slog.String("error", err.Error()))
		}

		w.logger.Info("photo taken from inbox",
			slog.String("path", absPath),
			slog.String("outcome", string(res.Items[0].Outcome)),
		)
	case uploader.OutcomeFailed:
		w.logger.Error("photo left in inbox", slog.String("path", absPath))
	}
}

// batchFor derives a one-photo batch from the file's position under dir.
func batchFor(dir, absPath string) (uploader.Batch, error) {
	rel, err := filepath.Rel(dir, absPath)
	if err != nil {
		return uploader.Batch{}, fmt.Errorf("computing relative path: %w", err)
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != metadataDepth+1 || parts[0] == ".." {
		return uploader.Batch{}, fmt.Errorf("expected <ciclo>/<sector>/<ruta>/<tecnico>/<photo>, got %s", rel)
	}

	return uploader.Batch{
		Ciclo:   parts[0],
		Sector:  parts[1],
		Ruta:    parts[2],
		Tecnico: parts[3],
		Files:   []uploader.File{{Name: parts[4], Path: absPath}},
	}, nil
}

func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}

	if strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".tmp") || strings.HasSuffix(base, ".part") ||
		strings.HasSuffix(base, ".crdownload") {
		return true
	}

	return false
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != w.dir && shouldIgnore(path) {
			return filepath.SkipDir
		}

		// WalkDir does not follow symlinks it discovers; skip them so the
		// watch never leaves the inbox.
		if d.Type()&os.ModeSymlink != 0 {
			return filepath.SkipDir
		}

		return w.watcher.Add(path)
	})
}
