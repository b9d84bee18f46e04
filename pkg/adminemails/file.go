package adminemails

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/drivewatch/pkg/observability"
)

// ReloadFunc is notified after every reload attempt
type ReloadFunc func(count int, err error)

// FileSource serves the admin email list from a file and reloads it when the
// file changes. A failed reload keeps the last good list.
type FileSource struct {
	path     string
	logger   *observability.Logger
	onReload ReloadFunc

	mu     sync.RWMutex
	emails []string
}

// NewFileSource loads path once. The initial load must succeed.
func NewFileSource(path string, logger *observability.Logger, onReload ReloadFunc) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("admin email file path is required")
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	fs := &FileSource{
		path:     filepath.Clean(path),
		logger:   logger.WithField("component", "admin_emails").WithField("path", path),
		onReload: onReload,
	}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// AdminEmails returns the current list
func (fs *FileSource) AdminEmails() ([]string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]string, len(fs.emails))
	copy(out, fs.emails)
	return out, nil
}

// Reload re-reads the file
func (fs *FileSource) Reload() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		err = fmt.Errorf("failed to read admin email file: %w", err)
		fs.notify(0, err)
		return err
	}
	emails := Parse(string(data))

	fs.mu.Lock()
	fs.emails = emails
	fs.mu.Unlock()

	fs.notify(len(emails), nil)
	return nil
}

func (fs *FileSource) notify(count int, err error) {
	if fs.onReload != nil {
		fs.onReload(count, err)
	}
}

// Watch reloads the list whenever the file is written, created or renamed
// into place, until ctx is done. The parent directory is watched so that
// atomic replace-by-rename is observed.
func (fs *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(fs.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(fs.path), err)
	}

	fs.logger.Info("watching admin email file")
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != fs.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if err := fs.Reload(); err != nil {
				fs.logger.WithError(err).Warn("admin email reload failed, keeping previous list")
				continue
			}
			fs.logger.Info("admin email list reloaded")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fs.logger.WithError(err).Warn("admin email watcher error")
		}
	}
}
