package cfgwatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileSource reads the configuration from a YAML file and watches it.
type FileSource struct {
	path string
	applier
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string, apply ApplyFunc) *FileSource {
	return &FileSource{path: path, applier: applier{apply: apply}}
}

// Load reads and applies the file. A missing file is an error: the
// manager has nothing to serve without it.
func (f *FileSource) Load(_ context.Context) error {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read datasrc config: %w", err)
	}
	changed, err := f.applyRaw(data)
	if err != nil {
		return fmt.Errorf("apply %s: %w", f.path, err)
	}
	if changed {
		slog.Info("datasrc config applied", "path", f.path)
	}
	return nil
}

// Watch uses fsnotify to watch the file. Writes are debounced, then the
// file is reloaded. It blocks until the context is cancelled.
func (f *FileSource) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory so we catch atomic rename-based writes.
	dir := filepath.Dir(f.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch directory %s: %w", dir, err)
	}
	absPath, _ := filepath.Abs(f.path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			absEvent, _ := filepath.Abs(event.Name)
			if absEvent != absPath {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(100*time.Millisecond, func() {
				if err := f.Load(ctx); err != nil {
					slog.Error("reload datasrc config", "path", f.path, "err", err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("fsnotify error", "err", err)
		}
	}
}
