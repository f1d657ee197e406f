package surface

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/astromechza/notesync/pkg/loop"
	"github.com/astromechza/notesync/pkg/note"
)

// FileSurface shows the note as a plain file that any editor can change. Changes
// are detected with fsnotify and reported on the ui loop.
type FileSurface struct {
	path   string
	ui     *loop.Loop
	logger *slog.Logger

	mu     sync.Mutex
	known  string
	onEdit func()
}

func NewFileSurface(path string, ui *loop.Loop, logger *slog.Logger) (*FileSurface, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create surface dir: %w", err)
	}
	s := &FileSurface{path: path, ui: ui, logger: logger}
	known, err := s.Text()
	if err != nil {
		return nil, err
	}
	s.known = known
	return s, nil
}

func (s *FileSurface) Path() string {
	return s.path
}

func (s *FileSurface) Text() (string, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read surface: %w", err)
	}
	return string(raw), nil
}

// ApplyRemoteText marks text as known before writing it, so the watcher event caused
// by the write is not mistaken for an edit.
func (s *FileSurface) ApplyRemoteText(text string, ts float64) error {
	s.mu.Lock()
	s.known = text
	s.mu.Unlock()
	if err := note.WriteFileAtomic(s.path, []byte(text), 0o644); err != nil {
		return fmt.Errorf("failed to apply remote text: %w", err)
	}
	s.logger.Debug("applied remote text", "path", s.path, "ts", ts)
	return nil
}

func (s *FileSurface) OnLocalEdit(hook func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEdit = hook
}

// refresh runs on the ui loop and calls the edit hook if the file moved away from
// the last content we know about.
func (s *FileSurface) refresh() {
	text, err := s.Text()
	if err != nil {
		s.logger.Warn("failed to refresh surface", "err", err)
		return
	}
	s.mu.Lock()
	if text == s.known {
		s.mu.Unlock()
		return
	}
	s.known = text
	hook := s.onEdit
	s.mu.Unlock()
	s.logger.Debug("local edit detected", "path", s.path, "#text", len(text))
	if hook != nil {
		hook()
	}
}

// Watch blocks until ctx is done, forwarding changes of the file to the ui loop. The
// parent directory is watched rather than the file because editors and atomic writes
// replace the file instead of modifying it.
func (s *FileSurface) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}
	base := filepath.Base(s.path)
	s.logger.Info("watching surface", "path", s.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(event.Name)
			if name != base || strings.HasPrefix(name, note.TempFilePrefix) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if !s.ui.Post(func(context.Context) { s.refresh() }) {
				return nil
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("surface watcher error", "err", err)
		}
	}
}

var _ Surface = (*FileSurface)(nil)
