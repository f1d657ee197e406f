package note

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const (
	TextFileName      = "note.txt"
	TimestampFileName = "note.ts"
)

// FileStore keeps the note as two plain files: the text and its timestamp.
type FileStore struct {
	dir    string
	logger *slog.Logger
}

func NewFileStore(dir string, logger *slog.Logger) (*FileStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	return &FileStore{dir: dir, logger: logger}, nil
}

func (s *FileStore) Current(ctx context.Context) (Note, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, TextFileName))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Note{}, fmt.Errorf("failed to read note: %w", err)
	}
	return Note{Text: string(raw), Timestamp: s.readTimestamp()}, nil
}

// readTimestamp fails open: anything unreadable counts as "never modified".
func (s *FileStore) readTimestamp() float64 {
	raw, err := os.ReadFile(filepath.Join(s.dir, TimestampFileName))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to read note timestamp, treating note as unmodified", "err", err)
		}
		return 0
	}
	ts, err := strconv.ParseFloat(strings.TrimSpace(string(raw)), 64)
	if err != nil {
		s.logger.Warn("corrupt note timestamp, treating note as unmodified", "content", string(raw))
		return 0
	}
	return ts
}

func (s *FileStore) Save(ctx context.Context, n Note, origin Origin) error {
	if err := WriteFileAtomic(filepath.Join(s.dir, TextFileName), []byte(n.Text), 0o644); err != nil {
		return fmt.Errorf("failed to save note: %w", err)
	}
	ts := strconv.FormatFloat(n.Timestamp, 'f', -1, 64)
	if err := WriteFileAtomic(filepath.Join(s.dir, TimestampFileName), []byte(ts), 0o644); err != nil {
		return fmt.Errorf("failed to save note timestamp: %w", err)
	}
	s.logger.Debug("saved note", "origin", origin, "ts", n.Timestamp, "#text", len(n.Text))
	return nil
}

func (s *FileStore) Close() error {
	return nil
}
