package repository

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"PatternScan/internal/domain/models"
	domrepo "PatternScan/internal/domain/repository"
	applogger "PatternScan/pkg/logger"
)

// FileLibraryStore keeps the library blob in a single JSON file. Writes go to
// a temp file in the same directory and are renamed into place.
type FileLibraryStore struct {
	path string
	l    *applogger.Logger
	now  func() time.Time
}

var _ domrepo.LibraryStore = (*FileLibraryStore)(nil)

func NewFileLibraryStore(path string) *FileLibraryStore {
	return &FileLibraryStore{path: path, l: applogger.Nop(), now: time.Now}
}

// SetLogger injects a structured logger.
func (s *FileLibraryStore) SetLogger(l *applogger.Logger) {
	if l != nil {
		s.l = l
	}
}

// Path returns the file the library is stored in.
func (s *FileLibraryStore) Path() string { return s.path }

func (s *FileLibraryStore) Save(ctx context.Context, patterns []*models.Pattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	blob, err := EncodeLibrary(patterns, s.now())
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save library: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save library: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save library: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save library: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save library: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		s.l.Error("library save failed", applogger.String("path", s.path), applogger.Error(err))
		return fmt.Errorf("save library: %w", err)
	}
	s.l.Info("library saved",
		applogger.String("path", s.path),
		applogger.Int("patterns", len(patterns)),
		applogger.Int("bytes", len(blob)),
	)
	return nil
}

// Load returns no patterns when the file does not exist yet.
func (s *FileLibraryStore) Load(ctx context.Context) ([]*models.Pattern, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	blob, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("load library: %w", err)
	}
	patterns, err := DecodeLibrary(blob, s.l)
	if err != nil {
		return nil, err
	}
	s.l.Info("library loaded", applogger.String("path", s.path), applogger.Int("patterns", len(patterns)))
	return patterns, nil
}
