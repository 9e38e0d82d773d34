package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/MEMAtest/horizon-scanner-backend-sub006/internal/core/domain"
)

// Storage keeps downloaded binaries under a base directory. Keys are
// slash-separated relative paths; absolute paths are accepted as-is so stored
// local paths can be fed back in.
type Storage struct {
	basePath string
}

func New(basePath string) (*Storage, error) {
	if basePath == "" {
		basePath = "./data/pdfs"
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{basePath: abs}, nil
}

// Save streams data to a temp file next to the target and renames it into
// place, so an interrupted write never leaves a file that looks complete.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) (int64, error) {
	path, err := s.resolve(key)
	if err != nil {
		return 0, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create partition dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, data)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("move file into place: %w", err)
	}
	return n, nil
}

func (s *Storage) Stat(_ context.Context, key string) (int64, bool, error) {
	path, err := s.resolve(key)
	if err != nil {
		return 0, false, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("stat file: %w", err)
	}
	if info.IsDir() {
		return 0, false, nil
	}
	return info.Size(), true, nil
}

func (s *Storage) Path(key string) string {
	if filepath.IsAbs(key) {
		return filepath.Clean(key)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(key))
}

func (s *Storage) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "storage key", errors.New("empty key"))
	}
	if filepath.IsAbs(key) {
		return filepath.Clean(key), nil
	}
	path := s.Path(key)
	rel, err := filepath.Rel(s.basePath, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", domain.WrapError(domain.ErrInvalidInput, "storage key", fmt.Errorf("%q escapes storage root", key))
	}
	return path, nil
}
