// Package media resolves stored audio and converts it to gateway-accepted
// containers.
package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var ErrOutsideRoot = errors.New("path escapes storage root")

type Storage interface {
	Exists(rel string) (bool, error)
	// Resolve returns the absolute path of rel.
	Resolve(rel string) (string, error)
	Open(rel string) (io.ReadCloser, error)
}

// FileStorage serves relative paths from a directory on disk.
type FileStorage struct {
	Root string
}

func NewFileStorage(root string) (*FileStorage, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	return &FileStorage{Root: abs}, nil
}

func (s *FileStorage) Resolve(rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", errors.New("empty path")
	}
	clean := filepath.Clean(filepath.Join(s.Root, filepath.FromSlash(strings.TrimPrefix(rel, "/"))))
	if clean != s.Root && !strings.HasPrefix(clean, s.Root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, rel)
	}
	return clean, nil
}

func (s *FileStorage) Exists(rel string) (bool, error) {
	p, err := s.Resolve(rel)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *FileStorage) Open(rel string) (io.ReadCloser, error) {
	p, err := s.Resolve(rel)
	if err != nil {
		return nil, err
	}
	return os.Open(p)
}
