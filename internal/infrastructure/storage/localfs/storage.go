package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// Storage keeps artifacts as plain files below one root directory. Keys are
// slash separated and must stay inside the root.
type Storage struct {
	root string
}

func New(root string) (*Storage, error) {
	if root == "" {
		root = "./data/output"
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Storage{root: root}, nil
}

// Save replaces key atomically. Readers see either the old file or the
// complete new one, never a partial write.
func (s *Storage) Save(_ context.Context, key string, data io.Reader) error {
	path, err := s.resolve(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("stage %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, data)
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish %s: %w", key, err)
	}
	return nil
}

// Open returns domain.ErrDocumentNotFound for keys that were never saved.
func (s *Storage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	path, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "open "+key, err)
	case err != nil:
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	return f, nil
}

func (s *Storage) resolve(key string) (string, error) {
	if !fs.ValidPath(key) || key == "." {
		return "", domain.WrapError(domain.ErrInvalidInput, "resolve artifact key", fmt.Errorf("invalid key %q", key))
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
