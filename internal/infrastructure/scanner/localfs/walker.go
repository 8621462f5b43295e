package localfs

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kirillkom/vetrecord-pipeline/internal/core/domain"
)

// Walker enumerates regular files and file symlinks under a root. Directory
// symlinks are not followed, which keeps the walk free of cycles.
type Walker struct{}

func NewWalker() *Walker {
	return &Walker{}
}

func (w *Walker) Walk(ctx context.Context, root string) ([]domain.SourceFile, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, domain.WrapError(domain.ErrConfiguration, "stat source root", err)
	}
	if !info.IsDir() {
		return nil, domain.WrapError(domain.ErrConfiguration, "stat source root", fmt.Errorf("%s is not a directory", root))
	}

	var files []domain.SourceFile
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == root {
				return walkErr
			}
			files = append(files, domain.SourceFile{Path: path, Err: walkErr.Error()})
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if file, ok := inspect(path); ok {
			files = append(files, file)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

func inspect(path string) (domain.SourceFile, bool) {
	file := domain.SourceFile{Path: path}
	realPath, err := filepath.EvalSymlinks(path)
	if err != nil {
		file.Err = err.Error()
		return file, true
	}
	file.RealPath = realPath

	info, err := os.Stat(realPath)
	if err != nil {
		file.Err = err.Error()
		return file, true
	}
	if info.IsDir() {
		return file, false
	}
	if !info.Mode().IsRegular() {
		return file, false
	}
	file.Size = info.Size()

	f, err := os.Open(realPath)
	if err != nil {
		file.Err = err.Error()
		return file, true
	}
	_ = f.Close()
	return file, true
}
