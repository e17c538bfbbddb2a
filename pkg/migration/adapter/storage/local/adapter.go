// Package local stores objects under a base directory on the local file system.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dasabhishk/st2/pkg/migration/adapter/storage"
	"github.com/dasabhishk/st2/pkg/migration/support/util/logger"
)

// Type is the storage type name of this adapter.
const Type = "local"

// Adapter implements storage.ObjectStore on the local file system.
type Adapter struct {
	baseDir string
}

var _ storage.ObjectStore = (*Adapter)(nil)

// NewAdapter creates baseDir if needed.
func NewAdapter(baseDir string) (*Adapter, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("local storage: base directory must be specified")
	}
	info, err := os.Stat(baseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(baseDir, 0o755); err != nil {
			return nil, fmt.Errorf("local storage: failed to create base directory '%s': %w", baseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage: failed to stat base directory '%s': %w", baseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage: '%s' is not a directory", baseDir)
	}
	return &Adapter{baseDir: baseDir}, nil
}

func (a *Adapter) Type() string { return Type }
func (a *Adapter) Close() error { return nil }

func (a *Adapter) Upload(_ context.Context, bucket, objectName string, data io.Reader, _ string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", fullPath, err)
	}

	// Write to a temp file first so readers never see a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for '%s': %w", fullPath, err)
	}
	if _, err := io.Copy(tmp, data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write '%s': %w", fullPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close '%s': %w", fullPath, err)
	}
	if err := os.Rename(tmp.Name(), fullPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move upload into '%s': %w", fullPath, err)
	}
	logger.Debugf("Stored object '%s'.", fullPath)
	return nil
}

func (a *Adapter) Download(_ context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open '%s': %w", fullPath, err)
	}
	return f, nil
}

func (a *Adapter) ListObjects(_ context.Context, bucket, prefix string, fn func(objectName string) error) error {
	root, err := a.resolvePath(bucket, "")
	if err != nil {
		return err
	}
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !strings.HasPrefix(rel, prefix) {
			return nil
		}
		return fn(rel)
	})
	if err != nil {
		return fmt.Errorf("failed to list '%s' with prefix '%s': %w", root, prefix, err)
	}
	return nil
}

func (a *Adapter) DeleteObject(_ context.Context, bucket, objectName string) error {
	fullPath, err := a.resolvePath(bucket, objectName)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete '%s': %w", fullPath, err)
	}
	return nil
}

// resolvePath joins baseDir, bucket and objectName and rejects paths that
// escape baseDir.
func (a *Adapter) resolvePath(bucket, objectName string) (string, error) {
	fullPath := filepath.Join(a.baseDir, bucket, objectName)
	absBase, err := filepath.Abs(a.baseDir)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(fullPath)
	if err != nil {
		return "", err
	}
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path '%s' is outside of base directory '%s'", fullPath, a.baseDir)
	}
	return fullPath, nil
}
