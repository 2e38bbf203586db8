// Package fs provides a filesystem-backed storage backend for mounted
// storage targets.
package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/czbiohub/imagingdb/pkg/imageio"
	"github.com/czbiohub/imagingdb/pkg/storage"
)

// Store implements storage.Backend over a mounted directory tree.
// Object keys are stored as paths relative to the mount point.
type Store struct {
	mountPoint string
}

// Config holds configuration for the filesystem backend.
type Config struct {
	// MountPoint is the root directory for object storage.
	MountPoint string

	// CreateDir creates the mount point if it doesn't exist.
	CreateDir bool
}

// New creates a filesystem backend rooted at the configured mount point.
func New(cfg Config) (*Store, error) {
	if cfg.MountPoint == "" {
		return nil, errors.New("mount point is required")
	}

	if cfg.CreateDir {
		if err := os.MkdirAll(cfg.MountPoint, 0755); err != nil {
			return nil, err
		}
	}

	info, err := os.Stat(cfg.MountPoint)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("mount point is not a directory")
	}

	return &Store{mountPoint: cfg.MountPoint}, nil
}

// keyPath returns the full filesystem path for an object key.
// Keys use forward slashes as separators.
func (s *Store) keyPath(key string) string {
	return filepath.Join(s.mountPoint, filepath.FromSlash(key))
}

// AssertUnique fails when the dataset directory exists and is non-empty.
func (s *Store) AssertUnique(ctx context.Context, dir string) error {
	keys, err := s.ListPrefix(ctx, dir)
	if err != nil {
		return err
	}
	if len(keys) > 0 {
		return fmt.Errorf("%w: %s holds %d objects", storage.ErrStorageExists, dir, len(keys))
	}
	return nil
}

// PutPlane writes encoded plane bytes at key. The write goes to a temporary
// file first and is renamed into place for atomicity.
func (s *Store) PutPlane(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// PutFile copies a local file to key without interpreting its contents.
func (s *Store) PutFile(ctx context.Context, key string, localPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()

	path := s.keyPath(key)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// GetPlane fetches and decodes a stored plane.
func (s *Store) GetPlane(ctx context.Context, key string) (*imageio.Plane, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
		}
		return nil, err
	}
	return imageio.DecodePNG(data)
}

// GetFile downloads the object at key to localPath.
func (s *Store) GetFile(ctx context.Context, key string, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := os.Open(s.keyPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", storage.ErrObjectNotFound, key)
		}
		return err
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}

// ListPrefix returns all object keys under dir, sorted.
func (s *Store) ListPrefix(ctx context.Context, dir string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefixPath := s.keyPath(dir)
	keys := []string{}

	if _, err := os.Stat(prefixPath); err != nil {
		if os.IsNotExist(err) {
			return keys, nil
		}
		return nil, err
	}

	err := filepath.WalkDir(prefixPath, func(path string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// Skip in-flight temporary files.
		if strings.HasSuffix(path, ".tmp") {
			return nil
		}

		relPath, err := filepath.Rel(s.mountPoint, path)
		if err != nil {
			return err
		}
		keys = append(keys, filepath.ToSlash(relPath))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(keys)
	return keys, nil
}

// MountPoint returns the backend root (for testing).
func (s *Store) MountPoint() string {
	return s.mountPoint
}

// Ensure Store implements storage.Backend.
var _ storage.Backend = (*Store)(nil)
