// Package artifact keeps delivered workbooks on disk under opaque handles.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("artifact not found")

var validHandle = regexp.MustCompile(`^[0-9a-f-]{36}$`)

// FileStore writes artifacts to a directory, one file per handle.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(handle string) string {
	return filepath.Join(s.dir, handle+".xlsx")
}

// Put stores data and returns its handle. The file appears atomically.
func (s *FileStore) Put(ctx context.Context, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	handle := uuid.NewString()
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return "", fmt.Errorf("artifact temp: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("artifact write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("artifact close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(handle)); err != nil {
		return "", fmt.Errorf("artifact rename: %w", err)
	}
	return handle, nil
}

func (s *FileStore) Get(handle string) ([]byte, error) {
	if !validHandle.MatchString(handle) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(s.path(handle))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("artifact read: %w", err)
	}
	return data, nil
}

func (s *FileStore) Delete(handle string) error {
	if !validHandle.MatchString(handle) {
		return nil
	}
	err := os.Remove(s.path(handle))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("artifact delete: %w", err)
	}
	return nil
}
