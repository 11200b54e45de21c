// Package storage provides durable file storage for configuration and
// pattern files, addressed by name.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when a named file does not exist.
var ErrNotFound = errors.New("storage: file not found")

// FileInfo describes one stored file.
type FileInfo struct {
	Name     string
	Size     int64
	Modified time.Time
}

// Store is the storage collaborator: durable read/write/list/delete of
// named files.
type Store interface {
	Read(name string) ([]byte, error)
	Write(name string, data []byte) error
	List() ([]FileInfo, error)
	Delete(name string) error
}

// FileStore stores files in a single directory on disk.
type FileStore struct {
	root string
}

// NewFileStore creates a FileStore rooted at dir, creating dir if
// needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: create directory %s: %w", dir, err)
	}
	return &FileStore{root: dir}, nil
}

// Root returns the backing directory.
func (s *FileStore) Root() string {
	return s.root
}

// path sanitizes a file name and resolves it under the root. Path
// separators and parent references are rejected so uploads cannot
// escape the storage directory.
func (s *FileStore) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("storage: invalid file name %q", name)
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("storage: invalid file name %q", name)
	}
	return filepath.Join(s.root, name), nil
}

// Read returns the contents of the named file.
func (s *FileStore) Read(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}
	return data, nil
}

// Write stores data under the given name. The write is atomic: data is
// written to a temp file and renamed into place.
func (s *FileStore) Write(name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("storage: write %s: %w", name, err)
	}
	return nil
}

// List returns all stored files sorted by name.
func (s *FileStore) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list: %w", err)
	}
	var files []FileInfo
	for _, entry := range entries {
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, FileInfo{
			Name:     entry.Name(),
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Delete removes the named file.
func (s *FileStore) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}
