package storage

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-memory Store used in tests and when running the
// daemon with no data directory.
type MemStore struct {
	mu    sync.Mutex
	files map[string][]byte
	mtime map[string]time.Time

	// FailWrites forces Write to fail, for storage-fault tests.
	FailWrites bool
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		files: make(map[string][]byte),
		mtime: make(map[string]time.Time),
	}
}

// Read returns the contents of the named file.
func (s *MemStore) Read(name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.files[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Write stores data under the given name.
func (s *MemStore) Write(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailWrites {
		return fmt.Errorf("storage: write %s: forced failure", name)
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	s.files[name] = stored
	s.mtime[name] = time.Now()
	return nil
}

// List returns all stored files sorted by name.
func (s *MemStore) List() ([]FileInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	files := make([]FileInfo, 0, len(s.files))
	for name, data := range s.files {
		files = append(files, FileInfo{
			Name:     name,
			Size:     int64(len(data)),
			Modified: s.mtime[name],
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files, nil
}

// Delete removes the named file.
func (s *MemStore) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.files[name]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(s.files, name)
	delete(s.mtime, name)
	return nil
}
