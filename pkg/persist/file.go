package persist

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// recentWrites is how many self-written digests FileStore remembers.
const recentWrites = 8

// FileStore implements Store using a JSON file.
type FileStore struct {
	path string

	mu     sync.Mutex
	recent [][sha256.Size]byte // digests of the last files we wrote, newest last
}

// NewFileStore creates a store at the given path. The directory is created
// if needed; the file itself is written on first Save.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context) (Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("failed to read file: %w", err)
	}
	return decode(data)
}

// decode parses a record on top of Defaults so missing keys fall back.
func decode(data []byte) (Record, error) {
	rec := Defaults()
	if len(bytes.TrimSpace(data)) == 0 {
		return Record{}, errors.New("persist: empty config file")
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return rec, nil
}

// Save implements Store. The write is atomic: temp file, then rename.
func (s *FileStore) Save(_ context.Context, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Remember the digest before the file appears so a watcher never
	// mistakes our own write for a hand edit.
	s.remember(sha256.Sum256(data))

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

func (s *FileStore) remember(sum [sha256.Size]byte) {
	s.recent = append(s.recent, sum)
	if len(s.recent) > recentWrites {
		s.recent = s.recent[len(s.recent)-recentWrites:]
	}
}

// wroteItself reports whether data matches something this store wrote recently.
func (s *FileStore) wroteItself(data []byte) bool {
	sum := sha256.Sum256(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recent {
		if r == sum {
			return true
		}
	}
	return false
}
