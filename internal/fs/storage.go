package fs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned for identifiers that try to leave the storage root
var ErrPathTraversal = errors.New("path traversal attempt")

// ErrNotFound is returned when an identifier does not name a stored file
var ErrNotFound = errors.New("file not found")

// Resolve maps a client-supplied identifier to a path inside root.
// It never touches the filesystem.
func Resolve(root, id string) (string, error) {
	if strings.Contains(id, "..") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, id)
	}
	if id == "" || strings.ContainsAny(id, `/\`+"\x00") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, id)
	}

	cleanRoot := filepath.Clean(root)
	candidate := filepath.Join(cleanRoot, id)
	rel, err := filepath.Rel(cleanRoot, candidate)
	if err != nil || rel == "." || rel != filepath.Base(candidate) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, id)
	}

	return candidate, nil
}

// Storage keeps artifact files flat inside a single root directory
type Storage struct {
	dataDir string
}

// NewStorage creates the root directory if needed and returns a storage over it
func NewStorage(dataDir string) (*Storage, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	return &Storage{
		dataDir: dataDir,
	}, nil
}

// Root returns the storage root directory
func (s *Storage) Root() string {
	return s.dataDir
}

// Save writes content under id and returns the number of bytes written
func (s *Storage) Save(id string, content io.Reader) (int64, error) {
	filePath, err := Resolve(s.dataDir, id)
	if err != nil {
		return 0, err
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	size, err := io.Copy(file, content)
	if err != nil {
		file.Close()
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file content: %w", err)
	}

	if err := file.Close(); err != nil {
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to close file: %w", err)
	}

	return size, nil
}

// Read returns the full content of the file stored under id
func (s *Storage) Read(id string) ([]byte, error) {
	filePath, err := Resolve(s.dataDir, id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return data, nil
}

// Delete removes the file stored under id. Missing files are not an error.
func (s *Storage) Delete(id string) error {
	filePath, err := Resolve(s.dataDir, id)
	if err != nil {
		return err
	}

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}
