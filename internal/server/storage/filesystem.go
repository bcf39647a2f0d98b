package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// Extension is appended to every stored name.
	Extension = ".fcs"

	tempPrefix = ".upload-"
)

var (
	ErrFileNotFound = errors.New("stored file not found")
	ErrTooLarge     = errors.New("file exceeds size limit")
	ErrInvalidName  = errors.New("invalid stored file name")
)

// Store defines the interface for file storage backends.
type Store interface {
	Save(data io.Reader, limit int64) (name string, n int64, err error)
	Open(name string) (Object, error)
	Delete(name string) error
	List() ([]Entry, error)
	EnsureDir() error
}

// Object is an open stored file. It is read lazily.
type Object interface {
	io.ReadCloser
	io.ReaderAt
	Size() int64
}

// Entry describes a file in the storage root.
type Entry struct {
	Name    string
	Size    int64
	ModTime time.Time
	// Temp marks a partial upload that was never renamed into place.
	Temp bool
}

// FileSystemStore stores uploaded files on the local filesystem.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save streams data to a new file under a generated name and returns the
// name and the number of bytes written. Reading stops after limit+1 bytes;
// anything over limit is ErrTooLarge. Nothing is left under the returned
// name unless Save succeeds.
func (fs *FileSystemStore) Save(data io.Reader, limit int64) (string, int64, error) {
	tmp, err := os.CreateTemp(fs.basePath, tempPrefix+"*")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	n, err := io.Copy(tmp, io.LimitReader(data, limit+1))
	if err != nil {
		cleanup()
		return "", 0, fmt.Errorf("failed to write file: %w", err)
	}
	if n > limit {
		cleanup()
		return "", 0, ErrTooLarge
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("failed to close file: %w", err)
	}

	name := uuid.NewString() + Extension
	if err := os.Rename(tmpPath, fs.filePath(name)); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("failed to move file into place: %w", err)
	}
	return name, n, nil
}

// Open opens a stored file for reading.
func (fs *FileSystemStore) Open(name string) (Object, error) {
	if !validName(name) {
		return nil, ErrInvalidName
	}

	f, err := os.Open(fs.filePath(name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrFileNotFound
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}
	return &fileObject{File: f, size: info.Size()}, nil
}

// Delete removes a stored file. Deleting a missing file is not an error.
func (fs *FileSystemStore) Delete(name string) error {
	if !validName(name) && !strings.HasPrefix(name, tempPrefix) {
		return ErrInvalidName
	}
	filePath := fs.filePath(name)
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// List returns the stored and partially written files in the storage root.
// Files with foreign names are ignored.
func (fs *FileSystemStore) List() ([]Entry, error) {
	dirEntries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		temp := strings.HasPrefix(de.Name(), tempPrefix)
		if !de.Type().IsRegular() || (!temp && !validName(de.Name())) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// Removed since ReadDir.
			continue
		}
		entries = append(entries, Entry{
			Name:    de.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
			Temp:    temp,
		})
	}
	return entries, nil
}

func (fs *FileSystemStore) filePath(name string) string {
	return filepath.Join(fs.basePath, name)
}

// validName accepts only names Save could have produced.
func validName(name string) bool {
	base, ok := strings.CutSuffix(name, Extension)
	if !ok {
		return false
	}
	return uuid.Validate(base) == nil
}

type fileObject struct {
	*os.File
	size int64
}

func (o *fileObject) Size() int64 { return o.size }
