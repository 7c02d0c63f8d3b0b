// Package fsutil abstracts the filesystem behind capture output so local mode
// and the warnings file can be tested in memory.
package fsutil

import (
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileSystem abstracts the filesystem operations used for capture output.
// Use OSFileSystem for production; MemoryFileSystem for testing.
type FileSystem interface {
	// Create creates or truncates the named file.
	Create(name string) (io.WriteCloser, error)

	// ReadFile reads the named file and returns its contents.
	ReadFile(name string) ([]byte, error)

	// WriteFile writes data to the named file, creating it if necessary.
	WriteFile(name string, data []byte, perm os.FileMode) error

	// Stat returns a FileInfo describing the named file.
	Stat(name string) (fs.FileInfo, error)

	// MkdirAll creates a directory and all necessary parents.
	MkdirAll(path string, perm os.FileMode) error

	// Remove removes the named file or empty directory.
	Remove(name string) error

	// Exists checks if a file or directory exists.
	Exists(name string) bool
}

// OSFileSystem implements FileSystem using the os package.
type OSFileSystem struct{}

func (OSFileSystem) Create(name string) (io.WriteCloser, error) { return os.Create(name) }
func (OSFileSystem) ReadFile(name string) ([]byte, error)       { return os.ReadFile(name) }
func (OSFileSystem) Stat(name string) (fs.FileInfo, error)      { return os.Stat(name) }
func (OSFileSystem) Remove(name string) error                   { return os.Remove(name) }

func (OSFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	return os.WriteFile(name, data, perm)
}

func (OSFileSystem) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Exists checks if a file exists.
func (OSFileSystem) Exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}

// MemoryFileSystem is an in-memory FileSystem for tests. Writes to a created
// file are visible to ReadFile immediately, before Close, and individual paths
// can be made to fail with Fail.
type MemoryFileSystem struct {
	mu       sync.RWMutex
	files    map[string]*memFile
	dirs     map[string]bool
	failures map[string]error
}

type memFile struct {
	data   []byte
	mode   os.FileMode
	closed bool
}

// NewMemoryFileSystem returns an empty filesystem.
func NewMemoryFileSystem() *MemoryFileSystem {
	return &MemoryFileSystem{
		files:    make(map[string]*memFile),
		dirs:     make(map[string]bool),
		failures: make(map[string]error),
	}
}

// Fail makes Create, WriteFile and writes to an open file at name return err
// from now on. A nil err clears the failure.
func (m *MemoryFileSystem) Fail(name string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if err == nil {
		delete(m.failures, name)
		return
	}
	m.failures[name] = err
}

func pathErr(op, name string, err error) error {
	return &fs.PathError{Op: op, Path: name, Err: err}
}

func (m *MemoryFileSystem) Create(name string) (io.WriteCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if err := m.failures[name]; err != nil {
		return nil, pathErr("open", name, err)
	}
	f := &memFile{data: []byte{}, mode: 0o644}
	m.files[name] = f
	return &memWriter{fs: m, name: name, file: f}, nil
}

func (m *MemoryFileSystem) ReadFile(name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[filepath.Clean(name)]
	if !ok {
		return nil, pathErr("read", name, fs.ErrNotExist)
	}
	return append([]byte(nil), f.data...), nil
}

func (m *MemoryFileSystem) WriteFile(name string, data []byte, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	if err := m.failures[name]; err != nil {
		return pathErr("open", name, err)
	}
	m.files[name] = &memFile{data: append([]byte(nil), data...), mode: perm, closed: true}
	return nil
}

func (m *MemoryFileSystem) Stat(name string) (fs.FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name = filepath.Clean(name)
	if m.dirs[name] {
		return memInfo{name: filepath.Base(name), mode: fs.ModeDir | 0o755}, nil
	}
	f, ok := m.files[name]
	if !ok {
		return nil, pathErr("stat", name, fs.ErrNotExist)
	}
	return memInfo{name: filepath.Base(name), size: int64(len(f.data)), mode: f.mode}, nil
}

func (m *MemoryFileSystem) MkdirAll(path string, perm os.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p := filepath.Clean(path); p != "." && p != "/"; p = filepath.Dir(p) {
		m.dirs[p] = true
	}
	return nil
}

func (m *MemoryFileSystem) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	name = filepath.Clean(name)
	switch {
	case m.files[name] != nil:
		delete(m.files, name)
	case m.dirs[name]:
		delete(m.dirs, name)
	default:
		return pathErr("remove", name, fs.ErrNotExist)
	}
	return nil
}

func (m *MemoryFileSystem) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name = filepath.Clean(name)
	return m.files[name] != nil || m.dirs[name]
}

// IsClosed reports whether the file at name has been closed, or was written
// in one piece with WriteFile.
func (m *MemoryFileSystem) IsClosed(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f := m.files[filepath.Clean(name)]
	return f != nil && f.closed
}

type memWriter struct {
	fs   *MemoryFileSystem
	name string
	file *memFile
}

func (w *memWriter) Write(p []byte) (int, error) {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	if w.file.closed {
		return 0, fs.ErrClosed
	}
	if err := w.fs.failures[w.name]; err != nil {
		return 0, pathErr("write", w.name, err)
	}
	w.file.data = append(w.file.data, p...)
	return len(p), nil
}

func (w *memWriter) Close() error {
	w.fs.mu.Lock()
	defer w.fs.mu.Unlock()
	if w.file.closed {
		return fs.ErrClosed
	}
	w.file.closed = true
	return nil
}

type memInfo struct {
	name string
	size int64
	mode os.FileMode
}

func (i memInfo) Name() string       { return i.name }
func (i memInfo) Size() int64        { return i.size }
func (i memInfo) Mode() os.FileMode  { return i.mode }
func (i memInfo) ModTime() time.Time { return time.Time{} }
func (i memInfo) IsDir() bool        { return i.mode.IsDir() }
func (i memInfo) Sys() any           { return nil }
