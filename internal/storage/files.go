// Package storage provides locked file persistence for the memory core:
// atomic whole-file writes for tool-result sidecars and append-only writes
// for memory note files.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// fileLock is an flock-based lock guarding writes to a single path.
type fileLock struct {
	path string
	file *os.File
}

func (l *fileLock) lock() error {
	var err error
	l.file, err = os.OpenFile(l.path+".lock", os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_EX); err != nil {
		l.file.Close()
		return err
	}
	return nil
}

func (l *fileLock) unlock() {
	if l.file == nil {
		return
	}
	syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	l.file.Close()
	os.Remove(l.path + ".lock")
	l.file = nil
}

// WithLock runs fn while holding an exclusive lock for path. The lock
// serializes writers across processes as well as within one.
func WithLock(path string, fn func() error) error {
	lock := &fileLock{path: path}
	if err := lock.lock(); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer lock.unlock()
	return fn()
}

// WriteFileAtomic writes data to path via a temp file and rename so readers
// never observe a partial file. Parent directories are created as needed.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return WithLock(path, func() error {
		tmpPath := path + ".tmp"
		if err := os.WriteFile(tmpPath, data, perm); err != nil {
			return fmt.Errorf("failed to write temp file: %w", err)
		}
		if err := os.Rename(tmpPath, path); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to rename file: %w", err)
		}
		return nil
	})
}

// AppendFile appends data to path, creating the file when missing. Parent
// directories are created as needed.
func AppendFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	return WithLock(path, func() error {
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		if _, err := f.Write(data); err != nil {
			return fmt.Errorf("failed to append: %w", err)
		}
		return nil
	})
}
