// Package fsutil is the filesystem provider used by the queue for chunk
// files and the index record.
package fsutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// DefaultDirName is the directory created under os.TempDir when no buffer
// directory is configured.
const DefaultDirName = "goFileQueue"

// ErrDiskFull is returned when a write fails because the device is full.
var ErrDiskFull = errors.New("disk is full")

// FS is the set of filesystem operations the queue needs.
type FS interface {
	// MkdirAll creates dir and any missing parents.
	MkdirAll(dir string) error
	// ReadDir lists the names of regular files in dir.
	ReadDir(dir string) ([]string, error)
	// WriteFile replaces path with data.
	WriteFile(path string, data []byte) error
	// ReadFile returns the contents of path.
	ReadFile(path string) ([]byte, error)
	// Remove deletes a single file.
	Remove(path string) error
	// RemoveAll deletes dir and everything below it.
	RemoveAll(dir string) error
}

// DefaultDir returns the process-wide scratch location.
func DefaultDir() string {
	return filepath.Join(os.TempDir(), DefaultDirName)
}

// OS implements FS on the local filesystem.
type OS struct {
	// Sync fsyncs written files and their directory before returning.
	Sync bool
}

// MkdirAll implements FS.
func (OS) MkdirAll(dir string) error {
	return os.MkdirAll(dir, 0755)
}

// ReadDir implements FS.
func (OS) ReadDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// WriteFile implements FS. Data goes to a temp file that is renamed over
// path, so readers never see a partially written file.
func (o OS) WriteFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return classify(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return classify(err)
	}
	if o.Sync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(tmpPath)
			return classify(err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return classify(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if o.Sync {
		if dir, err := os.Open(filepath.Dir(path)); err == nil {
			_ = dir.Sync()
			dir.Close()
		}
	}
	return nil
}

// ReadFile implements FS.
func (OS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Remove implements FS.
func (OS) Remove(path string) error {
	return os.Remove(path)
}

// RemoveAll implements FS.
func (OS) RemoveAll(dir string) error {
	return os.RemoveAll(dir)
}

// IsTemp reports whether name is a leftover from an interrupted WriteFile.
func IsTemp(name string) bool {
	return filepath.Ext(name) == ".tmp"
}

// classify maps ENOSPC to ErrDiskFull, keeping the original error in the chain.
func classify(err error) error {
	if isDiskFullError(err) {
		return fmt.Errorf("%w: %w", ErrDiskFull, err)
	}
	return err
}

func isDiskFullError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ENOSPC) {
		return true
	}
	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return errors.Is(pathErr.Err, syscall.ENOSPC)
	}
	return false
}
