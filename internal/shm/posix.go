//go:build unix

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// DefaultDirectory is where POSIX shared memory objects live on Linux.
const DefaultDirectory = "/dev/shm"

// Posix backs memory objects with files in a tmpfs directory mapped with
// MAP_SHARED, so every process opening the same name shares the pages.
type Posix struct {
	dir    string
	prefix string
}

// NewPosix returns a provider rooted at dir. An empty dir selects
// DefaultDirectory, or the system temp directory when it is missing.
// prefix is prepended to every name to keep unrelated programs apart.
func NewPosix(dir, prefix string) *Posix {
	if dir == "" {
		dir = DefaultDirectory
		if st, err := os.Stat(dir); err != nil || !st.IsDir() {
			dir = os.TempDir()
		}
	}
	return &Posix{dir: dir, prefix: prefix}
}

// Directory returns the directory holding the objects.
func (p *Posix) Directory() string {
	return p.dir
}

func (p *Posix) path(name string) string {
	return filepath.Join(p.dir, p.prefix+name)
}

func (p *Posix) Create(name string, size int) (*SharedMemory, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if size <= 0 {
		return nil, ErrInvalidSize
	}

	f, err := os.OpenFile(p.path(name), os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, mapError(err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(p.path(name))
		return nil, fmt.Errorf("zcipc: truncate %s: %w", name, err)
	}

	s, err := p.mmap(f, name, size)
	if err != nil {
		os.Remove(p.path(name))
		return nil, err
	}
	s.owner = true
	return s, nil
}

func (p *Posix) Open(name string) (*SharedMemory, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	f, err := os.OpenFile(p.path(name), os.O_RDWR, 0)
	if err != nil {
		return nil, mapError(err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, mapError(err)
	}
	if st.Size() == 0 {
		f.Close()
		return nil, ErrNotReady
	}
	return p.mmap(f, name, int(st.Size()))
}

func (p *Posix) Remove(name string) error {
	if err := os.Remove(p.path(name)); err != nil {
		return mapError(err)
	}
	return nil
}

func (p *Posix) Exists(name string) bool {
	_, err := os.Stat(p.path(name))
	return err == nil
}

func (p *Posix) mmap(f *os.File, name string, size int) (*SharedMemory, error) {
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("zcipc: mmap %s: %w", name, err)
	}

	return &SharedMemory{
		name:     name,
		size:     size,
		fd:       f.Fd(),
		data:     data,
		provider: p,
		release: func() error {
			err := unix.Munmap(data)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			return err
		},
	}, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrDoesNotExist, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return err
}
