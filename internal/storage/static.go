// Package storage holds the two kinds of service metadata: write-once static
// storage that is invisible while locked, and reference-counted dynamic
// storage in shared memory.
package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

var (
	ErrAlreadyExists    = errors.New("zcipc: storage already exists")
	ErrDoesNotExist     = errors.New("zcipc: storage does not exist")
	ErrLocked           = errors.New("zcipc: storage is locked by its creator")
	ErrPermissionDenied = errors.New("zcipc: storage permission denied")
	ErrInternal         = errors.New("zcipc: storage internal failure")
)

// StaticProvider manages the static storages of one service directory.
type StaticProvider interface {
	// Create reserves name in the locked state. Probing a locked name
	// reports ErrLocked until Unlock publishes its content.
	Create(name string) (LockedStatic, error)

	// Read returns the content of an unlocked storage.
	Read(name string) ([]byte, error)

	// Remove deletes the storage regardless of its state.
	Remove(name string) error

	// List returns the names that end in suffix.
	List(suffix string) ([]string, error)
}

// LockedStatic is a static storage reserved by its creator.
type LockedStatic interface {
	// Unlock writes content and makes the storage visible in one step.
	Unlock(content []byte) error

	// Abort removes the reserved storage.
	Abort() error
}

// lockedMode marks a file whose content is not published yet.
const (
	lockedMode   fs.FileMode = 0o200
	unlockedMode fs.FileMode = 0o644
)

// FileStatic keeps static storages as files in a directory.
type FileStatic struct {
	dir string
}

// NewFileStatic returns a provider over dir, created on first use.
func NewFileStatic(dir string) *FileStatic {
	return &FileStatic{dir: dir}
}

func (f *FileStatic) path(name string) string {
	return filepath.Join(f.dir, name)
}

func (f *FileStatic) Create(name string) (LockedStatic, error) {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, mapFileError(err)
	}
	file, err := os.OpenFile(f.path(name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, lockedMode)
	if err != nil {
		return nil, mapFileError(err)
	}
	return &lockedFile{file: file, path: f.path(name)}, nil
}

func (f *FileStatic) Read(name string) ([]byte, error) {
	st, err := os.Stat(f.path(name))
	if err != nil {
		return nil, mapFileError(err)
	}
	if st.Mode().Perm()&0o444 == 0 {
		return nil, ErrLocked
	}
	b, err := os.ReadFile(f.path(name))
	if err != nil {
		return nil, mapFileError(err)
	}
	return b, nil
}

func (f *FileStatic) Remove(name string) error {
	if err := os.Remove(f.path(name)); err != nil {
		return mapFileError(err)
	}
	return nil
}

func (f *FileStatic) List(suffix string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, mapFileError(err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), suffix) {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

type lockedFile struct {
	file *os.File
	path string
}

func (l *lockedFile) Unlock(content []byte) error {
	if _, err := l.file.Write(content); err != nil {
		l.file.Close()
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if err := os.Chmod(l.path, unlockedMode); err != nil {
		return mapFileError(err)
	}
	return nil
}

func (l *lockedFile) Abort() error {
	l.file.Close()
	if err := os.Remove(l.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return mapFileError(err)
	}
	return nil
}

func mapFileError(err error) error {
	switch {
	case errors.Is(err, fs.ErrExist):
		return fmt.Errorf("%w: %v", ErrAlreadyExists, err)
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %v", ErrDoesNotExist, err)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}

// localStatics is shared by every LocalStatic provider of the process.
var localStatics = struct {
	sync.Mutex
	m map[string]*localEntry
}{m: make(map[string]*localEntry)}

type localEntry struct {
	locked  bool
	content []byte
}

// LocalStatic keeps static storages in process memory.
type LocalStatic struct {
	namespace string
}

// NewLocalStatic returns a provider whose names do not collide with other
// namespaces.
func NewLocalStatic(namespace string) *LocalStatic {
	return &LocalStatic{namespace: namespace}
}

func (l *LocalStatic) key(name string) string {
	return l.namespace + "\x00" + name
}

func (l *LocalStatic) Create(name string) (LockedStatic, error) {
	localStatics.Lock()
	defer localStatics.Unlock()
	if _, ok := localStatics.m[l.key(name)]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, name)
	}
	e := &localEntry{locked: true}
	localStatics.m[l.key(name)] = e
	return &lockedLocal{entry: e, key: l.key(name)}, nil
}

func (l *LocalStatic) Read(name string) ([]byte, error) {
	localStatics.Lock()
	defer localStatics.Unlock()
	e, ok := localStatics.m[l.key(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDoesNotExist, name)
	}
	if e.locked {
		return nil, ErrLocked
	}
	return append([]byte(nil), e.content...), nil
}

func (l *LocalStatic) Remove(name string) error {
	localStatics.Lock()
	defer localStatics.Unlock()
	if _, ok := localStatics.m[l.key(name)]; !ok {
		return fmt.Errorf("%w: %s", ErrDoesNotExist, name)
	}
	delete(localStatics.m, l.key(name))
	return nil
}

func (l *LocalStatic) List(suffix string) ([]string, error) {
	localStatics.Lock()
	defer localStatics.Unlock()
	prefix := l.namespace + "\x00"
	var names []string
	for k := range localStatics.m {
		if strings.HasPrefix(k, prefix) && strings.HasSuffix(k, suffix) {
			names = append(names, strings.TrimPrefix(k, prefix))
		}
	}
	sort.Strings(names)
	return names, nil
}

type lockedLocal struct {
	entry *localEntry
	key   string
}

func (l *lockedLocal) Unlock(content []byte) error {
	localStatics.Lock()
	defer localStatics.Unlock()
	if localStatics.m[l.key] != l.entry {
		return fmt.Errorf("%w: removed while locked", ErrDoesNotExist)
	}
	l.entry.content = append([]byte(nil), content...)
	l.entry.locked = false
	return nil
}

func (l *lockedLocal) Abort() error {
	localStatics.Lock()
	defer localStatics.Unlock()
	if localStatics.m[l.key] == l.entry {
		delete(localStatics.m, l.key)
	}
	return nil
}
