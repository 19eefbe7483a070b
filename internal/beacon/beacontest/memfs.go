// Package beacontest provides an in-memory remote filesystem for tests of the
// occupant beacon and the code built on it.
package beacontest

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/example/deskwatch/internal/beacon"
)

// MemFS is a shared in-memory filesystem. Every handle returned by Opener
// sees the same files, like several clients talking to one remote host.
type MemFS struct {
	mu          sync.Mutex
	files       map[string][]byte
	dirs        map[string]bool
	readOnly    map[string]bool
	unavailable error
	opens       int
	beforeMove  func(oldname, newname string)
}

// New returns an empty filesystem containing only "/".
func New() *MemFS {
	return &MemFS{
		files:    make(map[string][]byte),
		dirs:     map[string]bool{"/": true},
		readOnly: make(map[string]bool),
	}
}

// Opener returns a beacon.Opener backed by m.
func (m *MemFS) Opener() beacon.Opener {
	return func(ctx context.Context) (beacon.FS, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.unavailable != nil {
			return nil, m.unavailable
		}
		m.opens++
		return handle{m: m}, nil
	}
}

// SetReadOnly makes dir refuse creation and writes.
func (m *MemFS) SetReadOnly(dir string, readOnly bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readOnly[path.Clean(dir)] = readOnly
}

// SetUnavailable makes every subsequent open fail with err; nil restores it.
func (m *MemFS) SetUnavailable(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable = err
}

// BeforeRename installs a hook run between removing the old record and
// renaming the temporary file into place.
func (m *MemFS) BeforeRename(fn func(oldname, newname string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.beforeMove = fn
}

// Put stores a file directly, creating its directory.
func (m *MemFS) Put(name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAllLocked(path.Dir(name))
	m.files[path.Clean(name)] = append([]byte(nil), data...)
}

// Get returns the content of name.
func (m *MemFS) Get(name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path.Clean(name)]
	return append([]byte(nil), data...), ok
}

// Paths lists every stored file in sorted order.
func (m *MemFS) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.files))
	for p := range m.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Opens reports how many handles were opened.
func (m *MemFS) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

func (m *MemFS) mkdirAllLocked(dir string) {
	dir = path.Clean(dir)
	for dir != "/" && dir != "." {
		m.dirs[dir] = true
		dir = path.Dir(dir)
	}
}

func (m *MemFS) writableLocked(op, name string) error {
	dir := path.Dir(path.Clean(name))
	if !m.dirs[dir] {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
	}
	if m.readOnly[dir] {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrPermission}
	}
	return nil
}

type handle struct {
	m *MemFS
}

func (h handle) MkdirAll(dir string) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	dir = path.Clean(dir)
	for d := dir; d != "/" && d != "."; d = path.Dir(d) {
		if h.m.readOnly[d] || h.m.readOnly[path.Dir(d)] && !h.m.dirs[d] {
			return &fs.PathError{Op: "mkdir", Path: dir, Err: fs.ErrPermission}
		}
	}
	h.m.mkdirAllLocked(dir)
	return nil
}

func (h handle) WriteFile(name string, data []byte) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if err := h.m.writableLocked("open", name); err != nil {
		return err
	}
	h.m.files[path.Clean(name)] = append([]byte(nil), data...)
	return nil
}

func (h handle) ReadFile(name string) ([]byte, error) {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	data, ok := h.m.files[path.Clean(name)]
	if !ok {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	}
	return append([]byte(nil), data...), nil
}

func (h handle) Remove(name string) error {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	name = path.Clean(name)
	if _, ok := h.m.files[name]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}
	if err := h.m.writableLocked("remove", name); err != nil {
		return err
	}
	delete(h.m.files, name)
	return nil
}

// Rename refuses to replace an existing file, like SFTP version 3.
func (h handle) Rename(oldname, newname string) error {
	h.m.mu.Lock()
	hook := h.m.beforeMove
	h.m.mu.Unlock()
	if hook != nil {
		hook(oldname, newname)
	}

	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	oldname, newname = path.Clean(oldname), path.Clean(newname)
	data, ok := h.m.files[oldname]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldname, Err: fs.ErrNotExist}
	}
	if _, exists := h.m.files[newname]; exists {
		return &fs.PathError{Op: "rename", Path: newname, Err: fs.ErrExist}
	}
	if err := h.m.writableLocked("rename", newname); err != nil {
		return err
	}
	delete(h.m.files, oldname)
	h.m.files[newname] = data
	return nil
}

func (h handle) Close() error {
	return nil
}

// Corrupt overwrites name with content that does not decode as a record.
func (m *MemFS) Corrupt(name string) {
	m.Put(name, []byte(strings.Repeat("{", 3)))
}

// String describes the stored files, for test failure messages.
func (m *MemFS) String() string {
	return fmt.Sprintf("memfs%v", m.Paths())
}
