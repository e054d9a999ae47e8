// Package safefile guards cache files against deletion while they are being
// read. A file stays on disk until it is marked for deletion AND every read
// handle opened through the same Registry has been released.
//
// Handles are released by Close (use it with defer). A handle that is dropped
// without Close is released by a runtime cleanup once the GC collects it;
// that path exists so a forgotten handle cannot pin a file forever, not as
// the primary release mechanism.
package safefile

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Options configure a Registry.
type Options struct {
	// OnDelete, when set, is called after a deferred deletion runs on the
	// last Close. Synchronous deletions report to the Delete caller instead.
	// err is nil on success. It runs without registry locks held.
	OnDelete func(path string, err error)
}

// Registry tracks open handles and pending deletions per path. The zero value
// is not usable; call New.
type Registry struct {
	mu    sync.Mutex
	files map[string]*state
	opt   Options
}

type state struct {
	open    int
	pending bool
	// marked is the file that was on disk when the deletion was deferred.
	// A different file renamed onto the path since then is left alone.
	marked fs.FileInfo
}

// New returns an empty Registry.
func New(opt Options) *Registry {
	return &Registry{files: make(map[string]*state), opt: opt}
}

// File returns the guard for path.
func (r *Registry) File(path string) *File {
	return &File{r: r, path: filepath.Clean(path)}
}

// Open opens path for reading and counts the handle.
func (r *Registry) Open(path string) (*Handle, error) {
	path = filepath.Clean(path)

	r.mu.Lock()
	r.stateOf(path).open++
	r.mu.Unlock()

	f, err := os.Open(path)
	if err != nil {
		r.release(path)
		return nil, err
	}
	rel := &release{r: r, path: path}
	h := &Handle{File: f, rel: rel}
	h.cleanup = runtime.AddCleanup(h, func(rel *release) { rel.do() }, rel)
	return h, nil
}

// Delete marks path for deletion and removes it right away when no handle is
// open. It reports whether the file was removed synchronously; false with a
// nil error means the deletion is deferred to the last Close.
// A file that is already gone counts as deleted.
//
// A deferred deletion is bound to the file present now, not to the path: if
// the path is replaced before the last Close, the replacement survives.
func (r *Registry) Delete(path string) (bool, error) {
	path = filepath.Clean(path)

	r.mu.Lock()
	st := r.stateOf(path)
	if st.open > 0 {
		info, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			st.pending, st.marked = false, nil
			r.mu.Unlock()
			return true, nil
		}
		// On a stat error the path is deleted whatever it holds at Close.
		st.pending, st.marked = true, info
		r.mu.Unlock()
		return false, nil
	}
	delete(r.files, path)
	err := remove(path)
	r.mu.Unlock()

	if err != nil {
		return false, err
	}
	return true, nil
}

// Cancel withdraws a pending deletion of path. It reports whether one was
// pending. Used when a path is rewritten while an old reader still holds it.
func (r *Registry) Cancel(path string) bool {
	path = filepath.Clean(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.files[path]
	if !ok || !st.pending {
		return false
	}
	st.pending, st.marked = false, nil
	r.gc(path, st)
	return true
}

// Pending reports whether path is marked for deletion.
func (r *Registry) Pending(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.files[filepath.Clean(path)]
	return ok && st.pending
}

// OpenCount returns the number of unreleased handles on path.
func (r *Registry) OpenCount(path string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.files[filepath.Clean(path)]; ok {
		return st.open
	}
	return 0
}

func (r *Registry) release(path string) {
	r.mu.Lock()
	st, ok := r.files[path]
	if !ok {
		r.mu.Unlock()
		return
	}
	if st.open > 0 {
		st.open--
	}
	if st.open > 0 || !st.pending {
		r.gc(path, st)
		r.mu.Unlock()
		return
	}
	delete(r.files, path)
	if st.marked != nil && replaced(path, st.marked) {
		r.mu.Unlock()
		return
	}
	err := remove(path)
	r.mu.Unlock()

	r.notify(path, err)
}

// replaced reports whether path now holds a different file than marked.
func replaced(path string, marked fs.FileInfo) bool {
	cur, err := os.Stat(path)
	return err == nil && !os.SameFile(cur, marked)
}

// gc drops bookkeeping for an idle path. Caller holds r.mu.
func (r *Registry) gc(path string, st *state) {
	if st.open == 0 && !st.pending {
		delete(r.files, path)
	}
}

// stateOf returns the state for path, creating it. Caller holds r.mu.
func (r *Registry) stateOf(path string) *state {
	st, ok := r.files[path]
	if !ok {
		st = &state{}
		r.files[path] = st
	}
	return st
}

func (r *Registry) notify(path string, err error) {
	if r.opt.OnDelete != nil {
		r.opt.OnDelete(path, err)
	}
}

func remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// File is a path guarded by a Registry.
type File struct {
	r    *Registry
	path string
}

// Path returns the cleaned path.
func (f *File) Path() string { return f.path }

// Open opens the file for reading through the registry.
func (f *File) Open() (*Handle, error) { return f.r.Open(f.path) }

// Delete marks the file for deletion; see Registry.Delete.
func (f *File) Delete() (bool, error) { return f.r.Delete(f.path) }

// Exists reports whether the file is present on disk.
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// List returns the children of a directory, each wrapped by the same
// registry, so the deletion guard holds across a whole tree.
func (f *File) List() ([]*File, error) {
	entries, err := os.ReadDir(f.path)
	if err != nil {
		return nil, err
	}
	out := make([]*File, 0, len(entries))
	for _, e := range entries {
		out = append(out, f.r.File(filepath.Join(f.path, e.Name())))
	}
	return out, nil
}

// Handle is an open read handle. Close releases it exactly once.
type Handle struct {
	*os.File
	rel     *release
	cleanup runtime.Cleanup
}

// Close closes the file and releases the handle, performing a pending
// deletion if this was the last one.
func (h *Handle) Close() error {
	h.cleanup.Stop()
	err := h.File.Close()
	h.rel.do()
	return err
}

type release struct {
	r    *Registry
	path string
	once sync.Once
}

func (rel *release) do() {
	rel.once.Do(func() { rel.r.release(rel.path) })
}
