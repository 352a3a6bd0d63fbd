package core

import (
	"fmt"
	"io/fs"

	"github.com/spf13/afero"
)

// ResourceLoader gives units read access to files such as command batches
// or calibration tables. One loader is owned by each Context.
type ResourceLoader struct {
	fs   afero.Fs
	root string
}

// NewResourceLoader returns a loader reading from fsys. A non-empty root
// confines every lookup to that directory.
func NewResourceLoader(fsys afero.Fs, root string) *ResourceLoader {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	if root != "" {
		fsys = afero.NewBasePathFs(fsys, root)
	}
	return &ResourceLoader{fs: afero.NewReadOnlyFs(fsys), root: root}
}

// DefaultResourceLoader reads from the working directory.
func DefaultResourceLoader() *ResourceLoader {
	return NewResourceLoader(afero.NewOsFs(), "")
}

// Root returns the directory lookups are confined to, or "" for none.
func (l *ResourceLoader) Root() string {
	return l.root
}

// Fs returns the read-only filesystem backing the loader.
func (l *ResourceLoader) Fs() afero.Fs {
	return l.fs
}

// Open opens the named resource.
func (l *ResourceLoader) Open(name string) (afero.File, error) {
	f, err := l.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open resource %s: %w", name, err)
	}
	return f, nil
}

// ReadFile returns the contents of the named resource.
func (l *ResourceLoader) ReadFile(name string) ([]byte, error) {
	data, err := afero.ReadFile(l.fs, name)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource %s: %w", name, err)
	}
	return data, nil
}

// Exists reports whether the named resource exists.
func (l *ResourceLoader) Exists(name string) bool {
	ok, err := afero.Exists(l.fs, name)
	return err == nil && ok
}

// Glob returns the resource names matching pattern.
func (l *ResourceLoader) Glob(pattern string) ([]string, error) {
	matches, err := afero.Glob(l.fs, pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid resource pattern %s: %w", pattern, err)
	}
	return matches, nil
}

// Walk visits every resource below dir.
func (l *ResourceLoader) Walk(dir string, fn func(path string, info fs.FileInfo, err error) error) error {
	return afero.Walk(l.fs, dir, fn)
}
