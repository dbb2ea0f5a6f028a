package webpack

import (
	"os"
	"path/filepath"
)

// Finder locates a logical static file name on disk.
type Finder interface {
	Find(name string) (string, bool)
}

// Resolver turns a config reference (absolute path or logical static name)
// into the absolute path of an existing file.
type Resolver struct {
	finder Finder
	stat   func(string) (os.FileInfo, error)
}

// NewResolver creates a resolver. finder may be nil, in which case only
// absolute references can be resolved.
func NewResolver(finder Finder) *Resolver {
	return &Resolver{finder: finder, stat: os.Stat}
}

// Resolve returns the absolute path for ref or a *ConfigNotFoundError.
func (r *Resolver) Resolve(ref string) (string, error) {
	path := ref
	if !filepath.IsAbs(ref) {
		if r.finder == nil {
			return "", &ConfigNotFoundError{Ref: ref}
		}
		found, ok := r.finder.Find(ref)
		if !ok || found == "" {
			return "", &ConfigNotFoundError{Ref: ref}
		}
		path = found
	}

	info, err := r.stat(path)
	if err != nil || info.IsDir() {
		return "", &ConfigNotFoundError{Ref: ref}
	}
	return path, nil
}
