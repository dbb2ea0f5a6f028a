// Package staticfiles resolves logical static file names against a list of
// source directories, first match wins.
package staticfiles

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// FileSystemFinder searches a fixed list of directories.
type FileSystemFinder struct {
	dirs []string
}

// NewFileSystemFinder creates a finder over dirs. Relative directories are
// made absolute against the working directory; unusable ones are skipped.
func NewFileSystemFinder(dirs ...string) *FileSystemFinder {
	f := &FileSystemFinder{}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Skipping static directory")
			continue
		}
		f.dirs = append(f.dirs, abs)
	}
	return f
}

// Dirs returns the searched directories in order.
func (f *FileSystemFinder) Dirs() []string {
	return append([]string(nil), f.dirs...)
}

// Find returns the absolute path of the first regular file matching name.
// Names that escape their directory are rejected.
func (f *FileSystemFinder) Find(name string) (string, bool) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(name, "/")))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", false
	}

	for _, dir := range f.dirs {
		candidate := filepath.Join(dir, clean)
		info, err := os.Stat(candidate)
		if err != nil || info.IsDir() {
			continue
		}
		return candidate, true
	}
	return "", false
}
