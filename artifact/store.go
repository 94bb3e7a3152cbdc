package artifact

import (
	"os"
	"path/filepath"
)

// Store answers "is this unit of work already done?" by looking for the
// canonical artifact file. It never writes and never locks; callers re-check
// after taking the task lock.
type Store struct {
	dir          string
	downloadExts []string
}

func NewStore(dir string, downloadExts []string) *Store {
	exts := make([]string, len(downloadExts))
	copy(exts, downloadExts)
	return &Store{dir: filepath.Clean(dir), downloadExts: exts}
}

func (s *Store) Dir() string { return s.dir }

// Extensions returns the ordered extensions probed for the key's kind.
func (s *Store) Extensions(key Key) []string {
	if key.Kind() == KindTransform {
		return []string{TransformExt}
	}
	return s.downloadExts
}

// Path builds the canonical artifact path for key with extension ext.
func (s *Store) Path(key Key, ext string) string {
	return filepath.Join(s.dir, key.BaseName()+ext)
}

// Stem is the canonical path without extension, the shape expected by
// output templates that append their own extension.
func (s *Store) Stem(key Key) string {
	return filepath.Join(s.dir, key.BaseName())
}

func (s *Store) LockPath(key Key) string {
	return filepath.Join(s.dir, key.LockName())
}

// Lookup returns the first existing artifact for key, in extension order.
func (s *Store) Lookup(key Key) (string, bool) {
	for _, ext := range s.Extensions(key) {
		candidate := s.Path(key, ext)
		if isRegularFile(candidate) {
			return candidate, true
		}
	}
	return "", false
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}
