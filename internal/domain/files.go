package domain

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// FolderSpec maps archive root names to source directories. Exclude holds
// archive-relative paths such as "files/cache".
type FolderSpec struct {
	Folders map[string]string
	Exclude []string
}

// Keys returns the archive roots in a stable order.
func (f FolderSpec) Keys() []string {
	keys := make([]string, 0, len(f.Folders))
	for k := range f.Folders {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f FolderSpec) Validate() error {
	for k, dir := range f.Folders {
		if strings.Trim(k, "/") == "" {
			return fmt.Errorf("folder key for %q is empty", dir)
		}
		if dir == "" {
			return fmt.Errorf("folder %q has no source directory", k)
		}
	}
	return nil
}

// Excluded reports whether archivePath equals or lies below an excluded
// path. Matching is on whole path components.
func (f FolderSpec) Excluded(archivePath string) bool {
	p := path.Clean(strings.TrimPrefix(archivePath, "/"))
	for _, ex := range f.Exclude {
		ex = path.Clean(strings.Trim(ex, "/"))
		if ex == "." || ex == "" {
			continue
		}
		if p == ex || strings.HasPrefix(p, ex+"/") {
			return true
		}
	}
	return false
}
