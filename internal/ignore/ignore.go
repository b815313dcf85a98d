// Package ignore loads the list of paths that bypass the content cache.
//
// Patterns are matched literally: a pattern matches when the path relative
// to the mirrored root starts with it, or when the last path component is
// exactly equal to it. There is no globbing.
package ignore

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
)

// DefaultFile is the sidecar file looked up in the mirrored root.
const DefaultFile = ".mirrorignore"

// Filter holds ignore patterns in file order.
type Filter struct {
	patterns []string
}

// New returns a filter for the given patterns. Empty patterns are dropped.
func New(patterns ...string) *Filter {
	f := &Filter{}
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			f.patterns = append(f.patterns, p)
		}
	}
	return f
}

// Load reads patterns from path. A missing file yields an empty filter.
func Load(fsys afero.Fs, path string) (*Filter, error) {
	file, err := fsys.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return New(), nil
		}
		return nil, fmt.Errorf("open ignore file: %w", err)
	}
	defer file.Close()

	f := New()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		f.patterns = append(f.patterns, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read ignore file %s: %w", path, err)
	}
	return f, nil
}

// Patterns returns a copy of the loaded patterns.
func (f *Filter) Patterns() []string {
	if f == nil {
		return nil
	}
	return append([]string(nil), f.patterns...)
}

// Len returns the number of patterns.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.patterns)
}

// Matches reports whether candidate, a path under root, is ignored.
func (f *Filter) Matches(root, candidate string) bool {
	if f.Len() == 0 {
		return false
	}

	rel := strings.TrimPrefix(candidate, root)
	rel = strings.TrimLeft(rel, string(filepath.Separator))
	base := filepath.Base(candidate)

	for _, p := range f.patterns {
		if strings.HasPrefix(rel, p) || base == p {
			return true
		}
	}
	return false
}
