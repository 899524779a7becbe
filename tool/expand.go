package tool

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Expand evaluates ordered file patterns relative to dir and returns the
// matching files. A pattern starting with "!" removes earlier matches.
// Results are slash-separated, relative to dir (absolute patterns stay
// absolute), de-duplicated and sorted. Patterns matching nothing are
// dropped silently.
func Expand(dir string, patterns []string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	fsys := os.DirFS(dir)
	matched := make(map[string]struct{})

	for _, raw := range patterns {
		pattern := strings.TrimSpace(raw)
		if pattern == "" {
			continue
		}

		if exclude, ok := strings.CutPrefix(pattern, "!"); ok {
			exclude = filepath.ToSlash(exclude)
			for file := range matched {
				if hit, _ := doublestar.Match(exclude, file); hit {
					delete(matched, file)
				}
			}
			continue
		}

		var files []string
		var err error
		if filepath.IsAbs(pattern) {
			files, err = doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
			for i := range files {
				files[i] = filepath.ToSlash(files[i])
			}
		} else {
			files, err = doublestar.Glob(fsys, filepath.ToSlash(pattern), doublestar.WithFilesOnly())
		}
		if err != nil {
			return nil, fmt.Errorf("expanding %q: %w", pattern, err)
		}
		for _, file := range files {
			matched[file] = struct{}{}
		}
	}

	out := make([]string, 0, len(matched))
	for file := range matched {
		out = append(out, file)
	}
	sort.Strings(out)
	return out, nil
}
