package intake

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
)

// ExpandPaths resolves literal paths, directories and doublestar globs
// ("scans/**/*.png") to regular files. Duplicates are removed while keeping the
// first occurrence order.
func ExpandPaths(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	add := func(p string) {
		p = filepath.Clean(p)
		if seen[p] {
			return
		}
		if info, err := os.Stat(p); err != nil || !info.Mode().IsRegular() {
			return
		}
		seen[p] = true
		out = append(out, p)
	}
	for _, pattern := range patterns {
		if info, err := os.Stat(pattern); err == nil {
			if !info.IsDir() {
				add(pattern)
				continue
			}
			pattern = filepath.Join(pattern, "**", "*")
		}
		if !doublestar.ValidatePathPattern(pattern) {
			return nil, fmt.Errorf("invalid pattern %q", pattern)
		}
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("no files match %q", pattern)
		}
		for _, m := range matches {
			add(m)
		}
	}
	return out, nil
}

// Candidates expands patterns and builds a Candidate for every file found.
func Candidates(patterns []string) ([]Candidate, error) {
	paths, err := ExpandPaths(patterns)
	if err != nil {
		return nil, err
	}
	out := make([]Candidate, 0, len(paths))
	for _, p := range paths {
		c, err := CandidateFromPath(p)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}
