package guardrails

import (
	"bufio"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrExcludedPath marks a change or plan that names a path under an excluded prefix.
var ErrExcludedPath = errors.New("excluded path violation")

// ExcludedPathError lists the offending paths.
type ExcludedPathError struct {
	Paths []string
}

func (e *ExcludedPathError) Error() string {
	return fmt.Sprintf("touches excluded path(s): %s", strings.Join(e.Paths, ", "))
}

func (e *ExcludedPathError) Unwrap() error { return ErrExcludedPath }

// CheckPaths returns an *ExcludedPathError when any path resolves, relative to cwd, under one of
// the absolute prefixes.
func CheckPaths(cwd string, paths []string, prefixes []string) error {
	var hits []string
	seen := make(map[string]struct{})
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" || p == "/dev/null" {
			continue
		}
		abs := absPath(cwd, p)
		if !underAny(abs, prefixes) {
			continue
		}
		if _, ok := seen[abs]; ok {
			continue
		}
		seen[abs] = struct{}{}
		hits = append(hits, p)
	}
	if len(hits) > 0 {
		return &ExcludedPathError{Paths: hits}
	}
	return nil
}

// CheckChange checks claimed files and the file headers of a patch.
func CheckChange(cwd string, claimed []string, patch string, prefixes []string) error {
	paths := append(append([]string(nil), claimed...), PatchPaths(patch)...)
	return CheckPaths(cwd, paths, prefixes)
}

// PatchPaths extracts file names from unified diff headers.
func PatchPaths(patch string) []string {
	if strings.TrimSpace(patch) == "" {
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	add := func(p string) {
		p = strings.TrimSpace(p)
		if i := strings.IndexByte(p, '\t'); i >= 0 {
			p = p[:i]
		}
		if p == "" || p == "/dev/null" {
			return
		}
		p = strings.TrimPrefix(strings.TrimPrefix(p, "a/"), "b/")
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	scanner := bufio.NewScanner(strings.NewReader(patch))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "diff --git "):
			fields := strings.Fields(strings.TrimPrefix(line, "diff --git "))
			for _, f := range fields {
				add(f)
			}
		case strings.HasPrefix(line, "--- "):
			add(strings.TrimPrefix(line, "--- "))
		case strings.HasPrefix(line, "+++ "):
			add(strings.TrimPrefix(line, "+++ "))
		}
	}
	return out
}

func underAny(abs string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		prefix = filepath.Clean(prefix)
		if abs == prefix || strings.HasPrefix(abs, prefix+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
