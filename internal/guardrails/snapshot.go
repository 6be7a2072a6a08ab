package guardrails

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// FileState is the content of one file at snapshot time.
type FileState struct {
	Content []byte
	Present bool
	// Uncaptured marks a file that existed but whose content was not read in time.
	Uncaptured bool
}

// Snapshot maps workspace-relative paths to their state.
type Snapshot map[string]FileState

// Paths returns the snapshot keys in sorted order.
func (s Snapshot) Paths() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Merge returns a new snapshot holding s overlaid with other. Existing entries in s win, so the
// earliest captured state of a file is kept.
func (s Snapshot) Merge(other Snapshot) Snapshot {
	out := make(Snapshot, len(s)+len(other))
	for p, st := range other {
		out[p] = st
	}
	for p, st := range s {
		out[p] = st
	}
	return out
}

// Snapshotter reads file contents for change detection.
type Snapshotter interface {
	Read(ctx context.Context, cwd string, paths []string) (Snapshot, error)
	Manifest(ctx context.Context, cwd string, skip []string) (*Manifest, error)
}

// BaselineReader returns the committed content of a workspace-relative path.
type BaselineReader interface {
	BaselineFile(path string) ([]byte, bool, error)
}

// FileSnapshotter reads files straight from disk.
type FileSnapshotter struct{}

func (FileSnapshotter) Read(ctx context.Context, cwd string, paths []string) (Snapshot, error) {
	snap := make(Snapshot, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		key := NormalizePath(cwd, p)
		if key == "" {
			continue
		}
		if _, ok := snap[key]; ok {
			continue
		}
		data, err := os.ReadFile(absPath(cwd, key))
		switch {
		case err == nil:
			snap[key] = FileState{Content: data, Present: true}
		case os.IsNotExist(err):
			snap[key] = FileState{}
		default:
			return nil, fmt.Errorf("snapshot %s: %w", key, err)
		}
	}
	return snap, nil
}

// Manifest hashes the whole tree under cwd.
func (FileSnapshotter) Manifest(ctx context.Context, cwd string, skip []string) (*Manifest, error) {
	return ReadManifest(ctx, cwd, skip)
}

// NormalizePath returns p relative to cwd in slash form. Paths outside cwd stay absolute.
func NormalizePath(cwd, p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	abs := absPath(cwd, p)
	rel, err := filepath.Rel(cwd, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return abs
	}
	return filepath.ToSlash(rel)
}

func absPath(cwd, p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(cwd, filepath.FromSlash(p))
}

// ChangedFiles reports which claimed paths differ from their state in prior, the manifest taken
// before the turn. Paths prior does not cover are returned in unverified and never count as
// changed.
func ChangedFiles(cwd string, prior *Manifest, after Snapshot, claimed []string) (changed, unverified []string) {
	seen := make(map[string]struct{})
	for _, c := range claimed {
		p := NormalizePath(cwd, c)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}

		post, ok := after[p]
		if !ok {
			unverified = append(unverified, p)
			continue
		}
		digest, present, known := prior.Lookup(p)
		if !known {
			unverified = append(unverified, p)
			continue
		}
		if present != post.Present || (present && digest != Digest(post.Content)) {
			changed = append(changed, p)
		}
	}
	return changed, unverified
}

// UnifiedDiff renders a git-style unified diff for the given paths.
func UnifiedDiff(before, after Snapshot, paths []string) (string, error) {
	var parts []string
	for _, p := range paths {
		pre, post := before[p], after[p]
		if !pre.Uncaptured && pre.Present == post.Present && bytes.Equal(pre.Content, post.Content) {
			continue
		}
		from, to := "a/"+p, "b/"+p
		header := "diff --git a/" + p + " b/" + p + "\n"
		if pre.Uncaptured {
			header += "# previous content was not captured\n"
		}
		if !pre.Present && !pre.Uncaptured {
			from = "/dev/null"
		}
		if !post.Present {
			to = "/dev/null"
		}
		diff := difflib.UnifiedDiff{
			A:        difflib.SplitLines(string(pre.Content)),
			B:        difflib.SplitLines(string(post.Content)),
			FromFile: from,
			ToFile:   to,
			Context:  3,
		}
		text, err := difflib.GetUnifiedDiffString(diff)
		if err != nil {
			return "", fmt.Errorf("diff %s: %w", p, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, header+text)
	}
	return strings.Join(parts, ""), nil
}
