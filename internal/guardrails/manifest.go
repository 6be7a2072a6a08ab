package guardrails

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Manifest records the content digest of every file under a root at one point in time.
type Manifest struct {
	root  string
	skip  []string
	files map[string]string
}

// ReadManifest walks root and hashes every file outside .git and the skipped absolute prefixes.
func ReadManifest(ctx context.Context, root string, skip []string) (*Manifest, error) {
	root = filepath.Clean(root)
	m := &Manifest{
		root:  root,
		skip:  append([]string{filepath.Join(root, ".git")}, skip...),
		files: make(map[string]string),
	}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path != root {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != root && underAny(path, m.skip) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			return nil
		}
		digest, ok, err := hashFile(path)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		m.files[filepath.ToSlash(rel)] = digest
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return m, nil
}

// Lookup reports the digest of path at manifest time. known is false for paths the manifest
// did not cover: outside the root, under .git or under a skipped prefix.
func (m *Manifest) Lookup(path string) (digest string, present, known bool) {
	if m == nil {
		return "", false, false
	}
	key := NormalizePath(m.root, path)
	if key == "" || filepath.IsAbs(key) || underAny(absPath(m.root, key), m.skip) {
		return "", false, false
	}
	digest, present = m.files[key]
	return digest, present, true
}

// Len returns the number of files recorded.
func (m *Manifest) Len() int {
	if m == nil {
		return 0
	}
	return len(m.files)
}

// Digest returns the hex sha256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// hashFile follows symlinks; dangling links and links to directories are skipped.
func hashFile(path string) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	info, err := f.Stat()
	if err != nil {
		return "", false, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return "", false, nil
	}
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false, fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), true, nil
}

// Restore writes every captured state in snap back to disk under cwd: present files get their
// content back and absent files are removed. Entries whose content was never captured are
// returned in skipped.
func Restore(cwd string, snap Snapshot) (restored, skipped []string, err error) {
	for _, p := range snap.Paths() {
		st := snap[p]
		if st.Uncaptured {
			skipped = append(skipped, p)
			continue
		}
		full := absPath(cwd, p)
		if !st.Present {
			if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
				return restored, skipped, fmt.Errorf("remove %s: %w", p, err)
			}
			restored = append(restored, p)
			continue
		}
		mode := os.FileMode(0o644)
		if info, err := os.Stat(full); err == nil {
			mode = info.Mode().Perm()
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return restored, skipped, fmt.Errorf("ensure dir for %s: %w", p, err)
		}
		if err := os.WriteFile(full, st.Content, mode); err != nil {
			return restored, skipped, fmt.Errorf("restore %s: %w", p, err)
		}
		restored = append(restored, p)
	}
	return restored, skipped, nil
}
