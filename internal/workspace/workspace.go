package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const stateDirName = ".patchwarden"

// Workspace defines the checkout patchwarden operates on and its state paths.
type Workspace struct {
	Root         string
	ConfigPath   string
	StateDir     string
	ArtifactsDir string
	AuditDBPath  string
	LedgerPath   string
}

// Resolve expands and validates the workspace root, ensuring it exists.
func Resolve(root string) (*Workspace, error) {
	abs, err := resolveRoot(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("workspace root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace root is not a directory: %s", abs)
	}
	return newWorkspace(abs), nil
}

// EnsureDirs creates the state directory and keeps it out of version control.
func (w *Workspace) EnsureDirs() error {
	if w == nil {
		return fmt.Errorf("workspace is nil")
	}
	dirs := []string{
		w.StateDir,
		w.ArtifactsDir,
		filepath.Join(w.ArtifactsDir, "runs"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure %s: %w", dir, err)
		}
	}
	ignore := filepath.Join(w.StateDir, ".gitignore")
	if _, err := os.Stat(ignore); os.IsNotExist(err) {
		if err := os.WriteFile(ignore, []byte("*\n"), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", ignore, err)
		}
	}
	return nil
}

// ResolvePath returns an absolute path, resolving relative paths from the workspace root.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if w == nil {
		return "", fmt.Errorf("workspace is nil")
	}
	if strings.TrimSpace(path) == "" {
		return "", nil
	}
	expanded, err := expandHome(path)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return filepath.Clean(expanded), nil
	}
	return filepath.Abs(filepath.Join(w.Root, expanded))
}

// ExcludedPrefixes resolves configured exclusions to absolute prefixes.
// The state directory is always excluded.
func (w *Workspace) ExcludedPrefixes(paths []string) ([]string, error) {
	prefixes := []string{w.StateDir}
	for _, p := range paths {
		abs, err := w.ResolvePath(p)
		if err != nil {
			return nil, fmt.Errorf("resolve excluded path %q: %w", p, err)
		}
		if abs == "" {
			continue
		}
		prefixes = append(prefixes, abs)
	}
	return prefixes, nil
}

// RunDir returns the artifacts directory for a run.
func (w *Workspace) RunDir(runID string) string {
	return filepath.Join(w.ArtifactsDir, "runs", runID)
}

func newWorkspace(root string) *Workspace {
	state := filepath.Join(root, stateDirName)
	return &Workspace{
		Root:         root,
		ConfigPath:   filepath.Join(root, "patchwarden.yaml"),
		StateDir:     state,
		ArtifactsDir: filepath.Join(state, "artifacts"),
		AuditDBPath:  filepath.Join(state, "audit.sqlite"),
		LedgerPath:   filepath.Join(state, "ledger.sqlite"),
	}
}

func resolveRoot(root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return "", fmt.Errorf("workspace root is required")
	}
	expanded, err := expandHome(root)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve workspace: %w", err)
	}
	return abs, nil
}

func expandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:]), nil
	}
	return "", fmt.Errorf("unsupported home expansion: %s", path)
}
