// Package gitops is the git collaborator: commits completed plans and reads the committed
// baseline of files.
package gitops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// ErrNotRepository is returned when the workspace is not inside a git repository.
var ErrNotRepository = errors.New("not a git repository")

// Author identifies the commit author.
type Author struct {
	Name  string
	Email string
}

// Repo wraps the repository containing a workspace.
type Repo struct {
	repo   *git.Repository
	root   string
	prefix string
	author Author
}

// Open finds the repository containing workDir.
func Open(workDir string, author Author) (*Repo, error) {
	abs, err := filepath.Abs(workDir)
	if err != nil {
		return nil, fmt.Errorf("resolve workdir: %w", err)
	}
	repo, err := git.PlainOpenWithOptions(abs, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, ErrNotRepository
		}
		return nil, fmt.Errorf("open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	root := wt.Filesystem.Root()
	prefix, err := filepath.Rel(resolveLinks(root), resolveLinks(abs))
	if err != nil {
		return nil, fmt.Errorf("relativize workdir: %w", err)
	}
	if prefix == "." {
		prefix = ""
	}
	if author.Name == "" {
		author.Name = "patchwarden"
	}
	if author.Email == "" {
		author.Email = "patchwarden@localhost"
	}
	return &Repo{repo: repo, root: root, prefix: filepath.ToSlash(prefix), author: author}, nil
}

// Root returns the repository worktree root.
func (r *Repo) Root() string { return r.root }

// Branch returns the current branch name, or "" on a detached or unborn HEAD.
func (r *Repo) Branch() string {
	head, err := r.repo.Head()
	if err != nil {
		return ""
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return ""
}

// Head returns the HEAD commit hash, or "" for an unborn HEAD.
func (r *Repo) Head() string {
	head, err := r.repo.Head()
	if err != nil {
		return ""
	}
	return head.Hash().String()
}

// BaselineFile returns the content of a workdir-relative path at HEAD.
func (r *Repo) BaselineFile(path string) ([]byte, bool, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("resolve HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, false, fmt.Errorf("load HEAD commit: %w", err)
	}
	name := r.repoPath(path)
	file, err := commit.File(name)
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read %s at HEAD: %w", name, err)
	}
	reader, err := file.Reader()
	if err != nil {
		return nil, false, fmt.Errorf("open %s at HEAD: %w", name, err)
	}
	defer func() {
		_ = reader.Close()
	}()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, false, fmt.Errorf("read %s at HEAD: %w", name, err)
	}
	return data, true, nil
}

// Commit stages the given workdir-relative paths and commits them. Other worktree changes are left
// alone. When none of the paths differ from HEAD the hash is empty and no commit is made.
func (r *Repo) Commit(ctx context.Context, message string, paths []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	wt, err := r.repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return "", fmt.Errorf("worktree status: %w", err)
	}
	staged := 0
	for _, p := range paths {
		if p == "" || filepath.IsAbs(p) {
			continue
		}
		name := r.repoPath(p)
		fs, ok := status[name]
		if !ok || (fs.Worktree == git.Unmodified && fs.Staging == git.Unmodified) {
			continue
		}
		if fs.Worktree == git.Deleted {
			_, err = wt.Remove(name)
		} else {
			_, err = wt.Add(name)
		}
		if err != nil {
			return "", fmt.Errorf("stage %s: %w", name, err)
		}
		staged++
	}
	if staged == 0 {
		return "", nil
	}
	hash, err := wt.Commit(strings.TrimRight(message, "\n")+"\n", &git.CommitOptions{
		Author: &object.Signature{
			Name:  r.author.Name,
			Email: r.author.Email,
			When:  time.Now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

func (r *Repo) repoPath(p string) string {
	name := filepath.ToSlash(filepath.Clean(p))
	if r.prefix != "" {
		name = r.prefix + "/" + name
	}
	return name
}

// Log returns up to limit commit subjects reachable from HEAD, newest first.
func (r *Repo) Log(limit int) ([]string, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolve HEAD: %w", err)
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("log: %w", err)
	}
	defer iter.Close()
	var out []string
	for limit <= 0 || len(out) < limit {
		c, err := iter.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("log: %w", err)
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		out = append(out, subject)
	}
	return out, nil
}

func resolveLinks(p string) string {
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		return resolved
	}
	return p
}
