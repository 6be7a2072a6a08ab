package gitops

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-git/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) (string, *Repo) {
	t.Helper()
	dir := t.TempDir()
	_, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	r, err := Open(dir, Author{Name: "tester", Email: "tester@example.com"})
	require.NoError(t, err)
	return dir, r
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestOpenOutsideRepository(t *testing.T) {
	_, err := Open(t.TempDir(), Author{})
	assert.True(t, errors.Is(err, ErrNotRepository), "got %v", err)
}

func TestCommitAndBaseline(t *testing.T) {
	dir, r := initRepo(t)
	ctx := context.Background()

	_, present, err := r.BaselineFile("main.go")
	require.NoError(t, err)
	assert.False(t, present, "unborn HEAD has no baseline")

	hash, err := r.Commit(ctx, "nothing yet", []string{"main.go"})
	require.NoError(t, err)
	assert.Empty(t, hash, "clean worktree should not commit")

	write(t, filepath.Join(dir, "main.go"), "package main\n")
	hash, err = r.Commit(ctx, "security: add main\n\n- add main\n", []string{"main.go"})
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.Equal(t, hash, r.Head())
	assert.Equal(t, "master", r.Branch())

	data, present, err := r.BaselineFile("main.go")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "package main\n", string(data))

	write(t, filepath.Join(dir, "main.go"), "package main\n// changed\n")
	data, _, err = r.BaselineFile("main.go")
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data), "baseline reads HEAD, not the worktree")

	_, present, err = r.BaselineFile("missing.go")
	require.NoError(t, err)
	assert.False(t, present)

	subjects, err := r.Log(5)
	require.NoError(t, err)
	assert.Equal(t, []string{"security: add main"}, subjects)
}

func TestBaselineFromSubdirectory(t *testing.T) {
	dir, r := initRepo(t)
	write(t, filepath.Join(dir, "svc", "api.go"), "package svc\n")
	_, err := r.Commit(context.Background(), "add svc", []string{"svc/api.go"})
	require.NoError(t, err)

	sub, err := Open(filepath.Join(dir, "svc"), Author{})
	require.NoError(t, err)
	data, present, err := sub.BaselineFile("api.go")
	require.NoError(t, err)
	assert.True(t, present)
	assert.Equal(t, "package svc\n", string(data))
}

func TestCommitSkipsIgnoredState(t *testing.T) {
	dir, r := initRepo(t)
	write(t, filepath.Join(dir, ".patchwarden", ".gitignore"), "*\n")
	write(t, filepath.Join(dir, ".patchwarden", "ledger.sqlite"), "db")
	write(t, filepath.Join(dir, "a.go"), "package a\n")

	_, err := r.Commit(context.Background(), "add a", []string{"a.go", ".patchwarden/ledger.sqlite"})
	require.NoError(t, err)

	_, present, err := r.BaselineFile(".patchwarden/ledger.sqlite")
	require.NoError(t, err)
	assert.False(t, present)
	_, present, err = r.BaselineFile("a.go")
	require.NoError(t, err)
	assert.True(t, present)
}

func TestCommitStagesOnlyGivenPaths(t *testing.T) {
	dir, r := initRepo(t)
	ctx := context.Background()
	write(t, filepath.Join(dir, "a.go"), "package a\n")
	write(t, filepath.Join(dir, "old.go"), "package a\n")
	_, err := r.Commit(ctx, "init", []string{"a.go", "old.go"})
	require.NoError(t, err)

	write(t, filepath.Join(dir, "a.go"), "package a\n// plan edit\n")
	write(t, filepath.Join(dir, "leftover.go"), "package a\n// partial edit\n")
	require.NoError(t, os.Remove(filepath.Join(dir, "old.go")))

	hash, err := r.Commit(ctx, "perf: tidy", []string{"a.go", "old.go", "unchanged.go"})
	require.NoError(t, err)
	require.NotEmpty(t, hash)

	data, _, err := r.BaselineFile("a.go")
	require.NoError(t, err)
	assert.Equal(t, "package a\n// plan edit\n", string(data))
	_, present, err := r.BaselineFile("old.go")
	require.NoError(t, err)
	assert.False(t, present, "deletion is committed")
	_, present, err = r.BaselineFile("leftover.go")
	require.NoError(t, err)
	assert.False(t, present, "unrelated file stays out of the commit")
	assert.FileExists(t, filepath.Join(dir, "leftover.go"))

	hash, err = r.Commit(ctx, "nothing", []string{"a.go"})
	require.NoError(t, err)
	assert.Empty(t, hash)
}
