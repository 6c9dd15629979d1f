package git

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Integration tests for the git-backed implementation. They run real git
// commands and are skipped when git is not installed.

func TestWorktreeRoot(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	ops := NewOperations()

	t.Run("nested directory resolves to top level", func(t *testing.T) {
		dir := createTestGitRepo(t)
		nested := filepath.Join(dir, "src", "lib")
		require.NoError(t, os.MkdirAll(nested, 0755))

		want, err := filepath.EvalSymlinks(dir)
		require.NoError(t, err)
		got, err := filepath.EvalSymlinks(ops.WorktreeRoot(nested))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("outside a repository returns dir", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("GIT_CEILING_DIRECTORIES", filepath.Dir(dir))
		assert.Equal(t, dir, ops.WorktreeRoot(dir))
	})
}

func TestMockOperations(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "/work", (&MockOperations{}).WorktreeRoot("/work"))
	assert.Equal(t, "/repo", (&MockOperations{Root: "/repo"}).WorktreeRoot("/repo/sub"))
}

func createTestGitRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	cmd := exec.Command("git", "init", "-b", "main")
	cmd.Dir = dir
	require.NoError(t, cmd.Run(), "git init failed")
	return dir
}
