// Package git locates the repository a project lives in.
package git

import (
	"os/exec"
	"path/filepath"
	"strings"
)

// Operations defines the git queries tuindex needs.
// This allows mocking git commands in tests.
type Operations interface {
	// WorktreeRoot returns the top-level directory of the worktree
	// containing dir. Returns dir itself when dir is not inside a
	// repository or git is unavailable.
	WorktreeRoot(dir string) string
}

type gitOps struct{}

// NewOperations returns Operations backed by the git binary.
func NewOperations() Operations {
	return &gitOps{}
}

func (g *gitOps) WorktreeRoot(dir string) string {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	cmd.Dir = dir
	output, err := cmd.Output()
	if err != nil {
		return dir
	}
	root := strings.TrimSpace(string(output))
	if root == "" {
		return dir
	}
	return filepath.Clean(root)
}

// MockOperations is a fixed Operations for tests.
type MockOperations struct {
	Root string
}

func (m *MockOperations) WorktreeRoot(dir string) string {
	if m.Root == "" {
		return dir
	}
	return m.Root
}
