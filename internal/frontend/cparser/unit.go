package cparser

import (
	"fmt"
	"slices"
	"sync"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

// sourceFile is one parsed file of a unit.
type sourceFile struct {
	path string
	src  []byte
	tree *sitter.Tree
}

func closeFiles(files map[string]*sourceFile) {
	for _, sf := range files {
		if sf.tree != nil {
			sf.tree.Close()
		}
	}
}

// lookupOnly opens files from an already loaded set.
func lookupOnly(files map[string]*sourceFile) func(string) (*sourceFile, bool) {
	return func(path string) (*sourceFile, bool) {
		sf, ok := files[path]
		return sf, ok
	}
}

// translationUnit is the Parsed value produced by Frontend.
type translationUnit struct {
	owner *Frontend
	path  string
	opts  *frontend.CompileOptions

	mu        sync.RWMutex
	files     map[string]*sourceFile
	paths     []string
	suspended bool
}

func (tu *translationUnit) Path() string { return tu.path }

func (tu *translationUnit) String() string { return tu.path }

// replace installs a freshly loaded file set and resumes the unit.
func (tu *translationUnit) replace(files map[string]*sourceFile) {
	paths := make([]string, 0, len(files))
	for p := range files {
		if p != tu.path {
			paths = append(paths, p)
		}
	}
	slices.Sort(paths)
	paths = append([]string{tu.path}, paths...)

	tu.mu.Lock()
	old := tu.files
	tu.files = files
	tu.paths = paths
	tu.suspended = false
	tu.mu.Unlock()

	closeFiles(old)
}

func (tu *translationUnit) suspend() {
	tu.mu.Lock()
	old := tu.files
	tu.files = nil
	tu.suspended = true
	tu.mu.Unlock()

	closeFiles(old)
}

// checkout returns private copies of the unit's trees for one traversal.
// Trees must not be walked by two goroutines at once; clones share the
// underlying nodes and are cheap.
func (tu *translationUnit) checkout() (map[string]*sourceFile, error) {
	tu.mu.RLock()
	defer tu.mu.RUnlock()
	if tu.suspended {
		return nil, fmt.Errorf("index %s: %w", tu.path, frontend.ErrSuspended)
	}
	files := make(map[string]*sourceFile, len(tu.files))
	for p, sf := range tu.files {
		files[p] = &sourceFile{path: sf.path, src: sf.src, tree: sf.tree.Clone()}
	}
	return files, nil
}

func (tu *translationUnit) contents(path string) ([]byte, bool) {
	tu.mu.RLock()
	defer tu.mu.RUnlock()
	sf, ok := tu.files[path]
	if !ok {
		return nil, false
	}
	return sf.src, true
}

func (tu *translationUnit) filePaths() []string {
	tu.mu.RLock()
	defer tu.mu.RUnlock()
	return slices.Clone(tu.paths)
}
