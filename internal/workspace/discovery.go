package workspace

import (
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/spf13/afero"
)

// compiledPattern holds both the pattern string and compiled glob
type compiledPattern struct {
	pattern string
	glob    glob.Glob
}

// Discovery finds translation unit main files below a root directory.
type Discovery struct {
	fs      afero.Fs
	rootDir string
	sources []compiledPattern
	ignore  []compiledPattern
}

// NewDiscovery compiles the source and ignore patterns. Patterns use '/'
// separators and are matched against paths relative to rootDir.
func NewDiscovery(fs afero.Fs, rootDir string, sources, ignore []string) (*Discovery, error) {
	d := &Discovery{fs: fs, rootDir: filepath.Clean(rootDir)}

	var err error
	if d.sources, err = compilePatterns(sources); err != nil {
		return nil, err
	}
	if d.ignore, err = compilePatterns(ignore); err != nil {
		return nil, err
	}
	return d, nil
}

func compilePatterns(patterns []string) ([]compiledPattern, error) {
	out := make([]compiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, err
		}
		out = append(out, compiledPattern{pattern: pattern, glob: g})
	}
	return out, nil
}

// Root returns the directory discovery is relative to.
func (d *Discovery) Root() string { return d.rootDir }

// Discover walks dir, which must be rootDir or below it, and returns the
// matching source files sorted by path.
func (d *Discovery) Discover(dir string) ([]string, error) {
	var files []string
	err := afero.Walk(d.fs, dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, ok := d.rel(path)
		if info.IsDir() {
			if ok && rel != "." && d.shouldIgnore(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if ok && info.Mode().IsRegular() && d.matches(rel) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	slices.Sort(files)
	return files, nil
}

// Matches reports whether path names a translation unit main file.
func (d *Discovery) Matches(path string) bool {
	rel, ok := d.rel(path)
	return ok && d.matches(rel)
}

func (d *Discovery) matches(rel string) bool {
	return !d.shouldIgnore(rel) && matchesAnyPattern(rel, d.sources)
}

// rel returns path relative to the root with '/' separators. It fails for
// paths outside the root.
func (d *Discovery) rel(path string) (string, bool) {
	rel, err := filepath.Rel(d.rootDir, filepath.Clean(path))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// shouldIgnore checks if a path matches any ignore pattern.
func (d *Discovery) shouldIgnore(rel string) bool {
	// Always ignore the .tuindex directory
	if rel == ".tuindex" || strings.HasPrefix(rel, ".tuindex/") {
		return true
	}
	if matchesAnyPattern(rel, d.ignore) {
		return true
	}
	// A directory "build" matches the pattern "build/**"
	return matchesAnyPattern(rel+"/**", d.ignore)
}

// matchesAnyPattern checks if a path matches any of the given patterns. A
// file in the root also matches patterns starting with "**/", so "**/*.c"
// selects both "main.c" and "src/util.c".
func matchesAnyPattern(path string, patterns []compiledPattern) bool {
	for _, cp := range patterns {
		if cp.glob.Match(path) {
			return true
		}
	}
	if strings.Contains(path, "/") {
		return false
	}
	for _, cp := range patterns {
		if simplified, ok := strings.CutPrefix(cp.pattern, "**/"); ok {
			if g, err := glob.Compile(simplified, '/'); err == nil && g.Match(path) {
				return true
			}
		}
	}
	return false
}
