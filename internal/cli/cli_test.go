package cli

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mvp-joe/tuindex/internal/git"
)

// Test Plan for the CLI:
// - index prints one summary per discovered unit, as text or JSON
// - index fails when no unit is found
// - refs resolves names and USRs and prints sorted, de-duplicated references
// - includes prints followed directives and the transitive closure
// - the root defaults to the git worktree root, and --verbose forces debug logs
// - version prints the build information
// - formatNumber inserts thousands separators

// project copies testdata/c into a temporary root with a config that adds
// the fake system include directory.
func project(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.CopyFS(dir, os.DirFS("../../testdata/c")))
	cfgDir := filepath.Join(dir, ".tuindex")
	require.NoError(t, os.MkdirAll(cfgDir, 0755))
	cfg := "compile:\n  include_dirs: [sysinclude]\nlog:\n  level: error\n"
	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "config.yml"), []byte(cfg), 0644))
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func TestIndexCommand_Text(t *testing.T) {
	t.Parallel()

	dir := project(t)
	out, _, err := run(t, "--root", dir, "index", "--quiet", "shapes")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "shapes/extra.c: 2 files,"), lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "shapes/main.c: 3 files,"), lines[1])
}

func TestIndexCommand_JSON(t *testing.T) {
	t.Parallel()

	dir := project(t)
	out, _, err := run(t, "--root", dir, "index", "--json", "shapes/main.c")
	require.NoError(t, err)

	var s unitSummary
	require.NoError(t, json.Unmarshal([]byte(out), &s))
	assert.Equal(t, "shapes/main.c", s.Unit)
	assert.Equal(t, 3, s.Files)
	assert.Equal(t, 2, s.Includes)
	assert.Positive(t, s.Entities)
	assert.Positive(t, s.References)
	assert.Zero(t, s.Skipped)
	assert.Empty(t, s.Error)
}

func TestIndexCommand_NoUnits(t *testing.T) {
	t.Parallel()

	dir := project(t)
	_, _, err := run(t, "--root", dir, "index", "--quiet", "sysinclude")
	assert.ErrorContains(t, err, "no translation units found")
}

func TestRefsCommand(t *testing.T) {
	t.Parallel()

	dir := project(t)
	out, _, err := run(t, "--root", dir, "refs", "area")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.NotEmpty(t, lines)
	assert.True(t, strings.HasPrefix(lines[0], "shapes/main.c:"), "sorted by file: %s", lines[0])
	assert.True(t, strings.HasPrefix(lines[len(lines)-1], "shapes/shapes.h:"), lines[len(lines)-1])

	var call bool
	for _, l := range lines {
		if strings.Contains(l, "reference,call") && strings.HasSuffix(l, " in main") {
			call = true
		}
	}
	assert.True(t, call, "the call from main is listed:\n%s", out)

	// shapes.h is indexed by both units; its declaration appears once.
	assert.Equal(t, 1, strings.Count(out, "shapes/shapes.h:"))

	out, _, err = run(t, "--root", dir, "refs", "--json", "c:@F@main", "shapes/main.c")
	require.NoError(t, err)
	sc := bufio.NewScanner(strings.NewReader(out))
	n := 0
	for sc.Scan() {
		var l refLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &l))
		assert.Equal(t, "c:@F@main", l.USR)
		n++
	}
	assert.Positive(t, n)

	_, _, err = run(t, "--root", dir, "refs", "no_such_symbol")
	assert.ErrorContains(t, err, "no references")
}

func TestIncludesCommand(t *testing.T) {
	t.Parallel()

	dir := project(t)
	out, _, err := run(t, "--root", dir, "includes", "shapes/main.c")
	require.NoError(t, err)
	assert.Equal(t,
		"shapes/main.c:1 -> shapes/shapes.h\nshapes/main.c:2 -> sysinclude/stdio.h\n",
		out)

	out, _, err = run(t, "--root", dir, "includes", "--closure", "shapes")
	require.NoError(t, err)
	assert.Equal(t,
		"shapes/extra.c -> shapes/shapes.h\n"+
			"shapes/main.c -> shapes/shapes.h\n"+
			"shapes/main.c -> sysinclude/stdio.h\n",
		out)
}

func TestLoadConfig_DefaultsToWorktreeRoot(t *testing.T) {
	t.Parallel()
	dir := project(t)

	opts := &rootOptions{git: &git.MockOperations{Root: dir}, verbose: true}
	rootDir, cfg, err := opts.loadConfig()
	require.NoError(t, err)
	assert.Equal(t, dir, rootDir)
	assert.Equal(t, []string{"sysinclude"}, cfg.Compile.IncludeDirs)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	out, _, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "tuindex dev")
}

func TestFormatNumber(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1,000", formatNumber(1000))
	assert.Equal(t, "1,234,567", formatNumber(1234567))
	assert.Equal(t, "-12,345", formatNumber(-12345))
}
