package cparser

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

var errMainFile = errors.New("main file unavailable")

// walker replays one unit in translation order. Declarations are visible
// from the point they appear, as in C, so one pass with a scope stack is
// enough to resolve identifiers.
type walker struct {
	ctx     context.Context
	open    func(path string) (*sourceFile, bool)
	out     frontend.Consumer
	logger  *slog.Logger
	dirs    []string
	defines map[string]string

	entered map[string]bool
	cur     *sourceFile
	err     error

	// scopes[0] is file scope. Tags and fields live in their own
	// namespaces, which C keeps separate from ordinary identifiers.
	scopes []map[string]frontend.EntityInfo
	tags   map[string]frontend.EntityInfo
	fields map[string][]frontend.EntityInfo

	// fn is the function whose body is being walked.
	fn *frontend.EntityInfo
}

// newWalker creates a walker. A nil logger silences diagnostics.
func newWalker(ctx context.Context, opts *frontend.CompileOptions, open func(string) (*sourceFile, bool), out frontend.Consumer, logger *slog.Logger) *walker {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &walker{
		ctx:     ctx,
		open:    open,
		out:     out,
		logger:  logger,
		defines: make(map[string]string),
		entered: make(map[string]bool),
		scopes:  []map[string]frontend.EntityInfo{{}},
		tags:    make(map[string]frontend.EntityInfo),
		fields:  make(map[string][]frontend.EntityInfo),
	}
	if opts != nil {
		w.dirs = opts.IncludeDirs
		for name, value := range opts.Defines {
			if value == "" {
				// -DNAME defines NAME as 1.
				value = "1"
			}
			w.defines[name] = value
		}
	}
	return w
}

func (w *walker) run(main string) error {
	sf, ok := w.open(main)
	if !ok {
		return errMainFile
	}
	w.out.EnteredFile(main)
	w.entered[main] = true
	w.file(sf)
	return w.err
}

// file walks the top-level items of sf.
func (w *walker) file(sf *sourceFile) {
	saved := w.cur
	w.cur = sf
	defer func() { w.cur = saved }()

	root := sf.tree.RootNode()
	for i := uint(0); i < root.NamedChildCount(); i++ {
		if w.stopped() {
			return
		}
		w.topLevel(root.NamedChild(i))
	}
}

func (w *walker) stopped() bool {
	if w.err != nil {
		return true
	}
	if err := w.ctx.Err(); err != nil {
		w.err = err
		return true
	}
	return false
}

func (w *walker) topLevel(n *sitter.Node) {
	switch n.Kind() {
	case "function_definition":
		w.functionDefinition(n)
	case "declaration":
		w.declaration(n)
	case "type_definition":
		w.typeDefinition(n)
	case "struct_specifier", "union_specifier", "enum_specifier":
		w.tag(n, "", false)
	case "linkage_specification":
		if body := n.ChildByFieldName("body"); body != nil {
			if body.Kind() == "declaration_list" {
				eachNamed(body, w.topLevel)
			} else {
				w.topLevel(body)
			}
		}
	case "ERROR":
		eachNamed(n, w.topLevel)
	case "expression_statement":
		w.node(n)
	default:
		w.preprocessor(n, w.topLevel)
	}
}

// preprocessor handles directives that may appear among items of any list.
// each is applied to the items of an active conditional branch. It reports
// whether n was a directive.
func (w *walker) preprocessor(n *sitter.Node, each func(*sitter.Node)) bool {
	switch n.Kind() {
	case "preproc_include":
		w.include(n)
	case "preproc_def":
		name := w.text(n.ChildByFieldName("name"))
		w.defines[name] = strings.TrimSpace(w.text(n.ChildByFieldName("value")))
	case "preproc_function_def":
		w.defines[w.text(n.ChildByFieldName("name"))] = ""
	case "preproc_call":
		if strings.TrimSpace(w.text(n.ChildByFieldName("directive"))) == "#undef" {
			delete(w.defines, strings.TrimSpace(w.text(n.ChildByFieldName("argument"))))
		}
	case "preproc_if", "preproc_ifdef":
		w.conditional(n, each)
	default:
		return false
	}
	return true
}

// conditional applies each to the items of the active branch of a #if,
// #ifdef or #ifndef chain.
func (w *walker) conditional(n *sitter.Node, each func(*sitter.Node)) {
	for n != nil {
		var (
			take bool
			head *sitter.Node
		)
		switch n.Kind() {
		case "preproc_ifdef", "preproc_elifdef":
			head = n.ChildByFieldName("name")
			_, defined := w.defines[w.text(head)]
			negated := false
			if first := n.Child(0); first != nil {
				negated = strings.HasSuffix(first.Kind(), "ndef")
			}
			take = defined != negated
		case "preproc_if", "preproc_elif":
			head = n.ChildByFieldName("condition")
			take = w.eval(head, 0) != 0
		case "preproc_else":
			take = true
		default:
			return
		}

		alt := n.ChildByFieldName("alternative")
		if !take {
			n = alt
			continue
		}
		for i := uint(0); i < n.NamedChildCount(); i++ {
			item := n.NamedChild(i)
			if sameNode(item, head) || sameNode(item, alt) {
				continue
			}
			if w.stopped() {
				return
			}
			each(item)
		}
		return
	}
}

// include reports a directive and descends into the header the first time
// the unit reaches it.
func (w *walker) include(n *sitter.Node) {
	pathNode := n.ChildByFieldName("path")
	if pathNode == nil {
		return
	}
	var (
		name   string
		system bool
	)
	switch pathNode.Kind() {
	case "string_literal":
		name = strings.Trim(w.text(pathNode), `"`)
	case "system_lib_string":
		name = strings.Trim(w.text(pathNode), "<>")
		system = true
	default:
		// Computed includes are not expanded.
		return
	}

	target, ok := w.resolveInclude(name, system)
	if !ok {
		w.logger.Debug("unresolved include", "file", w.cur.path, "include", name)
		return
	}
	w.out.IncludedFile(frontend.Inclusion{
		From: w.cur.path,
		To:   target.path,
		Line: int(n.StartPosition().Row) + 1,
	})
	if w.entered[target.path] {
		return
	}
	w.entered[target.path] = true
	w.file(target)
}

// resolveInclude searches the includer's directory for quoted includes and
// then the include directories.
func (w *walker) resolveInclude(name string, system bool) (*sourceFile, bool) {
	if filepath.IsAbs(name) {
		return w.open(filepath.Clean(name))
	}
	var candidates []string
	if !system {
		candidates = append(candidates, filepath.Join(filepath.Dir(w.cur.path), name))
	}
	for _, dir := range w.dirs {
		candidates = append(candidates, filepath.Join(dir, name))
	}
	for _, c := range candidates {
		if sf, ok := w.open(c); ok {
			return sf, true
		}
	}
	return nil, false
}

func (w *walker) pushScope() {
	w.scopes = append(w.scopes, map[string]frontend.EntityInfo{})
}

func (w *walker) popScope() {
	w.scopes = w.scopes[:len(w.scopes)-1]
}

// bind makes info visible under its name in the innermost scope.
func (w *walker) bind(info frontend.EntityInfo) {
	w.scopes[len(w.scopes)-1][info.Name] = info
}

func (w *walker) bindGlobal(info frontend.EntityInfo) {
	w.scopes[0][info.Name] = info
}

func (w *walker) lookup(name string) (frontend.EntityInfo, bool) {
	for i := len(w.scopes) - 1; i >= 0; i-- {
		if info, ok := w.scopes[i][name]; ok {
			return info, true
		}
	}
	return frontend.EntityInfo{}, false
}

// addField records a field for later member-access resolution.
func (w *walker) addField(info frontend.EntityInfo) {
	for _, f := range w.fields[info.Name] {
		if f.USR == info.USR {
			return
		}
	}
	w.fields[info.Name] = append(w.fields[info.Name], info)
}

func (w *walker) declare(info frontend.EntityInfo, at *sitter.Node, definition bool, container *frontend.EntityInfo) {
	w.out.Declaration(frontend.Declaration{
		Entity:       info,
		Loc:          w.loc(at),
		IsDefinition: definition,
		Container:    container,
	})
}

func (w *walker) reference(info frontend.EntityInfo, at *sitter.Node, roles frontend.SymbolRole) {
	w.out.EntityReference(frontend.EntityReference{
		Entity: info,
		Loc:    w.loc(at),
		Roles:  frontend.RoleReference | roles,
		Parent: w.fn,
	})
}

func (w *walker) loc(n *sitter.Node) frontend.Location {
	p := n.StartPosition()
	return frontend.Location{File: w.cur.path, Line: int(p.Row) + 1, Col: int(p.Column) + 1}
}

func (w *walker) text(n *sitter.Node) string {
	return nodeText(n, w.cur.src)
}

// nodeText extracts the text content of a tree-sitter node.
func nodeText(n *sitter.Node, src []byte) string {
	if n == nil {
		return ""
	}
	return n.Utf8Text(src)
}

func eachNamed(n *sitter.Node, fn func(*sitter.Node)) {
	for i := uint(0); i < n.NamedChildCount(); i++ {
		fn(n.NamedChild(i))
	}
}

func sameNode(a, b *sitter.Node) bool {
	return a != nil && b != nil && a.Id() == b.Id()
}
