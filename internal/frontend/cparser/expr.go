package cparser

import (
	"strconv"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

// node walks statements and expressions inside function bodies and
// initializers.
func (w *walker) node(n *sitter.Node) {
	if n == nil || w.err != nil {
		return
	}
	switch n.Kind() {
	case "compound_statement", "for_statement":
		w.pushScope()
		eachNamed(n, w.node)
		w.popScope()
	case "declaration":
		w.declaration(n)
	case "type_definition":
		w.typeDefinition(n)
	case "struct_specifier", "union_specifier", "enum_specifier":
		w.tag(n, "", false)
	case "type_identifier":
		w.typeReference(n)
	case "type_descriptor":
		w.typeSpecifier(n.ChildByFieldName("type"), "", false)
	case "identifier", "call_expression", "assignment_expression",
		"update_expression", "pointer_expression", "field_expression",
		"parenthesized_expression", "subscript_expression",
		"cast_expression", "sizeof_expression":
		w.expr(n, frontend.RoleRead)
	case "statement_identifier", "field_identifier", "primitive_type",
		"string_literal", "concatenated_string", "char_literal",
		"number_literal", "comment", "true", "false", "null":
	default:
		if w.preprocessor(n, w.node) {
			return
		}
		eachNamed(n, w.node)
	}
}

// expr walks an expression whose value is used with the given roles.
func (w *walker) expr(n *sitter.Node, roles frontend.SymbolRole) {
	if n == nil {
		return
	}
	switch n.Kind() {
	case "identifier":
		if info, ok := w.lookup(w.text(n)); ok && info.Kind != frontend.KindTypedef {
			w.reference(info, n, roles)
		}

	case "call_expression":
		w.callee(n.ChildByFieldName("function"))
		if args := n.ChildByFieldName("arguments"); args != nil {
			eachNamed(args, func(a *sitter.Node) { w.expr(a, frontend.RoleRead) })
		}

	case "assignment_expression":
		left := frontend.RoleWrite
		if op := n.ChildByFieldName("operator"); op != nil && op.Kind() != "=" {
			left |= frontend.RoleRead
		}
		w.expr(n.ChildByFieldName("left"), left)
		w.expr(n.ChildByFieldName("right"), frontend.RoleRead)

	case "update_expression":
		w.expr(n.ChildByFieldName("argument"), frontend.RoleRead|frontend.RoleWrite)

	case "pointer_expression":
		arg := n.ChildByFieldName("argument")
		if op := n.ChildByFieldName("operator"); op != nil && op.Kind() == "&" {
			w.expr(arg, frontend.RoleAddressOf)
		} else {
			w.expr(arg, frontend.RoleRead)
		}

	case "field_expression":
		w.expr(n.ChildByFieldName("argument"), frontend.RoleRead)
		if field := n.ChildByFieldName("field"); field != nil {
			// Without type information a member is resolved only when
			// exactly one known field has its name.
			if candidates := w.fields[w.text(field)]; len(candidates) == 1 {
				w.reference(candidates[0], field, roles)
			}
		}

	case "parenthesized_expression":
		eachNamed(n, func(c *sitter.Node) { w.expr(c, roles) })

	case "subscript_expression":
		w.expr(n.ChildByFieldName("argument"), roles)
		w.expr(n.ChildByFieldName("index"), frontend.RoleRead)

	case "cast_expression":
		w.node(n.ChildByFieldName("type"))
		w.expr(n.ChildByFieldName("value"), roles)

	case "sizeof_expression":
		// The operand is not evaluated.
		if t := n.ChildByFieldName("type"); t != nil {
			w.node(t)
		}
		w.expr(n.ChildByFieldName("value"), 0)

	default:
		w.node(n)
	}
}

func (w *walker) callee(n *sitter.Node) {
	if n == nil || n.Kind() != "identifier" {
		w.expr(n, frontend.RoleRead)
		return
	}
	name := w.text(n)
	info, ok := w.lookup(name)
	if !ok {
		if _, macro := w.defines[name]; macro {
			return
		}
		// Implicit declaration, or a prototype from a header that was
		// not found.
		info = frontend.EntityInfo{
			Kind:        frontend.KindFunction,
			Name:        name,
			USR:         usrFunction(w.cur.path, name, false),
			DisplayName: name,
		}
	}
	w.reference(info, n, frontend.RoleCall)
}

// eval computes the value of a #if condition. Unknown identifiers are 0.
func (w *walker) eval(n *sitter.Node, depth int) int64 {
	if n == nil || depth > 64 {
		return 0
	}
	switch n.Kind() {
	case "number_literal":
		return parseInt(w.text(n))
	case "char_literal":
		s := strings.Trim(w.text(n), "'")
		if v, _, _, err := strconv.UnquoteChar(s, '\''); err == nil {
			return int64(v)
		}
		return 0
	case "identifier":
		return w.macroValue(w.text(n), 0)
	case "preproc_defined":
		for i := uint(0); i < n.NamedChildCount(); i++ {
			if id := n.NamedChild(i); id.Kind() == "identifier" {
				if _, ok := w.defines[w.text(id)]; ok {
					return 1
				}
				return 0
			}
		}
		return 0
	case "parenthesized_expression":
		if n.NamedChildCount() == 0 {
			return 0
		}
		return w.eval(n.NamedChild(0), depth+1)
	case "unary_expression":
		v := w.eval(n.ChildByFieldName("argument"), depth+1)
		switch w.operator(n) {
		case "!":
			return boolInt(v == 0)
		case "-":
			return -v
		case "~":
			return ^v
		}
		return v
	case "binary_expression":
		return w.binary(n, depth)
	case "conditional_expression":
		if w.eval(n.ChildByFieldName("condition"), depth+1) != 0 {
			return w.eval(n.ChildByFieldName("consequence"), depth+1)
		}
		return w.eval(n.ChildByFieldName("alternative"), depth+1)
	}
	return 0
}

func (w *walker) binary(n *sitter.Node, depth int) int64 {
	op := w.operator(n)
	l := w.eval(n.ChildByFieldName("left"), depth+1)
	switch op {
	case "&&":
		if l == 0 {
			return 0
		}
		return boolInt(w.eval(n.ChildByFieldName("right"), depth+1) != 0)
	case "||":
		if l != 0 {
			return 1
		}
		return boolInt(w.eval(n.ChildByFieldName("right"), depth+1) != 0)
	}

	r := w.eval(n.ChildByFieldName("right"), depth+1)
	switch op {
	case "==":
		return boolInt(l == r)
	case "!=":
		return boolInt(l != r)
	case "<":
		return boolInt(l < r)
	case "<=":
		return boolInt(l <= r)
	case ">":
		return boolInt(l > r)
	case ">=":
		return boolInt(l >= r)
	case "+":
		return l + r
	case "-":
		return l - r
	case "*":
		return l * r
	case "/":
		if r == 0 {
			return 0
		}
		return l / r
	case "%":
		if r == 0 {
			return 0
		}
		return l % r
	case "&":
		return l & r
	case "|":
		return l | r
	case "^":
		return l ^ r
	case "<<":
		return l << uint64(r&63)
	case ">>":
		return l >> uint64(r&63)
	}
	return 0
}

func (w *walker) operator(n *sitter.Node) string {
	if op := n.ChildByFieldName("operator"); op != nil {
		return op.Kind()
	}
	return ""
}

// macroValue expands an object-like macro whose body is a number or the
// name of another macro.
func (w *walker) macroValue(name string, depth int) int64 {
	v, ok := w.defines[name]
	if !ok || depth > 8 {
		return 0
	}
	v = strings.TrimSpace(v)
	for strings.HasPrefix(v, "(") && strings.HasSuffix(v, ")") {
		v = strings.TrimSpace(v[1 : len(v)-1])
	}
	if v == "" {
		return 0
	}
	if c := v[0]; c >= '0' && c <= '9' || c == '-' {
		return parseInt(v)
	}
	return w.macroValue(v, depth+1)
}

// parseInt parses a C integer literal, ignoring suffixes.
func parseInt(s string) int64 {
	s = strings.TrimRight(strings.TrimSpace(s), "uUlL")
	v, err := strconv.ParseInt(s, 0, 64)
	if err != nil {
		if u, uerr := strconv.ParseUint(s, 0, 64); uerr == nil {
			return int64(u)
		}
		return 0
	}
	return v
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
