package cparser

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"

	"github.com/mvp-joe/tuindex/internal/frontend"
)

// Named children of a declaration that are not declarators.
var declarationModifiers = map[string]bool{
	"storage_class_specifier": true,
	"type_qualifier":          true,
	"attribute_specifier":     true,
	"attribute_declaration":   true,
	"ms_declspec_modifier":    true,
	"gnu_asm_expression":      true,
	"comment":                 true,
}

// declarators returns the declarator children of a declaration-like node.
func declarators(n, typ *sitter.Node) []*sitter.Node {
	var out []*sitter.Node
	for i := uint(0); i < n.NamedChildCount(); i++ {
		child := n.NamedChild(i)
		if sameNode(child, typ) || declarationModifiers[child.Kind()] {
			continue
		}
		out = append(out, child)
	}
	return out
}

// storage collects the storage class keywords of a declaration.
func (w *walker) storage(n *sitter.Node) map[string]bool {
	s := make(map[string]bool)
	for i := uint(0); i < n.ChildCount(); i++ {
		child := n.Child(i)
		if child.Kind() == "storage_class_specifier" {
			s[strings.TrimSpace(w.text(child))] = true
		}
	}
	return s
}

// innerDeclarator steps one level into a wrapping declarator.
func innerDeclarator(d *sitter.Node) *sitter.Node {
	if inner := d.ChildByFieldName("declarator"); inner != nil {
		return inner
	}
	switch d.Kind() {
	case "parenthesized_declarator", "attributed_declarator":
		for i := uint(0); i < d.NamedChildCount(); i++ {
			child := d.NamedChild(i)
			if child.Kind() != "ms_call_modifier" && child.Kind() != "attribute_declaration" {
				return child
			}
		}
	}
	return nil
}

// declaredName finds the identifier a declarator introduces.
func declaredName(d *sitter.Node) *sitter.Node {
	for d != nil {
		switch d.Kind() {
		case "identifier", "field_identifier", "type_identifier":
			return d
		}
		d = innerDeclarator(d)
	}
	return nil
}

// functionDeclarator returns the function_declarator of a function
// declaration. Declarators of function pointers are not functions.
func functionDeclarator(d *sitter.Node) *sitter.Node {
	for d != nil {
		switch d.Kind() {
		case "function_declarator":
			if inner := d.ChildByFieldName("declarator"); inner != nil && inner.Kind() == "identifier" {
				return d
			}
			return nil
		case "pointer_declarator", "attributed_declarator":
			d = innerDeclarator(d)
		default:
			return nil
		}
	}
	return nil
}

func (w *walker) functionInfo(name *sitter.Node, params *sitter.Node, static bool) frontend.EntityInfo {
	n := w.text(name)
	usr := usrFunction(w.cur.path, n, static)
	if prev, ok := w.scopes[0][n]; ok && prev.Kind == frontend.KindFunction {
		// A later declaration keeps the linkage of the first one.
		usr = prev.USR
	}
	return frontend.EntityInfo{
		Kind:        frontend.KindFunction,
		Name:        n,
		USR:         usr,
		DisplayName: w.signature(n, params),
	}
}

func functionTraits(storage map[string]bool) frontend.Traits {
	var t frontend.Traits
	if storage["static"] {
		t |= frontend.TraitStatic
	}
	if storage["inline"] {
		t |= frontend.TraitInline
	}
	return t
}

func (w *walker) functionDefinition(n *sitter.Node) {
	fd := functionDeclarator(n.ChildByFieldName("declarator"))
	if fd == nil {
		return
	}
	w.typeSpecifier(n.ChildByFieldName("type"), "", false)

	storage := w.storage(n)
	name := fd.ChildByFieldName("declarator")
	params := fd.ChildByFieldName("parameters")
	info := w.functionInfo(name, params, storage["static"])
	info.Traits = functionTraits(storage)
	w.declare(info, name, true, nil)
	w.bindGlobal(info)

	fn := info
	w.fn = &fn
	w.pushScope()
	defer func() {
		w.popScope()
		w.fn = nil
	}()

	if params != nil {
		eachNamed(params, func(p *sitter.Node) {
			if p.Kind() != "parameter_declaration" {
				return
			}
			w.typeSpecifier(p.ChildByFieldName("type"), "", false)
			pname := declaredName(p.ChildByFieldName("declarator"))
			if pname == nil {
				return
			}
			param := frontend.EntityInfo{
				Kind:        frontend.KindVariable,
				Name:        w.text(pname),
				USR:         usrLocal(w.cur.path, pname.StartByte(), fn.Name, w.text(pname)),
				DisplayName: w.text(pname),
				Parent:      &fn,
				Traits:      frontend.TraitLocal,
			}
			w.declare(param, pname, true, &fn)
			w.bind(param)
		})
	}
	if body := n.ChildByFieldName("body"); body != nil {
		w.node(body)
	}
}

// prototype declares a function without a body.
func (w *walker) prototype(fd *sitter.Node, storage map[string]bool) {
	name := fd.ChildByFieldName("declarator")
	params := fd.ChildByFieldName("parameters")
	info := w.functionInfo(name, params, storage["static"])
	info.Traits = functionTraits(storage)
	w.declare(info, name, false, nil)
	w.bindGlobal(info)

	if params != nil {
		eachNamed(params, func(p *sitter.Node) {
			if p.Kind() == "parameter_declaration" {
				w.typeSpecifier(p.ChildByFieldName("type"), "", false)
			}
		})
	}
}

// declaration handles variable declarations and prototypes at any scope.
func (w *walker) declaration(n *sitter.Node) {
	typ := n.ChildByFieldName("type")
	decls := declarators(n, typ)
	storage := w.storage(n)
	w.typeSpecifier(typ, "", len(decls) == 0)

	for _, d := range decls {
		var value *sitter.Node
		if d.Kind() == "init_declarator" {
			value = d.ChildByFieldName("value")
			d = d.ChildByFieldName("declarator")
		}
		if fd := functionDeclarator(d); fd != nil {
			w.prototype(fd, storage)
			continue
		}
		name := declaredName(d)
		if name == nil {
			continue
		}
		info := w.variableInfo(name, storage)
		w.declare(info, name, !storage["extern"], w.fn)
		w.bind(info)
		if value != nil {
			w.node(value)
		}
	}
}

func (w *walker) variableInfo(name *sitter.Node, storage map[string]bool) frontend.EntityInfo {
	n := w.text(name)
	info := frontend.EntityInfo{
		Kind:        frontend.KindVariable,
		Name:        n,
		DisplayName: n,
	}
	switch {
	case storage["extern"]:
		info.USR = usrGlobal(w.cur.path, n, false)
		if prev, ok := w.scopes[0][n]; ok && prev.Kind == frontend.KindVariable {
			info.USR = prev.USR
		}
	case w.fn == nil:
		info.USR = usrGlobal(w.cur.path, n, storage["static"])
		if prev, ok := w.scopes[0][n]; ok && prev.Kind == frontend.KindVariable {
			info.USR = prev.USR
		}
		if storage["static"] {
			info.Traits |= frontend.TraitStatic
		}
	case storage["static"]:
		info.USR = usrStaticLocal(w.cur.path, w.fn.Name, n)
		info.Traits |= frontend.TraitStatic | frontend.TraitLocal
		info.Parent = w.fn
	default:
		info.USR = usrLocal(w.cur.path, name.StartByte(), w.fn.Name, n)
		info.Traits |= frontend.TraitLocal
		info.Parent = w.fn
	}
	return info
}

func (w *walker) typeDefinition(n *sitter.Node) {
	typ := n.ChildByFieldName("type")
	decls := declarators(n, typ)

	// typedef struct { ... } name; names the anonymous record.
	var alias string
	if len(decls) > 0 && decls[0].Kind() == "type_identifier" {
		alias = w.text(decls[0])
	}
	w.typeSpecifier(typ, alias, false)

	fnName := ""
	if w.fn != nil {
		fnName = w.fn.Name
	}
	for _, d := range decls {
		name := declaredName(d)
		if name == nil {
			continue
		}
		tn := w.text(name)
		info := frontend.EntityInfo{
			Kind:        frontend.KindTypedef,
			Name:        tn,
			USR:         usrTypedef(w.cur.path, fnName, tn),
			DisplayName: tn,
		}
		w.declare(info, name, true, w.fn)
		w.bind(info)
	}
}

// typeSpecifier reports the entities a type names. alias names an
// anonymous record; forward marks a declaration with no declarators.
func (w *walker) typeSpecifier(t *sitter.Node, alias string, forward bool) {
	if t == nil {
		return
	}
	switch t.Kind() {
	case "struct_specifier", "union_specifier", "enum_specifier":
		w.tag(t, alias, forward)
	case "type_identifier":
		w.typeReference(t)
	}
}

func (w *walker) typeReference(n *sitter.Node) {
	if info, ok := w.lookup(w.text(n)); ok && info.Kind == frontend.KindTypedef {
		w.reference(info, n, 0)
	}
}

var tagKinds = map[string]struct {
	prefix string
	kind   frontend.EntityKind
}{
	"struct_specifier": {"S", frontend.KindStruct},
	"union_specifier":  {"U", frontend.KindUnion},
	"enum_specifier":   {"E", frontend.KindEnum},
}

// tag handles a struct, union or enum specifier: a definition when it has
// a body, otherwise a forward declaration or a reference.
func (w *walker) tag(t *sitter.Node, alias string, forward bool) {
	tk := tagKinds[t.Kind()]
	nameNode := t.ChildByFieldName("name")
	body := t.ChildByFieldName("body")

	var info frontend.EntityInfo
	switch {
	case nameNode != nil:
		name := w.text(nameNode)
		key := tk.prefix + ":" + name
		if prev, ok := w.tags[key]; ok {
			info = prev
		} else {
			info = frontend.EntityInfo{Kind: tk.kind, Name: name, USR: usrTag(tk.prefix, name), DisplayName: name}
			w.tags[key] = info
		}
	case alias != "":
		info = frontend.EntityInfo{Kind: tk.kind, USR: usrAnonTag(tk.prefix, alias)}
	default:
		info = frontend.EntityInfo{Kind: tk.kind, USR: usrUnnamedTag(tk.prefix, w.cur.path, t.StartByte())}
	}

	at := nameNode
	if at == nil {
		at = t
	}
	if body == nil {
		if nameNode == nil {
			return
		}
		if forward {
			w.declare(info, at, false, w.fn)
		} else {
			w.reference(info, at, 0)
		}
		return
	}

	w.declare(info, at, true, w.fn)
	if t.Kind() == "enum_specifier" {
		w.enumerators(body, info)
	} else {
		w.fieldList(body, info)
	}
}

func (w *walker) fieldList(body *sitter.Node, record frontend.EntityInfo) {
	var item func(n *sitter.Node)
	item = func(n *sitter.Node) {
		if n.Kind() != "field_declaration" {
			w.preprocessor(n, item)
			return
		}
		typ := n.ChildByFieldName("type")
		w.typeSpecifier(typ, "", false)
		for _, d := range declarators(n, typ) {
			if d.Kind() == "bitfield_clause" {
				continue
			}
			name := declaredName(d)
			if name == nil {
				continue
			}
			rec := record
			field := frontend.EntityInfo{
				Kind:        frontend.KindField,
				Name:        w.text(name),
				USR:         usrField(record.USR, w.text(name)),
				DisplayName: w.text(name),
				Parent:      &rec,
			}
			w.declare(field, name, true, &rec)
			w.addField(field)
		}
	}
	eachNamed(body, item)
}

func (w *walker) enumerators(body *sitter.Node, enum frontend.EntityInfo) {
	var item func(n *sitter.Node)
	item = func(n *sitter.Node) {
		if n.Kind() != "enumerator" {
			w.preprocessor(n, item)
			return
		}
		name := n.ChildByFieldName("name")
		if name == nil {
			return
		}
		e := enum
		info := frontend.EntityInfo{
			Kind:        frontend.KindEnumConstant,
			Name:        w.text(name),
			USR:         usrEnumerator(enum.USR, w.text(name)),
			DisplayName: w.text(name),
			Parent:      &e,
		}
		w.declare(info, name, true, &e)
		w.bind(info)
		if value := n.ChildByFieldName("value"); value != nil {
			w.node(value)
		}
	}
	eachNamed(body, item)
}

// signature renders a function's display name, e.g. "add(int, int)".
func (w *walker) signature(name string, params *sitter.Node) string {
	if params == nil {
		return name + "()"
	}
	var parts []string
	eachNamed(params, func(p *sitter.Node) {
		switch p.Kind() {
		case "variadic_parameter":
			parts = append(parts, "...")
		case "parameter_declaration":
			var b strings.Builder
			for i := uint(0); i < p.NamedChildCount(); i++ {
				if q := p.NamedChild(i); q.Kind() == "type_qualifier" {
					b.WriteString(w.text(q))
					b.WriteByte(' ')
				}
			}
			b.WriteString(w.text(p.ChildByFieldName("type")))
			stars := 0
			for d := p.ChildByFieldName("declarator"); d != nil; d = innerDeclarator(d) {
				if d.Kind() == "pointer_declarator" || d.Kind() == "abstract_pointer_declarator" {
					stars++
				}
			}
			if stars > 0 {
				b.WriteByte(' ')
				b.WriteString(strings.Repeat("*", stars))
			}
			parts = append(parts, b.String())
		}
	})
	if len(parts) == 1 && parts[0] == "void" {
		parts = nil
	}
	return name + "(" + strings.Join(parts, ", ") + ")"
}
