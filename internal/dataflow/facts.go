package dataflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"nbgather/internal/logging"
	"nbgather/internal/types"
)

// mutatingMethods are method calls treated as redefining their receiver.
// A cell calling df.append(...) both uses and rebinds df for slicing purposes.
var mutatingMethods = map[string]bool{
	"append": true, "extend": true, "insert": true, "remove": true,
	"pop": true, "clear": true, "sort": true, "reverse": true,
	"add": true, "discard": true, "update": true, "setdefault": true,
	"write": true, "load": true, "fit": true,
}

// Extractor turns cell source into cell_defines / cell_uses facts using the
// tree-sitter Python grammar.
type Extractor struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

// NewExtractor creates a Python fact extractor.
func NewExtractor() *Extractor {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	return &Extractor{parser: parser}
}

// Extract parses the cell source and returns its dataflow facts. The error
// is non-nil only when the source cannot be parsed at all; the caller logs
// such cells as opaque.
func (x *Extractor) Extract(ctx context.Context, cell types.Cell) ([]Fact, error) {
	start := time.Now()

	x.mu.Lock()
	tree, err := x.parser.ParseCtx(ctx, nil, []byte(cell.Source))
	x.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("parse cell %s: %w", cell.ID, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		return nil, fmt.Errorf("cell %s has syntax errors", cell.ID)
	}

	w := &cellWalker{
		source:  []byte(cell.Source),
		defined: make(map[string]bool),
		uses:    make(map[string]bool),
		defines: make(map[string]bool),
	}
	w.walk(root, nil)

	facts := make([]Fact, 0, len(w.defines)+len(w.uses))
	for _, name := range sortedKeys(w.defines) {
		facts = append(facts, Fact{Predicate: "cell_defines", Args: []interface{}{cell.ID, name}})
	}
	for _, name := range sortedKeys(w.uses) {
		facts = append(facts, Fact{Predicate: "cell_uses", Args: []interface{}{cell.ID, name}})
	}

	logging.ExtractDebug("cell %s: %d defines, %d uses in %v",
		cell.ID, len(w.defines), len(w.uses), time.Since(start))
	return facts, nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// scope tracks names local to a nested function, class, lambda, or
// comprehension. Nil means top level of the cell.
type scope struct {
	parent *scope
	locals map[string]bool
}

func (s *scope) isLocal(name string) bool {
	for cur := s; cur != nil; cur = cur.parent {
		if cur.locals[name] {
			return true
		}
	}
	return false
}

func (s *scope) bind(name string) {
	s.locals[name] = true
}

// cellWalker walks the cell AST in document order accumulating defines and
// uses. A name bound at top level before its first read does not count as a
// use; it cannot create a dependency on an earlier cell.
type cellWalker struct {
	source  []byte
	defined map[string]bool // bound at top level earlier in this cell
	uses    map[string]bool
	defines map[string]bool
}

func (w *cellWalker) text(n *sitter.Node) string {
	return n.Content(w.source)
}

// use records a read of a name unless it is scope-local or already bound
// earlier in the cell.
func (w *cellWalker) use(name string, sc *scope) {
	if name == "" || name == "_" {
		return
	}
	if sc.isLocal(name) || w.defined[name] {
		return
	}
	w.uses[name] = true
}

// define records a binding. Inside a nested scope the binding is local and
// invisible to other cells.
func (w *cellWalker) define(name string, sc *scope) {
	if name == "" || name == "_" {
		return
	}
	if sc != nil {
		sc.bind(name)
		return
	}
	w.defines[name] = true
	w.defined[name] = true
}

func (w *cellWalker) walk(n *sitter.Node, sc *scope) {
	if n == nil {
		return
	}

	switch n.Type() {
	case "assignment":
		// Read the right side before binding the left: "x = x + 1" at the
		// top of a cell still depends on an earlier x.
		w.walk(n.ChildByFieldName("right"), sc)
		w.walk(n.ChildByFieldName("type"), sc)
		w.bindTargets(n.ChildByFieldName("left"), sc)
		return

	case "augmented_assignment":
		w.walk(n.ChildByFieldName("right"), sc)
		left := n.ChildByFieldName("left")
		if left != nil && left.Type() == "identifier" {
			w.use(w.text(left), sc)
		} else {
			w.walk(left, sc)
		}
		w.bindTargets(left, sc)
		return

	case "function_definition":
		name := n.ChildByFieldName("name")
		if name != nil {
			w.define(w.text(name), sc)
		}
		inner := &scope{parent: sc, locals: make(map[string]bool)}
		w.bindParameters(n.ChildByFieldName("parameters"), inner)
		// Free variables of the body are uses at definition time. This
		// approximates closure capture: good enough for slicing, and the
		// external rules treat all uses uniformly anyway.
		w.walk(n.ChildByFieldName("body"), inner)
		return

	case "class_definition":
		name := n.ChildByFieldName("name")
		if name != nil {
			w.define(w.text(name), sc)
		}
		w.walk(n.ChildByFieldName("superclasses"), sc)
		inner := &scope{parent: sc, locals: make(map[string]bool)}
		w.walk(n.ChildByFieldName("body"), inner)
		return

	case "lambda":
		inner := &scope{parent: sc, locals: make(map[string]bool)}
		w.bindParameters(n.ChildByFieldName("parameters"), inner)
		w.walk(n.ChildByFieldName("body"), inner)
		return

	case "import_statement", "import_from_statement":
		w.extractImport(n, sc)
		return

	case "for_statement":
		w.walk(n.ChildByFieldName("right"), sc)
		w.bindTargets(n.ChildByFieldName("left"), sc)
		w.walk(n.ChildByFieldName("body"), sc)
		w.walk(n.ChildByFieldName("alternative"), sc)
		return

	case "list_comprehension", "set_comprehension", "dictionary_comprehension", "generator_expression":
		inner := &scope{parent: sc, locals: make(map[string]bool)}
		// for_in_clause right sides are uses; their targets are local.
		w.walkComprehension(n, inner)
		return

	case "as_pattern":
		// "with open(f) as g" / "except E as g"
		w.walk(n.Child(0), sc)
		alias := n.ChildByFieldName("alias")
		if alias != nil {
			w.bindTargets(alias, sc)
		}
		return

	case "attribute":
		// Only the object root is a use; the attribute name is not a
		// variable in the cell's namespace.
		w.walk(n.ChildByFieldName("object"), sc)
		return

	case "call":
		fn := n.ChildByFieldName("function")
		if fn != nil && fn.Type() == "attribute" {
			obj := fn.ChildByFieldName("object")
			attr := fn.ChildByFieldName("attribute")
			if obj != nil && obj.Type() == "identifier" && attr != nil && mutatingMethods[w.text(attr)] {
				// Mutation heuristic: the receiver is redefined as well
				// as used, so later readers depend on this cell.
				name := w.text(obj)
				w.use(name, sc)
				if sc == nil {
					w.defines[name] = true
					w.defined[name] = true
				}
			}
		}
		w.walk(fn, sc)
		w.walk(n.ChildByFieldName("arguments"), sc)
		return

	case "keyword_argument":
		w.walk(n.ChildByFieldName("value"), sc)
		return

	case "global_statement", "nonlocal_statement":
		// Names listed here bind at an outer level; treat as top-level
		// definitions so reads elsewhere in the cell resolve locally.
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() == "identifier" {
				w.defines[w.text(child)] = true
				w.defined[w.text(child)] = true
			}
		}
		return

	case "identifier":
		w.use(w.text(n), sc)
		return
	}

	for i := 0; i < int(n.NamedChildCount()); i++ {
		w.walk(n.NamedChild(i), sc)
	}
}

// bindTargets walks an assignment target, binding plain identifiers and
// treating subscript/attribute targets as mutation of their root object.
func (w *cellWalker) bindTargets(n *sitter.Node, sc *scope) {
	if n == nil {
		return
	}

	switch n.Type() {
	case "identifier":
		w.define(w.text(n), sc)

	case "pattern_list", "tuple_pattern", "list_pattern", "expression_list":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			w.bindTargets(n.NamedChild(i), sc)
		}

	case "subscript":
		// x[i] = v mutates x: it is both a use and a redefinition.
		value := n.ChildByFieldName("value")
		if value != nil && value.Type() == "identifier" {
			name := w.text(value)
			w.use(name, sc)
			w.define(name, sc)
		} else {
			w.walk(value, sc)
		}
		w.walk(n.ChildByFieldName("subscript"), sc)

	case "attribute":
		// x.f = v mutates x.
		obj := n.ChildByFieldName("object")
		if obj != nil && obj.Type() == "identifier" {
			name := w.text(obj)
			w.use(name, sc)
			w.define(name, sc)
		} else {
			w.walk(obj, sc)
		}

	case "list_splat_pattern":
		for i := 0; i < int(n.NamedChildCount()); i++ {
			w.bindTargets(n.NamedChild(i), sc)
		}

	default:
		w.walk(n, sc)
	}
}

// bindParameters binds function or lambda parameters into the inner scope.
// Default values are evaluated in the enclosing scope.
func (w *cellWalker) bindParameters(params *sitter.Node, inner *scope) {
	if params == nil {
		return
	}
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			inner.bind(w.text(p))
		case "default_parameter", "typed_default_parameter":
			if name := p.ChildByFieldName("name"); name != nil && name.Type() == "identifier" {
				inner.bind(w.text(name))
			}
			w.walk(p.ChildByFieldName("value"), inner.parent)
		case "typed_parameter":
			if c := p.NamedChild(0); c != nil && c.Type() == "identifier" {
				inner.bind(w.text(c))
			}
		case "list_splat_pattern", "dictionary_splat_pattern":
			if c := p.NamedChild(0); c != nil && c.Type() == "identifier" {
				inner.bind(w.text(c))
			}
		}
	}
}

// walkComprehension binds for_in_clause targets before walking the rest so
// [y for y in xs] uses xs but not y.
func (w *cellWalker) walkComprehension(n *sitter.Node, inner *scope) {
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() == "for_in_clause" {
			w.walk(child.ChildByFieldName("right"), inner)
			w.bindTargets(child.ChildByFieldName("left"), inner)
		}
	}
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		if child.Type() != "for_in_clause" {
			w.walk(child, inner)
		}
	}
}

// extractImport binds the names an import statement introduces.
//
//	import a.b      -> defines a
//	import a as b   -> defines b
//	from m import x -> defines x
//	from m import x as y -> defines y
func (w *cellWalker) extractImport(n *sitter.Node, sc *scope) {
	isFrom := n.Type() == "import_from_statement"
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "dotted_name":
			if isFrom && i == 0 {
				continue // the module being imported from, not a binding
			}
			if first := child.NamedChild(0); first != nil && first.Type() == "identifier" {
				w.define(w.text(first), sc)
			}
		case "aliased_import":
			if alias := child.ChildByFieldName("alias"); alias != nil {
				w.define(w.text(alias), sc)
			}
		case "wildcard_import":
			// "from m import *": nothing nameable to bind.
		}
	}
}
