package interp

import (
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/vm"

	"github.com/mrzor/probescript/internal/event"
)

// fieldFunc is the builtin every "<param>.<field>" access compiles to.
const fieldFunc = "_field"

// ErrTooManyParams is returned for scripts declaring more than one parameter.
var ErrTooManyParams = errors.New("scripts take at most one parameter")

// Closure is a compiled script.
type Closure struct {
	name    string
	params  []string
	program *vm.Program
	fields  []string
}

// Name returns the name the closure was compiled under.
func (c *Closure) Name() string { return c.name }

// NumParams returns the number of declared parameters.
func (c *Closure) NumParams() int { return len(c.params) }

// Fields returns the event fields the script reads, in source order.
func (c *Closure) Fields() []string { return append([]string(nil), c.fields...) }

// Compile compiles source into a closure. When params names a parameter,
// that identifier is bound to the event view and every "<param>.<field>"
// access is resolved against the event field table now, not per event.
func (m *Main) Compile(name, source string, params ...string) (*Closure, error) {
	if len(params) > 1 {
		return nil, fmt.Errorf("compiling %s: %w", name, ErrTooManyParams)
	}

	exprEnv := map[string]interface{}{}
	patcher := &fieldPatcher{fields: m.fields}
	if len(params) == 1 {
		exprEnv[params[0]] = (*event.View)(nil)
		patcher.param = params[0]
	}

	opts := append(m.builtins(),
		expr.Env(exprEnv),
		expr.Patch(patcher),
	)

	program, err := expr.Compile(source, opts...)
	if patcher.err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, patcher.err)
	}
	if err != nil {
		return nil, fmt.Errorf("compiling %s: %w", name, err)
	}

	return &Closure{
		name:    name,
		params:  append([]string(nil), params...),
		program: program,
		fields:  patcher.resolved,
	}, nil
}

// fieldPatcher rewrites "<param>.<field>" into _field(<param>, <index>).
type fieldPatcher struct {
	param    string
	fields   *event.Table
	resolved []string
	err      error
}

// Visit implements ast.Visitor.
func (p *fieldPatcher) Visit(node *ast.Node) {
	if p.param == "" || p.err != nil {
		return
	}
	member, ok := (*node).(*ast.MemberNode)
	if !ok {
		return
	}
	ident, ok := member.Node.(*ast.IdentifierNode)
	if !ok || ident.Value != p.param {
		return
	}
	prop, ok := member.Property.(*ast.StringNode)
	if !ok {
		p.err = fmt.Errorf("event fields must be accessed by name")
		return
	}
	index, found := p.fields.Resolve(prop.Value)
	if !found {
		p.err = fmt.Errorf("unknown event field %q", prop.Value)
		return
	}

	p.resolved = append(p.resolved, prop.Value)
	ast.Patch(node, &ast.CallNode{
		Callee:    &ast.IdentifierNode{Value: fieldFunc},
		Arguments: []ast.Node{ident, &ast.IntegerNode{Value: index}},
	})
}
