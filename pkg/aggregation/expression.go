package aggregation

import (
	"fmt"
	"strings"

	"github.com/mnohosten/laura-engine/pkg/document"
)

// Env binds variables while an expression is evaluated. Bindings are
// immutable; Bind returns a child environment.
type Env struct {
	parent *Env
	name   string
	value  document.Value
}

// NewEnv returns the environment for evaluating expressions against doc:
// $$ROOT and $$CURRENT are bound to it.
func NewEnv(doc *document.Document) *Env {
	v := document.DocValue(doc)
	return (&Env{name: "ROOT", value: v}).Bind("CURRENT", v)
}

// Bind returns a child environment with name bound to v.
func (e *Env) Bind(name string, v document.Value) *Env {
	return &Env{parent: e, name: name, value: v}
}

// Lookup returns the innermost binding of name.
func (e *Env) Lookup(name string) (document.Value, bool) {
	for env := e; env != nil; env = env.parent {
		if env.name == name {
			return env.value, true
		}
	}
	if name == "REMOVE" {
		return document.Missing(), true
	}
	return document.Value{}, false
}

// Expr is a compiled aggregation expression.
type Expr interface {
	Eval(env *Env) (document.Value, error)
}

// scope tracks the variables visible at compile time.
type scope struct {
	parent *scope
	names  []string
}

var rootScope = &scope{names: []string{"ROOT", "CURRENT", "REMOVE"}}

func (s *scope) with(names ...string) *scope {
	return &scope{parent: s, names: names}
}

func (s *scope) has(name string) bool {
	for sc := s; sc != nil; sc = sc.parent {
		for _, n := range sc.names {
			if n == name {
				return true
			}
		}
	}
	return false
}

// CompileExpression compiles an expression such as "$price",
// {$multiply: ["$qty", "$price"]} or {name: "$title"}. References to
// undeclared variables fail with ErrUndefinedVariable.
func CompileExpression(v document.Value) (Expr, error) {
	return compileExpr(v, rootScope)
}

func compileExpr(v document.Value, sc *scope) (Expr, error) {
	switch v.Type {
	case document.TypeString:
		s, _ := v.AsString()
		if strings.HasPrefix(s, "$") {
			return compileReference(s, sc)
		}
		return literalExpr{v}, nil

	case document.TypeArray:
		items, _ := v.AsArray()
		exprs := make([]Expr, len(items))
		for i, item := range items {
			e, err := compileExpr(item, sc)
			if err != nil {
				return nil, err
			}
			exprs[i] = e
		}
		return arrayExpr(exprs), nil

	case document.TypeDocument:
		doc, _ := v.AsDocument()
		keys := doc.Keys()
		if len(keys) == 1 && strings.HasPrefix(keys[0], "$") {
			arg, _ := doc.Get(keys[0])
			return compileOperator(keys[0], arg, sc)
		}
		obj := &objectExpr{}
		for _, k := range keys {
			if strings.HasPrefix(k, "$") {
				return nil, fmt.Errorf("%w: unknown expression %s or operator mixed with fields", document.ErrValidation, k)
			}
			if strings.Contains(k, ".") {
				return nil, fmt.Errorf("%w: field name %q in an object expression cannot contain '.'", document.ErrValidation, k)
			}
			fv, _ := doc.Get(k)
			e, err := compileExpr(fv, sc)
			if err != nil {
				return nil, err
			}
			obj.keys = append(obj.keys, k)
			obj.exprs = append(obj.exprs, e)
		}
		return obj, nil

	default:
		return literalExpr{v}, nil
	}
}

// compileReference handles "$path" and "$$var.path".
func compileReference(s string, sc *scope) (Expr, error) {
	if strings.HasPrefix(s, "$$") {
		name, path, _ := strings.Cut(s[2:], ".")
		if name == "" {
			return nil, fmt.Errorf("%w: empty variable name in %q", document.ErrValidation, s)
		}
		if !sc.has(name) {
			return nil, fmt.Errorf("%w: $$%s", ErrUndefinedVariable, name)
		}
		if path != "" {
			if err := document.ValidatePath(path); err != nil {
				return nil, err
			}
		}
		return varExpr{name: name, path: path}, nil
	}

	path := s[1:]
	if err := document.ValidatePath(path); err != nil {
		return nil, fmt.Errorf("%w: invalid field reference %q", document.ErrValidation, s)
	}
	return varExpr{name: "CURRENT", path: path}, nil
}

type literalExpr struct{ v document.Value }

func (e literalExpr) Eval(*Env) (document.Value, error) { return e.v, nil }

// varExpr reads a variable, optionally descending into it by path. Field
// references are paths under $$CURRENT.
type varExpr struct {
	name string
	path string
}

func (e varExpr) Eval(env *Env) (document.Value, error) {
	v, ok := env.Lookup(e.name)
	if !ok {
		return document.Value{}, fmt.Errorf("%w: $$%s", ErrUndefinedVariable, e.name)
	}
	if e.path == "" {
		return v, nil
	}
	return lookupPath(v, e.path), nil
}

// lookupPath resolves path inside v; arrays of documents yield arrays.
func lookupPath(v document.Value, path string) document.Value {
	switch v.Type {
	case document.TypeDocument:
		doc, _ := v.AsDocument()
		r, _ := doc.Lookup(path)
		return r
	case document.TypeArray:
		r, _ := document.D("v", v).Lookup("v." + path)
		return r
	}
	return document.Missing()
}

type arrayExpr []Expr

func (e arrayExpr) Eval(env *Env) (document.Value, error) {
	out := make([]document.Value, len(e))
	for i, item := range e {
		v, err := item.Eval(env)
		if err != nil {
			return document.Value{}, err
		}
		if v.IsMissing() {
			v = document.Null()
		}
		out[i] = v
	}
	return document.Array(out...), nil
}

// objectExpr builds a document; fields evaluating to missing are omitted.
type objectExpr struct {
	keys  []string
	exprs []Expr
}

func (e *objectExpr) Eval(env *Env) (document.Value, error) {
	doc := document.NewDocument()
	for i, k := range e.keys {
		v, err := e.exprs[i].Eval(env)
		if err != nil {
			return document.Value{}, err
		}
		doc.Set(k, v)
	}
	return document.DocValue(doc), nil
}

// evalAll evaluates exprs in order.
func evalAll(exprs []Expr, env *Env) ([]document.Value, error) {
	vals := make([]document.Value, len(exprs))
	for i, e := range exprs {
		v, err := e.Eval(env)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}
